// Package variant produces derived renditions (resized copies) of validated
// images. Variant failures are logged and skipped: they never roll back or
// fail the parent upload.
package variant

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindSmall  Kind = "small"
	KindMedium Kind = "medium"
	KindLarge  Kind = "large"
)

type spec struct {
	kind   Kind
	width  int
	height int
}

var defaultSpecs = []spec{
	{KindSmall, 150, 150},
	{KindMedium, 400, 400},
	{KindLarge, 1024, 1024},
}

const jpegQuality = 80

// Rendition is one generated variant, held in memory until the orchestrator
// persists it through the validated write path.
type Rendition struct {
	Kind      Kind
	Data      []byte
	MimeType  string
	Extension string
	Width     int
	Height    int
}

type Generator struct {
	specs []spec
}

func NewGenerator() *Generator {
	return &Generator{specs: defaultSpecs}
}

// Generate decodes src once and produces every configured rendition.
// Cancellation is checked between renditions; already-produced ones are
// returned alongside the context error.
func (g *Generator) Generate(ctx context.Context, src []byte) ([]Rendition, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	var renditions []Rendition
	for _, sp := range g.specs {
		if err := ctx.Err(); err != nil {
			return renditions, err
		}

		fitted := imaging.Fit(img, sp.width, sp.height, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
			log.Warn().Err(err).Str("variant", string(sp.kind)).Msg("Failed to encode variant")
			continue
		}

		bounds := fitted.Bounds()
		renditions = append(renditions, Rendition{
			Kind:      sp.kind,
			Data:      buf.Bytes(),
			MimeType:  "image/jpeg",
			Extension: "jpg",
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		})
	}

	return renditions, nil
}

// Dimensions reports the pixel size of an encoded image, or ok=false when it
// cannot be decoded.
func Dimensions(src []byte) (width, height int, ok bool) {
	cfg, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return 0, 0, false
	}
	bounds := cfg.Bounds()
	return bounds.Dx(), bounds.Dy(), true
}
