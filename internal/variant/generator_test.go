package variant

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return buf.Bytes()
}

func TestGenerate_ProducesAllRenditions(t *testing.T) {
	gen := NewGenerator()
	src := encodeTestPNG(t, 2000, 1500)

	renditions, err := gen.Generate(context.Background(), src)

	assert.NoError(t, err)
	assert.Len(t, renditions, 3)

	byKind := make(map[Kind]Rendition)
	for _, r := range renditions {
		byKind[r.Kind] = r
	}
	assert.LessOrEqual(t, byKind[KindSmall].Width, 150)
	assert.LessOrEqual(t, byKind[KindSmall].Height, 150)
	assert.LessOrEqual(t, byKind[KindMedium].Width, 400)
	assert.LessOrEqual(t, byKind[KindLarge].Width, 1024)
}

func TestGenerate_PreservesAspectRatio(t *testing.T) {
	gen := NewGenerator()
	src := encodeTestPNG(t, 800, 400)

	renditions, err := gen.Generate(context.Background(), src)

	assert.NoError(t, err)
	for _, r := range renditions {
		assert.InDelta(t, 2.0, float64(r.Width)/float64(r.Height), 0.05, "kind %s", r.Kind)
	}
}

func TestGenerate_OutputIsJPEG(t *testing.T) {
	gen := NewGenerator()
	src := encodeTestPNG(t, 300, 300)

	renditions, err := gen.Generate(context.Background(), src)

	assert.NoError(t, err)
	for _, r := range renditions {
		assert.Equal(t, "image/jpeg", r.MimeType)
		assert.Equal(t, "jpg", r.Extension)
		assert.True(t, bytes.HasPrefix(r.Data, []byte{0xFF, 0xD8, 0xFF}))
	}
}

func TestGenerate_RejectsNonImageData(t *testing.T) {
	gen := NewGenerator()

	renditions, err := gen.Generate(context.Background(), []byte("not an image at all"))

	assert.Error(t, err)
	assert.Nil(t, renditions)
}

func TestGenerate_StopsOnCancelledContext(t *testing.T) {
	gen := NewGenerator()
	src := encodeTestPNG(t, 100, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	renditions, err := gen.Generate(ctx, src)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, renditions)
}

func TestDimensions(t *testing.T) {
	src := encodeTestPNG(t, 640, 480)

	w, h, ok := Dimensions(src)

	assert.True(t, ok)
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	_, _, ok = Dimensions([]byte("garbage"))
	assert.False(t, ok)
}
