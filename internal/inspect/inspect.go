// Package inspect examines raw upload bytes before anything touches disk:
// magic-number cross-checks, malicious pattern scanning, structural checks
// per category and statistical heuristics. All checks run and collect their
// findings; the only short-circuit is the hard scan-time budget, which fails
// closed.
package inspect

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
	CategoryResource Category = "resource"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(s)) {
	case CategoryImage, CategoryVideo, CategoryAudio, CategoryDocument, CategoryResource:
		return Category(strings.ToLower(s)), true
	}
	return "", false
}

type ValidationResult struct {
	IsValid           bool      `json:"isValid"`
	Errors            []string  `json:"errors,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	Findings          []Finding `json:"findings,omitempty"`
	DetectedMimeType  string    `json:"detectedMimeType,omitempty"`
	DetectedExtension string    `json:"detectedExtension,omitempty"`
	// TypeMismatch flags a declared/detected disagreement so callers can
	// report it to the audit trail without re-deriving the comparison.
	TypeMismatch bool `json:"-"`
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

const (
	minFileSize       = 8
	maxFilenameLength = 255
	// scanWindowSize bounds the malicious-pattern sweep; scanning whole
	// multi-hundred-megabyte videos would blow the latency budget.
	scanWindowSize = 512 * 1024
)

// defaultCategoryCeilings are the per-category size limits in bytes.
var defaultCategoryCeilings = map[Category]int64{
	CategoryImage:    25 * 1024 * 1024,
	CategoryVideo:    500 * 1024 * 1024,
	CategoryAudio:    100 * 1024 * 1024,
	CategoryDocument: 50 * 1024 * 1024,
	CategoryResource: 50 * 1024 * 1024,
}

// dangerousExtensions is the filename deny-list. A match anywhere in the
// dot-separated chain counts, not just the final extension, so
// "invoice.exe.pdf" is caught alongside "invoice.pdf.exe".
var dangerousExtensions = map[string]bool{
	"exe": true, "dll": true, "so": true, "dylib": true,
	"bat": true, "cmd": true, "com": true, "scr": true, "pif": true,
	"msi": true, "jar": true, "vbs": true, "ps1": true,
	"sh": true, "bash": true, "php": true, "phtml": true,
	"asp": true, "aspx": true, "jsp": true, "cgi": true,
}

// deniedDetectedTypes reject outright when the sniffer reports them,
// regardless of what the client declared.
var deniedDetectedTypes = map[string]bool{
	"application/x-msdownload":     true,
	"application/x-executable":     true,
	"application/x-elf":            true,
	"application/x-sharedlib":      true,
	"application/x-mach-binary":    true,
	"application/vnd.microsoft.portable-executable": true,
}

type Config struct {
	ScanTimeout      time.Duration
	CategoryCeilings map[Category]int64
	AllowedTypes     map[string]bool
	Rules            []ThreatRule
}

type Inspector struct {
	scanTimeout time.Duration
	ceilings    map[Category]int64
	allowed     map[string]bool
	rules       []ThreatRule
}

func New(cfg Config) *Inspector {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 30 * time.Second
	}
	if cfg.CategoryCeilings == nil {
		cfg.CategoryCeilings = defaultCategoryCeilings
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules
	}
	return &Inspector{
		scanTimeout: cfg.ScanTimeout,
		ceilings:    cfg.CategoryCeilings,
		allowed:     cfg.AllowedTypes,
		rules:       cfg.Rules,
	}
}

// Inspect runs every check against content and collects all errors and
// warnings. The scan budget is enforced with a context deadline: when it
// expires before the checks finish, the result is invalid (fail closed).
func (ins *Inspector) Inspect(ctx context.Context, content []byte, declaredName, declaredType string, category Category) ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, ins.scanTimeout)
	defer cancel()

	resultCh := make(chan ValidationResult, 1)
	go func() {
		resultCh <- ins.run(content, declaredName, declaredType, category)
	}()

	select {
	case <-ctx.Done():
		return ValidationResult{
			IsValid: false,
			Errors:  []string{"content scan did not complete within the time budget"},
		}
	case result := <-resultCh:
		return result
	}
}

// scanStreamOverlap bytes are carried between windows so a pattern that
// straddles a window boundary is still seen. It must be at least as long as
// the longest rule pattern.
const scanStreamOverlap = 1024

// ScanStream applies the configured threat rules across an entire stream in
// successive windows. It complements Inspect, which scans only a bounded
// prefix of the in-memory bytes: ScanStream has no size cap and reads what is
// actually on disk, so it catches payloads placed past the prefix window.
func (ins *Inspector) ScanStream(r io.Reader) (Finding, bool, error) {
	buf := make([]byte, scanWindowSize)
	var tail []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			window := append(tail, buf[:n]...)
			for _, rule := range ins.rules {
				if finding, matched := rule.Apply(window); matched {
					return finding, true, nil
				}
			}
			if len(window) > scanStreamOverlap {
				window = window[len(window)-scanStreamOverlap:]
			}
			tail = append(tail[:0], window...)
		}
		if err == io.EOF {
			return Finding{}, false, nil
		}
		if err != nil {
			return Finding{}, false, err
		}
	}
}

func (ins *Inspector) run(content []byte, declaredName, declaredType string, category Category) ValidationResult {
	result := ValidationResult{}

	ins.checkFilename(&result, declaredName)
	ins.checkSize(&result, int64(len(content)), category)
	ins.checkType(&result, content, declaredType)

	window := content
	if len(window) > scanWindowSize {
		window = window[:scanWindowSize]
	}
	for _, rule := range ins.rules {
		if finding, matched := rule.Apply(window); matched {
			result.Findings = append(result.Findings, finding)
			result.addError("malicious content: %s", finding.Description)
		}
	}

	ins.checkStructure(&result, content, category)
	checkStatistics(&result, content, window)

	result.IsValid = len(result.Errors) == 0
	return result
}

func (ins *Inspector) checkFilename(result *ValidationResult, name string) {
	if name == "" {
		result.addError("filename is empty")
		return
	}
	if len(name) > maxFilenameLength {
		result.addError("filename length %d exceeds %d", len(name), maxFilenameLength)
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		result.addError("filename contains path traversal characters")
	}
	if strings.ContainsRune(name, 0) {
		result.addError("filename contains null bytes")
	}

	parts := strings.Split(strings.ToLower(name), ".")
	for _, part := range parts[1:] {
		if dangerousExtensions[part] {
			result.addError("filename carries dangerous extension %q", part)
			break
		}
	}
}

func (ins *Inspector) checkSize(result *ValidationResult, size int64, category Category) {
	if size == 0 {
		result.addError("file is empty")
		return
	}
	if size < minFileSize {
		result.addError("file size %d is below the %d byte minimum", size, minFileSize)
	}
	ceiling, ok := ins.ceilings[category]
	if !ok {
		ceiling = defaultCategoryCeilings[CategoryResource]
	}
	if size > ceiling {
		result.addError("file size %d exceeds the %s ceiling of %d", size, category, ceiling)
	}
}

// checkType sniffs the real type from the byte signature and cross-checks it
// against the declared one. Mismatch alone is a warning; a detected type on
// the deny-list, or outside the allow-list, is an error.
func (ins *Inspector) checkType(result *ValidationResult, content []byte, declaredType string) {
	if len(content) == 0 {
		return
	}

	detected := mimetype.Detect(content)
	result.DetectedMimeType = detected.String()
	result.DetectedExtension = strings.TrimPrefix(detected.Extension(), ".")

	base := detected.String()
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}

	if deniedDetectedTypes[base] {
		result.addError("detected content type %q is not permitted", base)
		return
	}
	if len(ins.allowed) > 0 && !ins.allowed[base] {
		result.addError("detected content type %q is not in the allow-list", base)
	}
	if declaredType != "" && !mimeEquivalent(declaredType, base) {
		result.TypeMismatch = true
		result.addWarning("declared type %q does not match detected type %q", declaredType, base)
	}
}

func (ins *Inspector) checkStructure(result *ValidationResult, content []byte, category Category) {
	switch category {
	case CategoryImage:
		checkImageStructure(result, content)
	case CategoryDocument:
		checkDocumentStructure(result, content)
	}
}

func mimeEquivalent(declared, detected string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == detected {
		return true
	}
	// image/jpg vs image/jpeg and friends
	aliases := map[string]string{
		"image/jpg":  "image/jpeg",
		"audio/mp3":  "audio/mpeg",
		"video/mov":  "video/quicktime",
		"text/xml":   "application/xml",
	}
	if canon, ok := aliases[declared]; ok {
		return canon == detected
	}
	return false
}

// ExtensionFor maps a declared filename and detected extension to the
// extension used for the stored file. The sniffed extension wins when the
// declared one is absent or lies about the format family.
func ExtensionFor(declaredName, detectedExt string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(declaredName)), ".")
	if ext == "" {
		return detectedExt
	}
	if dangerousExtensions[ext] {
		return detectedExt
	}
	return ext
}
