package inspect

import "bytes"

type signature struct {
	format string
	magic  []byte
	offset int
}

var executableSignatures = []signature{
	{format: "PE", magic: []byte{0x4D, 0x5A}, offset: 0},
	{format: "ELF", magic: []byte{0x7F, 0x45, 0x4C, 0x46}, offset: 0},
	{format: "Mach-O", magic: []byte{0xFE, 0xED, 0xFA, 0xCE}, offset: 0},
	{format: "Mach-O", magic: []byte{0xFE, 0xED, 0xFA, 0xCF}, offset: 0},
	{format: "Mach-O", magic: []byte{0xCF, 0xFA, 0xED, 0xFE}, offset: 0},
	{format: "Mach-O", magic: []byte{0xCA, 0xFE, 0xBA, 0xBE}, offset: 0},
}

var archiveSignatures = []signature{
	{format: "RAR", magic: []byte("Rar!\x1a\x07"), offset: 0},
	{format: "7-Zip", magic: []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, offset: 0},
}

// formatSignatures are the magic numbers used for the polyglot sweep: distinct
// format headers found anywhere inside one buffer mean the file parses as more
// than one thing.
var formatSignatures = []signature{
	{format: "png", magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{format: "jpeg", magic: []byte{0xFF, 0xD8, 0xFF}},
	{format: "gif", magic: []byte("GIF8")},
	{format: "pdf", magic: []byte("%PDF-")},
	{format: "zip", magic: []byte{0x50, 0x4B, 0x03, 0x04}},
	{format: "rar", magic: []byte("Rar!\x1a\x07")},
	{format: "elf", magic: []byte{0x7F, 0x45, 0x4C, 0x46}},
	{format: "gzip", magic: []byte{0x1F, 0x8B, 0x08}},
	{format: "html", magic: []byte("<!DOCTYPE html")},
}

var (
	pngHeader  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	pngTrailer = []byte("IEND")
	jpegHeader = []byte{0xFF, 0xD8, 0xFF}
	jpegFooter = []byte{0xFF, 0xD9}
	gif87      = []byte("GIF87a")
	gif89      = []byte("GIF89a")
	webpRIFF   = []byte("RIFF")
	webpMark   = []byte("WEBP")
	bmpHeader  = []byte("BM")
	pdfHeader  = []byte("%PDF-")
	zipHeader  = []byte{0x50, 0x4B, 0x03, 0x04}
)

// checkImageStructure requires a recognizable image header and, where the
// format defines one, the expected terminator. A missing terminator is the
// usual sign of a truncated or tampered file.
func checkImageStructure(result *ValidationResult, content []byte) {
	switch {
	case bytes.HasPrefix(content, pngHeader):
		if !bytes.Contains(content[len(content)-min(len(content), 16):], pngTrailer) {
			result.addError("png is missing its IEND terminator (truncated)")
		}
	case bytes.HasPrefix(content, jpegHeader):
		if !bytes.HasSuffix(bytes.TrimRight(content, "\x00"), jpegFooter) {
			result.addError("jpeg is missing its EOI terminator (truncated)")
		}
	case bytes.HasPrefix(content, gif87), bytes.HasPrefix(content, gif89):
		if content[len(content)-1] != 0x3B {
			result.addError("gif is missing its trailer byte (truncated)")
		}
	case bytes.HasPrefix(content, webpRIFF) && len(content) >= 12 && bytes.Equal(content[8:12], webpMark):
		// RIFF carries its own length; no terminator to verify.
	case bytes.HasPrefix(content, bmpHeader):
	default:
		result.addError("content has no recognizable image header")
	}
}

// checkDocumentStructure verifies the container magic for known document
// formats. Plain text has no magic and passes through.
func checkDocumentStructure(result *ValidationResult, content []byte) {
	if bytes.HasPrefix(content, pdfHeader) || bytes.HasPrefix(content, zipHeader) {
		return
	}
	if looksBinary(content) {
		result.addError("document does not start with a known container magic")
	}
}

func looksBinary(content []byte) bool {
	window := content
	if len(window) > 1024 {
		window = window[:1024]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
