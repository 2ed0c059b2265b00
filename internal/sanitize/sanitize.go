// Package sanitize converts arbitrary user-supplied filenames into safe,
// bounded names and generates the unguessable on-disk storage names.
package sanitize

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 100

// Name strips everything outside a conservative allow-set, collapses repeated
// separators and trims to a bounded length. The output is never empty: when
// nothing survives, a generated fallback name is returned.
func Name(original string) string {
	ext := filepath.Ext(original)
	stem := strings.TrimSuffix(original, ext)

	stem = keepSafeRunes(stem)
	stem = collapseSeparators(stem)
	stem = strings.Trim(stem, "-_.")

	if stem == "" {
		stem = "file-" + uuid.New().String()[:8]
	}
	if len(stem) > maxNameLength {
		stem = stem[:maxNameLength]
	}

	safeExt := keepSafeRunes(strings.TrimPrefix(ext, "."))
	if safeExt == "" {
		return stem
	}
	return stem + "." + strings.ToLower(safeExt)
}

// StorageName produces the physical on-disk name. It carries no
// attacker-controlled bytes: timestamp plus a random suffix plus the already
// validated extension.
func StorageName(ext string) string {
	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return fmt.Sprintf("%s_%s", ts, uid)
	}
	return fmt.Sprintf("%s_%s.%s", ts, uid, ext)
}

func keepSafeRunes(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/' || r == '\\':
			b.WriteRune('-')
		}
	}
	return b.String()
}

func collapseSeparators(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
