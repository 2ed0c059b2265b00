package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessFailed = errors.New("access failed")
	ErrInvalidPath  = errors.New("invalid path")
)

const (
	maxPathLength     = 4096
	maxFilenameLength = 255
)

type AccessMode int

const (
	ModeRead AccessMode = iota
	ModeWrite
)

type ViolationKind string

const (
	ViolationEmpty         ViolationKind = "empty_path"
	ViolationTooLong       ViolationKind = "path_too_long"
	ViolationTraversal     ViolationKind = "traversal"
	ViolationControlChar   ViolationKind = "control_character"
	ViolationReservedName  ViolationKind = "reserved_name"
	ViolationBadSymbol     ViolationKind = "disallowed_symbol"
	ViolationWhitespace    ViolationKind = "whitespace_edge"
	ViolationOutsideBase   ViolationKind = "outside_base"
	ViolationExtension     ViolationKind = "extension"
	ViolationNameTooLong   ViolationKind = "filename_too_long"
	ViolationNormalization ViolationKind = "unicode_normalization"
)

type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

// windowsReservedNames are device names that must never appear as a filename
// stem, even on non-Windows hosts (archives and shared mounts travel).
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const disallowedSymbols = "<>:\"|?*\\"

// Guard validates every filesystem path before it is touched. It is
// constructed once with the fixed allow-list of base directories; any path
// that does not resolve to a strict descendant of one of them is refused.
type Guard struct {
	allowedBases []string
	allowedExts  map[string]bool
	deniedExts   map[string]bool
}

func New(baseDirs []string, allowedExts, deniedExts []string) (*Guard, error) {
	if len(baseDirs) == 0 {
		return nil, fmt.Errorf("%w: at least one base directory is required", ErrInvalidPath)
	}

	bases := make([]string, 0, len(baseDirs))
	for _, dir := range baseDirs {
		abs, err := filepath.Abs(filepath.Clean(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve base directory %q: %w", dir, err)
		}
		bases = append(bases, abs)
	}

	g := &Guard{
		allowedBases: bases,
		allowedExts:  make(map[string]bool),
		deniedExts:   make(map[string]bool),
	}
	for _, ext := range allowedExts {
		g.allowedExts[normalizeExt(ext)] = true
	}
	for _, ext := range deniedExts {
		g.deniedExts[normalizeExt(ext)] = true
	}
	return g, nil
}

// normalizeExt accepts "exe" and ".exe" interchangeably.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (g *Guard) AllowedBases() []string {
	bases := make([]string, len(g.allowedBases))
	copy(bases, g.allowedBases)
	return bases
}

// Validate normalizes path, resolves it against baseDir and checks it against
// every rule. All violations are collected rather than returning on the first
// one, so callers can log full context. The resolved absolute path is returned
// only when the violation list is empty.
func (g *Guard) Validate(path, baseDir string) (string, []Violation) {
	var violations []Violation

	if path == "" {
		violations = append(violations, Violation{ViolationEmpty, "path is empty"})
		return "", violations
	}
	if len(path) > maxPathLength {
		violations = append(violations, Violation{ViolationTooLong,
			fmt.Sprintf("path length %d exceeds %d", len(path), maxPathLength)})
		return "", violations
	}

	violations = append(violations, checkDenyPatterns(path)...)

	cleaned := filepath.Clean(path)
	resolved := cleaned
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(baseDir, cleaned)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		violations = append(violations, Violation{ViolationOutsideBase, "path cannot be resolved"})
		return "", violations
	}

	if !g.insideAllowedBase(abs) {
		violations = append(violations, Violation{ViolationOutsideBase,
			"resolved path is not inside an allowed base directory"})
	}

	name := filepath.Base(abs)
	violations = append(violations, g.checkFilename(name)...)

	if len(violations) > 0 {
		log.Debug().
			Str("path", path).
			Int("violations", len(violations)).
			Msg("Path validation failed")
		return "", violations
	}
	return abs, nil
}

// SafeAccess composes Validate with an existence/permission probe. Raw OS
// error text never reaches the caller: a missing file maps to ErrNotFound and
// everything else to ErrAccessFailed.
func (g *Guard) SafeAccess(path, baseDir string, mode AccessMode) (string, error) {
	resolved, violations := g.Validate(path, baseDir)
	if len(violations) > 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, violations[0])
	}

	switch mode {
	case ModeRead:
		info, err := os.Stat(resolved)
		if err != nil {
			if os.IsNotExist(err) {
				return "", ErrNotFound
			}
			log.Error().Err(err).Str("path", resolved).Msg("Read probe failed")
			return "", ErrAccessFailed
		}
		if !info.Mode().IsRegular() {
			return "", ErrAccessFailed
		}
	case ModeWrite:
		if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
			log.Error().Err(err).Str("path", resolved).Msg("Failed to create parent directories")
			return "", ErrAccessFailed
		}
	default:
		return "", ErrAccessFailed
	}

	return resolved, nil
}

func (g *Guard) insideAllowedBase(abs string) bool {
	for _, base := range g.allowedBases {
		// The separator suffix keeps /uploadsX from matching /uploads, and a
		// path equal to the base itself is not a valid file target.
		if strings.HasPrefix(abs, base+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (g *Guard) checkFilename(name string) []Violation {
	var violations []Violation

	if len(name) > maxFilenameLength {
		violations = append(violations, Violation{ViolationNameTooLong,
			fmt.Sprintf("filename length %d exceeds %d", len(name), maxFilenameLength)})
	}

	ext := strings.ToLower(filepath.Ext(name))
	if g.deniedExts[ext] {
		violations = append(violations, Violation{ViolationExtension,
			fmt.Sprintf("extension %q is denied", ext)})
	} else if len(g.allowedExts) > 0 && !g.allowedExts[ext] {
		violations = append(violations, Violation{ViolationExtension,
			fmt.Sprintf("extension %q is not allowed", ext)})
	}

	stem := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
	if windowsReservedNames[stem] {
		violations = append(violations, Violation{ViolationReservedName,
			fmt.Sprintf("%q is a reserved device name", stem)})
	}

	// A name that changes under NFC normalization can collide with or
	// impersonate another name after the filesystem normalizes it.
	if norm.NFC.String(name) != name {
		violations = append(violations, Violation{ViolationNormalization,
			"filename is not NFC-stable"})
	}

	return violations
}

func checkDenyPatterns(path string) []Violation {
	var violations []Violation

	if strings.Contains(path, "..") {
		violations = append(violations, Violation{ViolationTraversal,
			"path contains parent directory reference"})
	}
	lower := strings.ToLower(path)
	if strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		violations = append(violations, Violation{ViolationTraversal,
			"path contains encoded traversal sequence"})
	}
	for _, r := range path {
		if r == 0 || r < 0x20 || r == 0x7f {
			violations = append(violations, Violation{ViolationControlChar,
				"path contains control characters"})
			break
		}
	}
	if strings.ContainsAny(filepath.Base(path), disallowedSymbols) {
		violations = append(violations, Violation{ViolationBadSymbol,
			"filename contains disallowed symbols"})
	}
	name := filepath.Base(path)
	if name != strings.TrimSpace(name) {
		violations = append(violations, Violation{ViolationWhitespace,
			"filename has leading or trailing whitespace"})
	}

	return violations
}
