package inspect

import (
	"bytes"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is one matched threat rule.
type Finding struct {
	Rule        string   `json:"rule"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// ThreatRule is a named, independently testable predicate over the scan
// window. Match returns a human-readable detail when the rule fires.
type ThreatRule struct {
	Name     string
	Severity Severity
	Match    func(window []byte) (string, bool)
}

func (r ThreatRule) Apply(window []byte) (Finding, bool) {
	detail, matched := r.Match(window)
	if !matched {
		return Finding{}, false
	}
	return Finding{
		Rule:        r.Name,
		Severity:    r.Severity,
		Description: fmt.Sprintf("%s (%s)", detail, r.Name),
	}, true
}

// DefaultRules is the ordered rule set applied to every upload. Text
// patterns are matched case-insensitively; binary signatures are matched
// at their defining offsets.
var DefaultRules = []ThreatRule{
	{
		Name:     "executable_header",
		Severity: SeverityCritical,
		Match: func(window []byte) (string, bool) {
			for _, sig := range executableSignatures {
				if matchAt(window, sig.magic, sig.offset) {
					return "embedded " + sig.format + " executable header", true
				}
			}
			return "", false
		},
	},
	{
		Name:     "script_tag",
		Severity: SeverityHigh,
		Match:    containsAnyFold("<script", "</script"),
	},
	{
		Name:     "protocol_handler",
		Severity: SeverityHigh,
		Match:    containsAnyFold("javascript:", "vbscript:", "data:text/html"),
	},
	{
		Name:     "server_script_marker",
		Severity: SeverityHigh,
		Match:    containsAnyFold("<?php", "<%@", "<jsp:"),
	},
	{
		Name:     "shell_token",
		Severity: SeverityMedium,
		Match: containsAnyFold(
			"eval(", "exec(", "system(", "passthru(", "shell_exec(",
			"base64_decode(", "powershell -",
		),
	},
	{
		Name:     "dangerous_archive",
		Severity: SeverityMedium,
		Match: func(window []byte) (string, bool) {
			for _, sig := range archiveSignatures {
				if matchAt(window, sig.magic, sig.offset) {
					return sig.format + " archive signature", true
				}
			}
			return "", false
		},
	},
}

func containsAnyFold(patterns ...string) func([]byte) (string, bool) {
	compiled := make([][]byte, len(patterns))
	for i, p := range patterns {
		compiled[i] = bytes.ToLower([]byte(p))
	}
	return func(window []byte) (string, bool) {
		lowered := bytes.ToLower(window)
		for i, p := range compiled {
			if bytes.Contains(lowered, p) {
				return fmt.Sprintf("pattern %q present", patterns[i]), true
			}
		}
		return "", false
	}
}

func matchAt(window, magic []byte, offset int) bool {
	if len(window) < offset+len(magic) {
		return false
	}
	return bytes.Equal(window[offset:offset+len(magic)], magic)
}
