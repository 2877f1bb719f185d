// Package util holds small helpers shared by the bootstrap and CLI layers.
package util

import (
	"regexp"
)

// MaxSanitizeLength bounds the input scanned by SanitizeString
const MaxSanitizeLength = 64 * 1024

const redacted = "REDACTED"

var sensitivePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// Credentials embedded in connection URLs: redis://:pw@host, postgres://user:pw@host
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.\-]*://[^:/@\s]*):[^@/\s]+@`), "${1}:" + redacted + "@"},

	// key=value and key: value forms
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret_key|secret|token|api[_-]?key)(\s*[:=]\s*)[^\s,;&]+`), "${1}${2}" + redacted},
	{regexp.MustCompile(`(?i)"(password|secret_key|secret|token|api_key)"\s*:\s*"[^"]*"`), `"${1}":"` + redacted + `"`},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9_\-\.]+`), "bearer " + redacted},

	// Vault tokens
	{regexp.MustCompile(`\bhv[sbr]\.[a-zA-Z0-9_\-]{20,}`), "REDACTED_VAULT_TOKEN"},

	// AWS access keys
	{regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), "REDACTED_AWS_KEY"},

	// Session tokens
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
}

// SanitizeError returns err's message with credentials redacted, for logs and reports.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts credentials from s. Oversized input is truncated first.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, p := range sensitivePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
