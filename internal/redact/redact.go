// Package redact scrubs credentials from strings before they are logged or
// returned to clients. Access tokens, broker connection URLs and configured
// secrets all pass through this package on their way into log records.
package redact

import (
	"regexp"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules are applied in order. Replacements may reference capture groups.
var rules = []rule{
	{
		// Three-part base64url JWT
		pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		replacement: RedactedJWTPlaceholder,
	},
	{
		// userinfo in any URL, e.g. redis://:pw@host:6379/0
		pattern:     regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+@`),
		replacement: "${1}" + RedactedCredentialPlaceholder + "@",
	},
	{
		// token query parameter on websocket and API URLs
		pattern:     regexp.MustCompile(`(?i)([?&](?:access_)?token=)[^&\s]+`),
		replacement: "${1}" + RedactionPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-.~+/=]+`),
		replacement: "${1}" + RedactionPlaceholder,
	},
	{
		// key=value style secrets
		pattern:     regexp.MustCompile(`(?i)((?:password|passwd|secret|jwt_secret)\s*[=:]\s*['"]?)[^'"&\s]{3,}`),
		replacement: "${1}" + RedactedCredentialPlaceholder,
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}
