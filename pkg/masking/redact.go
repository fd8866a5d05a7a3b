// Package masking redacts secret-bearing fields out of structured log
// records and command stdout/stderr before either reaches storage or a
// client (spec §9, "Secrets in logs").
package masking

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveFieldNames are the path segments spec.md §9 names verbatim;
// a field is redacted if its own key case-insensitively equals one of
// these, regardless of nesting depth.
var sensitiveFieldNames = map[string]bool{
	"headers":       true,
	"authorization": true,
	"apikey":        true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"password":       true,
	"secret":        true,
	"key":           true,
	"credentials":   true,
	"$metadata":     true,
}

// IsSensitiveField reports whether fieldName (a single map key, not a
// dotted path) is one of the segments spec.md §9 requires redacted.
func IsSensitiveField(fieldName string) bool {
	return sensitiveFieldNames[strings.ToLower(fieldName)]
}

// RedactRecord returns a copy of record with every value under a
// sensitive key (at any nesting depth, through maps and slices of maps)
// replaced by a fixed placeholder. No package in this module calls it; tool
// results on the wire are scrubbed with RedactText instead.
func RedactRecord(record map[string]any) map[string]any {
	return redactMap(record).(map[string]any)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func redactMap(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = redactedPlaceholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

// keyValuePatterns catches secret-shaped assignments in free-form text
// (command stdout/stderr, shell scripts echoed back by the agent) that
// never arrive as a structured map — e.g. a build log that printed
// "AWS_SECRET_ACCESS_KEY=wJalrXUt...".
var keyValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\b[A-Z0-9_]*(?:SECRET|TOKEN|PASSWORD|API_?KEY|ACCESS_KEY)[A-Z0-9_]*\s*[=:]\s*)("?)([^\s"']+)("?)`),
	regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)(\S+)`),
}

// RedactText scrubs secret-shaped key=value assignments and bearer
// tokens out of free text, leaving everything else untouched. Used on
// command stdout/stderr before it's appended to the run event log.
func RedactText(s string) string {
	for _, pattern := range keyValuePatterns {
		s = pattern.ReplaceAllString(s, "${1}"+redactedPlaceholder)
	}
	return s
}
