package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSensitiveField(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"apiKey", true},
		{"Authorization", true},
		{"accessToken", true},
		{"password", true},
		{"credentials", true},
		{"$metadata", true},
		{"username", false},
		{"url", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsSensitiveField(tc.name), tc.name)
	}
}

func TestRedactRecordTopLevel(t *testing.T) {
	record := map[string]any{"apiKey": "sk-abc123", "model": "gpt-5"}
	redacted := RedactRecord(record)
	assert.Equal(t, redactedPlaceholder, redacted["apiKey"])
	assert.Equal(t, "gpt-5", redacted["model"])
}

func TestRedactRecordNested(t *testing.T) {
	record := map[string]any{
		"req": map[string]any{
			"headers": map[string]any{"authorization": "Bearer xyz"},
			"path":    "/v1/runs",
		},
	}
	redacted := RedactRecord(record)
	req := redacted["req"].(map[string]any)
	assert.Equal(t, redactedPlaceholder, req["headers"])
	assert.Equal(t, "/v1/runs", req["path"])
}

func TestRedactRecordSensitiveKeyHoldingSlice(t *testing.T) {
	record := map[string]any{
		"credentials": []any{
			map[string]any{"key": "leak-me"},
		},
	}
	redacted := RedactRecord(record)
	assert.Equal(t, redactedPlaceholder, redacted["credentials"])
}

func TestRedactTextKeyValueAssignment(t *testing.T) {
	out := RedactText("AWS_SECRET_ACCESS_KEY=wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY\nbuild ok")
	assert.Contains(t, out, redactedPlaceholder)
	assert.NotContains(t, out, "wJalrXUtnFEMI")
	assert.Contains(t, out, "build ok")
}

func TestRedactTextBearerToken(t *testing.T) {
	out := RedactText("Authorization: Bearer sk-live-12345")
	assert.Contains(t, out, redactedPlaceholder)
	assert.NotContains(t, out, "sk-live-12345")
}

func TestRedactTextLeavesNormalOutputAlone(t *testing.T) {
	out := RedactText("Compiled successfully in 3.2s")
	assert.Equal(t, "Compiled successfully in 3.2s", out)
}
