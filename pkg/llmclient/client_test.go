package llmclient

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeplatform/forge/pkg/agent"
)

func TestGenerateStreamsDeltaAndUsageChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\", world\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	client := New(srv.URL)
	ch, err := client.Generate(t.Context(), agent.GenerateRequest{Model: "gpt-4o-mini", UserRequest: "hi"})
	require.NoError(t, err)

	var text string
	var sawUsage bool
	for chunk := range ch {
		switch c := chunk.(type) {
		case *agent.DeltaChunk:
			text += string(c.Content)
		case *agent.UsageChunk:
			sawUsage = true
			assert.Equal(t, 10, c.InputTokens)
			assert.Equal(t, 2, c.OutputTokens)
		}
	}

	assert.Equal(t, "Hello, world", text)
	assert.True(t, sawUsage)
}

func TestGenerateReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL)
	_, err := client.Generate(t.Context(), agent.GenerateRequest{Model: "gpt-4o-mini", UserRequest: "hi"})
	assert.Error(t, err)
}
