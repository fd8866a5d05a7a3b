// Package llmclient implements agent.LLMClient against any OpenAI-compatible
// chat completions endpoint. Spec §1 explicitly treats "the LLM provider
// SDKs" as an external collaborator (interface only), so this is kept to the
// minimal concrete binding cmd/forge needs to actually run the agent loop —
// no vendor SDK, just the wire protocol every OpenAI-compatible provider
// (OpenAI, Groq, Together, local vLLM/Ollama) already speaks.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/forgeplatform/forge/pkg/agent"
)

// Client streams chat completions from an OpenAI-compatible /chat/completions
// endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client against baseURL (e.g. "https://api.openai.com/v1"). The
// "/chat/completions" path is appended per request.
func New(baseURL string) *Client {
	return &Client{httpClient: &http.Client{}, baseURL: strings.TrimRight(baseURL, "/")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamDelta struct {
	Content string `json:"content"`
}

type streamChoice struct {
	Delta streamDelta `json:"delta"`
}

type streamUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *streamUsage   `json:"usage"`
}

// Generate implements agent.LLMClient, issuing a streaming chat completion
// request and translating each SSE data frame into an agent.Chunk.
func (c *Client) Generate(ctx context.Context, req agent.GenerateRequest) (<-chan agent.Chunk, error) {
	messages := make([]chatMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserRequest})

	body, err := json.Marshal(chatRequest{Model: req.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("chat request returned status %d", resp.StatusCode)
	}

	ch := make(chan agent.Chunk, 16)
	go c.streamSSE(ctx, resp.Body, ch)
	return ch, nil
}

// streamSSE reads the chat completion's SSE body and translates each
// "data: {...}" frame into a DeltaChunk/UsageChunk, the same accumulation
// idiom the OpenAI-compatible SSE parsers in the retrieval pack use,
// generalized from that pack's provider-specific response envelope to this
// module's own Chunk sum type.
func (c *Client) streamSSE(ctx context.Context, body io.ReadCloser, ch chan<- agent.Chunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			select {
			case ch <- &agent.UsageChunk{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}:
			case <-ctx.Done():
				return
			}
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		select {
		case ch <- &agent.DeltaChunk{Content: []byte(chunk.Choices[0].Delta.Content)}:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case ch <- &agent.ErrorChunk{Err: fmt.Errorf("read chat stream: %w", err), Retryable: true}:
		case <-ctx.Done():
		}
	}
}
