package agent

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/container"
	"github.com/forgeplatform/forge/pkg/gateway"
)

// CommandRunner executes a validated argv against a sandbox container.
// Satisfied by *gateway.Gateway.
type CommandRunner interface {
	Run(ctx context.Context, containerID, workdir string, argv []string) (*container.ExecResult, error)
}

// FileWriter materializes a file inside a sandbox container. Satisfied by
// an adapter over pkg/container.Driver.PutArchive.
type FileWriter interface {
	PutArchive(ctx context.Context, containerID string, tarStream io.Reader, path string) error
}

// WebFetcher performs outbound web_search/url_scrape tool calls. Optional —
// a nil WebFetcher makes those tool calls fail with LLMFailure, since no
// search/scrape provider is wired by default (spec models external
// providers as injected interfaces only).
type WebFetcher interface {
	Search(ctx context.Context, query string) (string, error)
	Scrape(ctx context.Context, url string) (string, error)
}

// Executor dispatches parsed tool calls to the right backend.
type Executor struct {
	Commands CommandRunner
	Files    FileWriter
	Web      WebFetcher
}

// NewExecutor wires an Executor from a gateway-backed command runner and a
// container-backed file writer. Web is left nil; callers may set it after
// construction if a search/scrape provider is configured.
func NewExecutor(commands CommandRunner, files FileWriter) *Executor {
	return &Executor{Commands: commands, Files: files}
}

// Execute runs call against sbCtx, truncating stdout/stderr per
// MaxToolStdioChars before returning. The exit code is 0 for non-command
// tools, and is always returned even on a CommandFailed error so callers can
// surface it on the wire `command` event.
func (e *Executor) Execute(ctx context.Context, sbCtx SandboxContext, call ToolCall) (string, int, error) {
	switch call.Name {
	case ToolCommand:
		return e.execCommand(ctx, sbCtx, call.Args)
	case ToolInstall:
		return e.execCommand(ctx, sbCtx, call.Args)
	case ToolFile:
		out, err := e.execFile(ctx, sbCtx, call)
		return out, 0, err
	case ToolWebSearch:
		if e.Web == nil {
			return "", 0, apierr.New(apierr.KindLLMFailure, "no web search provider configured")
		}
		out, err := e.Web.Search(ctx, call.Content)
		return out, 0, err
	case ToolURLScrape:
		if e.Web == nil {
			return "", 0, apierr.New(apierr.KindLLMFailure, "no url scrape provider configured")
		}
		out, err := e.Web.Scrape(ctx, call.Content)
		return out, 0, err
	default:
		return "", 0, apierr.New(apierr.KindInvalidArgument, fmt.Sprintf("unknown tool %q", call.Name))
	}
}

func (e *Executor) execCommand(ctx context.Context, sbCtx SandboxContext, argv []string) (string, int, error) {
	if e.Commands == nil {
		return "", 0, apierr.New(apierr.KindInternal, "no command runner configured")
	}
	res, err := e.Commands.Run(ctx, sbCtx.ContainerID, sbCtx.Workdir, argv)
	if err != nil {
		return "", 0, err
	}

	out := truncateStdio(res.Stdout) + truncateStdio(res.Stderr)
	if res.ExitCode != 0 {
		return out, res.ExitCode, apierr.New(apierr.KindCommandFailed, fmt.Sprintf("command exited %d", res.ExitCode))
	}
	return out, res.ExitCode, nil
}

func (e *Executor) execFile(ctx context.Context, sbCtx SandboxContext, call ToolCall) (string, error) {
	if e.Files == nil {
		return "", apierr.New(apierr.KindInternal, "no file writer configured")
	}
	if call.Path == "" {
		return "", apierr.New(apierr.KindInvalidArgument, "file tool call missing path")
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: call.Path, Mode: 0644, Size: int64(len(call.Content)), ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return "", fmt.Errorf("write file tar header: %w", err)
	}
	if _, err := tw.Write([]byte(call.Content)); err != nil {
		return "", fmt.Errorf("write file tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close file tar writer: %w", err)
	}

	if err := e.Files.PutArchive(ctx, sbCtx.ContainerID, &buf, sbCtx.Workdir); err != nil {
		return "", fmt.Errorf("write file to sandbox: %w", err)
	}
	return fmt.Sprintf("wrote %s", call.Path), nil
}

func truncateStdio(s string) string {
	if len(s) <= MaxToolStdioChars {
		return s
	}
	return s[:MaxToolStdioChars] + "\n...[truncated]"
}

// gatewayRunner adapts *gateway.Gateway to CommandRunner (identity — kept as
// a named type so the agent package doesn't need to import gateway except
// here, keeping the dependency direction one-way).
type gatewayRunner struct {
	gw *gateway.Gateway
}

// NewGatewayCommandRunner wraps gw as a CommandRunner.
func NewGatewayCommandRunner(gw *gateway.Gateway) CommandRunner {
	return &gatewayRunner{gw: gw}
}

func (g *gatewayRunner) Run(ctx context.Context, containerID, workdir string, argv []string) (*container.ExecResult, error) {
	return g.gw.Run(ctx, containerID, workdir, argv)
}

// httpWebFetcher is a minimal WebFetcher performing a direct HTTP GET for
// url_scrape and returning an error for web_search (no search API is wired
// by default — only plain URL fetch has an unambiguous stdlib-only
// implementation).
type httpWebFetcher struct {
	client *http.Client
}

// NewHTTPWebFetcher returns a WebFetcher whose Scrape issues a GET request
// and whose Search always fails (no search backend configured).
func NewHTTPWebFetcher() WebFetcher {
	return &httpWebFetcher{client: &http.Client{Timeout: 15 * time.Second}}
}

func (f *httpWebFetcher) Search(ctx context.Context, query string) (string, error) {
	return "", apierr.New(apierr.KindLLMFailure, "web_search has no backend configured")
}

func (f *httpWebFetcher) Scrape(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxAgentToolResultPayloadChars))
	if err != nil {
		return "", fmt.Errorf("read scrape response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", apierr.New(apierr.KindLLMFailure, fmt.Sprintf("scrape target returned %d", resp.StatusCode))
	}

	return strings.TrimSpace(string(body)), nil
}
