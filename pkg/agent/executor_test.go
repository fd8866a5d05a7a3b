package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommandRunner struct {
	result *container.ExecResult
	err    error
}

func (f *fakeCommandRunner) Run(ctx context.Context, containerID, workdir string, argv []string) (*container.ExecResult, error) {
	return f.result, f.err
}

type fakeFileWriter struct {
	lastPath string
	lastTar  []byte
	err      error
}

func (f *fakeFileWriter) PutArchive(ctx context.Context, containerID string, tarStream io.Reader, path string) error {
	f.lastPath = path
	f.lastTar, _ = io.ReadAll(tarStream)
	return f.err
}

type fakeWebFetcher struct {
	searchResult, scrapeResult string
	err                        error
}

func (f *fakeWebFetcher) Search(ctx context.Context, query string) (string, error) { return f.searchResult, f.err }
func (f *fakeWebFetcher) Scrape(ctx context.Context, url string) (string, error)   { return f.scrapeResult, f.err }

func TestExecutorExecuteCommand(t *testing.T) {
	t.Run("succeeds and concatenates stdout/stderr", func(t *testing.T) {
		runner := &fakeCommandRunner{result: &container.ExecResult{ExitCode: 0, Stdout: "out", Stderr: "err"}}
		exec := NewExecutor(runner, &fakeFileWriter{})

		out, exitCode, err := exec.Execute(context.Background(), SandboxContext{ContainerID: "c1", Workdir: "/workspace"}, ToolCall{Name: ToolCommand, Args: []string{"npm", "test"}})
		require.NoError(t, err)
		assert.Equal(t, "outerr", out)
		assert.Equal(t, 0, exitCode)
	})

	t.Run("non-zero exit returns CommandFailed", func(t *testing.T) {
		runner := &fakeCommandRunner{result: &container.ExecResult{ExitCode: 1, Stdout: "boom"}}
		exec := NewExecutor(runner, &fakeFileWriter{})

		_, exitCode, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolCommand, Args: []string{"false"}})
		require.Error(t, err)
		assert.Equal(t, apierr.KindCommandFailed, apierr.As(err))
		assert.Equal(t, 1, exitCode)
	})

	t.Run("runner error propagates", func(t *testing.T) {
		runner := &fakeCommandRunner{err: errors.New("docker exec failed")}
		exec := NewExecutor(runner, &fakeFileWriter{})

		_, _, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolCommand})
		assert.Error(t, err)
	})
}

func TestExecutorExecuteFile(t *testing.T) {
	t.Run("writes tar archive with file content", func(t *testing.T) {
		files := &fakeFileWriter{}
		exec := NewExecutor(&fakeCommandRunner{}, files)

		out, _, err := exec.Execute(context.Background(), SandboxContext{ContainerID: "c1", Workdir: "/workspace"}, ToolCall{Name: ToolFile, Path: "src/app.go", Content: "package main"})
		require.NoError(t, err)
		assert.Contains(t, out, "src/app.go")
		assert.True(t, bytes.Contains(files.lastTar, []byte("package main")))
	})

	t.Run("missing path is an error", func(t *testing.T) {
		exec := NewExecutor(&fakeCommandRunner{}, &fakeFileWriter{})
		_, _, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolFile})
		require.Error(t, err)
		assert.Equal(t, apierr.KindInvalidArgument, apierr.As(err))
	})
}

func TestExecutorWebTools(t *testing.T) {
	t.Run("web search without provider fails", func(t *testing.T) {
		exec := NewExecutor(&fakeCommandRunner{}, &fakeFileWriter{})
		_, _, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolWebSearch, Content: "golang"})
		require.Error(t, err)
		assert.Equal(t, apierr.KindLLMFailure, apierr.As(err))
	})

	t.Run("url scrape routes to web fetcher", func(t *testing.T) {
		exec := NewExecutor(&fakeCommandRunner{}, &fakeFileWriter{})
		exec.Web = &fakeWebFetcher{scrapeResult: "<html>hi</html>"}

		out, _, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolURLScrape, Content: "https://example.com"})
		require.NoError(t, err)
		assert.Equal(t, "<html>hi</html>", out)
	})
}

func TestExecutorUnknownTool(t *testing.T) {
	exec := NewExecutor(&fakeCommandRunner{}, &fakeFileWriter{})
	_, _, err := exec.Execute(context.Background(), SandboxContext{}, ToolCall{Name: ToolName("bogus")})
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidArgument, apierr.As(err))
}
