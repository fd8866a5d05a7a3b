package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/container"
	"github.com/forgeplatform/forge/pkg/diagnostics"
	"github.com/forgeplatform/forge/pkg/preview"
	"github.com/forgeplatform/forge/pkg/queue"
	"github.com/forgeplatform/forge/pkg/sandbox"
)

const workspaceDir = "/home/node/edward"

// ContainerExecer is the subset of pkg/container.Driver the build pipeline
// drives directly: it runs `<pm> run build` itself rather than routing
// through pkg/gateway's agent-facing allow-list, since build jobs are
// system-initiated, not agent-issued commands.
type ContainerExecer interface {
	Exec(ctx context.Context, containerID string, argv []string, opts container.ExecOptions) (*container.ExecResult, error)
	PutArchive(ctx context.Context, containerID string, tarStream io.Reader, path string) error
	GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error)
}

// ObjectStore uploads the finished build artifact. Satisfied by
// *pkg/backup.S3Store.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

// PreviewResolver resolves the public preview URL. Satisfied by
// *pkg/preview.Resolver.
type PreviewResolver interface {
	URL(ctx context.Context, userID, chatID string) (string, error)
}

// Publisher fans out the build_status event. Satisfied by *pkg/kv.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// SandboxLookup resolves a sandbox's container and owning chat. Satisfied
// by *pkg/sandbox.Store.
type SandboxLookup interface {
	Get(ctx context.Context, id string) (*sandbox.Sandbox, error)
}

// StatusPayload is the build_status event body (spec §4.12 step 7),
// published on "build-status:<chatId>".
type StatusPayload struct {
	BuildID     string                   `json:"buildId"`
	Status      Status                   `json:"status"`
	PreviewURL  string                   `json:"previewUrl,omitempty"`
	ErrorLog    string                   `json:"errorLog,omitempty"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics,omitempty"`
}

func buildStatusChannel(chatID string) string { return "build-status:" + chatID }

// Pipeline runs the preview build for a sandbox end to end and implements
// queue.Handler so it can be registered against JobBuild.
type Pipeline struct {
	exec       ContainerExecer
	sandboxes  SandboxLookup
	store      ObjectStore
	preview    PreviewResolver
	previewCfg config.PreviewConfig
	cdn        CDNInvalidator
	publisher  Publisher
	records    *Store
}

// New wires a build Pipeline. cdn may be nil to skip invalidation (e.g. in
// local development without a CloudFront distribution configured).
func New(exec ContainerExecer, sandboxes SandboxLookup, store ObjectStore, resolver PreviewResolver, previewCfg config.PreviewConfig, cdn CDNInvalidator, publisher Publisher, records *Store) *Pipeline {
	return &Pipeline{exec: exec, sandboxes: sandboxes, store: store, preview: resolver, previewCfg: previewCfg, cdn: cdn, publisher: publisher, records: records}
}

// Handle implements queue.Handler, running the build described by payload.
func (p *Pipeline) Handle(ctx context.Context, payload queue.JobPayload) error {
	result, err := p.Run(ctx, payload)
	if err != nil {
		return err
	}
	if result.Status == StatusFailed {
		return apierr.New(apierr.KindBuildFailed, result.ErrorLog)
	}
	return nil
}

// Run executes the build pipeline for payload.SandboxID (spec §4.12) and
// publishes the resulting build_status event. A BuildFailed outcome is
// reported through Result, not a returned error, so a caller can record the
// failed build row before deciding whether to retry.
func (p *Pipeline) Run(ctx context.Context, payload queue.JobPayload) (*Result, error) {
	sb, err := p.sandboxes.Get(ctx, payload.SandboxID)
	if err != nil {
		return nil, fmt.Errorf("look up sandbox %s: %w", payload.SandboxID, err)
	}

	result := &Result{BuildID: payload.BuildID}
	if p.records != nil {
		if err := p.records.Create(ctx, payload.BuildID, payload.SandboxID, payload.RunID); err != nil {
			return nil, fmt.Errorf("record build start: %w", err)
		}
	}

	result = p.run(ctx, sb, result)

	if p.records != nil {
		if err := p.records.Finish(ctx, result); err != nil {
			slog.Error("failed to record build result", "build_id", result.BuildID, "error", err)
		}
	}

	p.publishStatus(ctx, sb.ChatID, result)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, sb *sandbox.Sandbox, result *Result) *Result {
	entries, err := p.listDir(ctx, sb.ContainerID, workspaceDir)
	if err != nil {
		return result.fail(fmt.Sprintf("list workspace: %v", err))
	}

	result.PackageManager = DetectPackageManager(entries)

	hasBuildScript, err := p.hasBuildScript(ctx, sb.ContainerID, entries)
	if err != nil {
		return result.fail(fmt.Sprintf("inspect package.json: %v", err))
	}

	if result.PackageManager == PackageManagerNone || !hasBuildScript {
		outputDir, err := p.detectOutputDir(ctx, sb.ContainerID, workspaceDir)
		if err != nil {
			return result.fail(fmt.Sprintf("detect output dir: %v", err))
		}
		result.OutputDir = outputDir
		return p.ship(ctx, sb, result)
	}

	basePath := preview.BasePath(p.previewCfg, sb.UserID, sb.ChatID)
	if err := p.injectBasePath(ctx, sb.ContainerID, workspaceDir, entries); err != nil {
		return result.fail(fmt.Sprintf("inject base path: %v", err))
	}

	if err := p.runBuildScript(ctx, sb.ContainerID, string(result.PackageManager), basePath); err != nil {
		return result.fail(err.Error())
	}

	outputDir, err := p.detectOutputDir(ctx, sb.ContainerID, workspaceDir)
	if err != nil {
		return result.fail(fmt.Sprintf("detect output dir: %v", err))
	}
	if outputDir == "" {
		return result.fail("build succeeded but no output directory was found")
	}
	result.OutputDir = outputDir

	if isSPA, err := p.isSPAWithoutServerRouting(ctx, sb.ContainerID, workspaceDir, outputDir); err == nil && isSPA {
		if err := p.injectSPAFallback(ctx, sb.ContainerID, workspaceDir+"/"+outputDir+"/index.html"); err != nil {
			slog.Warn("failed to inject spa fallback", "build_id", result.BuildID, "error", err)
		}
	}

	return p.ship(ctx, sb, result)
}

func (r *Result) fail(errLog string) *Result {
	r.Status = StatusFailed
	r.ErrorLog = tail(errLog, errorTailLen)
	r.Diagnostics = diagnostics.Parse(errLog)
	return r
}

// ship uploads the detected output directory to storage, invalidates the
// CDN prefix, and resolves the preview URL (spec §4.12 step 6).
func (p *Pipeline) ship(ctx context.Context, sb *sandbox.Sandbox, result *Result) *Result {
	rc, err := p.exec.GetArchive(ctx, sb.ContainerID, workspaceDir+"/"+result.OutputDir)
	if err != nil {
		return result.fail(fmt.Sprintf("archive output dir: %v", err))
	}
	defer rc.Close()

	gz, err := regzip(rc)
	if err != nil {
		return result.fail(fmt.Sprintf("compress output archive: %v", err))
	}

	prefix := fmt.Sprintf("%s/%s/preview", sb.UserID, sb.ChatID)
	if err := p.store.Put(ctx, prefix+"/artifact.tar.gz", gz); err != nil {
		return result.fail(fmt.Sprintf("upload artifact: %v", err))
	}
	result.ArtifactURL = prefix + "/artifact.tar.gz"

	if p.cdn != nil {
		if err := p.cdn.Invalidate(ctx, prefix); err != nil {
			slog.Warn("cdn invalidation failed", "build_id", result.BuildID, "error", err)
		}
	}

	previewURL, err := p.preview.URL(ctx, sb.UserID, sb.ChatID)
	if err != nil {
		return result.fail(fmt.Sprintf("resolve preview url: %v", err))
	}
	result.PreviewURL = previewURL
	result.Status = StatusSucceeded
	return result
}

func (p *Pipeline) publishStatus(ctx context.Context, chatID string, result *Result) {
	if p.publisher == nil {
		return
	}
	payload := StatusPayload{
		BuildID:     result.BuildID,
		Status:      result.Status,
		PreviewURL:  result.PreviewURL,
		ErrorLog:    result.ErrorLog,
		Diagnostics: result.Diagnostics,
	}
	if err := p.publisher.Publish(ctx, buildStatusChannel(chatID), payload); err != nil {
		slog.Error("failed to publish build status", "build_id", result.BuildID, "error", err)
	}
}

func (p *Pipeline) runBuildScript(ctx context.Context, containerID, pm, basePath string) error {
	env := []string{
		"NEXT_TELEMETRY_DISABLED=1",
		"CI=true",
		"EDWARD_BASE_PATH=" + basePath,
	}

	res, err := p.exec.Exec(ctx, containerID, []string{pm, "run", "build"}, container.ExecOptions{
		Workdir: workspaceDir,
		Env:     env,
		Timeout: buildTimeout,
	})
	if err != nil {
		return apierr.Wrap(apierr.KindBuildFailed, "build exec failed", err)
	}
	if res.ExitCode != 0 {
		combined := res.Stdout + "\n" + res.Stderr
		return apierr.New(apierr.KindBuildFailed, tail(combined, errorTailLen))
	}
	return nil
}

func (p *Pipeline) hasBuildScript(ctx context.Context, containerID string, entries map[string]bool) (bool, error) {
	if !entries["package.json"] {
		return false, nil
	}
	body, err := p.readFile(ctx, containerID, workspaceDir+"/package.json")
	if err != nil {
		return false, err
	}
	return bytes.Contains(body, []byte(`"build"`)), nil
}

// listDir returns the set of entry names directly under path.
func (p *Pipeline) listDir(ctx context.Context, containerID, path string) (map[string]bool, error) {
	res, err := p.exec.Exec(ctx, containerID, []string{"ls", "-1a", path}, container.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return nil, err
	}
	entries := make(map[string]bool)
	if res.ExitCode != 0 {
		return entries, nil
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "." || line == ".." {
			continue
		}
		entries[line] = true
	}
	return entries, nil
}

func (p *Pipeline) fileExists(ctx context.Context, containerID, path string) (bool, error) {
	res, err := p.exec.Exec(ctx, containerID, []string{"test", "-f", path}, container.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (p *Pipeline) dirExists(ctx context.Context, containerID, path string) (bool, error) {
	res, err := p.exec.Exec(ctx, containerID, []string{"test", "-d", path}, container.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (p *Pipeline) readFile(ctx context.Context, containerID, path string) ([]byte, error) {
	res, err := p.exec.Exec(ctx, containerID, []string{"cat", path}, container.ExecOptions{Timeout: buildTimeout})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, apierr.New(apierr.KindNotFound, "file not found: "+path)
	}
	return []byte(res.Stdout), nil
}

func (p *Pipeline) writeFile(ctx context.Context, containerID, path string, content []byte) error {
	dir, name := splitPath(path)
	archive, err := singleFileTar(name, content)
	if err != nil {
		return err
	}
	return p.exec.PutArchive(ctx, containerID, archive, dir)
}

func splitPath(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ".", path
	}
	return path[:idx], path[idx+1:]
}

// singleFileTar builds an in-memory tar stream containing one file, the
// shape PutArchive expects (same construction pkg/backup's
// restoreFromSnapshot uses for materializing files into a container).
func singleFileTar(name string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}); err != nil {
		return nil, fmt.Errorf("write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("write tar body for %s: %w", name, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar writer: %w", err)
	}
	return &buf, nil
}

// regzip re-compresses a tar stream as tar.gz for upload, since
// GetArchive's output is an uncompressed tar.
func regzip(r io.Reader) (io.Reader, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, r); err != nil {
		return nil, fmt.Errorf("gzip archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return &buf, nil
}
