// Package container drives the sandbox's backing Docker container: create,
// start or unpause, exec with demuxed stdio and timeouts, tar put/get,
// and destroy. Grounded on the Docker Engine API client the way a sandbox
// provider in the ecosystem typically wires it: one *client.Client, label
// every container it owns, resolve ambiguity by label rather than by
// tracking container names in memory.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/sandbox"
)

const (
	labelSandbox   = "sandbox"
	labelUser      = "user"
	labelChat      = "chat"
	labelSandboxID = "sandboxId"

	sandboxWorkdir = "/home/node"
	pidsLimit      = 100
)

// Driver owns the Docker Engine client and sandbox container lifecycle.
type Driver struct {
	cli *client.Client
	cfg config.ContainerConfig
}

// New creates a Driver, verifying connectivity with a Ping.
func New(ctx context.Context, cfg config.ContainerConfig) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}

	return &Driver{cli: cli, cfg: cfg}, nil
}

// Create starts a new sandbox container labeled for ownership by
// (userID, chatID, sandboxID), running `sleep infinity` so exec can be used
// for everything, with network disabled and resource limits per spec §4.4.
func (d *Driver) Create(ctx context.Context, userID, chatID, sandboxID string) (string, error) {
	if err := d.ensureImage(ctx, d.cfg.Image); err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:      d.cfg.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: sandboxWorkdir,
		User:       "node",
		Labels: map[string]string{
			labelSandbox:   "true",
			labelUser:      userID,
			labelChat:      chatID,
			labelSandboxID: sandboxID,
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    d.cfg.MemoryLimitMB * 1024 * 1024,
			PidsLimit: int64Ptr(pidsLimit),
		},
	}
	if d.cfg.CPUQuota > 0 {
		hostCfg.Resources.CPUQuota = d.cfg.CPUQuota
	}

	created, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName(sandboxID))
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}

	res, err := d.Exec(ctx, created.ID, []string{"mkdir", "-p", sandboxWorkdir + "/edward"}, ExecOptions{Timeout: d.cfg.StartupTimeout})
	if err != nil {
		return "", fmt.Errorf("prepare workspace: %w", err)
	}
	if res.ExitCode != 0 {
		return "", apierr.New(apierr.KindInternal, "failed to prepare sandbox workspace directory")
	}
	if _, err := d.Exec(ctx, created.ID, []string{"chmod", "755", sandboxWorkdir + "/edward"}, ExecOptions{Timeout: d.cfg.StartupTimeout}); err != nil {
		return "", fmt.Errorf("chmod workspace: %w", err)
	}

	return created.ID, nil
}

// EnsureRunning unpauses a paused container or starts a stopped one.
func (d *Driver) EnsureRunning(ctx context.Context, containerID string) error {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return fmt.Errorf("inspect container: %w", err)
	}
	switch {
	case inspect.State.Paused:
		return d.cli.ContainerUnpause(ctx, containerID)
	case !inspect.State.Running:
		return d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	}
	return nil
}

// ExecOptions configures a single Exec invocation.
type ExecOptions struct {
	Timeout        time.Duration
	User           string
	Workdir        string
	Env            []string
	ThrowOnError   bool
	MaxOutputBytes int64
}

// ExecResult is the outcome of a command executed inside the sandbox.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs argv inside containerID, attaching demuxed stdout/stderr,
// enforcing a timeout and a per-stream output cap (truncated with a visible
// marker), matching the docker exec pattern used across the ecosystem's
// sandbox executors.
func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, opts ExecOptions) (*ExecResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = d.cfg.MaxOutputBytes
	}

	execCfg := container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		User:         opts.User,
		WorkingDir:   opts.Workdir,
		Env:          opts.Env,
	}

	execCreate, err := d.cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attach, err := d.cli.ContainerExecAttach(execCtx, execCreate.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	readDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(capWriter(&stdout, maxOutput), capWriter(&stderr, maxOutput), attach.Reader)
		readDone <- err
	}()

	select {
	case <-execCtx.Done():
		return nil, apierr.Wrap(apierr.KindCommandFailed, "command timed out", execCtx.Err())
	case err := <-readDone:
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, execCreate.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	result := &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if opts.ThrowOnError && result.ExitCode != 0 {
		return result, apierr.New(apierr.KindCommandFailed, fmt.Sprintf("command exited %d", result.ExitCode))
	}

	return result, nil
}

// PutArchive streams a tar archive into the container at path.
func (d *Driver) PutArchive(ctx context.Context, containerID string, tarStream io.Reader, path string) error {
	return d.cli.CopyToContainer(ctx, containerID, path, tarStream, container.CopyToContainerOptions{})
}

// GetArchive streams a tar archive of path out of the container.
func (d *Driver) GetArchive(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, containerID, path)
	return rc, err
}

// Destroy removes a container, ignoring "already gone" so callers can call
// it idempotently from both the cleanup worker and the reconciliation sweep.
func (d *Driver) Destroy(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// IsAlive reports whether containerID still exists and is running or
// paused. Satisfies pkg/sandbox.LivenessChecker.
func (d *Driver) IsAlive(ctx context.Context, containerID string) (bool, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return inspect.State.Running || inspect.State.Paused, nil
}

// ListLabeled returns every container this driver owns (label sandbox=true)
// as (containerID, sandboxID) pairs, for the reconciliation sweep.
// Satisfies pkg/sandbox.ContainerLister.
func (d *Driver) ListLabeled(ctx context.Context) ([]sandbox.LabeledContainer, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilter(),
	})
	if err != nil {
		return nil, fmt.Errorf("list labeled containers: %w", err)
	}

	out := make([]sandbox.LabeledContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, sandbox.LabeledContainer{
			ContainerID: c.ID,
			SandboxID:   c.Labels[labelSandboxID],
		})
	}
	return out, nil
}

// ensureImage pulls img if it isn't already present locally.
func (d *Driver) ensureImage(ctx context.Context, img string) error {
	if _, err := d.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("drain image pull progress: %w", err)
	}
	return nil
}

func containerName(sandboxID string) string {
	return "sandbox-" + sandboxID
}

func labelFilter() filters.Args {
	f := filters.NewArgs()
	f.Add("label", labelSandbox+"=true")
	return f
}

func int64Ptr(v int64) *int64 { return &v }

func capWriter(buf *bytes.Buffer, max int64) io.Writer {
	if max <= 0 {
		return buf
	}
	return &cappedWriter{buf: buf, max: max}
}

// cappedWriter stops appending to buf once max bytes have been written,
// leaving a truncation marker instead of silently growing unbounded.
type cappedWriter struct {
	buf      *bytes.Buffer
	max      int64
	written  int64
	marked   bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.written >= w.max {
		if !w.marked {
			w.buf.WriteString("\n...[truncated]")
			w.marked = true
		}
		return len(p), nil
	}
	remaining := w.max - w.written
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		w.written += remaining
		w.buf.WriteString("\n...[truncated]")
		w.marked = true
		return len(p), nil
	}
	n, err := w.buf.Write(p)
	w.written += int64(n)
	return n, err
}
