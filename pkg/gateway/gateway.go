// Package gateway enforces the command allow-list, path confinement, and
// output caps (C6) in front of every container exec the agent loop issues.
package gateway

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/container"
)

var allowedCommands = map[string]bool{
	"ls": true, "find": true, "grep": true, "mv": true, "cp": true,
	"mkdir": true, "rm": true, "cat": true, "pnpm": true, "npm": true,
	"git": true, "pwd": true, "date": true, "echo": true, "touch": true,
	"head": true, "tail": true, "wc": true, "tsc": true,
}

// compiled once at package init, applied on every exec — same "compile
// patterns eagerly, apply many" shape as the teacher's masking service.
var rejectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`\bchmod\b`),
	regexp.MustCompile(`\bchown\b`),
}

var findExecFlag = regexp.MustCompile(`^-(exec|execdir|ok|okdir)$`)

const (
	maxArgCount     = 60
	maxArgLen       = 1024
	maxArgsTotalLen = 8192

	maxOutputCat     = 512 * 1024
	maxOutputDefault = 1024 * 1024

	defaultTimeout = 15 * time.Second
)

// Executor runs a validated command inside a sandbox container. Satisfied
// by pkg/container.Driver.
type Executor interface {
	Exec(ctx context.Context, containerID string, argv []string, opts container.ExecOptions) (*container.ExecResult, error)
}

// Gateway validates and executes sandbox commands.
type Gateway struct {
	exec    Executor
	timeout time.Duration
}

// New returns a Gateway with the given per-command timeout (spec default 15s).
func New(exec Executor, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{exec: exec, timeout: timeout}
}

// Run validates argv against the allow-list, reject patterns, argument
// limits, and path confinement to workdir, then executes it.
func (g *Gateway) Run(ctx context.Context, containerID, workdir string, argv []string) (*container.ExecResult, error) {
	if err := g.validate(argv, workdir); err != nil {
		return nil, err
	}

	maxOutput := int64(maxOutputDefault)
	if argv[0] == "cat" {
		maxOutput = maxOutputCat
	}

	return g.exec.Exec(ctx, containerID, argv, container.ExecOptions{
		Timeout:        g.timeout,
		MaxOutputBytes: maxOutput,
	})
}

func (g *Gateway) validate(argv []string, workdir string) error {
	if len(argv) == 0 {
		return apierr.New(apierr.KindInvalidArg, "empty command")
	}

	cmd := argv[0]
	if !allowedCommands[cmd] {
		return apierr.New(apierr.KindNotAllowed, fmt.Sprintf("command %q is not allow-listed", cmd))
	}

	joined := strings.Join(argv, " ")
	for _, re := range rejectPatterns {
		if re.MatchString(joined) {
			return apierr.New(apierr.KindDisallowedPattern, fmt.Sprintf("command matches disallowed pattern: %s", re.String()))
		}
	}

	if cmd == "find" {
		for _, a := range argv[1:] {
			if findExecFlag.MatchString(a) {
				return apierr.New(apierr.KindDisallowedPattern, "find -exec/-execdir/-ok/-okdir is not allowed")
			}
		}
	}

	if len(argv) > maxArgCount+1 {
		return apierr.New(apierr.KindInvalidArg, fmt.Sprintf("too many arguments: %d > %d", len(argv)-1, maxArgCount))
	}

	total := 0
	for _, a := range argv[1:] {
		if len(a) > maxArgLen {
			return apierr.New(apierr.KindInvalidArg, fmt.Sprintf("argument exceeds %d chars", maxArgLen))
		}
		if hasControlChars(a) {
			return apierr.New(apierr.KindInvalidArg, "argument contains control characters")
		}
		total += len(a)
	}
	if total > maxArgsTotalLen {
		return apierr.New(apierr.KindInvalidArg, fmt.Sprintf("total argument length exceeds %d chars", maxArgsTotalLen))
	}

	normWorkdir := filepath.Clean(workdir)
	for i, a := range argv[1:] {
		candidate := a
		if strings.HasPrefix(a, "-k=") {
			v := strings.TrimPrefix(a, "-k=")
			if looksPathLike(v) {
				candidate = v
			} else {
				continue
			}
		} else if !looksPathLike(a) {
			continue
		}

		if err := confineToWorkdir(candidate, normWorkdir); err != nil {
			return err
		}
		if cmd == "rm" && filepath.Clean(resolvePath(candidate, normWorkdir)) == normWorkdir {
			return apierr.New(apierr.KindPathEscape, "rm against the workdir root itself is rejected")
		}
		_ = i
	}

	return nil
}

func looksPathLike(a string) bool {
	if a == "." || a == ".." {
		return true
	}
	return strings.HasPrefix(a, "/") || strings.HasPrefix(a, "./") || strings.HasPrefix(a, "../") || strings.Contains(a, "/")
}

func resolvePath(p, workdir string) string {
	if path.IsAbs(p) {
		return p
	}
	return filepath.Join(workdir, p)
}

func confineToWorkdir(p, workdir string) error {
	resolved := filepath.Clean(resolvePath(p, workdir))
	if resolved != workdir && !strings.HasPrefix(resolved, workdir+string(filepath.Separator)) {
		return apierr.New(apierr.KindPathEscape, fmt.Sprintf("path %q escapes sandbox workdir", p))
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
