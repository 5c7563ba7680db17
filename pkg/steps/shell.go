package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/systemstart/many-ci/pkg/api"
)

// ShellExecutor runs step scripts through a local shell.
type ShellExecutor struct {
	// WorkDir is the base for relative working directories.
	WorkDir string
	// GracePeriod is how long a cancelled command may take to exit after
	// the interrupt before it is killed.
	GracePeriod time.Duration
}

// NewShellExecutor creates a ShellExecutor rooted at workDir.
func NewShellExecutor(workDir string, grace time.Duration) *ShellExecutor {
	return &ShellExecutor{WorkDir: workDir, GracePeriod: grace}
}

// shellCommand maps a shell name to its binary and arguments, script last.
func shellCommand(shell, script string) (string, []string, error) {
	switch shell {
	case "", api.DefaultShell:
		return "sh", []string{"-e", "-c", script}, nil
	case "bash":
		return "bash", []string{"--noprofile", "--norc", "-eo", "pipefail", "-c", script}, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported shell %q", ErrExecutorUnavailable, shell)
	}
}

func (e *ShellExecutor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	name, args, err := shellCommand(inv.Shell, inv.Run)
	if err != nil {
		return Outcome{}, err
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s binary not found in PATH: %v", ErrExecutorUnavailable, name, err)
	}

	dir := e.WorkDir
	if inv.WorkDir != "" {
		dir = inv.WorkDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(e.WorkDir, dir)
		}
	}

	slog.Debug("running step", "job", inv.Job, "step", inv.Step, "shell", name, "dir", dir)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Env = commandEnv(inv.Env)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.GracePeriod

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err = cmd.Run()
	out := Outcome{Output: output.Bytes()}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, context.Cause(ctx)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	case errors.Is(err, fs.ErrPermission), errors.Is(err, fs.ErrNotExist):
		return out, fmt.Errorf("%w: starting %s: %v", ErrExecutorUnavailable, name, err)
	default:
		return out, fmt.Errorf("running %s: %w", name, err)
	}
}

// commandEnv layers the step environment over the process environment.
func commandEnv(env map[string]string) []string {
	out := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
