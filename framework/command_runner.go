package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandRequest captures process execution metadata for one external tool.
type CommandRequest struct {
	Workdir string
	Args    []string
	// Env is appended to the current process environment.
	Env   []string
	Input string
	// Stdout and Stderr stream the command output when set. Captured output is
	// only returned for the streams left nil.
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration
}

// BackgroundRequest describes a process that must outlive the caller.
type BackgroundRequest struct {
	Workdir string
	Args    []string
	Env     []string
	// LogPath receives stdout and stderr of the process, appended.
	LogPath string
}

// CommandRunner describes a primitive capable of executing external tools.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout string, stderr string, err error)
	Start(req BackgroundRequest) (pid int, err error)
	LookPath(name string) (string, error)
}

// CommandError reports a command that could not start or exited non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
	if detail := strings.TrimSpace(e.Stderr); detail != "" {
		msg += ": " + detail
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCodeOf returns the exit code carried by err, or fallback when err does not
// wrap a CommandError.
func ExitCodeOf(err error, fallback int) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return fallback
}

// LocalCommandRunner executes commands on the local host.
type LocalCommandRunner struct{}

// NewLocalCommandRunner returns a runner backed by os/exec.
func NewLocalCommandRunner() *LocalCommandRunner {
	return &LocalCommandRunner{}
}

// Run executes the request and waits for it to finish.
func (r *LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if req.Stdout != nil {
		cmd.Stdout = req.Stdout
	}
	cmd.Stderr = &stderr
	if req.Stderr != nil {
		cmd.Stderr = io.MultiWriter(req.Stderr, tailWriter{buf: &stderr})
	}
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	err := cmd.Run()
	if err != nil {
		err = wrapCommandError(req.Args, stderr.String(), err)
	}
	return stdout.String(), stderr.String(), err
}

// Start launches the process detached from the current session and returns
// without waiting for it.
func (r *LocalCommandRunner) Start(req BackgroundRequest) (int, error) {
	if len(req.Args) == 0 {
		return 0, errors.New("command arguments required")
	}
	cmd := exec.Command(req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	cmd.SysProcAttr = detachedProcAttr()
	if req.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(req.LogPath), 0o755); err != nil {
			return 0, err
		}
		logFile, err := os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return 0, wrapCommandError(req.Args, "", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, err
	}
	return pid, nil
}

// LookPath resolves an executable on PATH.
func (r *LocalCommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// wrapCommandError maps exec failures onto CommandError. A binary that cannot be
// started reports 127 like a shell would.
func wrapCommandError(args []string, stderr string, err error) error {
	exitCode := 1
	var exitErr *exec.ExitError
	var execErr *exec.Error
	switch {
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
		if exitCode < 0 {
			exitCode = 1
		}
	case errors.As(err, &execErr), errors.Is(err, os.ErrNotExist):
		exitCode = 127
	}
	return &CommandError{Args: args, ExitCode: exitCode, Stderr: stderr, Err: err}
}

const stderrTailLimit = 4096

// tailWriter keeps the last few KiB of a streamed stream for error reporting.
type tailWriter struct {
	buf *bytes.Buffer
}

func (w tailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if extra := w.buf.Len() - stderrTailLimit; extra > 0 {
		w.buf.Next(extra)
	}
	return len(p), nil
}
