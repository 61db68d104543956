package framework

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// DryRunRunner prints commands instead of executing them. Executable lookups
// still consult PATH since they do not change the host.
type DryRunRunner struct {
	Out io.Writer
}

// Run prints the command line.
func (r DryRunRunner) Run(_ context.Context, req CommandRequest) (string, string, error) {
	line, err := ShellJoin(req.Args)
	if err != nil {
		return "", "", err
	}
	if req.Input != "" {
		line += fmt.Sprintf(" <<< (%d bytes)", len(req.Input))
	}
	fmt.Fprintf(r.Out, "+ %s\n", line)
	return "", "", nil
}

// Start prints the command line of the background process.
func (r DryRunRunner) Start(req BackgroundRequest) (int, error) {
	line, err := ShellJoin(req.Args)
	if err != nil {
		return 0, err
	}
	if req.LogPath != "" {
		line += " >> " + req.LogPath + " 2>&1 &"
	}
	fmt.Fprintf(r.Out, "+ %s\n", line)
	return 0, nil
}

// LookPath resolves an executable on PATH.
func (r DryRunRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ShellJoin renders args as a bash command line that round-trips through a shell.
func ShellJoin(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}
