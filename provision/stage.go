package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lexcodex/devprovision/framework"
	"github.com/lexcodex/devprovision/llm"
)

// Stage is one ordered step of a provisioning run.
type Stage interface {
	Name() string
	Description() string
	// Target is the state reached once Run returns nil.
	Target() State
	Run(ctx context.Context, s *Session) error
}

// Outcome classifies how a stage finished.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// StageReport is the journal entry of one stage.
type StageReport struct {
	Name      string
	Outcome   Outcome
	Detail    string
	StartedAt time.Time
	Duration  time.Duration
}

// Session is the shared context handed to every stage of one run.
type Session struct {
	Config Config
	Runner framework.CommandRunner
	Ollama *llm.Client
	// HTTP fetches remote install scripts.
	HTTP   *http.Client
	Logger *log.Logger
	Stdout io.Writer
	Stderr io.Writer

	env     []string
	advance func(State) error
	skipped string
	notes   []string
}

// NewSession wires a session with local defaults for anything left nil.
func NewSession(cfg Config, runner framework.CommandRunner, logger *log.Logger) *Session {
	if runner == nil {
		runner = framework.NewLocalCommandRunner()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{
		Config: cfg,
		Runner: runner,
		Ollama: llm.NewClient(cfg.Ollama.Endpoint),
		HTTP:   &http.Client{Timeout: 2 * time.Minute},
		Logger: logger,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Env returns the variables contributed by earlier stages.
func (s *Session) Env() []string {
	return append([]string(nil), s.env...)
}

// Activate adds variables to every command launched after this call.
func (s *Session) Activate(vars ...string) {
	s.env = append(s.env, vars...)
}

// Advance moves the run to an intermediate state while the stage is running.
func (s *Session) Advance(state State) error {
	if s.advance == nil {
		return nil
	}
	return s.advance(state)
}

// Skip marks the current stage as not needed.
func (s *Session) Skip(reason string) {
	s.skipped = reason
	s.Logger.Info("skipping", "reason", reason)
}

// Note attaches a detail line to the current stage report.
func (s *Session) Note(detail string) {
	s.notes = append(s.notes, detail)
}

// Exec runs an external tool with its output streamed to the session writers.
func (s *Session) Exec(ctx context.Context, args ...string) error {
	return s.ExecInput(ctx, "", args...)
}

// ExecInput is Exec with input fed on stdin.
func (s *Session) ExecInput(ctx context.Context, input string, args ...string) error {
	if line, err := framework.ShellJoin(args); err == nil {
		s.Logger.Debug("exec", "cmd", line)
	}
	_, _, err := s.Runner.Run(ctx, framework.CommandRequest{
		Workdir: s.Config.Workspace,
		Args:    args,
		Env:     s.Env(),
		Input:   input,
		Stdout:  s.Stdout,
		Stderr:  s.Stderr,
	})
	return err
}

// Output runs an external tool and returns its trimmed stdout.
func (s *Session) Output(ctx context.Context, args ...string) (string, error) {
	stdout, _, err := s.Runner.Run(ctx, framework.CommandRequest{
		Workdir: s.Config.Workspace,
		Args:    args,
		Env:     s.Env(),
	})
	return strings.TrimSpace(stdout), err
}

func (s *Session) resetStage() {
	s.skipped = ""
	s.notes = nil
}

func (s *Session) report(name string, started time.Time, err error) StageReport {
	report := StageReport{
		Name:      name,
		Outcome:   OutcomeOK,
		StartedAt: started,
		Duration:  time.Since(started),
		Detail:    strings.Join(s.notes, "; "),
	}
	switch {
	case err != nil:
		report.Outcome = OutcomeFailed
		report.Detail = err.Error()
	case s.skipped != "":
		report.Outcome = OutcomeSkipped
		report.Detail = joinDetail(s.skipped, report.Detail)
	}
	return report
}

func joinDetail(head, tail string) string {
	if tail == "" {
		return head
	}
	return fmt.Sprintf("%s; %s", head, tail)
}
