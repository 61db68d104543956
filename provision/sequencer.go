package provision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Recorder persists run history. Recording failures never fail a run.
type Recorder interface {
	BeginRun(ctx context.Context, runID string, started time.Time) error
	RecordStage(ctx context.Context, runID string, report StageReport) error
	FinishRun(ctx context.Context, runID string, final State, runErr error, finished time.Time) error
}

// RunResult summarises one run.
type RunResult struct {
	ID    string
	State State
	// Reached is the last state before a failure, or State on success.
	Reached   State
	StartedAt time.Time
	Stages    []StageReport
}

// DefaultStages returns the four provisioning stages in execution order.
func DefaultStages() []Stage {
	return []Stage{
		systemPackagesStage{},
		virtualEnvStage{},
		ollamaInstallStage{},
		ollamaServeStage{},
	}
}

// Sequencer executes stages in order and aborts on the first failure.
type Sequencer struct {
	Stages   []Stage
	Session  *Session
	Recorder Recorder

	result *RunResult
}

// NewSequencer builds a sequencer over the default stages.
func NewSequencer(session *Session, recorder Recorder) *Sequencer {
	return &Sequencer{
		Stages:   DefaultStages(),
		Session:  session,
		Recorder: recorder,
	}
}

// Run executes every stage. The returned result is never nil; on failure its
// state is StateFailed and the error names the failing stage.
func (q *Sequencer) Run(ctx context.Context) (*RunResult, error) {
	if q.Session == nil {
		return nil, errors.New("session required")
	}
	started := time.Now()
	result := &RunResult{
		ID:        fmt.Sprintf("run-%d", started.UnixNano()),
		State:     StateInit,
		Reached:   StateInit,
		StartedAt: started,
	}
	q.result = result
	q.Session.advance = q.transition
	defer func() { q.Session.advance = nil }()

	logger := q.Session.Logger
	out := newBanner(q.Session.Stdout)
	q.record(func(r Recorder) error { return r.BeginRun(ctx, result.ID, started) })
	logger.Debug("run started", "id", result.ID, "workspace", q.Session.Config.Workspace)

	runErr := q.runStages(ctx, out)
	if runErr != nil {
		result.State = StateFailed
	} else if err := q.transition(StateDone); err != nil {
		runErr = err
		result.State = StateFailed
	}
	q.record(func(r Recorder) error {
		return r.FinishRun(context.WithoutCancel(ctx), result.ID, result.State, runErr, time.Now())
	})
	out.summary(result, runErr)
	return result, runErr
}

func (q *Sequencer) runStages(ctx context.Context, out *banner) error {
	total := len(q.Stages)
	for i, stage := range q.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		out.stage(i+1, total, stage)
		q.Session.resetStage()
		started := time.Now()
		err := stage.Run(ctx, q.Session)
		if err == nil {
			err = q.transition(stage.Target())
		}
		report := q.Session.report(stage.Name(), started, err)
		q.result.Stages = append(q.result.Stages, report)
		out.result(report)
		q.record(func(r Recorder) error {
			return r.RecordStage(context.WithoutCancel(ctx), q.result.ID, report)
		})
		if err != nil {
			q.Session.Logger.Error("stage failed", "stage", stage.Name(), "err", err)
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

// transition moves the run forward. Reaching the current state again is a no-op
// so a stage may advance to its own target early.
func (q *Sequencer) transition(next State) error {
	current := q.result.State
	if current == next {
		return nil
	}
	if !current.CanAdvanceTo(next) {
		return fmt.Errorf("invalid transition %s -> %s", current, next)
	}
	q.Session.Logger.Debug("state", "from", current, "to", next)
	q.result.State = next
	q.result.Reached = next
	return nil
}

func (q *Sequencer) record(fn func(Recorder) error) {
	if q.Recorder == nil {
		return
	}
	if err := fn(q.Recorder); err != nil {
		q.Session.Logger.Warn("journal write failed", "err", err)
	}
}
