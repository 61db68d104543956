package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/devprovision/provision"
)

// RunRecord is one provisioning run read back from the journal.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalState provision.State
	Error      string
	Stages     []provision.StageReport
}

// RunStore journals provisioning runs in a SQLite database.
type RunStore struct {
	db *sql.DB
}

var _ provision.Recorder = (*RunStore)(nil)

// NewRunStore opens/creates the database at dbPath.
func NewRunStore(dbPath string) (*RunStore, error) {
	if dbPath == "" {
		return nil, errors.New("run store path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	store := &RunStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *RunStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		final_state TEXT NOT NULL,
		error TEXT
	);
	CREATE TABLE IF NOT EXISTS stage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_stage_events_run ON stage_events(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts a run in the init state.
func (s *RunStore) BeginRun(ctx context.Context, runID string, started time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, final_state) VALUES (?, ?, ?)`,
		runID, started.UTC(), string(provision.StateInit))
	return err
}

// RecordStage appends a stage outcome to a run.
func (s *RunStore) RecordStage(ctx context.Context, runID string, report provision.StageReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (run_id, stage, outcome, detail, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, report.Name, string(report.Outcome), report.Detail, report.StartedAt.UTC(), report.Duration.Milliseconds())
	return err
}

// FinishRun stores the final state of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID string, final provision.State, runErr error, finished time.Time) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, final_state = ?, error = ? WHERE id = ?`,
		finished.UTC(), string(final), errText, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first, each with its stage events.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, final_state, error FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var runs []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			finished sql.NullTime
			state    string
			errText  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &finished, &state, &errText); err != nil {
			rows.Close()
			return nil, err
		}
		rec.FinishedAt = finished.Time
		rec.FinalState = provision.State(state)
		rec.Error = errText.String
		runs = append(runs, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		stages, err := s.stages(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Stages = stages
	}
	return runs, nil
}

func (s *RunStore) stages(ctx context.Context, runID string) ([]provision.StageReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, outcome, detail, started_at, duration_ms FROM stage_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []provision.StageReport
	for rows.Next() {
		var (
			report  provision.StageReport
			outcome string
			detail  sql.NullString
			ms      int64
		)
		if err := rows.Scan(&report.Name, &outcome, &detail, &report.StartedAt, &ms); err != nil {
			return nil, err
		}
		report.Outcome = provision.Outcome(outcome)
		report.Detail = detail.String
		report.Duration = time.Duration(ms) * time.Millisecond
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
