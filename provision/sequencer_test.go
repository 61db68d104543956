package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/devprovision/framework"
	"github.com/lexcodex/devprovision/llm"
)

const installScript = "#!/bin/sh\nset -eu\necho installing ollama\n"

func newScriptServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func venvCalls(venv string) []string {
	python := filepath.Join(venv, "bin", "python")
	return []string{
		"python3 -m venv " + venv,
		python + " -m pip install --upgrade pip",
		python + " -m pip install streamlit chromadb sentence-transformers pdfplumber pandas rank_bm25 requests",
	}
}

func TestRunFreshMachine(t *testing.T) {
	runner := newFakeRunner("apt-get", "sudo", "python3")
	ollama := newFakeOllama(t, false)
	runner.onStart = func() { ollama.live.Store(true) }
	scripts := newScriptServer(t, http.StatusOK, installScript)

	h := newHarness(t, runner, ollama)
	h.config.Ollama.InstallScriptURL = scripts.URL + "/install.sh"
	session := h.session()
	session.HTTP = scripts.Client()

	result, err := NewSequencer(session, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)

	expected := []string{
		"sudo apt-get update",
		"sudo apt-get install -y python3 python3-venv python3-pip curl",
	}
	expected = append(expected, venvCalls(h.config.Python.VenvDir)...)
	expected = append(expected, "sh -s", "ollama pull exaone3.5:32b", "ollama pull bge-m3")
	assert.Equal(t, expected, runner.calls)
	assert.Equal(t, installScript, runner.inputs["sh -s"])
	assert.Equal(t, []string{"ollama serve"}, runner.started)

	pullEnv := runner.envs["ollama pull bge-m3"]
	assert.Contains(t, pullEnv, "VIRTUAL_ENV="+h.config.Python.VenvDir)
	assert.Contains(t, pullEnv, "OLLAMA_HOST="+ollama.URL)

	require.Len(t, result.Stages, 4)
	for _, report := range result.Stages {
		assert.Equal(t, OutcomeOK, report.Outcome, report.Name)
	}
	out := h.stdout.String()
	assert.Contains(t, out, "==> [1/4] System packages")
	assert.Contains(t, out, "==> [4/4] Ollama server and models")
	assert.Contains(t, out, "environment ready")
}

func TestRunWithoutPackageManagerContinues(t *testing.T) {
	runner := newFakeRunner("python3")
	ollama := newFakeOllama(t, true)
	scripts := newScriptServer(t, http.StatusOK, installScript)
	h := newHarness(t, runner, ollama)
	h.config.Ollama.InstallScriptURL = scripts.URL
	session := h.session()
	session.HTTP = scripts.Client()

	result, err := NewSequencer(session, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Empty(t, runner.callsWithPrefix("apt-get"))
	assert.Empty(t, runner.callsWithPrefix("sudo"))
	assert.Equal(t, OutcomeSkipped, result.Stages[0].Outcome)
	assert.Contains(t, result.Stages[0].Detail, "apt-get not found")
	assert.Contains(t, h.stderr.String(), "apt-get not found")
	assert.Len(t, runner.callsWithPrefix("ollama pull"), 2)
}

func TestRunWithoutSudoInvokesManagerDirectly(t *testing.T) {
	runner := newFakeRunner("apt-get", "python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"apt-get update", "apt-get install -y python3 python3-venv python3-pip curl"},
		runner.callsWithPrefix("apt-get"))
}

func TestRunKeepsInstalledOllama(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	runner.outputs["ollama --version"] = "Warning: could not connect to a running Ollama instance\nWarning: client version is 0.5.7\n"
	ollama := newFakeOllama(t, false)
	runner.onStart = func() { ollama.live.Store(true) }
	h := newHarness(t, runner, ollama)
	h.config.Ollama.InstallScriptURL = "https://127.0.0.1:1/never-fetched.sh"

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, runner.callsWithPrefix("sh -s"))
	install := result.Stages[2]
	assert.Equal(t, "ollama-install", install.Name)
	assert.Equal(t, OutcomeSkipped, install.Outcome)
	assert.Equal(t, "already installed: client version is 0.5.7", install.Detail)
	assert.Equal(t, []string{"ollama serve"}, runner.started)
}

func TestRunDoesNotStartSecondServer(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, runner.started)
	assert.Contains(t, result.Stages[3].Detail, "server already running")
}

func TestRunOnlyPullsWhenEverythingIsInstalled(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	runner.outputs["ollama --version"] = "ollama version is 0.5.7"
	h := newHarness(t, runner, newFakeOllama(t, true))

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Empty(t, runner.started)

	var ollamaCalls []string
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "ollama ") || call == "sh -s" {
			ollamaCalls = append(ollamaCalls, call)
		}
	}
	assert.Equal(t, []string{"ollama --version", "ollama pull exaone3.5:32b", "ollama pull bge-m3"}, ollamaCalls)
}

func TestRunAbortsWhenVenvCreationFails(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	runner.failures["python3 -m venv"] = &framework.CommandError{
		Args:     []string{"python3", "-m", "venv"},
		ExitCode: 2,
		Err:      errors.New("exit status 2"),
	}
	ollama := newFakeOllama(t, true)
	h := newHarness(t, runner, ollama)

	result, err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage venv")
	assert.Equal(t, 2, framework.ExitCodeOf(err, 1))
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateSystemPackages, result.Reached)
	require.Len(t, result.Stages, 2)
	assert.Equal(t, OutcomeFailed, result.Stages[1].Outcome)
	assert.Empty(t, runner.callsWithPrefix("ollama"))
	assert.Empty(t, runner.started)
	assert.Empty(t, ollama.pulled)
	assert.Contains(t, h.stdout.String(), "provisioning failed after sys_pkgs")
}

func TestRunFailsWhenServerNeverBecomesReady(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, false))
	h.config.Ollama.ReadyTimeout = 30 * h.config.Ollama.ReadyInterval

	result, err := h.run(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrServerNotReady))
	assert.Equal(t, StateServerInstalled, result.Reached)
	assert.Equal(t, []string{"ollama serve"}, runner.started)
	assert.Empty(t, runner.callsWithPrefix("ollama pull"))
}

func TestRunPullFailureAbortsBeforeSecondModel(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	runner.failures["ollama pull exaone3.5:32b"] = &framework.CommandError{
		Args:     []string{"ollama", "pull", "exaone3.5:32b"},
		ExitCode: 1,
		Err:      errors.New("exit status 1"),
	}
	h := newHarness(t, runner, newFakeOllama(t, true))

	result, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, StateServerReady, result.Reached)
	assert.Equal(t, []string{"ollama pull exaone3.5:32b"}, runner.callsWithPrefix("ollama pull"))
}

func TestRunAPIPullRendersProgress(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	ollama := newFakeOllama(t, true)
	h := newHarness(t, runner, ollama)
	h.config.Models.PullMode = PullModeAPI

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, runner.callsWithPrefix("ollama pull"))
	assert.Equal(t, []string{"exaone3.5:32b", "bge-m3"}, ollama.pulled)
	out := h.stdout.String()
	assert.Contains(t, out, "pulling manifest")
	assert.Contains(t, out, "0a1b2c3d4e5f")
	assert.Contains(t, out, "success")
}

func TestRunSkipSystemStage(t *testing.T) {
	runner := newFakeRunner("apt-get", "sudo", "python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))
	h.config.System.Skip = true

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Empty(t, runner.callsWithPrefix("sudo"))
	assert.Equal(t, OutcomeSkipped, result.Stages[0].Outcome)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewSequencer(h.session(), nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, runner.calls)
}

func TestSequencerRecordsJournal(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))
	rec := &memoryRecorder{}

	result, err := NewSequencer(h.session(), rec).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"begin " + result.ID, "system:skipped", "venv:ok", "ollama-install:skipped", "ollama-serve:ok", "finish done"}, rec.events)
}

func TestSequencerIgnoresJournalFailures(t *testing.T) {
	runner := newFakeRunner("python3", "ollama")
	h := newHarness(t, runner, newFakeOllama(t, true))

	result, err := NewSequencer(h.session(), &memoryRecorder{fail: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
	assert.Contains(t, h.stderr.String(), "journal write failed")
}

func TestSequencerRejectsBackwardsTarget(t *testing.T) {
	session := NewSession(DefaultConfig(), newFakeRunner(), log.New(&strings.Builder{}))
	session.Stdout = nil
	seq := &Sequencer{
		Session: session,
		Stages: []Stage{
			fixedStage{name: "first", target: StateEnvReady},
			fixedStage{name: "second", target: StateSystemPackages},
		},
	}
	result, err := seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition env_ready -> sys_pkgs")
	assert.Equal(t, StateEnvReady, result.Reached)
}

type fixedStage struct {
	name   string
	target State
}

func (s fixedStage) Name() string                        { return s.name }
func (s fixedStage) Description() string                 { return s.name }
func (s fixedStage) Target() State                       { return s.target }
func (s fixedStage) Run(context.Context, *Session) error { return nil }

type memoryRecorder struct {
	events []string
	fail   bool
}

func (m *memoryRecorder) BeginRun(_ context.Context, runID string, _ time.Time) error {
	m.events = append(m.events, "begin "+runID)
	return m.err()
}

func (m *memoryRecorder) RecordStage(_ context.Context, _ string, report StageReport) error {
	m.events = append(m.events, fmt.Sprintf("%s:%s", report.Name, report.Outcome))
	return m.err()
}

func (m *memoryRecorder) FinishRun(_ context.Context, _ string, final State, _ error, _ time.Time) error {
	m.events = append(m.events, "finish "+string(final))
	return m.err()
}

func (m *memoryRecorder) err() error {
	if m.fail {
		return errors.New("disk full")
	}
	return nil
}
