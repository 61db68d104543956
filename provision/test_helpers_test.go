package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/devprovision/framework"
)

// fakeRunner records every command instead of executing it.
type fakeRunner struct {
	mu       sync.Mutex
	paths    map[string]bool
	outputs  map[string]string
	failures map[string]error
	calls    []string
	inputs   map[string]string
	envs     map[string][]string
	started  []string
	onStart  func()
}

func newFakeRunner(onPath ...string) *fakeRunner {
	paths := map[string]bool{}
	for _, name := range onPath {
		paths[name] = true
	}
	return &fakeRunner{
		paths:    paths,
		outputs:  map[string]string{},
		failures: map[string]error{},
		inputs:   map[string]string{},
		envs:     map[string][]string{},
	}
}

func (f *fakeRunner) Run(_ context.Context, req framework.CommandRequest) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := strings.Join(req.Args, " ")
	f.calls = append(f.calls, line)
	f.envs[line] = req.Env
	if req.Input != "" {
		f.inputs[line] = req.Input
	}
	for prefix, err := range f.failures {
		if strings.HasPrefix(line, prefix) {
			return "", "", err
		}
	}
	return f.outputs[line], "", nil
}

func (f *fakeRunner) Start(req framework.BackgroundRequest) (int, error) {
	f.mu.Lock()
	f.started = append(f.started, strings.Join(req.Args, " "))
	onStart := f.onStart
	f.mu.Unlock()
	if onStart != nil {
		onStart()
	}
	return 4242, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paths[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func (f *fakeRunner) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}
	return out
}

// fakeOllama serves the subset of the Ollama API the stages touch.
type fakeOllama struct {
	*httptest.Server
	live   atomic.Bool
	mu     sync.Mutex
	pulled []string
}

func newFakeOllama(t *testing.T, live bool) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.live.Store(live)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.live.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("Ollama is running"))
		case "/api/pull":
			var payload struct {
				Model string `json:"model"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			f.mu.Lock()
			f.pulled = append(f.pulled, payload.Model)
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"status":"pulling manifest"}` + "\n" +
				`{"status":"pulling 0a1b","digest":"sha256:0a1b2c3d4e5f6a7b","total":200,"completed":100}` + "\n" +
				`{"status":"pulling 0a1b","digest":"sha256:0a1b2c3d4e5f6a7b","total":200,"completed":200}` + "\n" +
				`{"status":"success"}` + "\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

type testHarness struct {
	runner *fakeRunner
	ollama *fakeOllama
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	config Config
}

func newHarness(t *testing.T, runner *fakeRunner, ollama *fakeOllama) *testHarness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Ollama.Endpoint = ollama.URL
	cfg.Ollama.ReadyInterval = 5 * time.Millisecond
	cfg.Ollama.ReadyTimeout = 500 * time.Millisecond
	resolved, err := cfg.Resolve()
	require.NoError(t, err)
	return &testHarness{
		runner: runner,
		ollama: ollama,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		config: resolved,
	}
}

func (h *testHarness) session() *Session {
	s := NewSession(h.config, h.runner, log.New(h.stderr))
	s.Stdout = h.stdout
	s.Stderr = h.stderr
	return s
}

func (h *testHarness) run(t *testing.T) (*RunResult, error) {
	t.Helper()
	return NewSequencer(h.session(), nil).Run(context.Background())
}
