package setup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexcodex/devprovision/framework"
	"github.com/lexcodex/devprovision/llm"
	"github.com/lexcodex/devprovision/provision"
)

// Report captures the machine state relevant to provisioning without
// changing anything.
type Report struct {
	Workspace      string       `json:"workspace"`
	// SettingsFile is the provision.yaml the settings came from, if any.
	SettingsFile   string       `json:"settings_file,omitempty"`
	CheckedAt      time.Time    `json:"checked_at"`
	PackageManager Tool         `json:"package_manager"`
	Elevate        Tool         `json:"elevate"`
	Python         Tool         `json:"python"`
	Venv           VenvStatus   `json:"venv"`
	Ollama         OllamaStatus `json:"ollama"`
}

// Tool records whether an executable resolves on PATH.
type Tool struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Available reports if the tool was found.
func (t Tool) Available() bool { return t.Path != "" }

// VenvStatus describes the workspace virtual environment.
type VenvStatus struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// OllamaStatus holds the current Ollama environment snapshot.
type OllamaStatus struct {
	Endpoint        string   `json:"endpoint"`
	CommandPath     string   `json:"command_path,omitempty"`
	Reachable       bool     `json:"reachable"`
	Version         string   `json:"version,omitempty"`
	AvailableModels []string `json:"available_models"`
	MissingModels   []string `json:"missing_models"`
	LastError       string   `json:"last_error,omitempty"`
}

// Ready reports whether a run would have nothing left to do.
func (r *Report) Ready() bool {
	return r.Venv.Exists &&
		r.Ollama.CommandPath != "" &&
		r.Ollama.Reachable &&
		len(r.Ollama.MissingModels) == 0
}

// Detect builds a Report for cfg using runner for PATH lookups and client for
// the server probes.
func Detect(ctx context.Context, cfg provision.Config, runner framework.CommandRunner, client *llm.Client) *Report {
	if runner == nil {
		runner = framework.NewLocalCommandRunner()
	}
	if client == nil {
		client = llm.NewClient(cfg.Ollama.Endpoint)
	}
	return &Report{
		Workspace:      cfg.Workspace,
		CheckedAt:      time.Now(),
		PackageManager: findTool(runner, cfg.System.PackageManager),
		Elevate:        findTool(runner, cfg.System.Elevate),
		Python:         findTool(runner, cfg.Python.Interpreter),
		Venv:           detectVenv(cfg),
		Ollama:         detectOllama(ctx, cfg, runner, client),
	}
}

func findTool(runner framework.CommandRunner, name string) Tool {
	tool := Tool{Name: name}
	if name == "" {
		return tool
	}
	if path, err := runner.LookPath(name); err == nil {
		tool.Path = path
	}
	return tool
}

func detectVenv(cfg provision.Config) VenvStatus {
	status := VenvStatus{Path: cfg.Python.VenvDir}
	info, err := os.Stat(filepath.Join(cfg.Python.VenvDir, "pyvenv.cfg"))
	status.Exists = err == nil && !info.IsDir()
	return status
}

func detectOllama(ctx context.Context, cfg provision.Config, runner framework.CommandRunner, client *llm.Client) OllamaStatus {
	status := OllamaStatus{
		Endpoint:    client.Endpoint,
		CommandPath: findTool(runner, cfg.Ollama.Binary).Path,
	}
	if err := client.Ping(ctx); err != nil {
		status.LastError = err.Error()
		status.MissingModels = append([]string(nil), cfg.Models.Names...)
		return status
	}
	status.Reachable = true
	if version, err := client.Version(ctx); err == nil {
		status.Version = version
	}
	models, err := client.Models(ctx)
	if err != nil {
		status.LastError = err.Error()
	}
	status.AvailableModels = models
	status.MissingModels = missingModels(cfg.Models.Names, models)
	return status
}

// missingModels matches names the way ollama does, with an implicit
// ":latest" tag.
func missingModels(want, have []string) []string {
	present := make(map[string]bool, len(have))
	for _, name := range have {
		present[withTag(name)] = true
	}
	var missing []string
	for _, name := range want {
		if !present[withTag(name)] {
			missing = append(missing, name)
		}
	}
	return missing
}

func withTag(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}
