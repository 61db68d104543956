package provision

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexcodex/devprovision/llm"
)

// Pull modes for model downloads.
const (
	PullModeCLI = "cli"
	PullModeAPI = "api"
)

// Config holds every knob of a provisioning run. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	Workspace string        `mapstructure:"workspace" yaml:"workspace"`
	LogLevel  string        `mapstructure:"log_level" yaml:"log_level"`
	DryRun    bool          `mapstructure:"dry_run" yaml:"dry_run"`
	System    SystemConfig  `mapstructure:"system" yaml:"system"`
	Python    PythonConfig  `mapstructure:"python" yaml:"python"`
	Ollama    OllamaConfig  `mapstructure:"ollama" yaml:"ollama"`
	Models    ModelsConfig  `mapstructure:"models" yaml:"models"`
	Journal   JournalConfig `mapstructure:"journal" yaml:"journal"`
}

// SystemConfig drives the OS package stage.
type SystemConfig struct {
	Skip           bool     `mapstructure:"skip" yaml:"skip"`
	PackageManager string   `mapstructure:"package_manager" yaml:"package_manager"`
	Elevate        string   `mapstructure:"elevate" yaml:"elevate"`
	Packages       []string `mapstructure:"packages" yaml:"packages"`
}

// PythonConfig drives the virtual environment stage.
type PythonConfig struct {
	Interpreter string   `mapstructure:"interpreter" yaml:"interpreter"`
	VenvDir     string   `mapstructure:"venv_dir" yaml:"venv_dir"`
	Packages    []string `mapstructure:"packages" yaml:"packages"`
}

// OllamaConfig drives the server install and start stages.
type OllamaConfig struct {
	Binary           string        `mapstructure:"binary" yaml:"binary"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	InstallScriptURL string        `mapstructure:"install_script_url" yaml:"install_script_url"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	ReadyInterval    time.Duration `mapstructure:"ready_interval" yaml:"ready_interval"`
	ServeLog         string        `mapstructure:"serve_log" yaml:"serve_log"`
}

// ModelsConfig lists the models pulled once the server is up.
type ModelsConfig struct {
	Names    []string `mapstructure:"names" yaml:"names"`
	PullMode string   `mapstructure:"pull_mode" yaml:"pull_mode"`
}

// JournalConfig locates the run history database.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DefaultConfig returns the settings the RAG workspace needs.
func DefaultConfig() Config {
	return Config{
		Workspace: ".",
		LogLevel:  "info",
		System: SystemConfig{
			PackageManager: "apt-get",
			Elevate:        "sudo",
			Packages:       []string{"python3", "python3-venv", "python3-pip", "curl"},
		},
		Python: PythonConfig{
			Interpreter: "python3",
			VenvDir:     ".venv",
			Packages: []string{
				"streamlit",
				"chromadb",
				"sentence-transformers",
				"pdfplumber",
				"pandas",
				"rank_bm25",
				"requests",
			},
		},
		Ollama: OllamaConfig{
			Binary:           "ollama",
			Endpoint:         llm.DefaultEndpoint,
			InstallScriptURL: "https://ollama.com/install.sh",
			ReadyTimeout:     30 * time.Second,
			ReadyInterval:    500 * time.Millisecond,
			ServeLog:         filepath.Join(".provision", "ollama-serve.log"),
		},
		Models: ModelsConfig{
			Names:    []string{"exaone3.5:32b", "bge-m3"},
			PullMode: PullModeCLI,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(".provision", "runs.db"),
		},
	}
}

// Validate reports every setting that cannot drive a run.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace) == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	if c.System.PackageManager == "" {
		errs = append(errs, errors.New("system.package_manager is required"))
	}
	if c.Python.Interpreter == "" {
		errs = append(errs, errors.New("python.interpreter is required"))
	}
	if c.Python.VenvDir == "" {
		errs = append(errs, errors.New("python.venv_dir is required"))
	}
	if c.Ollama.Binary == "" {
		errs = append(errs, errors.New("ollama.binary is required"))
	}
	if !strings.HasPrefix(c.Ollama.Endpoint, "http://") && !strings.HasPrefix(c.Ollama.Endpoint, "https://") {
		errs = append(errs, fmt.Errorf("ollama.endpoint %q must be an http(s) URL", c.Ollama.Endpoint))
	}
	if c.Ollama.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("ollama.ready_timeout must be positive"))
	}
	if c.Ollama.ReadyInterval <= 0 || c.Ollama.ReadyInterval > c.Ollama.ReadyTimeout {
		errs = append(errs, errors.New("ollama.ready_interval must be positive and not exceed ready_timeout"))
	}
	for _, name := range c.Models.Names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("models.names must not contain empty entries"))
			break
		}
	}
	switch c.Models.PullMode {
	case PullModeCLI, PullModeAPI:
	default:
		errs = append(errs, fmt.Errorf("models.pull_mode %q must be %q or %q", c.Models.PullMode, PullModeCLI, PullModeAPI))
	}
	return errors.Join(errs...)
}

// Resolve returns a copy with the workspace made absolute and every relative
// path anchored under it.
func (c Config) Resolve() (Config, error) {
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return c, fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = abs
	c.Python.VenvDir = c.anchor(c.Python.VenvDir)
	c.Ollama.ServeLog = c.anchor(c.Ollama.ServeLog)
	c.Journal.Path = c.anchor(c.Journal.Path)
	return c, nil
}

// VenvPython is the interpreter inside the virtual environment.
func (c Config) VenvPython() string {
	return filepath.Join(c.Python.VenvDir, "bin", "python")
}

func (c Config) anchor(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace, path)
}
