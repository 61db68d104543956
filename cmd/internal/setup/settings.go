package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/devprovision/provision"
)

const (
	// ConfigName is the settings file looked up in the workspace root.
	ConfigName = "provision"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PROVISION"
)

// flagKeys maps CLI flags onto settings keys.
var flagKeys = map[string]string{
	"ollama":      "ollama.endpoint",
	"pull-mode":   "models.pull_mode",
	"skip-system": "system.skip",
	"dry-run":     "dry_run",
	"log-level":   "log_level",
}

// LoadOptions selects the sources merged over the built-in defaults.
type LoadOptions struct {
	// Workspace overrides PROVISION_WORKSPACE and the current directory.
	Workspace string
	// ConfigFile must exist when set. Otherwise <workspace>/provision.yaml is
	// read if present.
	ConfigFile string
	// Flags are bound when they were set on the command line.
	Flags *pflag.FlagSet
}

// Settings is the effective configuration of a run.
type Settings struct {
	Config provision.Config
	// Source is the settings file that was read, empty when none was.
	Source string
}

// Load merges defaults, the settings file, PROVISION_* variables and flags,
// then validates and resolves the result.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()
	setDefaults(v, provision.DefaultConfig())

	workspace := opts.Workspace
	if workspace == "" {
		workspace = os.Getenv(EnvPrefix + "_WORKSPACE")
	}
	if workspace == "" {
		workspace = "."
	}
	v.Set("workspace", workspace)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ollama.endpoint", EnvPrefix+"_OLLAMA_ENDPOINT", "OLLAMA_ENDPOINT"); err != nil {
		return nil, err
	}

	source, err := readConfigFile(v, workspace, opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, opts.Flags); err != nil {
		return nil, err
	}

	cfg := provision.Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	return &Settings{Config: resolved, Source: source}, nil
}

// Marshal renders settings as the YAML accepted by Load.
func Marshal(cfg provision.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func setDefaults(v *viper.Viper, d provision.Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("dry_run", d.DryRun)
	v.SetDefault("system.skip", d.System.Skip)
	v.SetDefault("system.package_manager", d.System.PackageManager)
	v.SetDefault("system.elevate", d.System.Elevate)
	v.SetDefault("system.packages", d.System.Packages)
	v.SetDefault("python.interpreter", d.Python.Interpreter)
	v.SetDefault("python.venv_dir", d.Python.VenvDir)
	v.SetDefault("python.packages", d.Python.Packages)
	v.SetDefault("ollama.binary", d.Ollama.Binary)
	v.SetDefault("ollama.endpoint", d.Ollama.Endpoint)
	v.SetDefault("ollama.install_script_url", d.Ollama.InstallScriptURL)
	v.SetDefault("ollama.ready_timeout", d.Ollama.ReadyTimeout)
	v.SetDefault("ollama.ready_interval", d.Ollama.ReadyInterval)
	v.SetDefault("ollama.serve_log", d.Ollama.ServeLog)
	v.SetDefault("models.names", d.Models.Names)
	v.SetDefault("models.pull_mode", d.Models.PullMode)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
}

func readConfigFile(v *viper.Viper, workspace, explicit string) (string, error) {
	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read settings %s: %w", explicit, err)
		}
		return explicit, nil
	}
	v.SetConfigName(ConfigName)
	v.AddConfigPath(workspace)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read settings: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if flag := flags.Lookup("no-journal"); flag != nil && flag.Changed && flag.Value.String() == "true" {
		v.Set("journal.enabled", false)
	}
	return nil
}

// DefaultConfigPath is where Load looks for a settings file.
func DefaultConfigPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ConfigName+".yaml")
}
