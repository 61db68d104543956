package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type virtualEnvStage struct{}

func (virtualEnvStage) Name() string        { return "venv" }
func (virtualEnvStage) Description() string { return "Python virtual environment" }
func (virtualEnvStage) Target() State       { return StateEnvReady }

// Run creates the virtual environment, activates it for the rest of the run and
// installs the application libraries into it.
func (virtualEnvStage) Run(ctx context.Context, s *Session) error {
	cfg := s.Config.Python
	venv := cfg.VenvDir
	if err := s.Exec(ctx, cfg.Interpreter, "-m", "venv", venv); err != nil {
		return fmt.Errorf("create %s: %w", venv, err)
	}
	s.Activate(activationEnv(venv)...)

	python := s.Config.VenvPython()
	if err := s.Exec(ctx, python, "-m", "pip", "install", "--upgrade", "pip"); err != nil {
		return fmt.Errorf("upgrade pip: %w", err)
	}
	if len(cfg.Packages) == 0 {
		s.Note("no packages configured")
		return nil
	}
	install := append([]string{python, "-m", "pip", "install"}, cfg.Packages...)
	if err := s.Exec(ctx, install...); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	s.Note(fmt.Sprintf("%s: %s", venv, strings.Join(cfg.Packages, " ")))
	return nil
}

// activationEnv mirrors what `source bin/activate` exports.
func activationEnv(venv string) []string {
	bin := filepath.Join(venv, "bin")
	return []string{
		"VIRTUAL_ENV=" + venv,
		"PATH=" + bin + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}
