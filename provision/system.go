package provision

import (
	"context"
	"fmt"
)

type systemPackagesStage struct{}

func (systemPackagesStage) Name() string        { return "system" }
func (systemPackagesStage) Description() string { return "System packages" }
func (systemPackagesStage) Target() State       { return StateSystemPackages }

// Run refreshes the package index and installs the OS packages. A host without
// the package manager only gets a warning.
func (systemPackagesStage) Run(ctx context.Context, s *Session) error {
	cfg := s.Config.System
	if cfg.Skip {
		s.Skip("disabled by configuration")
		return nil
	}
	manager := cfg.PackageManager
	if _, err := s.Runner.LookPath(manager); err != nil {
		s.Logger.Warn(manager+" not found, install system packages manually", "packages", cfg.Packages)
		s.Skip(manager + " not found")
		return nil
	}

	var prefix []string
	if cfg.Elevate != "" {
		if _, err := s.Runner.LookPath(cfg.Elevate); err == nil {
			prefix = []string{cfg.Elevate}
		}
	}

	if err := s.Exec(ctx, withPrefix(prefix, manager, "update")...); err != nil {
		return fmt.Errorf("refresh package index: %w", err)
	}
	if len(cfg.Packages) == 0 {
		s.Note("no packages configured")
		return nil
	}
	install := withPrefix(prefix, manager, "install", "-y")
	install = append(install, cfg.Packages...)
	if err := s.Exec(ctx, install...); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	s.Note(fmt.Sprintf("installed %d packages", len(cfg.Packages)))
	return nil
}

func withPrefix(prefix []string, args ...string) []string {
	out := make([]string, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	return append(out, args...)
}
