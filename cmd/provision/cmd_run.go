package main

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/lexcodex/devprovision/framework"
	"github.com/lexcodex/devprovision/internal/logging"
	"github.com/lexcodex/devprovision/persistence"
	"github.com/lexcodex/devprovision/provision"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every provisioning stage (default command)",
		Args:  cobra.NoArgs,
		RunE:  runProvision,
	}
}

func runProvision(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	cfg := settings.Config
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	if settings.Source != "" {
		logger.Debug("settings loaded", "file", settings.Source)
	}

	var runner framework.CommandRunner = framework.NewLocalCommandRunner()
	if cfg.DryRun {
		runner = framework.DryRunRunner{Out: cmd.OutOrStdout()}
	}
	session := provision.NewSession(cfg, runner, logger)
	session.Stdout = cmd.OutOrStdout()
	session.Stderr = cmd.ErrOrStderr()

	var recorder provision.Recorder
	if store := openJournal(cfg, logger); store != nil {
		defer store.Close()
		recorder = store
	}
	_, err = provision.NewSequencer(session, recorder).Run(cmd.Context())
	return err
}

// openJournal returns nil when the journal is off or cannot be opened; a run
// never fails because of it.
func openJournal(cfg provision.Config, logger *log.Logger) *persistence.RunStore {
	if !cfg.Journal.Enabled || cfg.DryRun {
		return nil
	}
	store, err := persistence.NewRunStore(cfg.Journal.Path)
	if err != nil {
		logger.Warn("journal unavailable", "path", cfg.Journal.Path, "err", err)
		return nil
	}
	return store
}
