package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/lexcodex/devprovision/cmd/internal/setup"
	"github.com/lexcodex/devprovision/framework"
)

var (
	// Version is set via -ldflags.
	Version = "dev"
	// Commit is set via -ldflags.
	Commit = "unknown"
)

var (
	flagWorkspace  string
	flagConfig     string
	flagEndpoint   string
	flagPullMode   string
	flagLogLevel   string
	flagSkipSystem bool
	flagDryRun     bool
	flagNoJournal  bool
)

func main() {
	root := newRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(framework.ExitCodeOf(err, 1))
	}
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "provision",
		Short: "Provision the local RAG development environment",
		Long: `provision prepares a machine for the RAG workspace: system packages,
a Python virtual environment with the app dependencies, the Ollama server
and the models the app queries. Running it again only does what is missing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runProvision,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&flagWorkspace, "workspace", "", "Workspace root holding .venv and .provision (default: current directory)")
	flags.StringVar(&flagConfig, "config", "", "Settings file (default: <workspace>/provision.yaml when present)")
	flags.StringVar(&flagEndpoint, "ollama", "", "Ollama endpoint (default: http://localhost:11434)")
	flags.StringVar(&flagPullMode, "pull-mode", "", "How models are pulled: cli or api")
	flags.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&flagSkipSystem, "skip-system", false, "Skip the system package stage")
	flags.BoolVar(&flagDryRun, "dry-run", false, "Print the commands a run would execute without changing anything")
	flags.BoolVar(&flagNoJournal, "no-journal", false, "Do not record the run in the journal")

	root.AddCommand(newRunCmd(), newStatusCmd(), newHistoryCmd(), newConfigCmd())
	return root
}

func loadSettings(cmd *cobra.Command) (*setup.Settings, error) {
	return setup.Load(setup.LoadOptions{
		Workspace:  flagWorkspace,
		ConfigFile: flagConfig,
		Flags:      cmd.Flags(),
	})
}
