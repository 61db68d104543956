package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcodex/devprovision/cmd/internal/setup"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as YAML",
		Long: `Print the settings a run would use after merging the defaults, the
settings file, PROVISION_* environment variables and flags. The output is a
valid provision.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			data, err := setup.Marshal(settings.Config)
			if err != nil {
				return err
			}
			if settings.Source != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", settings.Source)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
