package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lexcodex/devprovision/persistence"
	"github.com/lexcodex/devprovision/provision"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded provisioning runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			path := settings.Config.Journal.Path
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				cmd.Printf("No runs recorded in %s\n", path)
				return nil
			}
			store, err := persistence.NewRunStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Printf("No runs recorded in %s\n", path)
				return nil
			}
			describeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show, newest first")
	return cmd
}

func describeRuns(out io.Writer, runs []persistence.RunRecord) {
	st := newStyles(lipgloss.NewRenderer(out))
	for _, run := range runs {
		state := st.ok.Render(string(run.FinalState))
		if run.FinalState != provision.StateDone {
			state = st.bad.Render(string(run.FinalState))
		}
		took := "unfinished"
		if !run.FinishedAt.IsZero() {
			took = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(out, "%s %s %s %s\n",
			st.title.Render(run.ID),
			run.StartedAt.Local().Format(time.DateTime),
			state,
			st.muted.Render(took))
		for _, stage := range run.Stages {
			outcome := string(stage.Outcome)
			switch stage.Outcome {
			case provision.OutcomeOK:
				outcome = st.ok.Render(outcome)
			case provision.OutcomeSkipped:
				outcome = st.warn.Render(outcome)
			case provision.OutcomeFailed:
				outcome = st.bad.Render(outcome)
			}
			fmt.Fprintf(out, "  %s %s", st.label.Render(stage.Name), outcome)
			if stage.Detail != "" {
				fmt.Fprintf(out, " %s", st.muted.Render(stage.Detail))
			}
			fmt.Fprintln(out)
		}
		if run.Error != "" {
			fmt.Fprintf(out, "  %s\n", st.bad.Render(run.Error))
		}
	}
}
