package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lexcodex/devprovision/cmd/internal/setup"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report what is installed without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			report := setup.Detect(cmd.Context(), settings.Config, nil, nil)
			report.SettingsFile = settings.Source
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			describeReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func describeReport(out io.Writer, report *setup.Report) {
	st := newStyles(lipgloss.NewRenderer(out))
	line := func(label, value string) {
		fmt.Fprintln(out, st.label.Render(label)+value)
	}
	tool := func(t setup.Tool) string {
		if t.Available() {
			return st.ok.Render("found") + " " + st.muted.Render(t.Path)
		}
		return st.warn.Render("missing") + " " + st.muted.Render(t.Name)
	}

	fmt.Fprintln(out, st.title.Render("Workspace "+report.Workspace))
	if report.SettingsFile != "" {
		line("Settings", report.SettingsFile)
	} else {
		line("Settings", st.muted.Render("defaults, no "+setup.DefaultConfigPath(report.Workspace)))
	}
	line("Package manager", tool(report.PackageManager))
	line("Elevation", tool(report.Elevate))
	line("Python", tool(report.Python))
	if report.Venv.Exists {
		line("Virtualenv", st.ok.Render("present")+" "+st.muted.Render(report.Venv.Path))
	} else {
		line("Virtualenv", st.warn.Render("missing")+" "+st.muted.Render(report.Venv.Path))
	}

	ollama := report.Ollama
	if ollama.CommandPath != "" {
		line("Ollama binary", st.ok.Render("found")+" "+st.muted.Render(ollama.CommandPath))
	} else {
		line("Ollama binary", st.warn.Render("missing"))
	}
	switch {
	case ollama.Reachable && ollama.Version != "":
		line("Ollama server", st.ok.Render("reachable")+" "+st.muted.Render(ollama.Endpoint+" v"+ollama.Version))
	case ollama.Reachable:
		line("Ollama server", st.ok.Render("reachable")+" "+st.muted.Render(ollama.Endpoint))
	default:
		line("Ollama server", st.bad.Render("unreachable")+" "+st.muted.Render(ollama.Endpoint))
	}
	if len(ollama.AvailableModels) > 0 {
		line("Models", strings.Join(ollama.AvailableModels, ", "))
	}
	if len(ollama.MissingModels) > 0 {
		line("Missing models", st.warn.Render(strings.Join(ollama.MissingModels, ", ")))
	}
	if ollama.LastError != "" {
		line("Ollama error", st.muted.Render(ollama.LastError))
	}

	if report.Ready() {
		fmt.Fprintln(out, st.ok.Render("Environment ready."))
	} else {
		fmt.Fprintln(out, st.warn.Render("Run `provision` to finish setup."))
	}
}
