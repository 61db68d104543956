package provision

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("39")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("220")
	colorError   = lipgloss.Color("196")
	colorDim     = lipgloss.Color("241")
)

// banner renders the human-readable progress lines of a run.
type banner struct {
	out      io.Writer
	header   lipgloss.Style
	ok       lipgloss.Style
	skipped  lipgloss.Style
	failed   lipgloss.Style
	dim      lipgloss.Style
	disabled bool
}

func newBanner(out io.Writer) *banner {
	if out == nil {
		return &banner{disabled: true}
	}
	r := lipgloss.NewRenderer(out)
	return &banner{
		out:     out,
		header:  r.NewStyle().Bold(true).Foreground(colorPrimary),
		ok:      r.NewStyle().Foreground(colorSuccess),
		skipped: r.NewStyle().Foreground(colorWarning),
		failed:  r.NewStyle().Bold(true).Foreground(colorError),
		dim:     r.NewStyle().Foreground(colorDim),
	}
}

func (b *banner) stage(index, total int, stage Stage) {
	if b.disabled {
		return
	}
	fmt.Fprintln(b.out, b.header.Render(fmt.Sprintf("==> [%d/%d] %s", index, total, stage.Description())))
}

func (b *banner) result(report StageReport) {
	if b.disabled {
		return
	}
	var mark string
	switch report.Outcome {
	case OutcomeSkipped:
		mark = b.skipped.Render("skipped")
	case OutcomeFailed:
		mark = b.failed.Render("failed")
	default:
		mark = b.ok.Render("done")
	}
	line := fmt.Sprintf("    %s %s", mark, b.dim.Render(report.Duration.Round(time.Millisecond).String()))
	if report.Detail != "" {
		line += b.dim.Render(" (" + report.Detail + ")")
	}
	fmt.Fprintln(b.out, line)
}

func (b *banner) summary(result *RunResult, err error) {
	if b.disabled {
		return
	}
	if err != nil {
		fmt.Fprintln(b.out, b.failed.Render(fmt.Sprintf("==> provisioning failed after %s", result.Reached)))
		return
	}
	fmt.Fprintln(b.out, b.ok.Render(fmt.Sprintf("==> environment ready (%s)", time.Since(result.StartedAt).Round(time.Second))))
}
