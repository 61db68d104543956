package main

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("39")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("220")
	colorError   = lipgloss.Color("196")
	colorMuted   = lipgloss.Color("241")
)

// styles are bound to the command's output so colour is dropped when it is
// not a terminal.
type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title: r.NewStyle().Bold(true).Foreground(colorPrimary),
		label: r.NewStyle().Width(18),
		ok:    r.NewStyle().Foreground(colorSuccess),
		warn:  r.NewStyle().Foreground(colorWarning),
		bad:   r.NewStyle().Bold(true).Foreground(colorError),
		muted: r.NewStyle().Foreground(colorMuted),
	}
}
