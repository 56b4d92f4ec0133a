package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorText    = lipgloss.Color("#c0caf5")
	colorTextDim = lipgloss.Color("#565f89")
	colorSuccess = lipgloss.Color("#9ece6a")
	colorError   = lipgloss.Color("#f7768e")
	colorPrimary = lipgloss.Color("#7aa2f7")
)

var (
	headingStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText)

	okStyle = lipgloss.NewStyle().
		Foreground(colorSuccess).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	nameStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)
)

// printField writes an aligned "label: value" line.
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label+":")), valueStyle.Render(value))
}

// verdictBadge renders allowed/blocked in color.
func verdictBadge(allowed bool) string {
	if allowed {
		return okStyle.Render("ALLOWED")
	}
	return failStyle.Render("BLOCKED")
}

// padRight pads s to width cells; lipgloss measures styled text correctly.
func padRight(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}
