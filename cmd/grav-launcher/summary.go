package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"gravlauncher/internal/orchestrator"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	dimColor     = lipgloss.Color("#6272A4")
	textColor    = lipgloss.Color("#F8F8F2")
	successColor = lipgloss.Color("#50FA7B")
	errorColor   = lipgloss.Color("#FF5555")
)

// exitSummary is printed once the log viewer leaves the alt screen, so the
// outcome stays visible in the terminal.
type exitSummary struct {
	Version string
	Started time.Time
	Result  orchestrator.Result
}

func printExitSummary(w io.Writer, summary exitSummary) {
	appStyle := lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	versionStyle := lipgloss.NewStyle().Foreground(dimColor)
	okStyle := lipgloss.NewStyle().Foreground(successColor)
	failStyle := lipgloss.NewStyle().Foreground(errorColor)

	versionStr := ""
	if summary.Version != "" {
		versionStr = versionStyle.Render(" " + summary.Version)
	}
	sessionStr := ""
	if !summary.Started.IsZero() {
		sessionStr = versionStyle.Render(fmt.Sprintf(" • %s session", formatDuration(time.Since(summary.Started))))
	}

	res := summary.Result
	var outcome string
	switch {
	case res.Restart:
		outcome = lipgloss.NewStyle().Foreground(textColor).Render("Launcher updated; start it again to use the new version.")
	case res.ExitCode == orchestrator.ExitOK:
		outcome = okStyle.Render("Done.")
	case res.Err != nil:
		outcome = failStyle.Render(fmt.Sprintf("%s (exit %d)", orchestrator.Describe(res.Err), res.ExitCode))
	default:
		outcome = failStyle.Render(fmt.Sprintf("Exited with status %d", res.ExitCode))
	}

	_, _ = fmt.Fprintln(w, appStyle.Render("GRAV Launcher")+versionStr+sessionStr)
	_, _ = fmt.Fprintln(w, outcome)
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
