package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"gravlauncher/internal/config"
	"gravlauncher/internal/journal"
	"gravlauncher/internal/ui"
	"gravlauncher/internal/versions"
)

var (
	statusHeadingStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	statusDimStyle     = lipgloss.NewStyle().Foreground(dimColor)
	statusOKStyle      = lipgloss.NewStyle().Foreground(successColor)
	statusFailStyle    = lipgloss.NewStyle().Foreground(errorColor)
)

func newStatusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show installed versions and recent install history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of install transactions to list")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, limit int) error {
	stateDir := config.StateDir()
	store := versions.NewStore(filepath.Join(stateDir, "versions"))

	_, _ = fmt.Fprintln(w, statusHeadingStyle.Render("Installed"))
	for _, c := range versions.Components {
		rec, ok, err := store.Load(c)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(w, "  %-9s %s\n", c, statusFailStyle.Render("unreadable: "+err.Error()))
		case !ok:
			_, _ = fmt.Fprintf(w, "  %-9s %s\n", c, statusDimStyle.Render("not installed"))
		default:
			_, _ = fmt.Fprintf(w, "  %-9s %s\n", c, formatRecord(rec))
		}
	}
	_, _ = fmt.Fprintf(w, "  %-9s %s\n", "running", statusDimStyle.Render("grav-launcher "+Version))
	_, _ = fmt.Fprintf(w, "  %-9s %s\n", "game dir", statusDimStyle.Render(config.GameDir()))

	path := filepath.Join(stateDir, journal.FileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, statusDimStyle.Render("No install history."))
		return nil
	}
	j, err := journal.Open(ctx, path)
	if err != nil {
		return configError("open install journal", err)
	}
	defer func() { _ = j.Close() }()

	entries, err := j.Recent(ctx, limit)
	if err != nil {
		return configError("read install journal", err)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, statusHeadingStyle.Render("History"))
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, statusDimStyle.Render("  No install history."))
		return nil
	}
	for _, e := range entries {
		_, _ = fmt.Fprintln(w, "  "+formatEntry(e))
	}
	return nil
}

func formatRecord(rec versions.Record) string {
	line := rec.Version
	if rec.Channel != "" {
		line += statusDimStyle.Render(" (" + rec.Channel + ")")
	}
	if when := ui.FormatRelativeTime(rec.InstalledAt); when != "" {
		line += statusDimStyle.Render("  installed " + when)
	}
	if len(rec.Checksum) >= 12 {
		line += statusDimStyle.Render("  sha256:" + rec.Checksum[:12])
	}
	return line
}

func formatEntry(e journal.Entry) string {
	from := e.FromVersion
	if from == "" {
		from = "none"
	}
	outcome := string(e.Outcome)
	if e.Outcome == journal.OutcomeCommitted {
		outcome = statusOKStyle.Render(outcome)
	} else {
		outcome = statusFailStyle.Render(outcome)
	}
	line := fmt.Sprintf("%-8s %-9s %s -> %s  %s  %s",
		ui.FormatRelativeTime(e.At), e.Component, from, e.ToVersion, outcome, statusDimStyle.Render(e.TxID))
	if e.Error != "" {
		line += "\n    " + statusDimStyle.Render(e.Error)
	}
	return line
}
