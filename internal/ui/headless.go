package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

// HeadlessReporter prints launch sequence events as plain lines. Used when no
// terminal is available or with --headless; colours are only emitted when w is
// a terminal.
type HeadlessReporter struct {
	mu      sync.Mutex
	out     *termenv.Output
	lastPct int
}

var _ orchestrator.Reporter = (*HeadlessReporter)(nil)

// NewHeadlessReporter writes to w.
func NewHeadlessReporter(w io.Writer) *HeadlessReporter {
	return &HeadlessReporter{out: termenv.NewOutput(w), lastPct: -10}
}

func (h *HeadlessReporter) println(s termenv.Style) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.out, s.String())
}

func (h *HeadlessReporter) Transition(_, to orchestrator.State) {
	h.println(h.out.String("== " + to.String()).Faint())
}

func (h *HeadlessReporter) Status(level orchestrator.Level, msg string) {
	s := h.out.String(msg)
	switch level {
	case orchestrator.LevelSuccess:
		s = s.Foreground(h.out.Color("118"))
	case orchestrator.LevelWarn:
		s = s.Foreground(h.out.Color("208"))
	case orchestrator.LevelError:
		s = s.Foreground(h.out.Color("203")).Bold()
	}
	h.println(s)
}

// Progress prints every tenth percent, or every attempt when the size is unknown.
func (h *HeadlessReporter) Progress(p update.Progress) {
	pct := int(p.Fraction() * 100)
	h.mu.Lock()
	if p.TotalBytes > 0 && pct/10 == h.lastPct/10 {
		h.mu.Unlock()
		return
	}
	h.lastPct = pct
	h.mu.Unlock()

	line := fmt.Sprintf("  %s %s: %s", p.Descriptor.Component, p.Descriptor.Version, humanize.Bytes(uint64(max(p.BytesReceived, 0))))
	if p.TotalBytes > 0 {
		line += fmt.Sprintf(" / %s (%d%%)", humanize.Bytes(uint64(p.TotalBytes)), pct)
	}
	h.println(h.out.String(line).Faint())
}

func (h *HeadlessReporter) ReleaseNotes(desc update.ReleaseDescriptor) {
	if desc.Notes == "" {
		return
	}
	h.println(h.out.String(fmt.Sprintf("Release notes for %s %s:", desc.Component, desc.Version)).Bold())
	h.println(h.out.String(buildMarkdownRenderer("plain", 78)(desc.Notes)))
}

func (h *HeadlessReporter) GameStarted(p *supervise.Process) {
	h.mu.Lock()
	h.lastPct = -10
	h.mu.Unlock()
	if p != nil {
		h.println(h.out.String(fmt.Sprintf("GRAV started (pid %d)", p.PID)).Faint())
	}
}

func (h *HeadlessReporter) GameOutput(ev supervise.Event) {
	s := h.out.String(ev.Line.Text)
	if ev.Line.Stream == supervise.Stderr {
		s = s.Foreground(h.out.Color("203"))
	}
	h.println(s)
}

func (h *HeadlessReporter) GameExited(code int) {
	h.println(h.out.String(fmt.Sprintf("GRAV exited with code %d", code)).Faint())
}

// PromptConfirmer asks on the terminal with a huh form.
type PromptConfirmer struct{}

var _ orchestrator.Confirmer = PromptConfirmer{}

func (PromptConfirmer) Confirm(ctx context.Context, desc update.ReleaseDescriptor, installed string) (bool, error) {
	var confirmed bool
	description := "Not installed yet."
	if installed != "" {
		description = "Installed: " + installed
	}
	field := huh.NewConfirm().
		Title(fmt.Sprintf("Update %s to %s?", desc.Component, desc.Version)).
		Description(description).
		Affirmative("Update").
		Negative("Later").
		Value(&confirmed)

	if err := huh.NewForm(huh.NewGroup(field)).RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return confirmed, nil
}
