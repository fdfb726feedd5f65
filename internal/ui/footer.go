package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// footerHint defines a key hint for the footer bar. Each hint names the
// keyboard key and the gamepad button that do the same thing.
type footerHint struct {
	key  string
	desc string
}

var normalFooterHints = []footerHint{
	{"↑↓ D-pad", "Pane"},
	{"PgUp/PgDn L1/R1", "Page"},
	{"⏎ A", "Fullscreen"},
	{"q B", "Quit"},
}

var fullscreenFooterHints = []footerHint{
	{"↑↓ D-pad", "Line"},
	{"PgUp/PgDn L1/R1", "Page"},
	{"⏎ A", "Follow"},
	{"c", "Copy"},
	{"Esc B", "Back"},
}

var confirmFooterHints = []footerHint{
	{"←→", "Choose"},
	{"⏎", "Confirm"},
}

// renderFooter renders the footer bar with pill-style key hints and the
// controller status on the right.
func (m *App) renderFooter() string {
	hints := normalFooterHints
	switch {
	case m.confirm != nil:
		hints = confirmFooterHints
	case m.nav.Fullscreen:
		hints = fullscreenFooterHints
	}

	right := "No controller"
	if m.nav.ControllerConnected {
		right = "Controller: " + m.controllerName
	}
	rightRendered := styleFooterMuted.Render(right)
	rightWidth := lipgloss.Width(rightRendered)

	hints = trimHintsToFit(hints, m.width-rightWidth-4)
	left := renderHints(hints)

	spacing := max(m.width-lipgloss.Width(left)-rightWidth, 2)
	return left + strings.Repeat(" ", spacing) + rightRendered
}

// keyPill renders a single key hint as a pill with description.
func keyPill(key, desc string) string {
	return styleKeyPill.Render(" "+key+" ") + " " + styleKeyDesc.Render(desc)
}

func renderHints(hints []footerHint) string {
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, keyPill(h.key, h.desc))
	}
	return strings.Join(parts, "  ")
}

// trimHintsToFit drops hints from the end until the bar fits.
func trimHintsToFit(hints []footerHint, availableWidth int) []footerHint {
	for len(hints) > 0 && lipgloss.Width(renderHints(hints)) > availableWidth {
		hints = hints[:len(hints)-1]
	}
	return hints
}
