package ui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"gravlauncher/internal/input"
)

// KeyMap defines all keyboard shortcuts for the log viewer.
// Navigation bindings feed the same commands as the gamepad.
type KeyMap struct {
	// Navigation
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding

	// Actions
	Enter key.Binding
	Back  key.Binding
	Quit  key.Binding
	Copy  key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/↓  j/k", "Move up/down"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↑/↓  j/k", "Move up/down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "left", "h", "ctrl+b"),
			key.WithHelp("PgUp  ←", "Page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "right", "l", "ctrl+f"),
			key.WithHelp("PgDn  →", "Page down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter", " "),
			key.WithHelp("⏎ (Enter)", "Fullscreen / follow"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("Esc", "Back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "Quit"),
		),
		Copy: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Copy line"),
		),
	}
}

// Command maps a key press to the navigation command the gamepad would send.
func (k KeyMap) Command(msg tea.KeyMsg) input.Command {
	switch {
	case key.Matches(msg, k.Up):
		return input.ScrollUp
	case key.Matches(msg, k.Down):
		return input.ScrollDown
	case key.Matches(msg, k.PageUp):
		return input.PageUp
	case key.Matches(msg, k.PageDown):
		return input.PageDown
	case key.Matches(msg, k.Enter):
		return input.Select
	case key.Matches(msg, k.Back):
		return input.Back
	case key.Matches(msg, k.Quit):
		return input.Quit
	default:
		return input.CmdNone
	}
}
