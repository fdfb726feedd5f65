package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

// Messages sent into the program by Reporter and the controller bridge.
type (
	transitionMsg struct{ from, to orchestrator.State }

	statusMsg struct {
		level orchestrator.Level
		text  string
		at    time.Time
	}

	progressMsg update.Progress

	releaseNotesMsg update.ReleaseDescriptor

	gameStartedMsg struct{ proc *supervise.Process }

	gameExitedMsg struct{ code int }

	// RunFinishedMsg tells the viewer that the launch sequence is over.
	RunFinishedMsg orchestrator.Result

	// ControllerMsg carries one gamepad event.
	ControllerMsg input.Event

	confirmRequestMsg struct {
		desc      update.ReleaseDescriptor
		installed string
		reply     chan bool
	}
)

type tickMsg struct{}

// scheduleTick drives the game output refresh. Output is read from the ring
// buffer on each tick rather than pushed line by line.
func scheduleTick(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

type copyToastTickMsg struct{}

func scheduleCopyToastTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return copyToastTickMsg{}
	})
}
