package orchestrator

import (
	"context"

	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

// State is a step of the launch sequence.
type State int

const (
	Bootstrapping State = iota
	CheckingUpdates
	UpdatingLauncher
	UpdatingGame
	Launching
	Supervising
	ShuttingDown
	Terminated
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case CheckingUpdates:
		return "checking-updates"
	case UpdatingLauncher:
		return "updating-launcher"
	case UpdatingGame:
		return "updating-game"
	case Launching:
		return "launching"
	case Supervising:
		return "supervising"
	case ShuttingDown:
		return "shutting-down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Process exit codes.
const (
	ExitOK                  = 0
	ExitFatal               = 1
	ExitTerminalSpawnFailed = 2
	ExitUpdateFailed        = 3
	ExitGameCrashed         = 4
	ExitGameMissing         = 5
	// ExitRestartRequired follows sysexits' EX_TEMPFAIL.
	ExitRestartRequired = 75
)

// Level grades a status line.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarn
	LevelError
)

// String returns the string representation of a Level.
func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Reporter receives everything the user should see. Implementations must not
// block for long; the orchestrator calls them from its own goroutine.
type Reporter interface {
	Transition(from, to State)
	Status(level Level, msg string)
	Progress(p update.Progress)
	ReleaseNotes(desc update.ReleaseDescriptor)
	GameStarted(p *supervise.Process)
	GameOutput(ev supervise.Event)
	GameExited(code int)
}

// Confirmer asks the user whether to apply an update. Declining defers the
// update to the next launch.
type Confirmer interface {
	Confirm(ctx context.Context, desc update.ReleaseDescriptor, installed string) (bool, error)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) Transition(State, State) {}
func (NopReporter) Status(Level, string) {}
func (NopReporter) Progress(update.Progress) {}
func (NopReporter) ReleaseNotes(update.ReleaseDescriptor) {}
func (NopReporter) GameStarted(*supervise.Process) {}
func (NopReporter) GameOutput(supervise.Event) {}
func (NopReporter) GameExited(int) {}
