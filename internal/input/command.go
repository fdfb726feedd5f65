// Package input turns gamepad and keyboard input into navigation commands
// and holds the log viewer's navigation state.
package input

// Command is a semantic navigation command. Keyboard and controller input
// map onto the same set.
type Command int

const (
	CmdNone Command = iota
	ScrollUp
	ScrollDown
	PageUp
	PageDown
	Select
	Back
	Quit
)

// String returns the string representation of a Command.
func (c Command) String() string {
	switch c {
	case ScrollUp:
		return "scroll-up"
	case ScrollDown:
		return "scroll-down"
	case PageUp:
		return "page-up"
	case PageDown:
		return "page-down"
	case Select:
		return "select"
	case Back:
		return "back"
	case Quit:
		return "quit"
	default:
		return "none"
	}
}

// repeats reports whether holding the input that produced c repeats it.
func (c Command) repeats() bool {
	switch c {
	case ScrollUp, ScrollDown, PageUp, PageDown:
		return true
	default:
		return false
	}
}

// EventKind distinguishes controller events.
type EventKind int

const (
	// CommandEvent carries a navigation command.
	CommandEvent EventKind = iota
	// ConnectionEvent reports that the first gamepad appeared or the last one left.
	ConnectionEvent
)

// Event is emitted by Controller.Run.
type Event struct {
	Kind      EventKind
	Command   Command
	Connected bool
	Device    string
}
