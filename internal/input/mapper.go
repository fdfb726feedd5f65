package input

import (
	"time"

	"golang.org/x/time/rate"
)

// buttonCommands maps gamepad buttons to commands.
var buttonCommands = map[uint16]Command{
	btnDpadUp:    ScrollUp,
	btnDpadDown:  ScrollDown,
	btnDpadLeft:  PageUp,
	btnDpadRight: PageDown,
	btnTL:        PageUp,
	btnTR:        PageDown,
	btnSouth:     Select,
	btnEast:      Back,
	btnStart:     Quit,
	btnMode:      Quit,
}

// RepeatPolicy controls how held directions repeat.
type RepeatPolicy struct {
	// Delay before the first repeat.
	Delay time.Duration
	// Rate caps repeats per second once repeating.
	Rate float64
}

// hold is one input source currently held down.
type hold struct {
	cmd     Command
	since   time.Time
	limiter *rate.Limiter
}

// source identifies an input that can be held: a button code or an axis.
type source struct {
	typ  uint16
	code uint16
}

// Mapper converts raw evdev events into commands. Presses emit once;
// Tick emits repeats for held directions. Not safe for concurrent use.
type Mapper struct {
	repeat   RepeatPolicy
	deadzone float64
	axes     map[uint16]AxisRange
	held     map[source]*hold
}

// NewMapper returns a Mapper. Stick deflection below deadzone is ignored.
func NewMapper(repeat RepeatPolicy, deadzone float64) *Mapper {
	if repeat.Rate <= 0 {
		repeat.Rate = 12
	}
	if deadzone <= 0 || deadzone >= 1 {
		deadzone = 0.5
	}
	return &Mapper{
		repeat:   repeat,
		deadzone: deadzone,
		axes:     map[uint16]AxisRange{},
		held:     map[source]*hold{},
	}
}

// SetAxisRange overrides the range used to normalise an absolute axis.
func (m *Mapper) SetAxisRange(axis uint16, r AxisRange) {
	m.axes[axis] = r
}

// Handle processes one raw event and returns the commands it produces.
func (m *Mapper) Handle(ev RawEvent, now time.Time) []Command {
	switch ev.Type {
	case evKey:
		cmd, ok := buttonCommands[ev.Code]
		if !ok {
			return nil
		}
		src := source{typ: evKey, code: ev.Code}
		switch ev.Value {
		case 1:
			return m.press(src, cmd, now)
		case 0:
			delete(m.held, src)
		}
		// Value 2 is the kernel's own autorepeat; Tick handles repeats.
		return nil

	case evAbs:
		src := source{typ: evAbs, code: ev.Code}
		var cmd Command
		switch ev.Code {
		case absHat0Y:
			cmd = direction(float64(ev.Value), 0.5, ScrollUp, ScrollDown)
		case absHat0X:
			cmd = direction(float64(ev.Value), 0.5, PageUp, PageDown)
		case absY:
			r, ok := m.axes[absY]
			if !ok {
				r = defaultAxisRange
			}
			cmd = direction(r.normalize(ev.Value), m.deadzone, ScrollUp, ScrollDown)
		default:
			return nil
		}
		if cmd == CmdNone {
			delete(m.held, src)
			return nil
		}
		if h, ok := m.held[src]; ok && h.cmd == cmd {
			return nil
		}
		return m.press(src, cmd, now)
	}
	return nil
}

func (m *Mapper) press(src source, cmd Command, now time.Time) []Command {
	if cmd.repeats() {
		m.held[src] = &hold{
			cmd:     cmd,
			since:   now,
			limiter: rate.NewLimiter(rate.Limit(m.repeat.Rate), 1),
		}
	}
	return []Command{cmd}
}

// Tick returns repeats due at now for every held direction.
func (m *Mapper) Tick(now time.Time) []Command {
	var out []Command
	for _, h := range m.held {
		if now.Sub(h.since) < m.repeat.Delay {
			continue
		}
		if h.limiter.AllowN(now, 1) {
			out = append(out, h.cmd)
		}
	}
	return out
}

// Release forgets every held input, for example when a device disappears.
func (m *Mapper) Release() {
	clear(m.held)
}

func direction(v, threshold float64, negative, positive Command) Command {
	switch {
	case v <= -threshold:
		return negative
	case v >= threshold:
		return positive
	default:
		return CmdNone
	}
}
