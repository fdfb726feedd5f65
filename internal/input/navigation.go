package input

// Pane identifies one of the log viewer panes.
type Pane int

const (
	LauncherPane Pane = iota
	GamePane

	paneCount = 2
)

// String returns the string representation of a Pane.
func (p Pane) String() string {
	if p == GamePane {
		return "game"
	}
	return "launcher"
}

// View describes the focused pane as the renderer laid it out.
type View struct {
	// Lines is the number of lines in the focused pane.
	Lines int
	// Height is how many of them fit on screen.
	Height int
}

func (v View) maxOffset() int {
	if v.Lines <= v.Height {
		return 0
	}
	return v.Lines - v.Height
}

func (v View) lastLine() int {
	if v.Lines == 0 {
		return 0
	}
	return v.Lines - 1
}

func (v View) page() int {
	if v.Height < 1 {
		return 1
	}
	return v.Height
}

// NavigationState is the log viewer's navigation state. It is owned by the
// UI goroutine: only Apply, Sync and SetControllerConnected change it.
type NavigationState struct {
	Focus      Pane
	Fullscreen bool
	// Offset is the index of the first visible line of the focused pane.
	Offset int
	// Selected is the highlighted line in fullscreen mode.
	Selected int
	// Follow keeps the view pinned to the newest line.
	Follow              bool
	ControllerConnected bool
	QuitRequested       bool
}

// NewNavigationState returns the initial state: launcher pane, following.
func NewNavigationState() NavigationState {
	return NavigationState{Follow: true}
}

// Apply is the single reducer for keyboard and controller commands.
func (s *NavigationState) Apply(cmd Command, v View) {
	if s.Fullscreen {
		s.applyFullscreen(cmd, v)
	} else {
		s.applyNormal(cmd, v)
	}
	s.Sync(v)
}

func (s *NavigationState) applyNormal(cmd Command, v View) {
	switch cmd {
	case ScrollUp:
		if s.Focus > 0 {
			s.Focus--
			s.Follow = true
		}
	case ScrollDown:
		if s.Focus < paneCount-1 {
			s.Focus++
			s.Follow = true
		}
	case PageUp:
		s.Follow = false
		s.Offset -= v.page()
	case PageDown:
		s.Offset += v.page()
		if s.Offset >= v.maxOffset() {
			s.Follow = true
		}
	case Select:
		s.Fullscreen = true
		s.Selected = s.Offset + v.page() - 1
	case Back, Quit:
		s.QuitRequested = true
	}
}

func (s *NavigationState) applyFullscreen(cmd Command, v View) {
	switch cmd {
	case ScrollUp:
		s.Follow = false
		s.Selected--
	case ScrollDown:
		s.Follow = false
		s.Selected++
	case PageUp:
		s.Follow = false
		s.Selected -= v.page()
		s.Offset -= v.page()
	case PageDown:
		s.Follow = false
		s.Selected += v.page()
		s.Offset += v.page()
	case Select:
		s.Follow = !s.Follow
	case Back:
		s.Fullscreen = false
	case Quit:
		s.QuitRequested = true
	}
}

// Sync clamps the state to v and re-pins it to the tail when following.
// The renderer calls it whenever the focused pane grows or is resized.
func (s *NavigationState) Sync(v View) {
	if s.Follow {
		s.Offset = v.maxOffset()
		s.Selected = v.lastLine()
		return
	}

	s.Selected = clamp(s.Selected, 0, v.lastLine())
	if s.Fullscreen {
		// Keep the selected line on screen.
		if s.Selected < s.Offset {
			s.Offset = s.Selected
		}
		if s.Selected >= s.Offset+v.page() {
			s.Offset = s.Selected - v.page() + 1
		}
	}
	s.Offset = clamp(s.Offset, 0, v.maxOffset())
}

// SetControllerConnected records a hot-plug change.
func (s *NavigationState) SetControllerConnected(connected bool) {
	s.ControllerConnected = connected
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
