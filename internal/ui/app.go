// Package ui is the launcher's terminal log viewer: a launcher log pane, a
// game output pane, and a fullscreen view of either, driven by keyboard or
// gamepad.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/x/ansi"

	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

const (
	minViewportWidth       = 20
	minPaneHeight          = 3
	defaultRefreshInterval = 100 * time.Millisecond
	defaultLauncherLines   = 1000
	copyToastDuration      = 2 * time.Second
)

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

// Config configures the log viewer.
type Config struct {
	Version string
	Channel string
	// Output is the game's output ring buffer, shared with the supervisor.
	Output *supervise.RingBuffer
	// NotesStyle is a glamour style name, or "plain".
	NotesStyle      string
	RefreshInterval time.Duration
	// LauncherLines caps the launcher log pane.
	LauncherLines int
	// RequestQuit asks the running launch sequence to stop.
	RequestQuit func()
}

type logEntry struct {
	plain  string
	styled string
}

// App implements the Bubble Tea model for the log viewer.
type App struct {
	keys KeyMap
	nav  input.NavigationState

	launcherLog   []logEntry
	launcherLines int
	output        *supervise.RingBuffer
	gameLines     []supervise.Line
	gameSeen      uint64

	state       orchestrator.State
	spinner     spinner.Model
	progress    progress.Model
	download    *update.Progress
	viewport    viewport.Model
	renderNotes func(string) string
	notesStyle  string

	confirm      *huh.Form
	confirmValue *bool
	confirmReply chan bool

	controllerName string
	gamePID        int

	width   int
	height  int
	ready   bool
	version string
	channel string

	refreshInterval time.Duration
	requestQuit     func()
	quitSent        bool
	finished        bool
	result          orchestrator.Result

	copiedText string
	copiedAt   time.Time
}

// NewApp creates the log viewer.
func NewApp(cfg Config) *App {
	if cfg.Output == nil {
		cfg.Output = supervise.NewRingBuffer(5000)
	}
	if cfg.LauncherLines <= 0 {
		cfg.LauncherLines = defaultLauncherLines
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.RequestQuit == nil {
		cfg.RequestQuit = func() {}
	}

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = styleSpinner

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &App{
		keys:            DefaultKeyMap(),
		nav:             input.NewNavigationState(),
		launcherLines:   cfg.LauncherLines,
		output:          cfg.Output,
		spinner:         s,
		progress:        p,
		viewport:        viewport.New(minViewportWidth, minPaneHeight),
		notesStyle:      cfg.NotesStyle,
		renderNotes:     buildMarkdownRenderer(cfg.NotesStyle, 76),
		version:         cfg.Version,
		channel:         cfg.Channel,
		refreshInterval: cfg.RefreshInterval,
		requestQuit:     cfg.RequestQuit,
	}
}

// Init implements tea.Model.
func (m *App) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, scheduleTick(m.refreshInterval))
}

// Result returns the outcome of the launch sequence once it has finished.
func (m *App) Result() (orchestrator.Result, bool) {
	return m.result, m.finished
}

// Update implements tea.Model.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.progress.Width = max(min(msg.Width-30, 60), 10)
		m.renderNotes = buildMarkdownRenderer(m.notesStyle, max(msg.Width-6, minViewportWidth))
		if m.confirm != nil {
			m.confirm = m.confirm.WithWidth(min(msg.Width-8, 70))
		}
		m.nav.Sync(m.focusedView())
		return m, nil

	case tea.KeyMsg:
		if m.confirm != nil {
			return m, m.updateConfirm(msg)
		}
		if key.Matches(msg, m.keys.Copy) {
			return m, m.copySelected()
		}
		return m, m.apply(m.keys.Command(msg))

	case ControllerMsg:
		return m, m.handleController(input.Event(msg))

	case transitionMsg:
		m.state = msg.to
		if msg.to != orchestrator.UpdatingLauncher && msg.to != orchestrator.UpdatingGame {
			m.download = nil
		}
		return m, nil

	case statusMsg:
		m.appendStatus(msg.level, msg.text, msg.at)
		return m, nil

	case progressMsg:
		p := update.Progress(msg)
		m.download = &p
		return m, nil

	case releaseNotesMsg:
		m.appendNotes(update.ReleaseDescriptor(msg))
		return m, nil

	case gameStartedMsg:
		if msg.proc != nil {
			m.gamePID = msg.proc.PID
		}
		m.refreshGameLines()
		return m, nil

	case gameExitedMsg:
		m.gamePID = 0
		m.refreshGameLines()
		return m, nil

	case RunFinishedMsg:
		m.finished = true
		m.result = orchestrator.Result(msg)
		m.refreshGameLines()
		// A self-update restarts the launcher; nothing is left to show.
		if m.quitSent || msg.Restart {
			return m, tea.Quit
		}
		m.appendStatus(orchestrator.LevelInfo, "Press q or B to close the launcher.", time.Now())
		return m, nil

	case confirmRequestMsg:
		return m, m.openConfirm(msg)

	case tickMsg:
		m.refreshGameLines()
		return m, scheduleTick(m.refreshInterval)

	case copyToastTickMsg:
		if m.copiedText == "" {
			return m, nil
		}
		if time.Since(m.copiedAt) >= copyToastDuration {
			m.copiedText = ""
			return m, nil
		}
		return m, scheduleCopyToastTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.confirm != nil {
		return m, m.updateConfirm(msg)
	}
	return m, nil
}

// apply runs cmd through the navigation reducer.
func (m *App) apply(cmd input.Command) tea.Cmd {
	if cmd == input.CmdNone {
		return nil
	}
	m.nav.Apply(cmd, m.focusedView())
	// Focus or fullscreen may have changed the pane being laid out.
	m.nav.Sync(m.focusedView())
	if !m.nav.QuitRequested {
		return nil
	}
	if m.finished {
		return tea.Quit
	}
	if !m.quitSent {
		m.quitSent = true
		m.appendStatus(orchestrator.LevelInfo, "Quitting...", time.Now())
		m.requestQuit()
	}
	return nil
}

func (m *App) handleController(ev input.Event) tea.Cmd {
	if ev.Kind == input.ConnectionEvent {
		m.nav.SetControllerConnected(ev.Connected)
		if ev.Connected {
			m.controllerName = ev.Device
			m.appendStatus(orchestrator.LevelInfo, "Controller connected: "+ev.Device, time.Now())
		} else {
			m.appendStatus(orchestrator.LevelWarn, "Controller disconnected.", time.Now())
		}
		return nil
	}

	if m.confirm != nil {
		switch ev.Command {
		case input.Select:
			return m.answerConfirm(true)
		case input.Back, input.Quit:
			return m.answerConfirm(false)
		}
		return nil
	}
	return m.apply(ev.Command)
}

func (m *App) openConfirm(req confirmRequestMsg) tea.Cmd {
	if m.confirm != nil {
		// One question at a time; a second request is declined.
		req.reply <- false
		return nil
	}

	title := fmt.Sprintf("Update %s to %s?", req.desc.Component, req.desc.Version)
	desc := "Not installed yet."
	if req.installed != "" {
		desc = "Installed: " + req.installed
	}
	desc += "\nA confirms, B postpones to the next launch."

	value := true
	m.confirmValue = &value
	m.confirmReply = req.reply
	m.confirm = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(desc).
			Affirmative("Update").
			Negative("Later").
			Value(m.confirmValue),
	)).WithShowHelp(false).WithWidth(max(min(m.width-8, 70), minViewportWidth))
	return m.confirm.Init()
}

func (m *App) updateConfirm(msg tea.Msg) tea.Cmd {
	model, cmd := m.confirm.Update(msg)
	if f, ok := model.(*huh.Form); ok {
		m.confirm = f
	}
	switch m.confirm.State {
	case huh.StateCompleted:
		return m.answerConfirm(*m.confirmValue)
	case huh.StateAborted:
		return m.answerConfirm(false)
	}
	return cmd
}

func (m *App) answerConfirm(ok bool) tea.Cmd {
	if m.confirmReply != nil {
		m.confirmReply <- ok
	}
	m.confirm = nil
	m.confirmReply = nil
	m.confirmValue = nil
	return nil
}

func (m *App) appendStatus(level orchestrator.Level, text string, at time.Time) {
	stamp := at.Format("15:04:05")
	m.appendLog(logEntry{
		plain:  stamp + " " + text,
		styled: styleMuted.Render(stamp) + " " + levelStyle(level).Render(text),
	})
}

func (m *App) appendNotes(desc update.ReleaseDescriptor) {
	if strings.TrimSpace(desc.Notes) == "" {
		return
	}
	header := fmt.Sprintf("Release notes for %s %s:", desc.Component, desc.Version)
	m.appendLog(logEntry{plain: header, styled: stylePaneTitle.Render(header)})
	for _, line := range strings.Split(m.renderNotes(desc.Notes), "\n") {
		m.appendLog(logEntry{plain: ansi.Strip(line), styled: line})
	}
}

func (m *App) appendLog(e logEntry) {
	m.launcherLog = append(m.launcherLog, e)
	if over := len(m.launcherLog) - m.launcherLines; over > 0 {
		m.launcherLog = append(m.launcherLog[:0], m.launcherLog[over:]...)
	}
	m.nav.Sync(m.focusedView())
}

// refreshGameLines re-reads the ring buffer when the supervisor appended to it.
func (m *App) refreshGameLines() {
	total := m.output.Total()
	if total == m.gameSeen {
		return
	}
	m.gameSeen = total
	m.gameLines = m.output.Snapshot()
	m.nav.Sync(m.focusedView())
}

func (m *App) copySelected() tea.Cmd {
	lines := m.plainLines(m.nav.Focus)
	if len(lines) == 0 {
		return nil
	}
	idx := m.nav.Selected
	if !m.nav.Fullscreen {
		idx = min(m.nav.Offset+m.focusedView().Height-1, len(lines)-1)
	}
	idx = max(min(idx, len(lines)-1), 0)
	if err := clipboardWrite(lines[idx]); err != nil {
		m.appendStatus(orchestrator.LevelWarn, "Clipboard unavailable: "+err.Error(), time.Now())
		return nil
	}
	m.copiedText = lines[idx]
	m.copiedAt = time.Now()
	return scheduleCopyToastTick()
}

func (m *App) plainLines(p input.Pane) []string {
	if p == input.GamePane {
		out := make([]string, len(m.gameLines))
		for i, l := range m.gameLines {
			out[i] = l.Text
		}
		return out
	}
	out := make([]string, len(m.launcherLog))
	for i, e := range m.launcherLog {
		out[i] = e.plain
	}
	return out
}

func (m *App) styledLines(p input.Pane) []string {
	if p == input.GamePane {
		out := make([]string, len(m.gameLines))
		for i, l := range m.gameLines {
			if l.Stream == supervise.Stderr {
				out[i] = styleStderr.Render(l.Text)
			} else {
				out[i] = l.Text
			}
		}
		return out
	}
	out := make([]string, len(m.launcherLog))
	for i, e := range m.launcherLog {
		out[i] = e.styled
	}
	return out
}

func (m *App) lineCount(p input.Pane) int {
	if p == input.GamePane {
		return len(m.gameLines)
	}
	return len(m.launcherLog)
}

// focusedView describes the focused pane as View lays it out.
func (m *App) focusedView() input.View {
	l := m.computeLayout()
	height := l.launcherInner
	switch {
	case m.nav.Fullscreen:
		height = l.fullscreenInner
	case m.nav.Focus == input.GamePane:
		height = l.gameInner
	}
	return input.View{Lines: m.lineCount(m.nav.Focus), Height: height}
}

type layout struct {
	launcherInner   int
	gameInner       int
	fullscreenInner int
	showProgress    bool
}

// computeLayout splits the body between the panes. Each pane spends three
// rows on its border and title.
func (m *App) computeLayout() layout {
	body := m.height - 2
	l := layout{showProgress: m.download != nil && !m.nav.Fullscreen}
	if l.showProgress {
		body -= 2
	}
	body = max(body, 2*(minPaneHeight+3))

	top := body / 2
	l.launcherInner = top - 3
	l.gameInner = body - top - 3
	l.fullscreenInner = max(m.height-2-3, minPaneHeight)
	return l
}
