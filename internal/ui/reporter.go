package ui

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// progressInterval coalesces download progress into at most one redraw per
// interval.
const progressInterval = 100 * time.Millisecond

// Reporter forwards launch sequence events to the log viewer. It is also the
// viewer's Confirmer.
type Reporter struct {
	p Sender

	mu           sync.Mutex
	lastProgress time.Time
}

var (
	_ orchestrator.Reporter  = (*Reporter)(nil)
	_ orchestrator.Confirmer = (*Reporter)(nil)
)

// NewReporter returns a Reporter sending to p.
func NewReporter(p Sender) *Reporter {
	return &Reporter{p: p}
}

func (r *Reporter) Transition(from, to orchestrator.State) {
	r.p.Send(transitionMsg{from: from, to: to})
}

func (r *Reporter) Status(level orchestrator.Level, msg string) {
	r.p.Send(statusMsg{level: level, text: msg, at: time.Now()})
}

func (r *Reporter) Progress(p update.Progress) {
	r.mu.Lock()
	now := time.Now()
	done := p.TotalBytes > 0 && p.BytesReceived >= p.TotalBytes
	if !done && now.Sub(r.lastProgress) < progressInterval {
		r.mu.Unlock()
		return
	}
	r.lastProgress = now
	r.mu.Unlock()
	r.p.Send(progressMsg(p))
}

func (r *Reporter) ReleaseNotes(desc update.ReleaseDescriptor) {
	r.p.Send(releaseNotesMsg(desc))
}

func (r *Reporter) GameStarted(p *supervise.Process) {
	r.p.Send(gameStartedMsg{proc: p})
}

// GameOutput is a no-op: the viewer reads output from the shared ring buffer.
func (r *Reporter) GameOutput(supervise.Event) {}

func (r *Reporter) GameExited(code int) {
	r.p.Send(gameExitedMsg{code: code})
}

// Confirm shows the update question in the viewer and waits for the answer.
func (r *Reporter) Confirm(ctx context.Context, desc update.ReleaseDescriptor, installed string) (bool, error) {
	reply := make(chan bool, 1)
	r.p.Send(confirmRequestMsg{desc: desc, installed: installed, reply: reply})
	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ForwardController relays gamepad events into the program until ctx ends or
// events is closed.
func ForwardController(ctx context.Context, events <-chan input.Event, p Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Send(ControllerMsg(ev))
		}
	}
}
