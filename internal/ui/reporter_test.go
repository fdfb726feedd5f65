package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
	// onSend lets a test answer requests synchronously.
	onSend func(tea.Msg)
}

func (f *fakeSender) Send(msg tea.Msg) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestReporterCoalescesProgress(t *testing.T) {
	s := &fakeSender{}
	r := NewReporter(s)
	for i := range 50 {
		r.Progress(update.Progress{BytesReceived: int64(i), TotalBytes: 100})
	}
	if n := s.count(); n != 1 {
		t.Fatalf("sent %d progress messages in a burst, want 1", n)
	}
	r.Progress(update.Progress{BytesReceived: 100, TotalBytes: 100})
	if n := s.count(); n != 2 {
		t.Fatal("completion must always be sent")
	}
}

func TestReporterForwardsEvents(t *testing.T) {
	s := &fakeSender{}
	r := NewReporter(s)
	r.Transition(orchestrator.CheckingUpdates, orchestrator.Launching)
	r.Status(orchestrator.LevelWarn, "offline")
	r.GameOutput(supervise.Event{Kind: supervise.StdoutLine})
	r.GameExited(4)

	if s.count() != 3 {
		t.Fatalf("sent %d messages, want 3 (output is read from the ring)", s.count())
	}
	if st, ok := s.msgs[1].(statusMsg); !ok || st.text != "offline" || st.level != orchestrator.LevelWarn {
		t.Fatalf("status message = %#v", s.msgs[1])
	}
}

func TestReporterConfirmRoundTrip(t *testing.T) {
	s := &fakeSender{onSend: func(msg tea.Msg) {
		if req, ok := msg.(confirmRequestMsg); ok {
			req.reply <- true
		}
	}}
	ok, err := NewReporter(s).Confirm(context.Background(), update.ReleaseDescriptor{Component: versions.Game}, "1.0.0")
	if err != nil || !ok {
		t.Fatalf("Confirm() = %v, %v", ok, err)
	}
}

func TestReporterConfirmCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := NewReporter(&fakeSender{}).Confirm(ctx, update.ReleaseDescriptor{}, "")
	if ok || err == nil {
		t.Fatalf("Confirm() = %v, %v; want cancellation", ok, err)
	}
}

func TestForwardController(t *testing.T) {
	s := &fakeSender{}
	events := make(chan input.Event, 2)
	events <- input.Event{Kind: input.ConnectionEvent, Connected: true}
	events <- input.Event{Kind: input.CommandEvent, Command: input.Select}
	close(events)

	ForwardController(context.Background(), events, s)
	if s.count() != 2 {
		t.Fatalf("forwarded %d events", s.count())
	}
	if msg, ok := s.msgs[1].(ControllerMsg); !ok || msg.Command != input.Select {
		t.Fatalf("second message = %#v", s.msgs[1])
	}
}

func TestHeadlessReporter(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeadlessReporter(&buf)
	desc := update.ReleaseDescriptor{Component: versions.Game, Version: update.Version{Major: 2, Minor: 1}, Notes: "Faster **loading**"}

	h.Transition(orchestrator.CheckingUpdates, orchestrator.UpdatingGame)
	h.Status(orchestrator.LevelError, "verification failed")
	h.ReleaseNotes(desc)
	for i := int64(0); i <= 100; i += 5 {
		h.Progress(update.Progress{Descriptor: desc, BytesReceived: i * 1000, TotalBytes: 100_000})
	}
	h.GameOutput(supervise.Event{Kind: supervise.StderrLine, Line: supervise.Line{Stream: supervise.Stderr, Text: "shader warning"}})
	h.GameExited(0)

	out := buf.String()
	for _, want := range []string{"updating-game", "verification failed", "Release notes for game 2.1.0", "Faster **loading**", "shader warning", "exited with code 0", "100 kB (100%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "%)"); n != 11 {
		t.Errorf("printed %d progress lines, want one per tenth", n)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colours written to a non-terminal")
	}
}
