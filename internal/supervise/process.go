// Package supervise runs the game as a child process and captures its output.
package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gravlauncher/internal/debug"
	appErrors "gravlauncher/internal/errors"
)

const (
	defaultGrace       = 5 * time.Second
	defaultEventBuffer = 256
	maxLineBytes       = 1 << 20
	// pipeDrainDelay bounds how long output is read after the game exits
	// while a leftover child still holds its stdout or stderr.
	pipeDrainDelay = time.Second
)

// ErrGameMissing is returned when the game binary is absent or cannot be run.
var ErrGameMissing = errors.New("game executable missing")

// EventKind distinguishes supervisor events.
type EventKind int

const (
	StdoutLine EventKind = iota
	StderrLine
	Exited
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case StdoutLine:
		return "stdout"
	case StderrLine:
		return "stderr"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is delivered on Process.Events. Line is set for line events;
// ExitCode and Err for Exited.
type Event struct {
	Kind     EventKind
	Line     Line
	ExitCode int
	Err      error
	At       time.Time
}

// Spec describes the child to run.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Env entries are added to the launcher's environment.
	Env []string
	// Output receives every line. A ring of 5000 lines is created when nil.
	Output *RingBuffer
	// Grace is how long Stop waits after SIGTERM before SIGKILL.
	Grace time.Duration
	// EventBuffer sizes the event channel. Line events beyond it are dropped.
	EventBuffer int
	// RunLogs tees raw output into a per-run file when set.
	RunLogs *RunLogs
}

// Process is a running or finished child.
type Process struct {
	PID       int
	StartedAt time.Time
	Output    *RingBuffer
	LogPath   string

	cmd     *exec.Cmd
	grace   time.Duration
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64

	mu       sync.Mutex
	exitCode int
	exitErr  error
	exited   bool

	log zerolog.Logger
}

// Launch starts the child described by spec in its own process group.
// A missing or non-executable binary yields an error wrapping ErrGameMissing.
func Launch(ctx context.Context, spec Spec) (*Process, error) {
	if err := ensureExecutable(spec.Path); err != nil {
		return nil, appErrors.New(appErrors.CodeGameMissing, "cannot run the game", err)
	}
	if spec.Output == nil {
		spec.Output = NewRingBuffer(5000)
	}
	if spec.Grace <= 0 {
		spec.Grace = defaultGrace
	}
	if spec.EventBuffer <= 0 {
		spec.EventBuffer = defaultEventBuffer
	}

	// #nosec G204 -- the game path and arguments come from launcher config.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainDelay

	// exec copies the child's pipes into these writers, so Wait can give up
	// on output held open by a leftover child after pipeDrainDelay.
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	log := debug.Component("supervise")

	var tee *runLog
	if spec.RunLogs != nil {
		var err error
		tee, err = spec.RunLogs.create(time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("run log unavailable")
			tee = nil
		}
	}

	if err := ctx.Err(); err != nil {
		tee.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		tee.Close()
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.ENOEXEC) {
			return nil, appErrors.New(appErrors.CodeGameMissing, "cannot run the game", fmt.Errorf("%w: %v", ErrGameMissing, err))
		}
		return nil, fmt.Errorf("start game: %w", err)
	}

	p := &Process{
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Output:    spec.Output,
		cmd:       cmd,
		grace:     spec.Grace,
		events:    make(chan Event, spec.EventBuffer),
		done:      make(chan struct{}),
		log:       log,
	}
	if tee != nil {
		p.LogPath = tee.path
	}
	p.log.Info().Int("pid", p.PID).Str("path", spec.Path).Msg("game started")

	go p.supervise(stdout, stderr, stdoutW, stderrW, tee)
	return p, nil
}

func (p *Process) supervise(stdout, stderr io.Reader, stdoutW, stderrW *io.PipeWriter, tee *runLog) {
	var g errgroup.Group
	g.Go(func() error { return p.pump(stdout, Stdout, tee) })
	g.Go(func() error { return p.pump(stderr, Stderr, tee) })

	waitErr := p.cmd.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if readErr := g.Wait(); readErr != nil {
		p.log.Warn().Err(readErr).Int("pid", p.PID).Msg("game output read failed")
	}
	tee.Close()

	code, err := exitStatus(p.cmd, waitErr)

	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.exited = true
	p.mu.Unlock()

	p.log.Info().Int("pid", p.PID).Int("code", code).Int64("dropped_events", p.dropped.Load()).Msg("game exited")

	p.events <- Event{Kind: Exited, ExitCode: code, Err: err, At: time.Now()}
	close(p.events)
	close(p.done)
}

func (p *Process) pump(r io.Reader, stream Stream, tee *runLog) error {
	kind := StdoutLine
	if stream == Stderr {
		kind = StderrLine
	}

	scanner := bufio.NewScanner(r)
	// One spare byte lets a newline that ends an exact chunk be seen.
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes+1)
	scanner.Split(scanLines)
	for scanner.Scan() {
		raw := scanner.Text()
		tee.WriteLine(stream, raw)

		text := strings.TrimRight(ansi.Strip(raw), "\r")
		line := Line{Stream: stream, Text: text, At: time.Now()}
		p.Output.Append(line)

		select {
		case p.events <- Event{Kind: kind, Line: line, At: line.At}:
		default:
			p.dropped.Add(1)
		}
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read %s: %w", stream, err)
	}
	return nil
}

// scanLines is bufio.ScanLines, except that a line longer than maxLineBytes
// is delivered in maxLineBytes chunks instead of stopping the scan.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) > maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	return advance, token, err
}

// Events returns the event stream. Exited is always the last event, after
// both output streams are drained, and the channel is closed afterwards.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Done is closed once the child has exited and Exited was delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns the exit code once the child has exited.
func (p *Process) ExitStatus() (code int, exited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// DroppedEvents returns how many line events were not delivered because the
// consumer lagged. The lines are still in Output.
func (p *Process) DroppedEvents() int64 {
	return p.dropped.Load()
}

// Stop sends SIGTERM to the child's process group and escalates to SIGKILL
// after the grace period. It returns once the child is gone or ctx is done.
// Events must be drained concurrently for Stop to observe the exit.
func (p *Process) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.log.Info().Int("pid", p.PID).Dur("grace", p.grace).Msg("stopping game")
	p.signal(syscall.SIGTERM)

	grace := time.NewTimer(p.grace)
	defer grace.Stop()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.signal(syscall.SIGKILL)
		return ctx.Err()
	case <-grace.C:
	}

	p.log.Warn().Int("pid", p.PID).Msg("game ignored SIGTERM; killing")
	p.signal(syscall.SIGKILL)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) signal(sig syscall.Signal) {
	// The child leads its own group, so -PID reaches it and its children.
	if err := syscall.Kill(-p.PID, sig); err != nil {
		_ = syscall.Kill(p.PID, sig)
	}
}

func ensureExecutable(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: no path configured", ErrGameMissing)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGameMissing, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrGameMissing, path)
	}
	if info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	//nolint:gosec // G302: Binary needs to be executable
	if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
		return fmt.Errorf("%w: %s is not executable: %v", ErrGameMissing, path, err)
	}
	return nil
}

func exitStatus(cmd *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	// The game exited cleanly but a leftover child kept its output open.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
