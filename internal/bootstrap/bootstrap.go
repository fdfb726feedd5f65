// Package bootstrap makes sure the launcher runs inside a terminal.
//
// When started from a desktop entry or a handheld's game mode the launcher
// has no terminal to draw in. EnsureInteractiveTerminal relaunches the same
// executable inside a terminal emulator, in its own session, and tells the
// caller to exit.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"gravlauncher/internal/debug"
	appErrors "gravlauncher/internal/errors"
)

// NoTerminalFlag suppresses the relaunch. It is added to the launcher
// arguments of every relaunched process so the child never spawns another terminal.
const NoTerminalFlag = "--no-terminal"

// ErrTerminalSpawnFailed is returned when no terminal emulator could be started.
var ErrTerminalSpawnFailed = errors.New("terminal spawn failed")

// Decision is the outcome of EnsureInteractiveTerminal.
type Decision int

const (
	// AlreadyInTerminal means stdout is a terminal; continue normally.
	AlreadyInTerminal Decision = iota
	// Relaunched means a terminal was spawned running this launcher; exit 0.
	Relaunched
	// Suppressed means no terminal is attached but NoTerminalFlag was given.
	Suppressed
	// Degraded means spawning a terminal failed; continue without one.
	Degraded
)

// String returns the string representation of a Decision.
func (d Decision) String() string {
	switch d {
	case AlreadyInTerminal:
		return "already-in-terminal"
	case Relaunched:
		return "relaunched"
	case Suppressed:
		return "suppressed"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Emulator describes how a terminal emulator is told which program to run.
type Emulator struct {
	Name string
	// ExecArgs precede the program and its arguments.
	ExecArgs []string
}

// DefaultEmulators is searched on PATH, in order, when no terminal command is
// configured. The handheld's native terminal comes first.
var DefaultEmulators = []Emulator{
	{Name: "konsole", ExecArgs: []string{"-e"}},
	{Name: "gnome-terminal", ExecArgs: []string{"--"}},
	{Name: "xfce4-terminal", ExecArgs: []string{"-x"}},
	{Name: "kitty"},
	{Name: "alacritty", ExecArgs: []string{"-e"}},
	{Name: "foot"},
	{Name: "x-terminal-emulator", ExecArgs: []string{"-e"}},
	{Name: "xterm", ExecArgs: []string{"-e"}},
}

// Bootstrapper decides whether to relaunch. The function fields default to
// the real terminal and process APIs and are replaced in tests.
type Bootstrapper struct {
	// Command is a configured terminal command line, for example
	// "konsole --fullscreen -e". The program and its arguments are appended.
	Command    string
	Emulators  []Emulator
	Executable string

	IsTerminal func() bool
	LookPath   func(file string) (string, error)
	Start      func(cmd *exec.Cmd) error

	log zerolog.Logger
}

// New returns a Bootstrapper for the running executable.
func New(command string) *Bootstrapper {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return &Bootstrapper{
		Command:    command,
		Emulators:  DefaultEmulators,
		Executable: exe,
		IsTerminal: func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
		LookPath:   exec.LookPath,
		Start:      startDetached,
		log:        debug.Component("bootstrap"),
	}
}

// HasNoTerminalFlag reports whether args carry NoTerminalFlag. Arguments
// after "--" belong to the game and are not inspected.
func HasNoTerminalFlag(args []string) bool {
	launcherArgs, _ := splitGameArgs(args)
	return slices.Contains(launcherArgs, NoTerminalFlag) || slices.Contains(launcherArgs, NoTerminalFlag+"=true")
}

// withNoTerminalFlag returns args with NoTerminalFlag inserted ahead of any
// "--" separator.
func withNoTerminalFlag(args []string) []string {
	launcherArgs, gameArgs := splitGameArgs(args)
	out := make([]string, 0, len(args)+1)
	out = append(out, launcherArgs...)
	out = append(out, NoTerminalFlag)
	return append(out, gameArgs...)
}

// splitGameArgs splits args at the first "--". gameArgs keeps the separator.
func splitGameArgs(args []string) (launcherArgs, gameArgs []string) {
	if i := slices.Index(args, "--"); i >= 0 {
		return args[:i], args[i:]
	}
	return args, nil
}

// EnsureInteractiveTerminal inspects the process and relaunches it in a
// terminal emulator when needed. args are the launcher arguments without the
// program name. On Degraded the returned error wraps ErrTerminalSpawnFailed.
func (b *Bootstrapper) EnsureInteractiveTerminal(args []string) (Decision, error) {
	if b.IsTerminal() {
		return AlreadyInTerminal, nil
	}
	if HasNoTerminalFlag(args) {
		b.log.Debug().Msg("no terminal attached; relaunch suppressed")
		return Suppressed, nil
	}

	childArgs := withNoTerminalFlag(args)
	var errs []error
	for _, argv := range b.candidates(childArgs) {
		cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // G204: terminal command comes from config or the built-in list
		if err := b.Start(cmd); err != nil {
			b.log.Warn().Err(err).Str("terminal", argv[0]).Msg("terminal spawn failed")
			errs = append(errs, fmt.Errorf("%s: %w", argv[0], err))
			continue
		}
		b.log.Info().Str("terminal", argv[0]).Strs("args", childArgs).Msg("relaunched in terminal")
		return Relaunched, nil
	}

	cause := errors.Join(errs...)
	if cause == nil {
		cause = errors.New("no terminal emulator found on PATH")
	}
	b.log.Warn().Err(cause).Msg("continuing without a terminal")
	return Degraded, appErrors.New(appErrors.CodeTerminalSpawnFailed, "could not open a terminal",
		fmt.Errorf("%w: %w", ErrTerminalSpawnFailed, cause))
}

// candidates returns full command lines to try, in order.
func (b *Bootstrapper) candidates(childArgs []string) [][]string {
	program := append([]string{b.Executable}, childArgs...)

	if fields := strings.Fields(b.Command); len(fields) > 0 {
		return [][]string{append(fields, program...)}
	}

	var out [][]string
	for _, emu := range b.Emulators {
		path, err := b.LookPath(emu.Name)
		if err != nil {
			continue
		}
		argv := append([]string{path}, emu.ExecArgs...)
		out = append(out, append(argv, program...))
	}
	return out
}

// startDetached starts cmd in a new session with stdio on /dev/null and does
// not wait for it.
func startDetached(cmd *exec.Cmd) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer func() { _ = devNull.Close() }()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
