package bootstrap

import (
	"errors"
	"os/exec"
	"slices"
	"testing"

	appErrors "gravlauncher/internal/errors"
)

type spawnRecorder struct {
	cmds []*exec.Cmd
	fail map[string]error
}

func (s *spawnRecorder) start(cmd *exec.Cmd) error {
	s.cmds = append(s.cmds, cmd)
	if err, ok := s.fail[cmd.Path]; ok {
		return err
	}
	return nil
}

func testBootstrapper(tty bool, onPath ...string) (*Bootstrapper, *spawnRecorder) {
	rec := &spawnRecorder{fail: map[string]error{}}
	b := New("")
	b.Executable = "/opt/grav/grav-launcher"
	b.IsTerminal = func() bool { return tty }
	b.LookPath = func(file string) (string, error) {
		if slices.Contains(onPath, file) {
			return "/usr/bin/" + file, nil
		}
		return "", exec.ErrNotFound
	}
	b.Start = rec.start
	return b, rec
}

func TestAlreadyInTerminal(t *testing.T) {
	b, rec := testBootstrapper(true, "konsole")
	d, err := b.EnsureInteractiveTerminal([]string{"--channel", "beta"})
	if err != nil || d != AlreadyInTerminal {
		t.Fatalf("got %v, %v; want AlreadyInTerminal", d, err)
	}
	if len(rec.cmds) != 0 {
		t.Fatal("nothing should be spawned inside a terminal")
	}
}

func TestSuppressed(t *testing.T) {
	for _, args := range [][]string{{NoTerminalFlag}, {"--channel", "beta", NoTerminalFlag + "=true"}} {
		b, rec := testBootstrapper(false, "konsole")
		d, err := b.EnsureInteractiveTerminal(args)
		if err != nil || d != Suppressed {
			t.Fatalf("args %v: got %v, %v; want Suppressed", args, d, err)
		}
		if len(rec.cmds) != 0 {
			t.Fatalf("args %v: nothing should be spawned", args)
		}
	}
}

// Scenario D: no terminal, no flag.
func TestRelaunchKeepsArgumentsAndAppendsFlag(t *testing.T) {
	b, rec := testBootstrapper(false, "kitty", "xterm")
	args := []string{"--channel", "beta", "--game-dir", "/games/GRAV"}

	d, err := b.EnsureInteractiveTerminal(args)
	if err != nil || d != Relaunched {
		t.Fatalf("got %v, %v; want Relaunched", d, err)
	}
	if len(rec.cmds) != 1 {
		t.Fatalf("spawned %d commands, want 1", len(rec.cmds))
	}
	want := []string{"/usr/bin/kitty", "/opt/grav/grav-launcher", "--channel", "beta", "--game-dir", "/games/GRAV", NoTerminalFlag}
	if got := rec.cmds[0].Args; !slices.Equal(got, want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
	if len(args) != 4 {
		t.Fatal("caller's args must not be modified")
	}
}

func TestRelaunchPutsFlagBeforeGameArguments(t *testing.T) {
	b, rec := testBootstrapper(false, "konsole")

	if d, err := b.EnsureInteractiveTerminal([]string{"--channel", "beta", "--", "-windowed"}); err != nil || d != Relaunched {
		t.Fatalf("got %v, %v; want Relaunched", d, err)
	}
	want := []string{"/usr/bin/konsole", "-e", "/opt/grav/grav-launcher", "--channel", "beta", NoTerminalFlag, "--", "-windowed"}
	if got := rec.cmds[0].Args; !slices.Equal(got, want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
}

func TestHasNoTerminalFlagIgnoresGameArguments(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{NoTerminalFlag, "--", "-windowed"}, true},
		{[]string{"--", NoTerminalFlag}, false},
		{[]string{"--channel", "beta", "--", NoTerminalFlag + "=true"}, false},
	}
	for _, tt := range tests {
		if got := HasNoTerminalFlag(tt.args); got != tt.want {
			t.Errorf("HasNoTerminalFlag(%q) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestRelaunchFallsThroughFailingEmulators(t *testing.T) {
	b, rec := testBootstrapper(false, "konsole", "xterm")
	rec.fail["/usr/bin/konsole"] = errors.New("no display")

	d, err := b.EnsureInteractiveTerminal(nil)
	if err != nil || d != Relaunched {
		t.Fatalf("got %v, %v; want Relaunched", d, err)
	}
	if len(rec.cmds) != 2 {
		t.Fatalf("spawn attempts = %d, want 2", len(rec.cmds))
	}
	want := []string{"/usr/bin/xterm", "-e", "/opt/grav/grav-launcher", NoTerminalFlag}
	if got := rec.cmds[1].Args; !slices.Equal(got, want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
}

func TestConfiguredCommandWins(t *testing.T) {
	b, rec := testBootstrapper(false, "konsole")
	b.Command = "foot --fullscreen"

	if d, err := b.EnsureInteractiveTerminal([]string{"update"}); err != nil || d != Relaunched {
		t.Fatalf("got %v, %v; want Relaunched", d, err)
	}
	want := []string{"foot", "--fullscreen", "/opt/grav/grav-launcher", "update", NoTerminalFlag}
	if got := rec.cmds[0].Args; !slices.Equal(got, want) {
		t.Fatalf("argv = %q, want %q", got, want)
	}
}

func TestDegradedWhenNoEmulator(t *testing.T) {
	b, rec := testBootstrapper(false)

	d, err := b.EnsureInteractiveTerminal(nil)
	if d != Degraded {
		t.Fatalf("decision = %v, want Degraded", d)
	}
	if !errors.Is(err, ErrTerminalSpawnFailed) {
		t.Fatalf("err = %v, want ErrTerminalSpawnFailed", err)
	}
	if !appErrors.IsCode(err, appErrors.CodeTerminalSpawnFailed) {
		t.Fatalf("code = %s", appErrors.CodeOf(err))
	}
	if len(rec.cmds) != 0 {
		t.Fatal("nothing should be spawned")
	}
}

func TestDegradedWhenEverySpawnFails(t *testing.T) {
	b, rec := testBootstrapper(false, "konsole")
	rec.fail["/usr/bin/konsole"] = errors.New("exec format error")

	d, err := b.EnsureInteractiveTerminal(nil)
	if d != Degraded || !errors.Is(err, ErrTerminalSpawnFailed) {
		t.Fatalf("got %v, %v; want Degraded", d, err)
	}
}

func TestStartDetachedRunsInNewSession(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	cmd := exec.Command(path)
	if err := startDetached(cmd); err != nil {
		t.Fatalf("startDetached() error: %v", err)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setsid {
		t.Fatal("child should start in a new session")
	}
}

func TestDecisionString(t *testing.T) {
	if Relaunched.String() != "relaunched" || Decision(42).String() != "unknown" {
		t.Fatal("unexpected Decision strings")
	}
}
