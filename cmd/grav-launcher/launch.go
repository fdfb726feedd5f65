package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"gravlauncher/internal/bootstrap"
	"gravlauncher/internal/config"
	"gravlauncher/internal/debug"
	"gravlauncher/internal/input"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/ui"
)

type terminalBootstrapper interface {
	EnsureInteractiveTerminal(args []string) (bootstrap.Decision, error)
}

// newBootstrapper is replaced in tests.
var newBootstrapper = func(command string) terminalBootstrapper {
	return bootstrap.New(command)
}

// execFunc replaces the process; it only returns on failure.
var execFunc = syscall.Exec

// stdinIsTerminal reports whether a prompt can be shown; tests replace it.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type runMode struct {
	headless   bool
	updateOnly bool
	gameArgs   []string
}

func runLaunch(cmd *cobra.Command, o *rootOptions, gameArgs []string) error {
	mode := runMode{headless: o.headless, gameArgs: gameArgs}

	b := newBootstrapper(config.GetString(config.KeyTerminalCommand))
	decision, err := b.EnsureInteractiveTerminal(o.argv)
	debug.Logf("terminal bootstrap: %s", decision)
	switch decision {
	case bootstrap.Relaunched:
		return nil
	case bootstrap.Suppressed:
		mode.headless = true
	case bootstrap.Degraded:
		if config.GetBool(config.KeyTerminalRequire) {
			return &exitError{code: orchestrator.ExitTerminalSpawnFailed, err: err}
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s; continuing without the log viewer\n", orchestrator.Describe(err))
		mode.headless = true
	}

	return runSequence(cmd, o, mode)
}

// runSequence builds the runtime and drives one orchestrator run, either in
// the log viewer or with plain status lines.
func runSequence(cmd *cobra.Command, o *rootOptions, mode runMode) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	opts := orchestratorOptions(rt, o, mode)
	deps := orchestrator.Deps{
		Resolver:  rt.resolver,
		Fetcher:   rt.downloader,
		Installer: rt.replacer,
		Store:     rt.store,
	}

	var res orchestrator.Result
	if mode.headless {
		res = runHeadless(ctx, cmd.OutOrStdout(), opts, deps)
	} else {
		// The viewer must release the terminal before the launcher replaces
		// itself, so the re-exec happens here rather than in the run.
		reexec := opts.RestartExec
		opts.RestartExec = false

		started := time.Now()
		res, err = runViewer(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), opts, deps)
		if err != nil {
			return &exitError{code: orchestrator.ExitFatal, err: fmt.Errorf("run log viewer: %w", err)}
		}
		printExitSummary(cmd.OutOrStdout(), exitSummary{
			Version: Version,
			Started: started,
			Result:  res,
		})
		if res.Restart && reexec && len(opts.Args) > 0 {
			_ = rt.Close()
			err := execFunc(opts.LauncherPath, opts.Args, os.Environ())
			return &exitError{code: orchestrator.ExitRestartRequired, err: fmt.Errorf("restart launcher: %w", err)}
		}
	}
	return resultError(res)
}

func orchestratorOptions(rt *runtimeDeps, o *rootOptions, mode runMode) orchestrator.Options {
	var args []string
	if rt.launcherPath != "" {
		args = append([]string{rt.launcherPath}, o.argv...)
	}
	gameArgs := append(config.GetStringSlice(config.KeyGameArgs), mode.gameArgs...)

	return orchestrator.Options{
		Channel:         strings.TrimSpace(config.GetString(config.KeyUpdateChannel)),
		SkipUpdate:      config.GetBool(config.KeyUpdateSkip),
		Confirm:         config.GetBool(config.KeyUpdateConfirm),
		UpdateOnly:      mode.updateOnly,
		LauncherVersion: Version,
		LauncherPath:    rt.launcherPath,
		Args:            args,
		RestartExec:     config.GetString(config.KeyLauncherRestart) != config.RestartExit,
		Retry:           retryPolicy(),
		GameDir:         config.GameDir(),
		GameArgs:        gameArgs,
		StopGrace:       config.GetDuration(config.KeyGameStopGrace),
		Output:          supervise.NewRingBuffer(max(config.GetInt(config.KeyLogCapacity), 1)),
		RunLogs: &supervise.RunLogs{
			Dir:  filepath.Join(rt.stateDir, "logs"),
			Keep: config.GetInt(config.KeyLogKeepRuns),
		},
	}
}

// quitOnSignal turns SIGINT, SIGTERM and SIGHUP into a graceful quit request
// until the returned stop function is called.
func quitOnSignal(quit func()) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				debug.Logf("received %s; requesting quit", sig)
				quit()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func runHeadless(ctx context.Context, w io.Writer, opts orchestrator.Options, deps orchestrator.Deps) orchestrator.Result {
	deps.Reporter = ui.NewHeadlessReporter(w)
	if opts.Confirm && stdinIsTerminal() {
		deps.Confirmer = ui.PromptConfirmer{}
	}
	orch := orchestrator.New(opts, deps)
	stop := quitOnSignal(orch.RequestQuit)
	defer stop()
	return orch.Run(ctx)
}

func runViewer(ctx context.Context, in io.Reader, out io.Writer, opts orchestrator.Options, deps orchestrator.Deps) (orchestrator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var orch *orchestrator.Orchestrator
	app := ui.NewApp(ui.Config{
		Version:     Version,
		Channel:     opts.Channel,
		Output:      opts.Output,
		RequestQuit: func() { orch.RequestQuit() },
	})
	program := tea.NewProgram(app,
		tea.WithAltScreen(),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
		// Signals go to the orchestrator so the game is stopped cleanly.
		tea.WithoutSignalHandler(),
	)

	reporter := ui.NewReporter(program)
	deps.Reporter = reporter
	deps.Confirmer = reporter
	orch = orchestrator.New(opts, deps)
	stop := quitOnSignal(orch.RequestQuit)
	defer stop()

	var (
		res        orchestrator.Result
		programErr error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, programErr = program.Run()
		cancel()
		return nil
	})
	eg.Go(func() error {
		res = orch.Run(egCtx)
		program.Send(ui.RunFinishedMsg(res))
		return nil
	})
	if config.GetBool(config.KeyInputEnabled) {
		eg.Go(func() error {
			runController(egCtx, program)
			return nil
		})
	}
	_ = eg.Wait()
	return res, programErr
}

func runController(ctx context.Context, p ui.Sender) {
	controller := input.NewController(input.ControllerConfig{
		DeviceDir:    config.GetString(config.KeyInputDeviceDir),
		PollInterval: config.GetDuration(config.KeyInputPollInterval),
		Repeat: input.RepeatPolicy{
			Delay: config.GetDuration(config.KeyInputRepeatDelay),
			Rate:  config.GetFloat64(config.KeyInputRepeatRate),
		},
		Deadzone: config.GetFloat64(config.KeyInputDeadzone),
	})

	events := make(chan input.Event, 16)
	go ui.ForwardController(ctx, events, p)
	if err := controller.Run(ctx, events); err != nil && ctx.Err() == nil {
		log := debug.Component("main")
		log.Warn().Err(err).Msg("controller input stopped")
	}
}
