// Package orchestrator drives one launcher run: check for updates, apply
// them, then start and supervise the game.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gravlauncher/internal/debug"
	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/install"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

// Resolver finds the newest releases.
type Resolver interface {
	FetchManifest(ctx context.Context) (*update.Manifest, error)
	ResolveFrom(ctx context.Context, m *update.Manifest, c versions.Component, channel string) (update.ReleaseDescriptor, error)
}

// Fetcher downloads and verifies release artifacts.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, desc update.ReleaseDescriptor, policy update.RetryPolicy, progress func(update.Progress)) (*update.DownloadHandle, error)
}

// Installer swaps verified artifacts into place.
type Installer interface {
	Install(ctx context.Context, h *update.DownloadHandle, target install.Target) (*install.Transaction, error)
	Recover(target install.Target) error
	GameExecutablePath() string
}

// Options are the per-run settings.
type Options struct {
	Channel    string
	SkipUpdate bool
	// Confirm asks the Confirmer before applying each update.
	Confirm bool
	// UpdateOnly stops after the update steps without launching the game.
	UpdateOnly bool

	// LauncherVersion is the running build's version. Builds without a
	// release version never update themselves.
	LauncherVersion string
	// LauncherPath and Args are used to re-exec after a self-update.
	LauncherPath string
	Args         []string
	// RestartExec re-executes in place; otherwise the run ends with
	// ExitRestartRequired.
	RestartExec bool

	Retry update.RetryPolicy

	GameDir   string
	GameArgs  []string
	GameEnv   []string
	StopGrace time.Duration
	// Output receives the game's output lines.
	Output  *supervise.RingBuffer
	RunLogs *supervise.RunLogs
}

// Deps are the collaborators of a run.
type Deps struct {
	Resolver  Resolver
	Fetcher   Fetcher
	Installer Installer
	Store     *versions.Store
	Reporter  Reporter
	// Confirmer may be nil; updates are then applied without asking.
	Confirmer Confirmer
	// Launch defaults to supervise.Launch.
	Launch func(ctx context.Context, spec supervise.Spec) (*supervise.Process, error)
	// Exec defaults to syscall.Exec and only returns on failure.
	Exec func(argv0 string, argv []string, envv []string) error
}

// Result is the outcome of a run.
type Result struct {
	ExitCode int
	Err      error
	// Restart is set when a self-update committed and the launcher must be
	// started again.
	Restart bool
}

// Orchestrator runs the launch sequence. Run is called once; RequestQuit may
// be called from any goroutine.
type Orchestrator struct {
	opts Options
	deps Deps
	log  zerolog.Logger

	state    atomic.Int32
	quit     chan struct{}
	quitOnce sync.Once

	updateFailed bool
}

// New returns an Orchestrator in the Bootstrapping state.
func New(opts Options, deps Deps) *Orchestrator {
	if deps.Reporter == nil {
		deps.Reporter = NopReporter{}
	}
	if deps.Launch == nil {
		deps.Launch = supervise.Launch
	}
	if deps.Exec == nil {
		deps.Exec = syscall.Exec
	}
	if opts.Retry == (update.RetryPolicy{}) {
		opts.Retry = update.DefaultRetryPolicy()
	}
	return &Orchestrator{
		opts: opts,
		deps: deps,
		log:  debug.Component("orchestrator"),
		quit: make(chan struct{}),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// RequestQuit asks the run to end. During updates the request is honoured
// once the running transaction commits or rolls back; while the game runs it
// is stopped.
func (o *Orchestrator) RequestQuit() {
	o.quitOnce.Do(func() { close(o.quit) })
}

func (o *Orchestrator) quitRequested() bool {
	select {
	case <-o.quit:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) transition(to State) {
	from := State(o.state.Swap(int32(to)))
	if from == to {
		return
	}
	o.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("transition")
	o.deps.Reporter.Transition(from, to)
}

func (o *Orchestrator) status(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	o.log.Info().Str("level", level.String()).Msg(msg)
	o.deps.Reporter.Status(level, msg)
}

// Run executes the whole sequence and returns the process exit code.
func (o *Orchestrator) Run(ctx context.Context) Result {
	res := o.run(ctx)
	o.transition(Terminated)
	if res.Err != nil {
		o.log.Error().Err(res.Err).Int("exit_code", res.ExitCode).Msg("run ended with error")
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context) Result {
	o.transition(CheckingUpdates)
	o.recover()

	if o.opts.SkipUpdate {
		o.status(LevelInfo, "Update check skipped.")
	} else {
		if res, done := o.update(ctx); done {
			return res
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: ExitFatal, Err: err}
	}
	if o.quitRequested() {
		o.status(LevelInfo, "Quit requested. Not starting the game.")
		return Result{ExitCode: ExitOK}
	}
	if o.opts.UpdateOnly {
		if o.updateFailed {
			return Result{ExitCode: ExitUpdateFailed, Err: appErrors.New(appErrors.CodeUpdateTransactionFailed, "update failed", nil)}
		}
		return Result{ExitCode: ExitOK}
	}

	o.transition(Launching)
	proc, err := o.launch(ctx)
	if err != nil {
		o.status(LevelError, "%s", Describe(err))
		if Classify(err) == appErrors.CodeGameMissing {
			return Result{ExitCode: ExitGameMissing, Err: err}
		}
		return Result{ExitCode: ExitFatal, Err: err}
	}

	o.transition(Supervising)
	return o.supervise(ctx, proc)
}

// recover repairs leftovers of an interrupted install before anything reads
// the install locations.
func (o *Orchestrator) recover() {
	for _, target := range []install.Target{install.LauncherExecutable, install.GameInstallDir} {
		if err := o.deps.Installer.Recover(target); err != nil {
			o.log.Warn().Err(err).Str("target", target.String()).Msg("recovery failed")
			o.status(LevelWarn, "Could not clean up an interrupted %s install.", target.Component())
		}
	}
}

// update runs CheckingUpdates, UpdatingLauncher and UpdatingGame. It returns
// done when the run must end here.
func (o *Orchestrator) update(ctx context.Context) (Result, bool) {
	o.status(LevelInfo, "Checking for updates on channel %q...", o.opts.Channel)
	manifest, err := o.deps.Resolver.FetchManifest(ctx)
	if err != nil {
		return o.degrade(err)
	}

	if res, done := o.updateLauncher(ctx, manifest); done {
		return res, true
	}
	if o.quitRequested() {
		return Result{}, false
	}
	return o.updateGame(ctx, manifest)
}

// degrade reports a failed update step and carries on with what is installed.
func (o *Orchestrator) degrade(err error) (Result, bool) {
	o.log.Warn().Err(err).Str("code", string(Classify(err))).Msg("update step failed")
	o.status(LevelWarn, "%s", Describe(err))
	o.updateFailed = true
	if o.opts.UpdateOnly {
		code := ExitFatal
		if Classify(err) == appErrors.CodeUpdateTransactionFailed {
			code = ExitUpdateFailed
		}
		return Result{ExitCode: code, Err: err}, true
	}
	return Result{}, false
}

func (o *Orchestrator) updateLauncher(ctx context.Context, m *update.Manifest) (Result, bool) {
	running, err := update.ParseVersion(o.opts.LauncherVersion)
	if err != nil {
		o.log.Debug().Str("version", o.opts.LauncherVersion).Msg("development build; self-update disabled")
		return Result{}, false
	}

	desc, err := o.deps.Resolver.ResolveFrom(ctx, m, versions.Launcher, o.opts.Channel)
	if err != nil {
		if errors.Is(err, update.ErrChannelNotFound) {
			return o.degrade(err)
		}
		// A manifest without a launcher entry only ships the game.
		o.log.Debug().Err(err).Msg("no launcher release")
		return Result{}, false
	}
	if !desc.Version.GreaterThan(running) {
		o.status(LevelInfo, "Launcher %s is up to date.", running)
		return Result{}, false
	}

	o.transition(UpdatingLauncher)
	tx, err := o.apply(ctx, desc, running.String(), install.LauncherExecutable)
	if err != nil {
		return o.degrade(err)
	}
	if tx == nil {
		return Result{}, false
	}

	o.status(LevelSuccess, "Launcher updated to %s.", desc.Version)
	if o.quitRequested() {
		o.status(LevelInfo, "Quit requested. The new launcher starts next time.")
		return Result{ExitCode: ExitOK}, true
	}
	return o.restart(), true
}

func (o *Orchestrator) updateGame(ctx context.Context, m *update.Manifest) (Result, bool) {
	rec, installed, err := o.deps.Store.Load(versions.Game)
	if err != nil {
		o.log.Warn().Err(err).Msg("unreadable game version record")
	}
	// A record without its executable is repaired like a fresh install.
	binaryMissing := false
	if installed {
		if _, statErr := os.Stat(o.deps.Installer.GameExecutablePath()); statErr != nil {
			o.log.Warn().Err(statErr).Str("version", rec.Version).Msg("game executable missing; reinstalling")
			installed, binaryMissing = false, true
		}
	}

	desc, err := o.deps.Resolver.ResolveFrom(ctx, m, versions.Game, o.opts.Channel)
	if err != nil {
		return o.degrade(err)
	}

	if installed && !update.IsNewer(rec.Version, desc.Version) {
		o.status(LevelInfo, "GRAV %s is up to date.", rec.Version)
		return Result{}, false
	}
	if installed {
		o.status(LevelInfo, "GRAV %s is available (installed: %s).", desc.Version, rec.Version)
	} else if binaryMissing {
		o.status(LevelWarn, "GRAV %s is missing from the game directory. Reinstalling %s.", rec.Version, desc.Version)
	} else {
		o.status(LevelInfo, "GRAV is not installed. Installing %s.", desc.Version)
	}

	o.transition(UpdatingGame)
	tx, err := o.apply(ctx, desc, rec.Version, install.GameInstallDir)
	if err != nil {
		return o.degrade(err)
	}
	if tx != nil {
		o.status(LevelSuccess, "GRAV updated to %s.", desc.Version)
	}
	return Result{}, false
}

// apply asks for confirmation, downloads and installs desc. A nil
// transaction with a nil error means the user declined.
func (o *Orchestrator) apply(ctx context.Context, desc update.ReleaseDescriptor, installed string, target install.Target) (*install.Transaction, error) {
	o.deps.Reporter.ReleaseNotes(desc)

	if o.opts.Confirm && o.deps.Confirmer != nil {
		ok, err := o.deps.Confirmer.Confirm(ctx, desc, installed)
		if err != nil {
			return nil, fmt.Errorf("confirm update: %w", err)
		}
		if !ok {
			o.status(LevelInfo, "Update to %s %s deferred to the next launch.", desc.Component, desc.Version)
			return nil, nil
		}
	}

	o.status(LevelInfo, "Downloading %s %s...", desc.Component, desc.Version)
	h, err := o.deps.Fetcher.FetchWithRetry(ctx, desc, o.opts.Retry, o.deps.Reporter.Progress)
	if err != nil {
		return nil, err
	}

	// Quit stays pending until the transaction settles.
	o.status(LevelInfo, "Installing %s %s...", desc.Component, desc.Version)
	tx, err := o.deps.Installer.Install(context.WithoutCancel(ctx), h, target)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// restart replaces the process with the new launcher, or ends the run with
// ExitRestartRequired when that is disabled or fails.
func (o *Orchestrator) restart() Result {
	res := Result{ExitCode: ExitRestartRequired, Restart: true}
	if !o.opts.RestartExec || o.opts.LauncherPath == "" {
		o.status(LevelInfo, "Restart the launcher to use the new version.")
		return res
	}

	o.status(LevelInfo, "Restarting the launcher...")
	args := o.opts.Args
	if len(args) == 0 {
		args = []string{o.opts.LauncherPath}
	}
	err := o.deps.Exec(o.opts.LauncherPath, args, os.Environ())
	// Exec only returns on failure.
	o.log.Error().Err(err).Msg("re-exec failed")
	o.status(LevelWarn, "Could not restart automatically. Start the launcher again.")
	res.Err = err
	return res
}

func (o *Orchestrator) launch(ctx context.Context) (*supervise.Process, error) {
	path := o.deps.Installer.GameExecutablePath()
	if rec, ok, _ := o.deps.Store.Load(versions.Game); ok {
		o.status(LevelInfo, "Launching GRAV %s...", rec.Version)
	} else {
		o.status(LevelInfo, "Launching GRAV...")
	}
	proc, err := o.deps.Launch(ctx, supervise.Spec{
		Path:    path,
		Args:    o.opts.GameArgs,
		Dir:     o.opts.GameDir,
		Env:     o.opts.GameEnv,
		Output:  o.opts.Output,
		Grace:   o.opts.StopGrace,
		RunLogs: o.opts.RunLogs,
	})
	if err != nil {
		return nil, err
	}
	o.deps.Reporter.GameStarted(proc)
	return proc, nil
}

// supervise forwards game output until the game exits. A quit request or
// cancelled ctx stops the game.
func (o *Orchestrator) supervise(ctx context.Context, proc *supervise.Process) Result {
	events := proc.Events()
	quit := o.quit
	done := ctx.Done()
	stopped := make(chan error, 1)
	stopping := false

	stop := func(reason string) {
		if stopping {
			return
		}
		stopping = true
		o.transition(ShuttingDown)
		o.status(LevelInfo, "Stopping GRAV (%s)...", reason)
		grace := o.opts.StopGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		go func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace+5*time.Second)
			defer cancel()
			stopped <- proc.Stop(stopCtx)
		}()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return Result{ExitCode: ExitFatal, Err: errors.New("game event stream closed without exit")}
			}
			if ev.Kind != supervise.Exited {
				o.deps.Reporter.GameOutput(ev)
				continue
			}
			if stopping {
				if err := <-stopped; err != nil {
					o.log.Warn().Err(err).Msg("stop did not complete cleanly")
				}
			}
			o.transition(ShuttingDown)
			o.deps.Reporter.GameExited(ev.ExitCode)
			return o.exitResult(ev, stopping)

		case <-quit:
			quit = nil
			stop("quit requested")

		case <-done:
			done = nil
			stop("launcher interrupted")
		}
	}
}

func (o *Orchestrator) exitResult(ev supervise.Event, stopped bool) Result {
	switch {
	case ev.Err != nil:
		o.status(LevelError, "Lost track of GRAV: %v", ev.Err)
		return Result{ExitCode: ExitFatal, Err: ev.Err}
	case stopped:
		o.status(LevelInfo, "GRAV stopped.")
		return Result{ExitCode: ExitOK}
	case ev.ExitCode == 0:
		o.status(LevelSuccess, "GRAV exited normally.")
		return Result{ExitCode: ExitOK}
	default:
		o.status(LevelError, "GRAV crashed with exit code %d.", ev.ExitCode)
		return Result{
			ExitCode: ExitGameCrashed,
			Err:      appErrors.New(appErrors.CodeGameCrashed, fmt.Sprintf("game exited with code %d", ev.ExitCode), nil),
		}
	}
}
