// Package install swaps verified artifacts into their live locations.
//
// Every swap is a transaction: stage next to the live path, move the live
// copy to a backup, rename the staged copy into place, then commit the
// version record and drop the backup. Any failure after the backup step
// renames the backup back, so the live path always holds either the old or
// the new release and never a partially written one.
package install

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gravlauncher/internal/debug"
	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/journal"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

// Test hooks for injecting filesystem failures.
var (
	renameFunc = os.Rename
	linkFunc   = os.Link
)

const (
	backupSuffix = ".backup"
	stagedInfix  = ".staged-"
	lockSuffix   = ".lock"
)

// Recorder appends transaction outcomes to an install history.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures a Replacer.
type Options struct {
	Store          *versions.Store
	Journal        Recorder
	LauncherPath   string
	GameDir        string
	GameExecutable string
	// LockWait bounds how long Install waits for another holder of the lock file.
	LockWait time.Duration
	// LockStale is the age after which a leftover lock file is broken.
	LockStale time.Duration
}

// Replacer performs install transactions for the launcher and the game.
type Replacer struct {
	opts Options
	log  zerolog.Logger

	locks [2]sync.Mutex
}

// New validates opts and returns a Replacer.
func New(opts Options) (*Replacer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("version store is required")
	}
	if strings.TrimSpace(opts.GameDir) == "" {
		return nil, fmt.Errorf("game directory is required")
	}
	if strings.TrimSpace(opts.GameExecutable) == "" {
		return nil, fmt.Errorf("game executable name is required")
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 30 * time.Second
	}
	if opts.LockStale <= 0 {
		opts.LockStale = 10 * time.Minute
	}
	return &Replacer{opts: opts, log: debug.Component("replacer")}, nil
}

// ResolveLauncherPath returns the running executable with symlinks resolved.
func ResolveLauncherPath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return execPath, nil
}

// GameExecutablePath returns the path of the game binary inside the install dir.
func (r *Replacer) GameExecutablePath() string {
	return filepath.Join(r.opts.GameDir, r.opts.GameExecutable)
}

// Install swaps the verified artifact held by h into target.
// The handle's temp file is consumed whether or not the install succeeds.
func (r *Replacer) Install(ctx context.Context, h *update.DownloadHandle, target Target) (*Transaction, error) {
	if h == nil || !h.Verified() {
		return nil, appErrors.New(appErrors.CodeUpdateTransactionFailed, "refusing to install", update.ErrNotVerified)
	}
	defer h.Discard()

	if target == LauncherExecutable && strings.TrimSpace(r.opts.LauncherPath) == "" {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "launcher path is unknown", nil)
	}

	mu := &r.locks[target]
	mu.Lock()
	defer mu.Unlock()

	tx, err := r.newTransaction(h, target)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeUpdateTransactionFailed, fmt.Sprintf("prepare %s install", target.Component()), err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockWait)
	release, err := acquireFileLock(lockCtx, tx.LivePath+lockSuffix, r.opts.LockStale)
	cancel()
	if err != nil {
		return tx, appErrors.New(appErrors.CodeLockBusy, fmt.Sprintf("another install of the %s is running", tx.Component), err)
	}
	defer release()

	r.log.Info().Str("tx", tx.ID).Str("target", target.String()).
		Str("from", tx.FromVersion).Str("to", tx.ToVersion).Msg("install started")

	if err := r.run(tx, h); err != nil {
		tx.Err = err
		r.record(ctx, tx)
		r.log.Error().Err(err).Str("tx", tx.ID).Str("state", tx.State.String()).Msg("install failed")
		return tx, appErrors.New(appErrors.CodeUpdateTransactionFailed,
			fmt.Sprintf("install %s %s", tx.Component, tx.ToVersion), err)
	}

	r.record(ctx, tx)
	r.log.Info().Str("tx", tx.ID).Msg("install committed")
	return tx, nil
}

func (r *Replacer) newTransaction(h *update.DownloadHandle, target Target) (*Transaction, error) {
	comp := target.Component()
	prev, _, err := r.opts.Store.Load(comp)
	if err != nil {
		r.log.Warn().Err(err).Str("component", string(comp)).Msg("unreadable version record; treating as not installed")
	}

	id := NewID()
	tx := &Transaction{
		ID:          id,
		Target:      target,
		Component:   comp,
		SourcePath:  h.TempPath,
		FromVersion: prev.Version,
		ToVersion:   h.Descriptor.Version.String(),
		Channel:     h.Descriptor.Channel,
		StartedAt:   time.Now(),
	}

	switch target {
	case LauncherExecutable:
		tx.LivePath = r.opts.LauncherPath
	case GameInstallDir:
		archive, err := isGzipArchive(h.TempPath)
		if err != nil {
			return nil, fmt.Errorf("inspect artifact: %w", err)
		}
		if archive {
			tx.LivePath = filepath.Clean(r.opts.GameDir)
			tx.isDir = true
		} else {
			tx.LivePath = r.GameExecutablePath()
		}
	default:
		return nil, fmt.Errorf("unknown install target %d", target)
	}

	tx.StagedPath = tx.LivePath + stagedInfix + id
	tx.BackupPath = tx.LivePath + backupSuffix
	//nolint:gosec // G301: install parent directories need standard permissions
	if err := os.MkdirAll(filepath.Dir(tx.LivePath), 0755); err != nil {
		return nil, fmt.Errorf("create install parent: %w", err)
	}
	return tx, nil
}

// run drives a transaction to Committed or RolledBack.
func (r *Replacer) run(tx *Transaction, h *update.DownloadHandle) error {
	if err := r.stage(tx); err != nil {
		_ = os.RemoveAll(tx.StagedPath)
		tx.State = TxRolledBack
		return fmt.Errorf("stage: %w", err)
	}
	tx.State = TxStaged

	if err := r.backup(tx); err != nil {
		_ = os.RemoveAll(tx.StagedPath)
		tx.State = TxRolledBack
		return fmt.Errorf("backup: %w", err)
	}
	tx.State = TxSwapped

	if err := renameFunc(tx.StagedPath, tx.LivePath); err != nil {
		return r.rollback(tx, fmt.Errorf("activate: %w", err))
	}
	tx.activated = true

	rec := versions.Record{
		Component:   tx.Component,
		Version:     tx.ToVersion,
		Checksum:    h.Descriptor.Checksum,
		Channel:     tx.Channel,
		InstalledAt: time.Now().UTC(),
	}
	if err := r.opts.Store.Save(rec); err != nil {
		return r.rollback(tx, fmt.Errorf("commit version record: %w", err))
	}

	tx.State = TxCommitted
	if tx.hadLive {
		if err := os.RemoveAll(tx.BackupPath); err != nil {
			r.log.Warn().Err(err).Str("backup", tx.BackupPath).Msg("could not remove backup")
		}
	}
	return nil
}

// stage places the artifact next to the live path in its final shape.
func (r *Replacer) stage(tx *Transaction) error {
	if !tx.isDir {
		if err := moveFile(tx.SourcePath, tx.StagedPath); err != nil {
			return err
		}
		//nolint:gosec // G302: Binary needs to be executable
		return os.Chmod(tx.StagedPath, 0755)
	}

	//nolint:gosec // G301: game install directory needs standard permissions
	if err := os.MkdirAll(tx.StagedPath, 0755); err != nil {
		return err
	}
	//nolint:gosec // G304: source is a verified download we own
	f, err := os.Open(tx.SourcePath)
	if err != nil {
		return err
	}
	err = extractTarball(f, tx.StagedPath)
	_ = f.Close()
	if err != nil {
		return err
	}
	if err := hoistSingleRoot(tx.StagedPath); err != nil {
		return fmt.Errorf("flatten archive root: %w", err)
	}
	exe := filepath.Join(tx.StagedPath, r.opts.GameExecutable)
	info, err := os.Stat(exe)
	if err != nil {
		return fmt.Errorf("archive does not contain %s: %w", r.opts.GameExecutable, err)
	}
	if info.IsDir() {
		return fmt.Errorf("archive entry %s is a directory", r.opts.GameExecutable)
	}
	//nolint:gosec // G302: Binary needs to be executable
	return os.Chmod(exe, 0755)
}

// backup preserves the live copy. Files are hard-linked so the live path is
// never vacated; directories and link-less filesystems fall back to rename.
func (r *Replacer) backup(tx *Transaction) error {
	if _, err := os.Lstat(tx.LivePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	tx.hadLive = true

	if err := os.RemoveAll(tx.BackupPath); err != nil {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if !tx.isDir {
		if err := linkFunc(tx.LivePath, tx.BackupPath); err == nil {
			tx.linked = true
			return nil
		}
	}
	return renameFunc(tx.LivePath, tx.BackupPath)
}

// rollback restores the backup into the live path and returns cause wrapped
// with the rollback outcome.
func (r *Replacer) rollback(tx *Transaction, cause error) error {
	restoreErr := r.restore(tx)
	_ = os.RemoveAll(tx.StagedPath)
	if restoreErr != nil {
		r.log.Error().Err(restoreErr).Str("tx", tx.ID).Msg("rollback failed; backup left for recovery")
		return fmt.Errorf("%w (rollback failed: %v)", cause, restoreErr)
	}
	tx.State = TxRolledBack
	return cause
}

func (r *Replacer) restore(tx *Transaction) error {
	if !tx.hadLive {
		// First install: remove whatever reached the live path.
		if tx.activated {
			return os.RemoveAll(tx.LivePath)
		}
		return nil
	}

	switch {
	case tx.linked && !tx.activated:
		// The live file was never moved.
		return os.Remove(tx.BackupPath)
	case tx.isDir && tx.activated:
		// A directory cannot be renamed over a non-empty one; set the new
		// tree aside first.
		if err := renameFunc(tx.LivePath, tx.StagedPath); err != nil {
			return err
		}
		return renameFunc(tx.BackupPath, tx.LivePath)
	default:
		return renameFunc(tx.BackupPath, tx.LivePath)
	}
}

func (r *Replacer) record(ctx context.Context, tx *Transaction) {
	if r.opts.Journal == nil {
		return
	}
	var outcome journal.Outcome
	switch tx.State {
	case TxCommitted:
		outcome = journal.OutcomeCommitted
	case TxRolledBack:
		outcome = journal.OutcomeRolledBack
	default:
		outcome = journal.OutcomeFailed
	}
	e := journal.Entry{
		TxID:        tx.ID,
		Component:   string(tx.Component),
		FromVersion: tx.FromVersion,
		ToVersion:   tx.ToVersion,
		Channel:     tx.Channel,
		Outcome:     outcome,
	}
	if tx.Err != nil {
		e.Error = tx.Err.Error()
	}
	if err := r.opts.Journal.Record(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("tx", tx.ID).Msg("journal write failed")
	}
}

// Recover repairs what an interrupted transaction may have left behind:
// a missing live path is restored from its backup, a backup beside an intact
// live path is dropped, and orphaned staging paths are removed.
func (r *Replacer) Recover(target Target) error {
	var paths []string
	switch target {
	case LauncherExecutable:
		if r.opts.LauncherPath == "" {
			return nil
		}
		paths = []string{r.opts.LauncherPath}
	case GameInstallDir:
		paths = []string{filepath.Clean(r.opts.GameDir), r.GameExecutablePath()}
	}

	mu := &r.locks[target]
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	for _, live := range paths {
		if err := r.recoverPath(live); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Replacer) recoverPath(live string) error {
	backup := live + backupSuffix
	_, liveErr := os.Lstat(live)
	_, backupErr := os.Lstat(backup)

	switch {
	case os.IsNotExist(liveErr) && backupErr == nil:
		r.log.Warn().Str("path", live).Msg("restoring backup left by interrupted install")
		if err := renameFunc(backup, live); err != nil {
			return fmt.Errorf("restore %s: %w", live, err)
		}
	case liveErr == nil && backupErr == nil:
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("remove leftover backup %s: %w", backup, err)
		}
	}

	matches, err := filepath.Glob(globEscape(live) + stagedInfix + "*")
	if err != nil {
		return err
	}
	for _, m := range matches {
		r.log.Debug().Str("path", m).Msg("removing orphaned staging path")
		_ = os.RemoveAll(m)
	}
	return nil
}

func globEscape(s string) string {
	return strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`).Replace(s)
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	err := renameFunc(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !stderrors.As(err, &linkErr) || !stderrors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src is a verified download we own
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G304: dst is a staging path beside the live target
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
