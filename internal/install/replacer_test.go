package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/journal"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

type fixture struct {
	root     string
	store    *versions.Store
	journal  *memJournal
	replacer *Replacer
	dl       *update.Downloader
}

type memJournal struct {
	entries []journal.Entry
}

func (m *memJournal) Record(_ context.Context, e journal.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store := versions.NewStore(filepath.Join(root, "state", "versions"))
	j := &memJournal{}
	r, err := New(Options{
		Store:          store,
		Journal:        j,
		LauncherPath:   filepath.Join(root, "bin", "grav-launcher"),
		GameDir:        filepath.Join(root, "GRAV"),
		GameExecutable: "GRAV.x86_64",
		LockWait:       time.Second,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &fixture{
		root:     root,
		store:    store,
		journal:  j,
		replacer: r,
		dl:       update.NewDownloader(filepath.Join(root, "state", "downloads")),
	}
}

// handle produces a verified download handle for payload.
func (f *fixture) handle(t *testing.T, c versions.Component, version string, payload []byte) *update.DownloadHandle {
	t.Helper()
	src := filepath.Join(t.TempDir(), "artifact")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	v, err := update.ParseVersion(version)
	if err != nil {
		t.Fatalf("ParseVersion(%s): %v", version, err)
	}
	sum := sha256.Sum256(payload)
	desc := update.ReleaseDescriptor{
		Component: c,
		Channel:   "stable",
		Version:   v,
		Checksum:  hex.EncodeToString(sum[:]),
		Size:      int64(len(payload)),
	}
	h, err := f.dl.Import(context.Background(), desc, src)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	return h
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func writeLive(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write live: %v", err)
	}
}

func assertNoLeftovers(t *testing.T, live string) {
	t.Helper()
	matches, _ := filepath.Glob(live + ".*")
	if len(matches) != 0 {
		t.Fatalf("leftover transaction paths: %v", matches)
	}
}

func TestInstallGameBinaryFirstInstall(t *testing.T) {
	f := newFixture(t)
	h := f.handle(t, versions.Game, "2.0.0", []byte("game v2.0.0"))

	tx, err := f.replacer.Install(context.Background(), h, GameInstallDir)
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if tx.State != TxCommitted {
		t.Fatalf("State = %v, want committed", tx.State)
	}
	exe := f.replacer.GameExecutablePath()
	if got := mustRead(t, exe); got != "game v2.0.0" {
		t.Fatalf("live content = %q", got)
	}
	info, _ := os.Stat(exe)
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("game binary not executable: %v", info.Mode())
	}
	rec, ok, err := f.store.Load(versions.Game)
	if err != nil || !ok || rec.Version != "2.0.0" || rec.Checksum == "" {
		t.Fatalf("record = %+v ok=%v err=%v", rec, ok, err)
	}
	if _, err := os.Stat(h.TempPath); !os.IsNotExist(err) {
		t.Fatal("download temp file should be consumed")
	}
	assertNoLeftovers(t, exe)
	if len(f.journal.entries) != 1 || f.journal.entries[0].Outcome != journal.OutcomeCommitted {
		t.Fatalf("journal = %+v", f.journal.entries)
	}
}

// Scenario A: 2.0.0 installed, 2.1.0 published.
func TestInstallGameUpgrade(t *testing.T) {
	f := newFixture(t)
	if _, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.0.0", []byte("old")), GameInstallDir); err != nil {
		t.Fatalf("seed install: %v", err)
	}

	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.1.0", []byte("new")), GameInstallDir)
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if tx.FromVersion != "2.0.0" || tx.ToVersion != "2.1.0" {
		t.Fatalf("tx versions = %s -> %s", tx.FromVersion, tx.ToVersion)
	}
	if got := mustRead(t, f.replacer.GameExecutablePath()); got != "new" {
		t.Fatalf("live content = %q, want new", got)
	}
	rec, _, _ := f.store.Load(versions.Game)
	if rec.Version != "2.1.0" {
		t.Fatalf("record version = %s, want 2.1.0", rec.Version)
	}
	assertNoLeftovers(t, f.replacer.GameExecutablePath())
}

// Scenario C: the activate rename fails with a permission error.
func TestInstallActivateFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	if _, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.0.0", []byte("old")), GameInstallDir); err != nil {
		t.Fatalf("seed install: %v", err)
	}

	orig := renameFunc
	t.Cleanup(func() { renameFunc = orig })
	renameFunc = func(src, dst string) error {
		if strings.Contains(src, stagedInfix) && dst == exe {
			return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EACCES}
		}
		return orig(src, dst)
	}

	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.1.0", []byte("new")), GameInstallDir)
	if err == nil {
		t.Fatal("Install() should fail")
	}
	if !appErrors.IsCode(err, appErrors.CodeUpdateTransactionFailed) {
		t.Fatalf("error code = %s, want update_transaction_failed", appErrors.CodeOf(err))
	}
	if !errors.Is(err, syscall.EACCES) {
		t.Fatalf("error should wrap EACCES: %v", err)
	}
	if tx.State != TxRolledBack {
		t.Fatalf("State = %v, want rolled-back", tx.State)
	}
	if got := mustRead(t, exe); got != "old" {
		t.Fatalf("live content = %q, want old", got)
	}
	rec, _, _ := f.store.Load(versions.Game)
	if rec.Version != "2.0.0" {
		t.Fatalf("record version = %s, want 2.0.0", rec.Version)
	}
	assertNoLeftovers(t, exe)
	last := f.journal.entries[len(f.journal.entries)-1]
	if last.Outcome != journal.OutcomeRolledBack || last.Error == "" {
		t.Fatalf("journal entry = %+v", last)
	}
}

func TestInstallRenameBackupWhenLinkUnsupported(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	writeLive(t, exe, "unmanaged build")

	origLink, origRename := linkFunc, renameFunc
	t.Cleanup(func() { linkFunc, renameFunc = origLink, origRename })
	linkFunc = func(string, string) error { return &os.LinkError{Op: "link", Err: syscall.EPERM} }
	renameFunc = func(src, dst string) error {
		if strings.Contains(src, stagedInfix) && dst == exe {
			// Live path must be vacated by the rename backup at this point.
			if _, err := os.Stat(exe); !os.IsNotExist(err) {
				t.Errorf("live path should be backed up by rename before activation")
			}
			return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EIO}
		}
		return origRename(src, dst)
	}

	_, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "3.0.0", []byte("new")), GameInstallDir)
	if err == nil {
		t.Fatal("Install() should fail")
	}
	if got := mustRead(t, exe); got != "unmanaged build" {
		t.Fatalf("live content = %q, want original restored", got)
	}
	if _, ok, _ := f.store.Load(versions.Game); ok {
		t.Fatal("no record should be written on failure")
	}
}

func TestInstallRecordFailureRollsBackAfterActivate(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	if _, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "1.0.0", []byte("v1")), GameInstallDir); err != nil {
		t.Fatalf("seed install: %v", err)
	}

	// Make the record unwritable by replacing the store dir with a file.
	dir := f.store.Dir()
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove store dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "1.1.0", []byte("v1.1")), GameInstallDir)
	if err == nil {
		t.Fatal("Install() should fail when the record cannot be written")
	}
	if tx.State != TxRolledBack {
		t.Fatalf("State = %v, want rolled-back", tx.State)
	}
	if got := mustRead(t, exe); got != "v1" {
		t.Fatalf("live content = %q, want v1", got)
	}
}

func TestInstallGameArchive(t *testing.T) {
	f := newFixture(t)
	live := filepath.Join(f.root, "GRAV")
	writeLive(t, filepath.Join(live, "GRAV.x86_64"), "old binary")
	writeLive(t, filepath.Join(live, "old.pak"), "old data")

	payload := tarball(t, map[string]string{
		"GRAV-2.1.0/GRAV.x86_64":   "new binary",
		"GRAV-2.1.0/data/main.pak": "new data",
	})
	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.1.0", payload), GameInstallDir)
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if tx.LivePath != live {
		t.Fatalf("LivePath = %s, want %s", tx.LivePath, live)
	}
	if got := mustRead(t, filepath.Join(live, "GRAV.x86_64")); got != "new binary" {
		t.Fatalf("binary = %q", got)
	}
	if got := mustRead(t, filepath.Join(live, "data", "main.pak")); got != "new data" {
		t.Fatalf("data = %q", got)
	}
	if _, err := os.Stat(filepath.Join(live, "old.pak")); !os.IsNotExist(err) {
		t.Fatal("old release files should be gone after a directory swap")
	}
	info, _ := os.Stat(filepath.Join(live, "GRAV.x86_64"))
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatal("extracted binary should be executable")
	}
	assertNoLeftovers(t, live)
}

func TestInstallGameArchiveActivateFailureRestoresDirectory(t *testing.T) {
	f := newFixture(t)
	live := filepath.Join(f.root, "GRAV")
	writeLive(t, filepath.Join(live, "GRAV.x86_64"), "old binary")

	orig := renameFunc
	t.Cleanup(func() { renameFunc = orig })
	renameFunc = func(src, dst string) error {
		if strings.Contains(src, stagedInfix) && dst == live {
			return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EACCES}
		}
		return orig(src, dst)
	}

	payload := tarball(t, map[string]string{"GRAV.x86_64": "new binary"})
	_, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.1.0", payload), GameInstallDir)
	if err == nil {
		t.Fatal("Install() should fail")
	}
	if got := mustRead(t, filepath.Join(live, "GRAV.x86_64")); got != "old binary" {
		t.Fatalf("binary = %q, want old binary", got)
	}
	assertNoLeftovers(t, live)
}

func TestInstallArchiveWithoutExecutableFails(t *testing.T) {
	f := newFixture(t)
	payload := tarball(t, map[string]string{"README.txt": "no binary here"})
	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "2.1.0", payload), GameInstallDir)
	if err == nil {
		t.Fatal("Install() should fail without the game executable")
	}
	if tx.State != TxRolledBack {
		t.Fatalf("State = %v", tx.State)
	}
	if _, err := os.Stat(filepath.Join(f.root, "GRAV")); !os.IsNotExist(err) {
		t.Fatal("nothing should reach the live path")
	}
}

func TestInstallLauncher(t *testing.T) {
	f := newFixture(t)
	launcher := filepath.Join(f.root, "bin", "grav-launcher")
	writeLive(t, launcher, "launcher 1.0.0")

	tx, err := f.replacer.Install(context.Background(), f.handle(t, versions.Launcher, "1.1.0", []byte("launcher 1.1.0")), LauncherExecutable)
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if tx.Component != versions.Launcher || tx.LivePath != launcher {
		t.Fatalf("tx = %+v", tx)
	}
	if got := mustRead(t, launcher); got != "launcher 1.1.0" {
		t.Fatalf("launcher = %q", got)
	}
	assertNoLeftovers(t, launcher)
}

func TestInstallRejectsUnverifiedHandle(t *testing.T) {
	f := newFixture(t)
	h := f.handle(t, versions.Game, "1.0.0", []byte("x"))
	h.Discard()
	if _, err := f.replacer.Install(context.Background(), h, GameInstallDir); !errors.Is(err, update.ErrNotVerified) {
		t.Fatalf("Install() err = %v, want ErrNotVerified", err)
	}
	if _, err := f.replacer.Install(context.Background(), nil, GameInstallDir); !errors.Is(err, update.ErrNotVerified) {
		t.Fatalf("Install(nil) err = %v, want ErrNotVerified", err)
	}
}

func TestInstallLockBusy(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	writeLive(t, exe+lockSuffix, "12345")
	f.replacer.opts.LockWait = 150 * time.Millisecond

	_, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "1.0.0", []byte("x")), GameInstallDir)
	if !appErrors.IsCode(err, appErrors.CodeLockBusy) {
		t.Fatalf("Install() code = %s, want lock_busy (%v)", appErrors.CodeOf(err), err)
	}
}

func TestInstallBreaksStaleLock(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	writeLive(t, exe+lockSuffix, "12345")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(exe+lockSuffix, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	f.replacer.opts.LockStale = time.Minute

	if _, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, "1.0.0", []byte("x")), GameInstallDir); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
}

// The live location holds exactly the old or the new payload after every
// install, whichever step fails.
func TestInstallInvariantAcrossInjectedFailures(t *testing.T) {
	failPoints := []string{"none", "stage", "activate"}
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	current := ""

	orig := renameFunc
	t.Cleanup(func() { renameFunc = orig })

	for i := 0; i < 9; i++ {
		point := failPoints[i%len(failPoints)]
		next := fmt.Sprintf("payload-%d", i)
		renameFunc = func(src, dst string) error {
			switch {
			case point == "stage" && strings.Contains(dst, stagedInfix):
				return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.ENOSPC}
			case point == "activate" && strings.Contains(src, stagedInfix) && dst == exe:
				return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EACCES}
			}
			return orig(src, dst)
		}

		_, err := f.replacer.Install(context.Background(), f.handle(t, versions.Game, fmt.Sprintf("1.0.%d", i), []byte(next)), GameInstallDir)
		if point == "none" {
			if err != nil {
				t.Fatalf("install %d: unexpected error %v", i, err)
			}
			current = next
		} else if err == nil {
			t.Fatalf("install %d: expected failure at %s", i, point)
		}

		got, readErr := os.ReadFile(exe)
		if readErr != nil {
			t.Fatalf("install %d: live path missing: %v", i, readErr)
		}
		if string(got) != current {
			t.Fatalf("install %d (%s): live = %q, want %q", i, point, got, current)
		}
		assertNoLeftovers(t, exe)
	}
}

func TestRecoverRestoresMissingLive(t *testing.T) {
	f := newFixture(t)
	exe := f.replacer.GameExecutablePath()
	writeLive(t, exe+backupSuffix, "backup build")
	writeLive(t, exe+stagedInfix+"01abc", "half staged")

	if err := f.replacer.Recover(GameInstallDir); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if got := mustRead(t, exe); got != "backup build" {
		t.Fatalf("live = %q, want restored backup", got)
	}
	assertNoLeftovers(t, exe)
}

func TestRecoverDropsBackupBesideLive(t *testing.T) {
	f := newFixture(t)
	launcher := filepath.Join(f.root, "bin", "grav-launcher")
	writeLive(t, launcher, "current")
	writeLive(t, launcher+backupSuffix, "previous")

	if err := f.replacer.Recover(LauncherExecutable); err != nil {
		t.Fatalf("Recover() error: %v", err)
	}
	if got := mustRead(t, launcher); got != "current" {
		t.Fatalf("live = %q", got)
	}
	assertNoLeftovers(t, launcher)
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../etc/passwd", "/abs/path", "a/../../b"} {
		if _, err := safeJoin("/stage", name); err == nil {
			t.Errorf("safeJoin(%q) should fail", name)
		}
	}
	if got, err := safeJoin("/stage", "./data/x.pak"); err != nil || got != "/stage/data/x.pak" {
		t.Errorf("safeJoin(data) = %q, %v", got, err)
	}
}

func TestNewIDIsOrdered(t *testing.T) {
	a := NewID()
	b := NewID()
	if len(a) != 26 || a == b || a > b {
		t.Fatalf("NewID() = %q then %q", a, b)
	}
}
