package main

import (
	"context"
	"path/filepath"
	"strings"

	"gravlauncher/internal/config"
	"gravlauncher/internal/debug"
	"gravlauncher/internal/install"
	"gravlauncher/internal/journal"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

// launcherPathFunc locates the running executable; tests replace it.
var launcherPathFunc = install.ResolveLauncherPath

// runtimeDeps are the long-lived components shared by the commands, all
// rooted in the state directory.
type runtimeDeps struct {
	stateDir     string
	launcherPath string

	store      *versions.Store
	journal    *journal.Journal
	resolver   *update.Resolver
	downloader *update.Downloader
	replacer   *install.Replacer
}

func openRuntime(ctx context.Context) (*runtimeDeps, error) {
	stateDir := config.StateDir()
	log := debug.Component("main")

	launcherPath, err := launcherPathFunc()
	if err != nil {
		log.Warn().Err(err).Msg("launcher path unknown; self-update disabled")
		launcherPath = ""
	}

	j, err := journal.Open(ctx, filepath.Join(stateDir, journal.FileName))
	if err != nil {
		return nil, configError("open install journal", err)
	}

	store := versions.NewStore(filepath.Join(stateDir, "versions"))
	replacer, err := install.New(install.Options{
		Store:          store,
		Journal:        j,
		LauncherPath:   launcherPath,
		GameDir:        config.GameDir(),
		GameExecutable: strings.TrimSpace(config.GetString(config.KeyGameExecutable)),
		LockStale:      config.GetDuration(config.KeyLockTimeout),
	})
	if err != nil {
		_ = j.Close()
		return nil, configError("configure installer", err)
	}

	resolver := update.NewResolver(
		strings.TrimSpace(config.GetString(config.KeyManifestURL)),
		update.WithTimeout(config.GetDuration(config.KeyUpdateTimeout)),
		update.WithUserAgent("grav-launcher/"+Version),
	)

	log.Debug().Str("state", stateDir).Str("game", config.GameDir()).Str("launcher", launcherPath).Msg("runtime ready")
	return &runtimeDeps{
		stateDir:     stateDir,
		launcherPath: launcherPath,
		store:        store,
		journal:      j,
		resolver:     resolver,
		downloader:   update.NewDownloader(filepath.Join(stateDir, "downloads")),
		replacer:     replacer,
	}, nil
}

func (r *runtimeDeps) Close() error {
	return r.journal.Close()
}

func retryPolicy() update.RetryPolicy {
	return update.RetryPolicy{
		MaxRetries: max(config.GetInt(config.KeyUpdateRetries), 0),
		BaseDelay:  config.GetDuration(config.KeyUpdateBackoffBase),
		MaxDelay:   config.GetDuration(config.KeyUpdateBackoffMax),
	}
}
