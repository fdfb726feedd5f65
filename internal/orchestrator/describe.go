package orchestrator

import (
	"errors"

	"gravlauncher/internal/bootstrap"
	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/supervise"
	"gravlauncher/internal/update"
)

// Classify returns the launcher error code for err, looking at structured
// errors first and package sentinels second.
func Classify(err error) appErrors.Code {
	if err == nil {
		return ""
	}
	if code := appErrors.CodeOf(err); code != appErrors.CodeUnknown {
		return code
	}
	switch {
	case errors.Is(err, update.ErrManifestUnreachable):
		return appErrors.CodeManifestUnreachable
	case errors.Is(err, update.ErrManifestMalformed):
		return appErrors.CodeManifestMalformed
	case errors.Is(err, update.ErrChannelNotFound):
		return appErrors.CodeChannelNotFound
	case errors.Is(err, update.ErrIntegrityMismatch):
		return appErrors.CodeIntegrityMismatch
	case errors.Is(err, update.ErrTransferInterrupted):
		return appErrors.CodeTransferInterrupted
	case errors.Is(err, supervise.ErrGameMissing):
		return appErrors.CodeGameMissing
	case errors.Is(err, bootstrap.ErrTerminalSpawnFailed):
		return appErrors.CodeTerminalSpawnFailed
	}
	return appErrors.CodeUnknown
}

// Describe renders err as one plain status line for the user.
func Describe(err error) string {
	switch Classify(err) {
	case "":
		return ""
	case appErrors.CodeManifestUnreachable:
		return "Update server unreachable. Playing offline."
	case appErrors.CodeManifestMalformed:
		return "The release manifest could not be read. Skipping updates."
	case appErrors.CodeChannelNotFound:
		return "The configured release channel does not exist. Skipping updates."
	case appErrors.CodeIntegrityMismatch:
		return "Downloaded update failed verification and was discarded."
	case appErrors.CodeTransferInterrupted:
		return "Download was interrupted. The update will be retried next launch."
	case appErrors.CodeUpdateTransactionFailed:
		return "Installing the update failed. The previous version was kept."
	case appErrors.CodeLockBusy:
		return "Another launcher is installing an update. Skipping this one."
	case appErrors.CodeTerminalSpawnFailed:
		return "No terminal could be opened. Continuing without one."
	case appErrors.CodeGameMissing:
		return "GRAV is not installed and could not be downloaded."
	case appErrors.CodeGameCrashed:
		return "GRAV exited with an error."
	case appErrors.CodeConfigurationError:
		return "Launcher configuration is invalid: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}
