package install

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gravlauncher/internal/versions"
)

// Target is a live location the replacer can swap.
type Target int

const (
	// LauncherExecutable is the running launcher binary.
	LauncherExecutable Target = iota
	// GameInstallDir is the game install directory (or its executable for
	// single-binary releases).
	GameInstallDir
)

// String returns the string representation of a Target.
func (t Target) String() string {
	switch t {
	case LauncherExecutable:
		return "launcher-executable"
	case GameInstallDir:
		return "game-install-dir"
	default:
		return "unknown"
	}
}

// Component returns the versioned component a target holds.
func (t Target) Component() versions.Component {
	if t == LauncherExecutable {
		return versions.Launcher
	}
	return versions.Game
}

// TargetFor maps a component to its install target.
func TargetFor(c versions.Component) Target {
	if c == versions.Launcher {
		return LauncherExecutable
	}
	return GameInstallDir
}

// TxState is the progress of an install transaction.
type TxState int

const (
	TxPending TxState = iota
	TxStaged
	TxSwapped
	TxCommitted
	TxRolledBack
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxStaged:
		return "staged"
	case TxSwapped:
		return "swapped"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Transaction records one attempt to replace a live target.
type Transaction struct {
	ID          string
	Target      Target
	Component   versions.Component
	LivePath    string
	SourcePath  string
	StagedPath  string
	BackupPath  string
	FromVersion string
	ToVersion   string
	Channel     string
	State       TxState
	Err         error
	StartedAt   time.Time

	isDir     bool
	hadLive   bool
	linked    bool
	activated bool
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lowercase, time-ordered transaction identifier.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// Monotonic entropy only fails on overflow within one millisecond.
		id = ulid.Make()
	}
	return strings.ToLower(id.String())
}
