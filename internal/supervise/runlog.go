package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const runLogPrefix = "game-"

// RunLogs keeps one raw output file per game run under Dir, pruning all but
// the newest Keep files.
type RunLogs struct {
	Dir  string
	Keep int
}

// List returns the run log paths, oldest first.
func (r *RunLogs) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.Dir, runLogPrefix+"*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *RunLogs) create(now time.Time) (*runLog, error) {
	//nolint:gosec // G301: log directory needs standard permissions
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	keep := r.Keep
	if keep < 1 {
		keep = 1
	}
	if err := r.prune(keep - 1); err != nil {
		return nil, err
	}

	path := filepath.Join(r.Dir, runLogPrefix+now.Format("20060102-150405.000000")+".log")
	//nolint:gosec // G304: path is built from the state directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &runLog{path: path, f: f}, nil
}

// prune removes the oldest run logs until at most keep remain.
func (r *RunLogs) prune(keep int) error {
	logs, err := r.List()
	if err != nil {
		return err
	}
	for len(logs) > keep {
		if err := os.Remove(logs[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune run log: %w", err)
		}
		logs = logs[1:]
	}
	return nil
}

// runLog is shared by the stdout and stderr readers. A nil runLog discards.
type runLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// WriteLine appends raw output; stderr lines are prefixed so the file keeps
// both streams in arrival order.
func (l *runLog) WriteLine(stream Stream, raw string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	var b strings.Builder
	if stream == Stderr {
		b.WriteString("[stderr] ")
	}
	b.WriteString(raw)
	b.WriteByte('\n')
	_, _ = l.f.WriteString(b.String())
}

func (l *runLog) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
}
