// Package versions persists which release of each component is installed.
//
// Each component has one YAML record under the store directory. Records are
// replaced with write-temp, fsync, rename so a reader never observes a
// partially written file.
package versions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Component names an installable unit.
type Component string

const (
	// Launcher is the launcher executable itself.
	Launcher Component = "launcher"
	// Game is the game install directory.
	Game Component = "game"
)

// Components lists every component in update order.
var Components = []Component{Launcher, Game}

// ParseComponent converts a user supplied name into a Component.
func ParseComponent(s string) (Component, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Launcher):
		return Launcher, nil
	case string(Game):
		return Game, nil
	default:
		return "", fmt.Errorf("unknown component %q (must be %q or %q)", s, Launcher, Game)
	}
}

// Record describes the installed release of one component.
type Record struct {
	Component   Component `yaml:"component"`
	Version     string    `yaml:"version"`
	Checksum    string    `yaml:"checksum,omitempty"`
	Channel     string    `yaml:"channel,omitempty"`
	InstalledAt time.Time `yaml:"installed_at"`
}

// Store reads and writes version records in a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the record file path for a component.
func (s *Store) Path(c Component) string {
	return filepath.Join(s.dir, string(c)+".yaml")
}

// Load returns the record for c. ok is false when the component has never
// been installed through the launcher.
func (s *Store) Load(c Component) (rec Record, ok bool, err error) {
	//nolint:gosec // G304: path is derived from the store directory and a fixed component name
	data, err := os.ReadFile(s.Path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read %s record: %w", c, err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("parse %s record: %w", c, err)
	}
	if rec.Component == "" {
		rec.Component = c
	}
	if rec.Component != c {
		return Record{}, false, fmt.Errorf("record %s holds component %q", s.Path(c), rec.Component)
	}
	return rec, true, nil
}

// Save atomically replaces the record for rec.Component.
func (s *Store) Save(rec Record) error {
	if rec.Component == "" {
		return fmt.Errorf("record component is required")
	}
	if strings.TrimSpace(rec.Version) == "" {
		return fmt.Errorf("record version is required")
	}
	if rec.InstalledAt.IsZero() {
		rec.InstalledAt = time.Now().UTC()
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Component, err)
	}

	//nolint:gosec // G301: state directory needs standard permissions
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create version dir: %w", err)
	}
	return WriteFileAtomic(s.Path(rec.Component), data, 0644)
}

// All returns the records of every installed component, in update order.
func (s *Store) All() ([]Record, error) {
	var out []Record
	for _, c := range Components {
		rec, ok, err := s.Load(c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// WriteFileAtomic writes data to a temp file beside path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes a directory entry update. Errors are ignored because some
// filesystems (vfat on removable cards) reject fsync on directories.
func syncDir(dir string) {
	//nolint:gosec // G304: dir is the parent of a path we just wrote
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
