package versions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	rec, ok, err := s.Load(Game)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if ok {
		t.Fatalf("Load() ok = true for missing record, got %+v", rec)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "versions"))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := Record{Component: Game, Version: "2.1.0", Checksum: "abc123", Channel: "stable", InstalledAt: at}

	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, ok, err := s.Load(Game)
	if err != nil || !ok {
		t.Fatalf("Load() = ok %v, err %v", ok, err)
	}
	if got.Component != want.Component || got.Version != want.Version ||
		got.Checksum != want.Checksum || got.Channel != want.Channel ||
		!got.InstalledAt.Equal(want.InstalledAt) {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}

	if _, ok, _ := s.Load(Launcher); ok {
		t.Fatal("launcher record should not exist")
	}
}

func TestSaveReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		if err := s.Save(Record{Component: Launcher, Version: v}); err != nil {
			t.Fatalf("Save(%s) error: %v", v, err)
		}
	}
	rec, _, err := s.Load(Launcher)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.Version != "2.0.0" {
		t.Fatalf("Version = %q, want 2.0.0", rec.Version)
	}
	if rec.InstalledAt.IsZero() {
		t.Fatal("InstalledAt should be stamped on save")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one record file, found %d", len(entries))
	}
}

func TestSaveRejectsIncompleteRecord(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save(Record{Version: "1.0.0"}); err == nil {
		t.Fatal("expected error for missing component")
	}
	if err := s.Save(Record{Component: Game}); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestLoadCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := os.WriteFile(s.Path(Game), []byte("component: [unterminated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.Load(Game); err == nil {
		t.Fatal("expected parse error for corrupt record")
	}

	if err := os.WriteFile(s.Path(Game), []byte("component: launcher\nversion: 1.0.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := s.Load(Game); err == nil {
		t.Fatal("expected error when record holds another component")
	}
}

func TestAllReturnsUpdateOrder(t *testing.T) {
	s := NewStore(t.TempDir())
	_ = s.Save(Record{Component: Game, Version: "2.0.0"})
	_ = s.Save(Record{Component: Launcher, Version: "1.0.0"})

	recs, err := s.All()
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if len(recs) != 2 || recs[0].Component != Launcher || recs[1].Component != Game {
		t.Fatalf("All() = %+v, want launcher then game", recs)
	}
}

func TestParseComponent(t *testing.T) {
	tests := []struct {
		in      string
		want    Component
		wantErr bool
	}{
		{"game", Game, false},
		{" Launcher ", Launcher, false},
		{"both", "", true},
	}
	for _, tt := range tests {
		got, err := ParseComponent(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseComponent(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
