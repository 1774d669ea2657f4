package mssqlconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  connection_limit: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, WithDebounce(10*time.Millisecond), WithOnChange(func(c Config, err error) {
		if err == nil {
			select {
			case changed <- c:
			default:
			}
		}
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if got := w.Current().Pool.ConnectionLimit; got != 10 {
		t.Fatalf("initial ConnectionLimit = %d, want 10", got)
	}

	if err := os.WriteFile(path, []byte("pool:\n  connection_limit: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changed:
		if cfg.Pool.ConnectionLimit != 20 {
			t.Errorf("reloaded ConnectionLimit = %d, want 20", cfg.Pool.ConnectionLimit)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not reload after file write")
	}

	if got := w.Current().Pool.ConnectionLimit; got != 20 {
		t.Errorf("Current().Pool.ConnectionLimit = %d, want 20", got)
	}
}

func TestWatcherStopSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestNewWatcherErrorsOnMissingFile(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected NewWatcher to fail when the initial Load fails")
	}
}
