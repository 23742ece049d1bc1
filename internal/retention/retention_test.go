package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestReapFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "old.mp3"), 72*time.Hour)
	touch(t, filepath.Join(dir, "fresh.mp3"), time.Hour)

	n, _, err := reapFiles(dir, 48*time.Hour, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("reapFiles: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.mp3")); !os.IsNotExist(err) {
		t.Error("old file survived")
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh.mp3")); err != nil {
		t.Error("fresh file deleted")
	}
}

func TestReapFilesDryRun(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "old.mp3"), 72*time.Hour)

	n, _, err := reapFiles(dir, 48*time.Hour, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("reapFiles: %v", err)
	}
	if n != 1 {
		t.Errorf("reported = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "old.mp3")); err != nil {
		t.Error("dry-run deleted a file")
	}
}

func TestReapFilesRemovesOldDirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pod-engine-digest-7")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(sub, "chunk_0001.mp3"), 100*time.Hour)
	old := time.Now().Add(-100 * time.Hour)
	if err := os.Chtimes(sub, old, old); err != nil {
		t.Fatal(err)
	}

	n, bytes, err := reapFiles(dir, 48*time.Hour, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("reapFiles: %v", err)
	}
	if n != 1 || bytes == 0 {
		t.Errorf("deleted = %d (%d bytes), want the stale dir with its size", n, bytes)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Error("stale temp dir survived")
	}
}

func TestReapFilesMissingDir(t *testing.T) {
	n, _, err := reapFiles(filepath.Join(t.TempDir(), "absent"), time.Hour, false, zerolog.Nop())
	if err != nil || n != 0 {
		t.Errorf("missing dir: n=%d err=%v, want no-op", n, err)
	}
}
