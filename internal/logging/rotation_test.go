package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "kioskd.log")

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	if rw.FilePath() != path {
		t.Errorf("FilePath() = %s, want %s", rw.FilePath(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestRotatingWriter_PicksUpExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	if got := rw.CurrentSize(); got != int64(len("existing\n")) {
		t.Errorf("CurrentSize() = %d, want %d", got, len("existing\n"))
	}
}

// writeLines writes n lines of size bytes each (including newline).
func writeLines(t *testing.T, w io.Writer, n, size int) {
	t.Helper()
	line := strings.Repeat("x", size-1) + "\n"
	for i := 0; i < n; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	// 3 x 512KB: the third write pushes past 1MB and triggers a rotation.
	writeLines(t, rw, 3, 512*1024)
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup %s.1: %v", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() != 512*1024 {
		t.Errorf("active file size = %d, want %d", info.Size(), 512*1024)
	}
}

func TestRotatingWriter_KeepsMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	// Each 1MB write after the first forces a rotation.
	writeLines(t, rw, 5, 1024*1024)
	rw.Close()

	for _, suffix := range []string{".1", ".2"} {
		if _, err := os.Stat(path + suffix); err != nil {
			t.Errorf("expected backup %s%s: %v", path, suffix, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("backup .3 should not exist with MaxBackups=2")
	}
}

func TestRotatingWriter_ZeroSizeDisablesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	writeLines(t, rw, 3, 512*1024)
	rw.Close()

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup expected when rotation is disabled")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	writeLines(t, rw, 2, 1024*1024)
	// Close waits for background compression.
	rw.Close()

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("expected compressed backup: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if len(data) != 1024*1024 {
		t.Errorf("decompressed size = %d, want %d", len(data), 1024*1024)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "kioskd.log"), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	rw.Close()

	if _, err := rw.Write([]byte("late\n")); err == nil {
		t.Error("expected error writing to closed writer")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioskd.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 3})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			line := []byte(strings.Repeat("y", 1023) + "\n")
			for j := 0; j < 200; j++ {
				rw.Write(line)
			}
		}()
	}
	wg.Wait()
	rw.Close()

	// 8*200*1KB = 1.6MB, so exactly one rotation.
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected one backup after concurrent writes: %v", err)
	}
}
