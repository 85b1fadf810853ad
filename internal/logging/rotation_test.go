package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterBasicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	msg := []byte("hello\n")
	n, err := rw.Write(msg)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write returned %d, want %d", n, len(msg))
	}
	if rw.CurrentSize() != int64(len(msg)) {
		t.Errorf("CurrentSize = %d, want %d", rw.CurrentSize(), len(msg))
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Equal(data, msg) {
		t.Errorf("log content = %q, want %q", data, msg)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	// Force a tiny cap so a couple of writes trigger rotation.
	rw.maxBytes = 32

	line := []byte(strings.Repeat("x", 20) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("live log file missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("backup .1 missing: %v", err)
	}
}

func TestRotatingWriterCapsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxBytes = 8

	for i := 0; i < 6; i++ {
		if _, err := rw.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Errorf("backup .2 should not exist with MaxBackups=1")
	}
}

func TestRotatingWriterDisabledRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	for i := 0; i < 100; i++ {
		if _, err := rw.Write([]byte("some log line\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Errorf("rotation occurred with MaxSizeMB=0")
	}
}

func TestRotatingWriterWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.log")

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := rw.Write([]byte("late\n")); err == nil {
		t.Error("expected error writing after Close")
	}
}
