package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"strzcam.com/posture/clock"
)

func writeShmFrame(t *testing.T, path string, payload []byte, detected int8) {
	t.Helper()
	header := make([]byte, shmHeaderSize)
	header[0] = byte(detected)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if err := os.WriteFile(path, append(header, payload...), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestShmReadFrame(t *testing.T) {
	dir := t.TempDir()
	src, err := NewShmSource(dir, "cam", time.Second, clock.SystemClock{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	t.Run("missing file", func(t *testing.T) {
		_, detected, err := src.ReadFrame()
		if detected != -1 {
			t.Errorf("expected detected -1, got %d", detected)
		}
		if !errors.Is(err, errNoShmFile) {
			t.Errorf("expected errNoShmFile, got %v", err)
		}
	})

	t.Run("valid frame", func(t *testing.T) {
		writeShmFrame(t, filepath.Join(dir, "cam"), []byte("test data"), 0)
		data, detected, err := src.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "test data" || detected != 0 {
			t.Errorf("got %q detected %d", data, detected)
		}
	})

	t.Run("length beyond file", func(t *testing.T) {
		header := make([]byte, shmHeaderSize)
		binary.LittleEndian.PutUint32(header[1:], 100)
		os.WriteFile(filepath.Join(dir, "cam"), append(header, 'x'), 0o644)
		if _, _, err := src.ReadFrame(); err == nil {
			t.Error("expected error for truncated payload")
		}
	})
}

func TestShmSourceNext(t *testing.T) {
	dir := t.TempDir()
	src, err := NewShmSource(dir, "cam", 2*time.Second, clock.SystemClock{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	time.Sleep(10 * time.Millisecond)
	writeShmFrame(t, filepath.Join(dir, "cam"), jpegMagic, -1)
	f, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(f.Data) != string(jpegMagic) {
		t.Errorf("got %q", f.Data)
	}
}

func TestShmSourceTimeout(t *testing.T) {
	src, err := NewShmSource(t.TempDir(), "cam", 20*time.Millisecond, clock.SystemClock{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	src.Close()
	if _, err := src.Next(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted after close, got %v", err)
	}
}
