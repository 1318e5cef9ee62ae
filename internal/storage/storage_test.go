package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStorage(t *testing.T) (*LocalStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkroom-storage-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	s, err := NewLocalStorage(LocalConfig{BasePath: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create storage: %v", err)
	}

	return s, func() { os.RemoveAll(tmpDir) }
}

func TestLocalWriteRead(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	key := ExportKey("room-1", "abc", ".png")
	if key != "exports/room-1/abc.png" {
		t.Errorf("Unexpected key %q", key)
	}

	data := []byte("\x89PNG fake")
	if err := s.Write(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	rc, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) {
		t.Errorf("Expected %q, got %q", data, got)
	}

	exists, err := s.Exists(ctx, key)
	if err != nil || !exists {
		t.Errorf("Expected artifact to exist (err %v)", err)
	}

	url, err := s.GetURL(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Failed to get url: %v", err)
	}
	if url != "/files/exports/room-1/abc.png" {
		t.Errorf("Unexpected url %q", url)
	}
}

func TestLocalReadMissing(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	if _, err := s.Read(context.Background(), "exports/none.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetURL(context.Background(), "exports/none.png", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLocalListAndDelete(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.Write(ctx, ExportKey("room-1", id, ".pdf"), bytes.NewReader([]byte(id)), 1, "application/pdf"); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}
	s.Write(ctx, ExportKey("room-2", "c", ".pdf"), bytes.NewReader([]byte("c")), 1, "")

	files, err := s.List(ctx, "exports/room-1")
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Expected 2 files, got %d", len(files))
	}

	if err := s.Delete(ctx, ExportKey("room-1", "a", ".pdf")); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	files, _ = s.List(ctx, "exports/room-1")
	if len(files) != 1 || files[0].Key != "exports/room-1/b.pdf" {
		t.Errorf("Unexpected listing after delete: %+v", files)
	}

	// Deleting twice is not an error
	if err := s.Delete(ctx, ExportKey("room-1", "a", ".pdf")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	empty, err := s.List(ctx, "exports/room-9")
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty listing, got %v (%v)", empty, err)
	}
}

func TestLocalTraversalStaysInBase(t *testing.T) {
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	path := s.fullPath("../../etc/passwd")
	if filepath.Dir(path) != s.BasePath() && path != s.BasePath() {
		t.Errorf("Path escaped base: %s", path)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
