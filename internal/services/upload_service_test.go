package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestUploadService(t *testing.T) *UploadService {
	t.Helper()
	svc, err := NewUploadService(t.TempDir(), 15*time.Minute)
	if err != nil {
		t.Fatalf("failed to create upload service: %v", err)
	}
	return svc
}

func TestUploadSessionRoundTrip(t *testing.T) {
	svc := newTestUploadService(t)

	putURL, fileURL, session, err := svc.CreateSession("user-1", "note.m4a", "audio/mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(putURL, session.ID) || !strings.Contains(putURL, "token="+session.Token) {
		t.Fatalf("put URL must carry session id and token, got %s", putURL)
	}
	if fileURL != uploadFilesPathPrefix+session.ID {
		t.Fatalf("unexpected file URL: %s", fileURL)
	}

	data := []byte("fake audio bytes")
	gotURL, err := svc.Store(session.ID, session.Token, data)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if gotURL != fileURL {
		t.Fatalf("store must return the same file URL, got %s", gotURL)
	}

	path, err := svc.FilePath(session.ID)
	if err != nil {
		t.Fatalf("file path lookup failed: %v", err)
	}
	stored, err := os.ReadFile(path)
	if err != nil || string(stored) != string(data) {
		t.Fatalf("stored bytes do not round-trip: %v", err)
	}

	// The session is one-shot.
	if _, err := svc.Store(session.ID, session.Token, data); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound on reuse, got %v", err)
	}
}

func TestUploadStoreTokenMismatch(t *testing.T) {
	svc := newTestUploadService(t)
	_, _, session, _ := svc.CreateSession("user-1", "note.m4a", "audio/mp4")

	if _, err := svc.Store(session.ID, "wrong-token", []byte("x")); !errors.Is(err, ErrUploadTokenMismatch) {
		t.Fatalf("expected ErrUploadTokenMismatch, got %v", err)
	}

	// A rejected PUT must not consume the session.
	if _, err := svc.Store(session.ID, session.Token, []byte("x")); err != nil {
		t.Fatalf("valid token must still work after a mismatch: %v", err)
	}
}

func TestUploadStoreUnknownSession(t *testing.T) {
	svc := newTestUploadService(t)
	if _, err := svc.Store("no-such-id", "token", []byte("x")); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
}

func TestUploadFilePathRejectsTraversal(t *testing.T) {
	svc := newTestUploadService(t)
	if _, err := svc.FilePath("../etc/passwd"); !errors.Is(err, ErrUploadedFileMissing) {
		t.Fatalf("non-UUID ids must be rejected, got %v", err)
	}
}

func TestResolveLocalURL(t *testing.T) {
	svc := newTestUploadService(t)
	_, fileURL, session, _ := svc.CreateSession("user-1", "note.m4a", "audio/mp4")
	if _, err := svc.Store(session.ID, session.Token, []byte("audio")); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{fileURL, true},
		{"https://api.example.com" + fileURL, true},
		{fileURL + "?sig=abc", true},
		{"https://cdn.example.com/other/" + session.ID, false},
		{uploadFilesPathPrefix + "00000000-0000-0000-0000-000000000000", false},
	}
	for _, tt := range tests {
		path, ok := svc.ResolveLocalURL(tt.url)
		if ok != tt.want {
			t.Errorf("ResolveLocalURL(%q): got ok=%v, want %v", tt.url, ok, tt.want)
		}
		if ok && filepath.Base(path) != session.ID {
			t.Errorf("ResolveLocalURL(%q): unexpected path %s", tt.url, path)
		}
	}
}

func TestCleanupOrphans(t *testing.T) {
	svc := newTestUploadService(t)
	_, _, session, _ := svc.CreateSession("user-1", "old.m4a", "audio/mp4")
	if _, err := svc.Store(session.ID, session.Token, []byte("stale")); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	path := filepath.Join(svc.dir, session.ID)
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	svc.CleanupOrphans(24 * time.Hour)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("stale upload must be removed")
	}
}
