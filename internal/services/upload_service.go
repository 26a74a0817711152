package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var (
	ErrUploadNotFound      = errors.New("upload session not found or expired")
	ErrUploadTokenMismatch = errors.New("upload token mismatch")
	ErrUploadedFileMissing = errors.New("uploaded file not found")
)

const uploadFilesPathPrefix = "/v1/uploads/files/"

// UploadSession is one signed upload in progress.
type UploadSession struct {
	ID          string
	UserID      string
	Token       string
	Filename    string
	ContentType string
	CreatedAt   time.Time
}

// UploadService hands out signed PUT URLs for recordings, stores the
// bytes on disk, and serves them back. Sessions live in a TTL cache; an
// unused session simply expires.
type UploadService struct {
	sessions *cache.Cache
	dir      string
	expires  time.Duration
}

// NewUploadService creates the upload service and its storage directory.
func NewUploadService(dir string, expires time.Duration) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &UploadService{
		sessions: cache.New(expires, expires/2+time.Minute),
		dir:      dir,
		expires:  expires,
	}, nil
}

// Expires returns the signed-session lifetime.
func (s *UploadService) Expires() time.Duration {
	return s.expires
}

// CreateSession issues a signed upload slot. The PUT URL carries a
// one-time token; the file URL becomes valid once the PUT lands.
func (s *UploadService) CreateSession(userID, filename, contentType string) (putURL, fileURL string, session *UploadSession, err error) {
	session = &UploadSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		Token:       uuid.NewString(),
		Filename:    strings.TrimSpace(filename),
		ContentType: strings.TrimSpace(contentType),
		CreatedAt:   time.Now().UTC(),
	}
	s.sessions.Set(session.ID, session, cache.DefaultExpiration)

	putURL = fmt.Sprintf("/v1/uploads/recording/%s?token=%s", session.ID, session.Token)
	fileURL = uploadFilesPathPrefix + session.ID
	return putURL, fileURL, session, nil
}

// Store validates the session token and writes the uploaded bytes.
// Returns the servable file URL.
func (s *UploadService) Store(uploadID, token string, data []byte) (string, error) {
	value, found := s.sessions.Get(uploadID)
	if !found {
		return "", ErrUploadNotFound
	}
	session, ok := value.(*UploadSession)
	if !ok {
		return "", ErrUploadNotFound
	}
	if session.Token != token {
		return "", ErrUploadTokenMismatch
	}

	path := filepath.Join(s.dir, uploadID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload %s: %w", uploadID, err)
	}
	log.Printf("📦 Stored upload %s (%s, %d bytes)", uploadID, session.Filename, len(data))

	s.sessions.Delete(uploadID)
	return uploadFilesPathPrefix + uploadID, nil
}

// FilePath resolves an uploaded file's disk path. The ID must be a UUID,
// which also rules out path traversal.
func (s *UploadService) FilePath(uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", ErrUploadedFileMissing
	}
	path := filepath.Join(s.dir, uploadID)
	if _, err := os.Stat(path); err != nil {
		return "", ErrUploadedFileMissing
	}
	return path, nil
}

// ResolveLocalURL maps a media URL served by this backend to its disk
// path, for the speech-to-text fetcher.
func (s *UploadService) ResolveLocalURL(url string) (string, bool) {
	idx := strings.Index(url, uploadFilesPathPrefix)
	if idx < 0 {
		return "", false
	}
	id := url[idx+len(uploadFilesPathPrefix):]
	if i := strings.IndexAny(id, "?#/"); i >= 0 {
		id = id[:i]
	}
	path, err := s.FilePath(id)
	if err != nil {
		return "", false
	}
	return path, true
}

// CleanupOrphans deletes stored files older than maxAge. Recordings are
// referenced from events shortly after upload; anything old on disk was
// abandoned.
func (s *UploadService) CleanupOrphans(maxAge time.Duration) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("⚠️ Failed to scan upload dir: %v", err)
		return
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
				log.Printf("⚠️ Failed to delete stale upload %s: %v", entry.Name(), err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		log.Printf("🗑️ Cleaned up %d stale uploads", removed)
	}
}
