// Package attachments implements the attached-files store: staging of
// uploads, per-user on-disk layout, integrity digests and the HMAC read
// tokens that let clients fetch files without sending their access token in
// a header.
package attachments

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StagedFile describes an upload written to the temp area, ready to be
// attached to an event.
type StagedFile struct {
	ID        string
	Path      string
	Size      int64
	Integrity string
}

// FileStore lays attachment files out as <root>/<username>/<eventID>/<fileID>.
type FileStore struct {
	rootPath         string
	tempPath         string
	computeIntegrity bool
}

// NewFileStore creates the root and temp directories if needed.
func NewFileStore(rootPath, tempPath string, computeIntegrity bool) (*FileStore, error) {
	for _, dir := range []string{rootPath, tempPath} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create attachments directory %s: %w", dir, err)
		}
	}
	return &FileStore{rootPath: rootPath, tempPath: tempPath, computeIntegrity: computeIntegrity}, nil
}

// Stage copies an upload into the temp area, assigning a file id and
// computing size and integrity digest in one pass.
func (s *FileStore) Stage(r io.Reader) (*StagedFile, error) {
	id := uuid.New().String()
	path := filepath.Join(s.tempPath, id)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to stage attachment: %w", err)
	}

	var w io.Writer = f
	h := sha256.New()
	if s.computeIntegrity {
		w = io.MultiWriter(f, h)
	}
	size, err := io.Copy(w, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to stage attachment: %w", err)
	}

	staged := &StagedFile{ID: id, Path: path, Size: size}
	if s.computeIntegrity {
		staged.Integrity = "sha256-" + base64.StdEncoding.EncodeToString(h.Sum(nil))
	}
	return staged, nil
}

// Attach moves a staged file into its final per-user, per-event location.
func (s *FileStore) Attach(username, eventID string, staged *StagedFile) error {
	dir := filepath.Join(s.rootPath, username, eventID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create attachment directory: %w", err)
	}
	dest := filepath.Join(dir, staged.ID)
	if err := os.Rename(staged.Path, dest); err != nil {
		return fmt.Errorf("failed to attach file: %w", err)
	}
	return nil
}

// DiscardStaged removes a staged file that will not be attached.
func (s *FileStore) DiscardStaged(staged *StagedFile) {
	os.Remove(staged.Path)
}

// Open returns a reader over an attached file.
func (s *FileStore) Open(username, eventID, fileID string) (*os.File, error) {
	return os.Open(filepath.Join(s.rootPath, username, eventID, fileID))
}

// Remove deletes one attached file.
func (s *FileStore) Remove(username, eventID, fileID string) error {
	err := os.Remove(filepath.Join(s.rootPath, username, eventID, fileID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveEvent deletes all files attached to one event.
func (s *FileStore) RemoveEvent(username, eventID string) error {
	return os.RemoveAll(filepath.Join(s.rootPath, username, eventID))
}

// RemoveAll deletes every file belonging to the user.
func (s *FileStore) RemoveAll(username string) error {
	return os.RemoveAll(filepath.Join(s.rootPath, username))
}
