// Package credentials keeps the opaque per-session credential blob in a local
// working directory, one creds.json per session.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const credsFile = "creds.json"

var (
	ErrNotFound       = errors.New("credentials not found")
	ErrInvalidBlob    = errors.New("credential blob is not valid JSON")
	ErrInvalidSession = errors.New("invalid session id")
)

// FileStore reads and writes credential blobs under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the working directory of the store.
func (s *FileStore) Root() string {
	return s.root
}

// Load returns the stored blob or ErrNotFound.
func (s *FileStore) Load(sessionID string) (json.RawMessage, error) {
	dir, err := s.dir(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, credsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return json.RawMessage(data), nil
}

// Save replaces the blob for a session. The new file is written next to the
// old one and renamed into place, so readers see either the old or the new blob.
func (s *FileStore) Save(sessionID string, blob json.RawMessage) error {
	if !json.Valid(blob) {
		return ErrInvalidBlob
	}
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, credsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, credsFile)); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

// Delete removes all local credential material of a session.
func (s *FileStore) Delete(sessionID string) error {
	dir, err := s.dir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (s *FileStore) dir(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}
