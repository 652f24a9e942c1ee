// Package storage persists the trailing-state document and the
// closed-positions log.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raykavin/trailbot/core"
)

// FileStateStore implements core.StateStore on a single JSON document that
// is atomically replaced on every save. Readers (the control plane) never
// observe a torn write: they see either the old document or the new one.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates the store and its parent directory.
func NewFileStateStore(path string) (*FileStateStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return &FileStateStore{path: path}, nil
}

// Load implements core.StateStore. A missing file is a fresh start; an
// unreadable one yields an empty state and the error for logging.
func (s *FileStateStore) Load() (core.State, error) {
	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(core.State), nil
	}
	if err != nil {
		return make(core.State), fmt.Errorf("failed to read state file: %w", err)
	}

	var state core.State
	if err := json.Unmarshal(content, &state); err != nil {
		return make(core.State), fmt.Errorf("failed to decode state file: %w", err)
	}

	if state == nil {
		state = make(core.State)
	}
	return state, nil
}

// Save implements core.StateStore. The document is written to a temporary
// file in the same directory, synced, and renamed over the old one.
func (s *FileStateStore) Save(state core.State) error {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}
