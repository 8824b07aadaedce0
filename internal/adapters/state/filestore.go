// Package state persists the block registry across restarts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sshwarden/sshwarden/internal/domain"
)

// FileStore saves and loads registry snapshots as JSON. Writes go through
// a temporary file and rename so a crash mid-write never leaves a torn
// snapshot behind.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Save writes the snapshot atomically with 0600 permissions.
func (s *FileStore) Save(snap domain.RegistrySnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file returns an empty snapshot and no
// error; a corrupt file returns an error so the caller can decide whether
// to proceed without prior state.
func (s *FileStore) Load() (domain.RegistrySnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.RegistrySnapshot{}, nil
		}
		return domain.RegistrySnapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap domain.RegistrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.RegistrySnapshot{}, fmt.Errorf("decoding snapshot %s: %w", s.path, err)
	}
	return snap, nil
}
