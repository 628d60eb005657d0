// Package filestore persists key state as a single JSON file. Every save is
// a whole-file rewrite through a temp-file rename so readers never observe a
// partial write.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/keypool/internal/adapter/state"
	"github.com/fairyhunter13/keypool/internal/domain"
)

// Store implements domain.StateStore on a local file.
type Store struct {
	path string
}

// New constructs a Store writing to path. The file is created on first save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load implements domain.StateStore. A missing file is empty state.
func (s *Store) Load(_ context.Context) (map[string]domain.KeyState, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]domain.KeyState{}, nil
		}
		return nil, fmt.Errorf("op=filestore.Load: %w", err)
	}
	states, err := state.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("op=filestore.Load: %w", err)
	}
	return states, nil
}

// Save implements domain.StateStore.
func (s *Store) Save(_ context.Context, states map[string]domain.KeyState) error {
	b, err := state.Marshal(states)
	if err != nil {
		return fmt.Errorf("op=filestore.Save: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("op=filestore.Save: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=filestore.Save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=filestore.Save: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=filestore.Save: %w", err)
	}
	return nil
}
