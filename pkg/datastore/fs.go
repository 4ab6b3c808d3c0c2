package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore keeps each payload in its own flat file named
// "<username>-<fileID>.txt" inside a data directory.
type FSStore struct {
	dir string
}

// NewFSStore creates the data directory if needed and returns a store over it.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(username, fileID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.txt", username, fileID))
}

// Put stores data verbatim, replacing any existing payload.
func (s *FSStore) Put(ctx context.Context, username, fileID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(s.path(username, fileID), data, 0644); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Get returns the stored payload or ErrNotFound.
func (s *FSStore) Get(ctx context.Context, username, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(username, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// Delete removes the stored payload or returns ErrNotFound.
func (s *FSStore) Delete(ctx context.Context, username, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(username, fileID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}

// Exists reports whether a payload file is present.
func (s *FSStore) Exists(ctx context.Context, username, fileID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(username, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat payload: %w", err)
	}
	return true, nil
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error {
	return nil
}
