// Package datastore persists per-device payloads keyed by (username, fileID).
//
// Two backends are provided: a filesystem store (the default; one flat file
// per payload in a data directory) and a Badger key-value store. Each payload
// key is only ever mutated by the one session authenticated as its username,
// so backends need no per-key locking beyond their own atomicity.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates no payload is stored under the requested key.
var ErrNotFound = errors.New("payload not found")

// Store is the payload persistence interface.
type Store interface {
	// Put stores data verbatim under (username, fileID), replacing any
	// existing payload.
	Put(ctx context.Context, username, fileID string, data []byte) error

	// Get returns the payload stored under (username, fileID), or
	// ErrNotFound.
	Get(ctx context.Context, username, fileID string) ([]byte, error)

	// Delete removes the payload stored under (username, fileID), or
	// returns ErrNotFound.
	Delete(ctx context.Context, username, fileID string) error

	// Exists reports whether a payload is stored under (username, fileID).
	Exists(ctx context.Context, username, fileID string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by New.
const (
	BackendFS     = "fs"
	BackendBadger = "badger"
)

// Config selects and configures a payload store backend.
type Config struct {
	// Backend is "fs" or "badger".
	Backend string `mapstructure:"backend" validate:"oneof=fs badger" yaml:"backend"`

	// Dir is the data directory for the fs backend.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// BadgerPath is the database directory for the badger backend.
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
}

// New creates the payload store selected by cfg.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return NewFSStore(cfg.Dir)
	case BackendBadger:
		return NewBadgerStore(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown datastore backend %q", cfg.Backend)
	}
}

// LineCount returns the number of lines in a payload. A payload without a
// trailing newline still counts its final line; an empty payload has zero.
func LineCount(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	s := string(data)
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
