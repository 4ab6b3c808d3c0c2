package datastore

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps payloads in a Badger key-value database, keyed by
// "<username>/<fileID>". Suitable when many small payloads would otherwise
// litter the data directory.
type BadgerStore struct {
	db *badgerdb.DB
}

// NewBadgerStore opens (or creates) the Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func payloadKey(username, fileID string) []byte {
	return []byte(username + "/" + fileID)
}

// Put stores data verbatim, replacing any existing payload.
func (s *BadgerStore) Put(ctx context.Context, username, fileID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(payloadKey(username, fileID), data)
	})
	if err != nil {
		return fmt.Errorf("store payload: %w", err)
	}
	return nil
}

// Get returns the stored payload or ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, username, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(payloadKey(username, fileID))
		if err == badgerdb.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payload: %w", err)
	}
	return data, nil
}

// Delete removes the stored payload or returns ErrNotFound.
func (s *BadgerStore) Delete(ctx context.Context, username, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		key := payloadKey(username, fileID)
		if _, err := txn.Get(key); err == badgerdb.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err == ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}

// Exists reports whether a payload is stored for the key.
func (s *BadgerStore) Exists(ctx context.Context, username, fileID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(payloadKey(username, fileID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check payload: %w", err)
	}
	return exists, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
