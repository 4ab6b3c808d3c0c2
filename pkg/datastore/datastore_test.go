package datastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeConformance exercises the Store contract against any backend.
func storeConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "alice", "7")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "alice", "7")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "alice", "7"), ErrNotFound)

	require.NoError(t, store.Put(ctx, "alice", "7", []byte("1\n2\n3\n4\n5")))

	exists, err = store.Exists(ctx, "alice", "7")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "alice", "7")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n4\n5", string(data))

	// Same fileID under a different username is a distinct key.
	exists, err = store.Exists(ctx, "bob", "7")
	require.NoError(t, err)
	assert.False(t, exists)

	// Put replaces.
	require.NoError(t, store.Put(ctx, "alice", "7", []byte("replaced")))
	data, err = store.Get(ctx, "alice", "7")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, "alice", "7"))
	exists, err = store.Exists(ctx, "alice", "7")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFSStore_Conformance(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	storeConformance(t, store)
}

func TestBadgerStore_Conformance(t *testing.T) {
	store, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	storeConformance(t, store)
}

func TestFSStore_FileNaming(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "alice", "7", []byte("x")))

	_, err = os.Stat(filepath.Join(dir, "alice-7.txt"))
	assert.NoError(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	store, err := New(Config{Backend: BackendFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, store)

	store, err = New(Config{Backend: BackendBadger, BadgerPath: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, store)
	require.NoError(t, store.Close())

	_, err = New(Config{Backend: "bolt"})
	assert.Error(t, err)
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, LineCount(nil))
	assert.Equal(t, 0, LineCount([]byte("")))
	assert.Equal(t, 1, LineCount([]byte("only")))
	assert.Equal(t, 3, LineCount([]byte("1\n2\n3")))
	assert.Equal(t, 3, LineCount([]byte("1\n2\n3\n")))
}
