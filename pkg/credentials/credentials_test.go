package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStore_Lookup(t *testing.T) {
	path := writeCredentials(t, "alice secret1\nbob hunter2\n\nmalformedline\n")

	store, err := NewStore(path)
	require.NoError(t, err)

	assert.True(t, store.KnownUsername("alice"))
	assert.True(t, store.KnownUsername("bob"))
	assert.False(t, store.KnownUsername("carol"))
	assert.False(t, store.KnownUsername("malformedline"))

	assert.True(t, store.Verify("alice", "secret1"))
	assert.False(t, store.Verify("alice", "wrong"))
	assert.False(t, store.Verify("carol", "anything"))
}

func TestStore_BcryptPasswords(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	path := writeCredentials(t, "alice "+string(hash)+"\n")
	store, err := NewStore(path)
	require.NoError(t, err)

	assert.True(t, store.Verify("alice", "s3cret"))
	assert.False(t, store.Verify("alice", "s3cret2"))
}

func TestStore_MissingFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestStore_WatchReload(t *testing.T) {
	path := writeCredentials(t, "alice secret1\n")
	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Watch())
	defer func() { _ = store.Close() }()

	assert.False(t, store.KnownUsername("dave"))

	require.NoError(t, os.WriteFile(path, []byte("alice secret1\ndave pass4\n"), 0644))

	// The reload happens asynchronously on the watcher goroutine.
	deadline := time.Now().Add(5 * time.Second)
	for !store.KnownUsername("dave") {
		if time.Now().After(deadline) {
			t.Fatal("credentials were not reloaded after file change")
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, store.Verify("dave", "pass4"))
}
