// Package credentials provides read-only lookup of username/password pairs
// from a flat credentials file.
//
// Each line of the file holds a username and a password separated by
// whitespace. Passwords are compared verbatim unless the stored value is a
// bcrypt hash (a "$2" prefix), in which case bcrypt comparison is used.
package credentials

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/edgenet/edgenet/internal/logger"
)

// Store is a thread-safe credentials lookup backed by a flat file.
type Store struct {
	path string

	mu    sync.RWMutex
	users map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads the credentials file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		users: make(map[string]string),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads the credentials file, replacing the in-memory table
// atomically. Blank lines and lines without a password field are skipped.
func (s *Store) reload() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open credentials file: %w", err)
	}
	defer func() { _ = f.Close() }()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		users[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

// KnownUsername reports whether username appears in the credentials file.
func (s *Store) KnownUsername(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Verify reports whether password matches the stored credential for username.
// Unknown usernames never verify.
func (s *Store) Verify(username, password string) bool {
	s.mu.RLock()
	stored, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return stored == password
}

// Watch starts reloading the store whenever the credentials file changes on
// disk. The watch runs until Close is called. Watching the parent directory
// rather than the file itself survives editors that replace the file.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch credentials directory: %w", err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		target := filepath.Clean(s.path)
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.reload(); err != nil {
					logger.Warn("Credentials reload failed", "path", s.path, "error", err)
					continue
				}
				logger.Info("Credentials reloaded", "path", s.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Credentials watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}
