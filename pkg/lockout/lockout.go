// Package lockout tracks usernames that are temporarily blocked after
// exhausting their authentication attempts.
package lockout

import (
	"sync"
	"time"

	"github.com/edgenet/edgenet/internal/logger"
)

// DefaultCooldown is the reference lockout window.
const DefaultCooldown = 10 * time.Second

// Registry is a thread-safe set of blocked usernames with timed auto-expiry.
//
// While a username is present, authentication must be rejected with the
// blocked-account outcome even when the supplied credentials are correct.
// Entries are removed by a deferred timer, never by client action.
type Registry struct {
	cooldown time.Duration

	mu      sync.Mutex
	blocked map[string]*time.Timer
	closed  bool
}

// NewRegistry creates a Registry with the given cooldown window.
// A non-positive cooldown falls back to DefaultCooldown.
func NewRegistry(cooldown time.Duration) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Registry{
		cooldown: cooldown,
		blocked:  make(map[string]*time.Timer),
	}
}

// Block adds username to the blocked set and schedules its removal after the
// cooldown window. Blocking an already-blocked username restarts the window.
// The wait happens on a timer, not inside the lock.
func (r *Registry) Block(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if timer, ok := r.blocked[username]; ok {
		timer.Stop()
	}
	r.blocked[username] = time.AfterFunc(r.cooldown, func() {
		r.expire(username)
	})
	logger.Info("Account blocked", "username", username, "cooldown", r.cooldown)
}

func (r *Registry) expire(username string) {
	r.mu.Lock()
	delete(r.blocked, username)
	r.mu.Unlock()
	logger.Info("Account block expired", "username", username)
}

// IsBlocked reports whether username is currently blocked.
func (r *Registry) IsBlocked(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[username]
	return ok
}

// Close cancels all pending expiry timers. The registry accepts no further
// blocks afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for username, timer := range r.blocked {
		timer.Stop()
		delete(r.blocked, username)
	}
}
