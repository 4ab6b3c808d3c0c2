// Package registry maintains the shared table of currently logged-in edge
// devices with sequence-numbered identity.
package registry

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/auditlog"
	"github.com/edgenet/edgenet/pkg/protocol"
)

var (
	// ErrAlreadyRegistered is returned when a username holds an active
	// registration. Callers must perform the already-logged-in check before
	// registering, so hitting this during login is a race, not a bug.
	ErrAlreadyRegistered = errors.New("device already registered")

	// ErrNotRegistered indicates an unregister for an absent username.
	// This is an invariant violation in the caller, not a user-facing error.
	ErrNotRegistered = errors.New("device not registered")
)

// DeviceRecord describes one registered edge device.
//
// Sequence numbers are always a dense permutation of 1..N over the currently
// registered devices: removal of sequence k shifts every higher sequence down
// by one.
type DeviceRecord struct {
	Username       string
	SequenceNumber int
	JoinedAt       time.Time
	SourceAddress  string
	PeerPort       int
}

// Registry is the thread-safe device table. Every mutation rewrites the
// device audit log under the same lock, so no reader ever observes a
// half-written log or a log inconsistent with the table.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*DeviceRecord
	log     *auditlog.RewriteLog

	now func() time.Time
}

// New creates a Registry whose mutations are mirrored to log.
func New(log *auditlog.RewriteLog) *Registry {
	return &Registry{
		devices: make(map[string]*DeviceRecord),
		log:     log,
		now:     time.Now,
	}
}

// Register inserts a record for username and returns its sequence number
// (current device count plus one). It fails only when the username already
// holds a registration.
func (r *Registry) Register(username, sourceAddress string, peerPort int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[username]; ok {
		return 0, ErrAlreadyRegistered
	}

	record := &DeviceRecord{
		Username:       username,
		SequenceNumber: len(r.devices) + 1,
		JoinedAt:       r.now(),
		SourceAddress:  sourceAddress,
		PeerPort:       peerPort,
	}
	r.devices[username] = record

	r.mirrorLogLocked()
	return record.SequenceNumber, nil
}

// Unregister removes username's record and compacts the remaining sequence
// numbers so they stay dense.
func (r *Registry) Unregister(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.devices[username]
	if !ok {
		return ErrNotRegistered
	}
	removed := record.SequenceNumber
	delete(r.devices, username)

	for _, other := range r.devices {
		if other.SequenceNumber > removed {
			other.SequenceNumber--
		}
	}

	r.mirrorLogLocked()
	return nil
}

// Contains reports whether username currently holds a registration.
func (r *Registry) Contains(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[username]
	return ok
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// ListOthers returns a snapshot of every record except the one held by
// excluding, ordered by ascending sequence number.
func (r *Registry) ListOthers(excluding string) []DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	others := make([]DeviceRecord, 0, len(r.devices))
	for username, record := range r.devices {
		if username == excluding {
			continue
		}
		others = append(others, *record)
	}
	sort.Slice(others, func(i, j int) bool {
		return others[i].SequenceNumber < others[j].SequenceNumber
	})
	return others
}

// Lookup resolves a device's reachability info for the peer-transfer
// handshake. ok is false when the device is not registered.
func (r *Registry) Lookup(deviceName string) (addr string, port int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, found := r.devices[deviceName]
	if !found {
		return "", 0, false
	}
	return record.SourceAddress, record.PeerPort, true
}

// mirrorLogLocked regenerates the device log from the current table. The
// table is the source of truth: a failed log write never undoes a
// registration, it only loses the mirror until the next mutation.
// Caller holds r.mu.
func (r *Registry) mirrorLogLocked() {
	if err := r.rewriteLogLocked(); err != nil {
		logger.Error("Device log rewrite failed", "error", err)
	}
}

// rewriteLogLocked regenerates the device log from the current table,
// ordered by ascending sequence number. Caller holds r.mu.
func (r *Registry) rewriteLogLocked() error {
	records := make([]*DeviceRecord, 0, len(r.devices))
	for _, record := range r.devices {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SequenceNumber < records[j].SequenceNumber
	})

	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, auditlog.Line(
			strconv.Itoa(record.SequenceNumber),
			record.JoinedAt.Format(protocol.TimestampLayout),
			record.Username,
			record.SourceAddress,
			strconv.Itoa(record.PeerPort),
		))
	}
	return r.log.Rewrite(lines)
}
