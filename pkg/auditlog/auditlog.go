// Package auditlog provides the flat-file audit sinks the server writes:
// the wholesale-rewritten device log plus the append-only deletion and
// upload logs. Fields within a line are separated by "; ".
package auditlog

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Separator joins the fields of one audit line.
const Separator = "; "

// Line renders one audit line from its fields.
func Line(fields ...string) string {
	return strings.Join(fields, Separator)
}

// RewriteLog is a log file that is regenerated wholesale on every change,
// never appended. Used for the device log, which always reflects the full
// registry ordered by sequence number.
type RewriteLog struct {
	path string
	mu   sync.Mutex
}

// NewRewriteLog creates a RewriteLog at path.
func NewRewriteLog(path string) *RewriteLog {
	return &RewriteLog{path: path}
}

// Rewrite replaces the log content with the given lines.
func (l *RewriteLog) Rewrite(lines []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(l.path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("rewrite log %s: %w", l.path, err)
	}
	return nil
}

// Reset removes the log file. Called at server startup so a stale log from a
// previous run never survives a restart.
func (l *RewriteLog) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset log %s: %w", l.path, err)
	}
	return nil
}

// AppendLog is an append-only audit trail, one line per event.
type AppendLog struct {
	path string
	mu   sync.Mutex
}

// NewAppendLog creates an AppendLog at path.
func NewAppendLog(path string) *AppendLog {
	return &AppendLog{path: path}
}

// Append writes one line built from fields to the end of the log.
func (l *AppendLog) Append(fields ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(Line(fields...) + "\n"); err != nil {
		return fmt.Errorf("append log %s: %w", l.path, err)
	}
	return nil
}
