// Package auditlog provides an in-memory, append-only impersonation audit log
// keyed by session id.
package auditlog

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// DefaultMaxPerSession bounds each session's trail when no limit is configured.
const DefaultMaxPerSession = 1000

// ErrMissingSession is returned when an entry has no session id.
var ErrMissingSession = errors.New("audit entry without session id")

// Log implements ports.AuditSink.
type Log struct {
	mu       sync.RWMutex
	sessions map[string][]domainauth.AuditEntry
	maxLen   int
}

// New creates a Log. maxPerSession <= 0 uses DefaultMaxPerSession.
func New(maxPerSession int) *Log {
	if maxPerSession <= 0 {
		maxPerSession = DefaultMaxPerSession
	}
	return &Log{
		sessions: make(map[string][]domainauth.AuditEntry),
		maxLen:   maxPerSession,
	}
}

// Append records entry, dropping the session's oldest entry once over capacity.
func (l *Log) Append(_ context.Context, entry domainauth.AuditEntry) error {
	if entry.SessionID == "" {
		return ErrMissingSession
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Details = maps.Clone(entry.Details)

	l.mu.Lock()
	defer l.mu.Unlock()

	trail := append(l.sessions[entry.SessionID], entry)
	if len(trail) > l.maxLen {
		trail = trail[len(trail)-l.maxLen:]
	}
	l.sessions[entry.SessionID] = trail
	return nil
}

// Entries returns a copy of the session's trail, oldest first.
func (l *Log) Entries(_ context.Context, sessionID string) ([]domainauth.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trail := l.sessions[sessionID]
	out := make([]domainauth.AuditEntry, len(trail))
	for i, e := range trail {
		e.Details = maps.Clone(e.Details)
		out[i] = e
	}
	return out, nil
}

// Sessions returns how many sessions have at least one entry.
func (l *Log) Sessions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}
