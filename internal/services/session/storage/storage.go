package storage

import (
	"context"
	"errors"

	"github.com/cityofconcourse/concourse/internal/services/session/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionStore persists durable session records.
type SessionStore interface {
	// PutSession inserts or replaces a session record.
	PutSession(ctx context.Context, session domain.Session) error
	// GetSession fetches a session record by ID, or ErrNotFound.
	GetSession(ctx context.Context, id string) (domain.Session, error)
	// MarkActive records that the session's live hub is reachable at url on
	// the named host.
	MarkActive(ctx context.Context, id, url, hostID string) error
	// MarkInactive clears the active flag, url, and host of a session.
	MarkInactive(ctx context.Context, id string) error
	// ReleaseHost marks every session claiming the given host as inactive
	// and returns how many records were reconciled. It is the startup
	// orphan-cleanup primitive: after a restart, no record may claim to be
	// active on this host.
	ReleaseHost(ctx context.Context, hostID string) (int, error)
}

// LogStore persists append-only session audit log entries.
type LogStore interface {
	AppendLogEntry(ctx context.Context, entry domain.LogEntry) error
	ListLogEntries(ctx context.Context, sessionID string) ([]domain.LogEntry, error)
}

// Stores groups the session storage interfaces handed to the hub and
// registry.
type Stores struct {
	Session SessionStore
	Log     LogStore
}
