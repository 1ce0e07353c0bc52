package domain

import "time"

// Event identifies the lifecycle event recorded by a session log entry.
// The numeric values are part of the durable log format.
type Event int

const (
	// EventInstantiated records the creation of the session record.
	EventInstantiated Event = 0
	// EventStarted records the session becoming reachable for joins.
	EventStarted Event = 1
	// EventConnection records a client joining the session.
	EventConnection Event = 2
	// EventDisconnect records a client leaving the session.
	EventDisconnect Event = 3
	// EventEnded records the session ending.
	EventEnded Event = 4
)

// IsValid reports whether the event is a known lifecycle event.
func (e Event) IsValid() bool {
	switch e {
	case EventInstantiated, EventStarted, EventConnection, EventDisconnect, EventEnded:
		return true
	default:
		return false
	}
}

// String returns the event name used in logs.
func (e Event) String() string {
	switch e {
	case EventInstantiated:
		return "INSTANTIATED"
	case EventStarted:
		return "STARTED"
	case EventConnection:
		return "CONNECTION"
	case EventDisconnect:
		return "DISCONNECT"
	case EventEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is one append-only audit record for a session. Entries are never
// mutated after creation; they exist for audit, not for replay.
type LogEntry struct {
	SessionID     string
	Event         Event
	Timestamp     time.Time
	Text          string
	InvolvedUsers []string
}
