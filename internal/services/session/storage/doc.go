// Package storage defines the persistence interfaces for session
// coordination: the durable session record table and the append-only session
// audit log. Implementations (e.g. SQLite) live in subpackages.
package storage
