// Package domain defines the entities of live session coordination: the
// durable session record, its append-only audit log, the shared game
// properties every connected client sees, and the session-scoped character
// instances the hub pushes to clients.
package domain
