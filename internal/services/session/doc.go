// Package session implements real-time coordination for live campaign
// sessions.
//
// It keeps the per-session hub (roster, shared game clock, game properties,
// broadcast fan-out), the process-wide registry of active hubs, the wire
// message catalogue, and the durable session audit log isolated from the
// campaign site, which authenticates users and computes permissions before
// calling in.
package session
