package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyCampaignID indicates a missing campaign ID.
	ErrEmptyCampaignID = errors.New("campaign id is required")
	// ErrEmptySessionID indicates a missing session ID.
	ErrEmptySessionID = errors.New("session id is required")
)

// Session is the durable record for one campaign session.
//
// URL and HostID are populated only while Active is true and name where the
// live hub for the session can be reached. A record with Active true whose
// host has restarted is orphaned until startup reconciliation clears it.
type Session struct {
	ID         string
	CampaignID string
	Active     bool
	URL        string
	HostID     string
}

// NewSession creates an inactive session record for a campaign.
func NewSession(sessionID, campaignID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, ErrEmptySessionID
	}
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return Session{}, ErrEmptyCampaignID
	}
	return Session{ID: sessionID, CampaignID: campaignID, Active: false}, nil
}

// User is the authenticated identity attached to a connection. It is opaque
// to the hub: the HTTP collaborator authenticates and supplies it, the hub
// only relays a privacy-filtered view of it to peers.
type User struct {
	ID          string
	DisplayName string
}

// Peer is the privacy-filtered view of a connected user shared with other
// session members. SCID is the per-connection id, so the same user connected
// twice appears as two distinct peers.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	SCID        string `json:"scid,omitempty"`
}

const defaultGraceTime = 30 * time.Second

// GameProperties are the shared mutable properties of a running session.
// They are owned exclusively by the session hub.
type GameProperties struct {
	GameSpeed float64
	GraceTime time.Duration
}

// DefaultGameProperties returns the properties a session starts with.
func DefaultGameProperties() GameProperties {
	return GameProperties{
		GameSpeed: 1,
		GraceTime: defaultGraceTime,
	}
}
