package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cityofconcourse/concourse/internal/services/session/domain"
	"github.com/cityofconcourse/concourse/internal/services/session/storage"
)

// CreateStatus is the outcome of a session create request.
type CreateStatus int

const (
	// CreateSuccess means the session was created and is accepting joins.
	CreateSuccess CreateStatus = iota
	// CreateUnauthorized means the user may not start sessions in the
	// campaign. Nothing was created or persisted.
	CreateUnauthorized
)

// CreateResult is the outcome of Registry.Create.
type CreateResult struct {
	Status CreateStatus
	Hub    *Hub
}

// ResolveStatus is the outcome of a session lookup.
type ResolveStatus int

const (
	// ResolveFound means the session is live on this host.
	ResolveFound ResolveStatus = iota
	// ResolveRedirect means the session is live on a different host; the
	// caller should retry against RedirectURL.
	ResolveRedirect
	// ResolveInactive means the session exists but is not running.
	ResolveInactive
	// ResolveNotFound means no session record exists for the id.
	ResolveNotFound
)

// ResolveResult is the outcome of Registry.Resolve.
type ResolveResult struct {
	Status      ResolveStatus
	Hub         *Hub
	RedirectURL string
	HostID      string
}

// PermissionCheck reports whether the user may start a session in the
// campaign. The registry calls it before creating anything.
type PermissionCheck func(ctx context.Context, user domain.User, campaignID string) (bool, error)

// RegistryConfig carries the collaborators and identity of a registry.
type RegistryConfig struct {
	Stores storage.Stores
	// HostID names this process in durable session records. Records claiming
	// this host are reconciled on startup.
	HostID string
	// PublicHost is the host:port clients reach this process on; it anchors
	// the join URLs written into session records.
	PublicHost string

	Peers       PeerResolver
	Rules       Rules
	Clock       func() time.Time
	IDGenerator func() (string, error)
}

// Registry tracks the live session hubs of one host process and mediates
// their lifecycle against durable session records.
type Registry struct {
	cfg RegistryConfig

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry builds a registry for this host.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Stores.Session == nil || cfg.Stores.Log == nil {
		return nil, fmt.Errorf("session and log stores are required")
	}
	if strings.TrimSpace(cfg.HostID) == "" {
		return nil, fmt.Errorf("host id is required")
	}
	if strings.TrimSpace(cfg.PublicHost) == "" {
		return nil, fmt.Errorf("public host is required")
	}
	return &Registry{cfg: cfg, hubs: make(map[string]*Hub)}, nil
}

// ReconcileOnStartup clears durable records orphaned by a previous run of
// this host. It must run before the registry serves traffic, so a record
// never claims a hub this process does not hold.
func (r *Registry) ReconcileOnStartup(ctx context.Context) (int, error) {
	released, err := r.cfg.Stores.Session.ReleaseHost(ctx, r.cfg.HostID)
	if err != nil {
		return 0, fmt.Errorf("reconcile host sessions: %w", err)
	}
	if released > 0 {
		log.Printf("session: reconciled orphaned sessions host=%q count=%d", r.cfg.HostID, released)
	}
	return released, nil
}

// Create starts a new session for the campaign on behalf of the user. The
// permission check runs before any record is written; a denied check leaves
// no trace of the attempt.
func (r *Registry) Create(ctx context.Context, campaignID string, user domain.User, allowed PermissionCheck) (CreateResult, error) {
	if allowed == nil {
		return CreateResult{}, fmt.Errorf("permission check is required")
	}
	ok, err := allowed(ctx, user, campaignID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check session permission: %w", err)
	}
	if !ok {
		return CreateResult{Status: CreateUnauthorized}, nil
	}

	hub, err := BuildHub(ctx, campaignID, user.ID, HubConfig{
		Stores:      r.cfg.Stores,
		Peers:       r.cfg.Peers,
		Rules:       r.cfg.Rules,
		Clock:       r.cfg.Clock,
		IDGenerator: r.cfg.IDGenerator,
	})
	if err != nil {
		return CreateResult{}, err
	}

	url := fmt.Sprintf("ws://%s/api/v1/sessions/%s/join", r.cfg.PublicHost, hub.ID())
	if err := hub.Start(ctx, url, r.cfg.HostID, user); err != nil {
		return CreateResult{}, err
	}

	r.mu.Lock()
	r.hubs[hub.ID()] = hub
	r.mu.Unlock()

	return CreateResult{Status: CreateSuccess, Hub: hub}, nil
}

// Resolve locates the session for a join request. A hub held by this
// registry wins; otherwise the durable record decides between a redirect to
// another host, an inactive session, and no session at all.
func (r *Registry) Resolve(ctx context.Context, sessionID string) (ResolveResult, error) {
	r.mu.Lock()
	hub, ok := r.hubs[sessionID]
	r.mu.Unlock()
	if ok {
		return ResolveResult{Status: ResolveFound, Hub: hub}, nil
	}

	record, err := r.cfg.Stores.Session.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ResolveResult{Status: ResolveNotFound}, nil
		}
		return ResolveResult{}, fmt.Errorf("resolve session: %w", err)
	}
	if record.Active {
		return ResolveResult{Status: ResolveRedirect, RedirectURL: record.URL, HostID: record.HostID}, nil
	}
	return ResolveResult{Status: ResolveInactive}, nil
}

// End ends a session hosted by this registry and forgets its hub.
func (r *Registry) End(ctx context.Context, sessionID, endingUserID string) error {
	r.mu.Lock()
	hub, ok := r.hubs[sessionID]
	if ok {
		delete(r.hubs, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("end session %s: %w", sessionID, storage.ErrNotFound)
	}
	return hub.End(ctx, endingUserID)
}

// ActiveCount reports how many hubs this registry currently hosts.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}
