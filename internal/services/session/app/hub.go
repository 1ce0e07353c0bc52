package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cityofconcourse/concourse/internal/id"
	"github.com/cityofconcourse/concourse/internal/services/session/domain"
	"github.com/cityofconcourse/concourse/internal/services/session/storage"
	"github.com/cityofconcourse/concourse/internal/services/session/wire"
	"golang.org/x/net/websocket"
)

var (
	// ErrNotStarted indicates an operation that needs a running hub.
	ErrNotStarted = errors.New("session is not started")
	// ErrAlreadyStarted indicates a second start of the same hub.
	ErrAlreadyStarted = errors.New("session is already started")
	// ErrEnded indicates an operation on a hub that has ended. Ended hubs
	// never restart; a new session gets a new hub.
	ErrEnded = errors.New("session has ended")
)

// PeerResolver produces the view of a user that is shared with other session
// members. Implementations strip anything peers must not see.
type PeerResolver interface {
	ResolvePeer(user domain.User) (domain.Peer, error)
}

type identityPeerResolver struct{}

func (identityPeerResolver) ResolvePeer(user domain.User) (domain.Peer, error) {
	return domain.Peer{ID: user.ID, DisplayName: user.DisplayName}, nil
}

// Rules handles game-content packets the hub routes but does not interpret:
// actions, pause and resume, chat, character creation. The hub validates the
// envelope; payload semantics are the rules engine's concern.
type Rules interface {
	HandleGameMessage(hub *Hub, client *Client, packet wire.Packet)
}

type noopRules struct{}

func (noopRules) HandleGameMessage(*Hub, *Client, wire.Packet) {}

type hubState int

const (
	hubInstantiated hubState = iota
	hubStarted
	hubEnded
)

// HubConfig carries the collaborators a hub needs.
type HubConfig struct {
	Stores storage.Stores
	Peers  PeerResolver
	Rules  Rules
	// Clock supplies the shared game clock. Defaults to time.Now.
	Clock func() time.Time
	// IDGenerator mints session ids. Defaults to id.NewID.
	IDGenerator func() (string, error)
}

func (cfg *HubConfig) applyDefaults() {
	if cfg.Peers == nil {
		cfg.Peers = identityPeerResolver{}
	}
	if cfg.Rules == nil {
		cfg.Rules = noopRules{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
}

// Hub coordinates one live session: the connected roster, the shared game
// clock, the mutable game properties, and fan-out of pushes to clients.
//
// All client-visible operations go through the hub's mutex, so packet
// broadcasts observe a consistent roster snapshot.
type Hub struct {
	stores storage.Stores
	peers  PeerResolver
	rules  Rules
	clock  func() time.Time

	mu        sync.Mutex
	session   domain.Session
	state     hubState
	startTime time.Time
	clients   []*Client
	instances []domain.CharacterInstance
	props     domain.GameProperties
}

// BuildHub creates a session record for the campaign, writes the durable
// record and the INSTANTIATED audit entry, and returns the not-yet-started
// hub. Audit failures abort the build.
func BuildHub(ctx context.Context, campaignID, startingUserID string, cfg HubConfig) (*Hub, error) {
	cfg.applyDefaults()
	if cfg.Stores.Session == nil || cfg.Stores.Log == nil {
		return nil, fmt.Errorf("session and log stores are required")
	}

	sessionID, err := cfg.IDGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	session, err := domain.NewSession(sessionID, campaignID)
	if err != nil {
		return nil, err
	}
	if err := cfg.Stores.Session.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session record: %w", err)
	}

	h := &Hub{
		stores:  cfg.Stores,
		peers:   cfg.Peers,
		rules:   cfg.Rules,
		clock:   cfg.Clock,
		session: session,
		state:   hubInstantiated,
		props:   domain.DefaultGameProperties(),
	}
	text := fmt.Sprintf("Session %s instantiated for campaign %s by user %s.", session.ID, session.CampaignID, startingUserID)
	if err := h.logEvent(ctx, domain.EventInstantiated, text, []string{startingUserID}); err != nil {
		return nil, err
	}
	log.Printf("session: instantiated session=%q campaign=%q user=%q", session.ID, session.CampaignID, startingUserID)
	return h, nil
}

// ID returns the session id.
func (h *Hub) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.ID
}

// CampaignID returns the owning campaign id.
func (h *Hub) CampaignID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.CampaignID
}

// URL returns the join URL recorded at start, empty before then.
func (h *Hub) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.URL
}

// GameProperties returns the current shared game properties.
func (h *Hub) GameProperties() domain.GameProperties {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.props
}

// Start makes the hub reachable for joins: it records the STARTED audit
// entry, starts the game clock, and marks the durable record active at the
// given url and host. Starting twice fails with ErrAlreadyStarted.
func (h *Hub) Start(ctx context.Context, url, hostID string, startingUser domain.User) error {
	h.mu.Lock()
	switch h.state {
	case hubStarted:
		h.mu.Unlock()
		return ErrAlreadyStarted
	case hubEnded:
		h.mu.Unlock()
		return ErrEnded
	}
	sessionID := h.session.ID
	h.mu.Unlock()

	text := fmt.Sprintf("Session %s started by user %s.", sessionID, startingUser.ID)
	if err := h.logEvent(ctx, domain.EventStarted, text, []string{startingUser.ID}); err != nil {
		return err
	}
	if err := h.stores.Session.MarkActive(ctx, sessionID, url, hostID); err != nil {
		return fmt.Errorf("mark session active: %w", err)
	}

	h.mu.Lock()
	h.state = hubStarted
	h.startTime = h.clock()
	h.session.Active = true
	h.session.URL = url
	h.session.HostID = hostID
	h.mu.Unlock()

	log.Printf("session: started session=%q url=%q host=%q", sessionID, url, hostID)
	return nil
}

// HandleJoin upgrades an authenticated HTTP request to a websocket
// connection and attaches it to the session roster. It blocks until the
// connection closes.
//
// The CONNECTION audit entry is written before the upgrade; if the entry
// cannot be written the join is refused.
func (h *Hub) HandleJoin(w http.ResponseWriter, r *http.Request, user domain.User) error {
	h.mu.Lock()
	state := h.state
	sessionID := h.session.ID
	h.mu.Unlock()
	switch state {
	case hubInstantiated:
		return ErrNotStarted
	case hubEnded:
		return ErrEnded
	}

	text := fmt.Sprintf("User %s has joined session %s", user.ID, sessionID)
	if err := h.logEvent(r.Context(), domain.EventConnection, text, []string{user.ID}); err != nil {
		return err
	}

	websocket.Handler(func(ws *websocket.Conn) {
		h.attach(&wsPacketConn{conn: ws}, user)
	}).ServeHTTP(w, r)
	return nil
}

// attach registers the connection in the roster, announces the new peer to
// everyone including the joiner, and runs the read loop until close.
func (h *Hub) attach(conn packetConn, user domain.User) {
	client := newClient(h, user, conn, h.clock())

	h.mu.Lock()
	h.clients = append(h.clients, client)
	h.mu.Unlock()

	log.Printf("session: joined session=%q user=%q scid=%q", h.ID(), user.ID, client.scid)

	peer := h.resolvePeer(user)
	peer.SCID = client.scid
	h.Broadcast(wire.Packet{
		Kind:   wire.KindPeerConnected,
		Fields: map[string]any{"peer": peerFields(peer)},
	})

	client.run()
}

// End closes the session: it writes the ENDED audit entry, marks the durable
// record inactive, and closes every client connection. An ended hub accepts
// no further joins.
func (h *Hub) End(ctx context.Context, endingUserID string) error {
	h.mu.Lock()
	if h.state == hubEnded {
		h.mu.Unlock()
		return ErrEnded
	}
	sessionID := h.session.ID
	h.mu.Unlock()

	text := fmt.Sprintf("Session %s ended by user %s.", sessionID, endingUserID)
	if err := h.logEvent(ctx, domain.EventEnded, text, []string{endingUserID}); err != nil {
		return err
	}
	if err := h.stores.Session.MarkInactive(ctx, sessionID); err != nil {
		return fmt.Errorf("mark session inactive: %w", err)
	}

	h.mu.Lock()
	h.state = hubEnded
	h.session.Active = false
	h.session.URL = ""
	h.session.HostID = ""
	closing := h.clients
	h.clients = nil
	h.mu.Unlock()

	// Detached before closing, so the close handlers find no roster entry
	// and skip the per-peer disconnect announcements.
	for _, client := range closing {
		if err := client.conn.Close(); err != nil {
			log.Printf("session: close connection scid=%q: %v", client.scid, err)
		}
	}

	log.Printf("session: ended session=%q user=%q clients=%d", sessionID, endingUserID, len(closing))
	return nil
}

// onClientClose removes the connection from the roster, records the
// DISCONNECT audit entry, and announces the departure to remaining peers. A
// connection already detached by End is ignored.
func (h *Hub) onClientClose(c *Client, code int, reason string) {
	h.mu.Lock()
	found := false
	for i, client := range h.clients {
		if client == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			found = true
			break
		}
	}
	sessionID := h.session.ID
	h.mu.Unlock()
	if !found {
		return
	}

	log.Printf("session: left session=%q user=%q scid=%q code=%d reason=%q", sessionID, c.user.ID, c.scid, code, reason)

	text := fmt.Sprintf("User %s has left session %s", c.user.ID, sessionID)
	if err := h.logEvent(context.Background(), domain.EventDisconnect, text, []string{c.user.ID}); err != nil {
		// The client is already gone; an audit gap is logged, not fatal.
		log.Printf("session: record disconnect session=%q user=%q: %v", sessionID, c.user.ID, err)
	}

	peer := h.resolvePeer(c.user)
	peer.SCID = c.scid
	h.Broadcast(wire.Packet{
		Kind:   wire.KindPeerDisconnected,
		Fields: map[string]any{"peer": peerFields(peer)},
	})
}

// onClientMessage dispatches one well-formed inbound packet.
//
// Request kinds answer only the requester. Game-content kinds are routed to
// the rules engine. Unknown kinds are dropped so older hubs tolerate newer
// clients.
func (h *Hub) onClientMessage(c *Client, packet wire.Packet) {
	log.Printf("session: %s <- scid=%q session=%q", packet.Kind, c.scid, h.ID())

	switch packet.Kind {
	case wire.KindAllInfoReq:
		h.PushAll([]*Client{c})
	case wire.KindPlayerInfoReq:
		h.PushPlayerInfo([]*Client{c})
	case wire.KindCharacterInfoReq:
		h.PushCharacterInfo([]*Client{c})
	case wire.KindGameSpeedReq:
		h.PushGameSpeed([]*Client{c})
	case wire.KindGraceTimeReq:
		h.PushGraceTime([]*Client{c})
	case wire.KindTimerSyncReq:
		h.TimerSync([]*Client{c})
	case wire.KindFireAction, wire.KindFirePause, wire.KindFireResume,
		wire.KindFireChatMessage, wire.KindNewCharacterConfirm:
		h.rules.HandleGameMessage(h, c, packet)
	default:
		log.Printf("session: ignoring %s scid=%q session=%q", packet.Kind, c.scid, h.ID())
	}
}

// onClientBadMessage answers a malformed packet with a protocol fault sent
// to the offending client only.
func (h *Hub) onClientBadMessage(c *Client, raw []byte) {
	log.Printf("session: malformed packet scid=%q session=%q bytes=%d", c.scid, h.ID(), len(raw))
	if err := c.Send(wire.Packet{Kind: wire.KindClientProtocolFault}); err != nil {
		log.Printf("session: send protocol fault scid=%q: %v", c.scid, err)
	}
}

// PushAll sends every data push to the targets: players, characters, game
// speed, grace time, and a timer sync.
func (h *Hub) PushAll(targets []*Client) {
	h.PushPlayerInfo(targets)
	h.PushCharacterInfo(targets)
	h.PushGameSpeed(targets)
	h.PushGraceTime(targets)
	h.TimerSync(targets)
}

// PushPlayerInfo sends the peer list for every connected client. Empty
// targets means broadcast.
func (h *Hub) PushPlayerInfo(targets []*Client) {
	roster := h.roster()
	players := make([]any, 0, len(roster))
	for _, client := range roster {
		peer := h.resolvePeer(client.user)
		peer.SCID = client.scid
		players = append(players, peerFields(peer))
	}
	h.SendToMany(targets, wire.Packet{
		Kind:   wire.KindPlayerInfoPush,
		Fields: map[string]any{"players": players},
	})
}

// PushCharacterInfo sends the session's character instances. Empty targets
// means broadcast.
func (h *Hub) PushCharacterInfo(targets []*Client) {
	h.mu.Lock()
	instances := make([]domain.CharacterInstance, len(h.instances))
	copy(instances, h.instances)
	h.mu.Unlock()

	characters := make([]any, 0, len(instances))
	for _, instance := range instances {
		characters = append(characters, characterFields(instance))
	}
	h.SendToMany(targets, wire.Packet{
		Kind:   wire.KindCharacterInfoPush,
		Fields: map[string]any{"characters": characters},
	})
}

// PushGameSpeed sends the current game speed. Empty targets means broadcast.
func (h *Hub) PushGameSpeed(targets []*Client) {
	props := h.GameProperties()
	h.SendToMany(targets, wire.Packet{
		Kind:   wire.KindGameSpeedPush,
		Fields: map[string]any{"speed": props.GameSpeed},
	})
}

// PushGraceTime sends the current grace time in milliseconds. Empty targets
// means broadcast.
func (h *Hub) PushGraceTime(targets []*Client) {
	props := h.GameProperties()
	h.SendToMany(targets, wire.Packet{
		Kind:   wire.KindGraceTimePush,
		Fields: map[string]any{"grace": props.GraceTime.Milliseconds()},
	})
}

// TimerSync sends each target the elapsed game time in milliseconds. The
// elapsed value is read per send, never cached, so later targets get a
// fresher reading. Empty targets means broadcast.
func (h *Hub) TimerSync(targets []*Client) {
	if len(targets) == 0 {
		targets = h.roster()
	}
	for _, target := range targets {
		h.mu.Lock()
		start := h.startTime
		h.mu.Unlock()
		elapsed := h.clock().Sub(start).Milliseconds()
		packet := wire.Packet{
			Kind:   wire.KindTimerSync,
			Fields: map[string]any{"time": elapsed},
		}
		if err := target.Send(packet); err != nil {
			log.Printf("session: send %s scid=%q: %v", packet.Kind, target.scid, err)
		}
	}
}

// SetGameSpeed updates the shared game speed and pushes it to everyone.
func (h *Hub) SetGameSpeed(speed float64) {
	h.mu.Lock()
	h.props.GameSpeed = speed
	h.mu.Unlock()
	h.PushGameSpeed(nil)
}

// SetGraceTime updates the shared grace time and pushes it to everyone.
func (h *Hub) SetGraceTime(grace time.Duration) {
	h.mu.Lock()
	h.props.GraceTime = grace
	h.mu.Unlock()
	h.PushGraceTime(nil)
}

// AddCharacterInstance registers a character instance with the session and
// pushes the updated character list to everyone.
func (h *Hub) AddCharacterInstance(instance domain.CharacterInstance) {
	h.mu.Lock()
	h.instances = append(h.instances, instance)
	h.mu.Unlock()
	h.PushCharacterInfo(nil)
}

// SendToMany delivers a packet to each target; empty targets means
// broadcast. A failed send is logged and skipped so one dead connection
// never blocks delivery to the rest.
func (h *Hub) SendToMany(targets []*Client, packet wire.Packet) {
	if len(targets) == 0 {
		targets = h.roster()
	}
	for _, target := range targets {
		if err := target.Send(packet); err != nil {
			log.Printf("session: send %s scid=%q: %v", packet.Kind, target.scid, err)
		}
	}
}

// Broadcast delivers a packet to every connected client.
func (h *Hub) Broadcast(packet wire.Packet) {
	h.SendToMany(h.roster(), packet)
}

func (h *Hub) roster() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	roster := make([]*Client, len(h.clients))
	copy(roster, h.clients)
	return roster
}

func (h *Hub) resolvePeer(user domain.User) domain.Peer {
	peer, err := h.peers.ResolvePeer(user)
	if err != nil {
		log.Printf("session: resolve peer user=%q: %v", user.ID, err)
		return domain.Peer{ID: user.ID, DisplayName: user.DisplayName}
	}
	return peer
}

func (h *Hub) logEvent(ctx context.Context, event domain.Event, text string, users []string) error {
	entry := domain.LogEntry{
		SessionID:     h.session.ID,
		Event:         event,
		Timestamp:     h.clock().UTC(),
		Text:          text,
		InvolvedUsers: users,
	}
	if err := h.stores.Log.AppendLogEntry(ctx, entry); err != nil {
		return fmt.Errorf("append %s log entry: %w", event, err)
	}
	return nil
}

func peerFields(peer domain.Peer) map[string]any {
	fields := map[string]any{
		"id":           peer.ID,
		"display_name": peer.DisplayName,
	}
	if peer.SCID != "" {
		fields["scid"] = peer.SCID
	}
	return fields
}

func characterFields(instance domain.CharacterInstance) map[string]any {
	fields := map[string]any{"attributes": instance.Attributes()}
	if instanceID, ok := instance.InstanceID(); ok {
		fields["instance_id"] = instanceID
	}
	return fields
}
