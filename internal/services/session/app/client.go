package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cityofconcourse/concourse/internal/services/session/domain"
	"github.com/cityofconcourse/concourse/internal/services/session/wire"
	"golang.org/x/net/websocket"
)

// packetConn is the transport surface a client connection needs: one message
// in, one message out, one packet per message.
type packetConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type wsPacketConn struct {
	conn *websocket.Conn
}

func (c *wsPacketConn) ReadMessage() ([]byte, error) {
	var data []byte
	if err := websocket.Message.Receive(c.conn, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsPacketConn) WriteMessage(data []byte) error {
	return websocket.Message.Send(c.conn, string(data))
}

func (c *wsPacketConn) Close() error {
	return c.conn.Close()
}

// Client wraps one live client connection to a session hub.
//
// It is a relay: inbound bytes are decoded and forwarded to the hub, and the
// hub sends packets back through Send. All session policy lives in the hub.
type Client struct {
	hub  *Hub
	user domain.User
	scid string
	conn packetConn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newClient(hub *Hub, user domain.User, conn packetConn, connectedAt time.Time) *Client {
	return &Client{
		hub:  hub,
		user: user,
		// The scid disambiguates the same user connected twice. A reconnect
		// always yields a fresh client with a fresh scid.
		scid: fmt.Sprintf("%s+%d", user.ID, connectedAt.UnixMilli()),
		conn: conn,
	}
}

// User returns the authenticated identity attached to the connection.
func (c *Client) User() domain.User {
	return c.user
}

// SCID returns the session-connection id for this connection.
func (c *Client) SCID() string {
	return c.scid
}

// Send serializes a packet and writes it to the transport. Writes are
// serialized per connection; every outbound packet is logged before the
// write.
func (c *Client) Send(packet wire.Packet) error {
	data, err := wire.Encode(packet.Kind, packet.Fields)
	if err != nil {
		return fmt.Errorf("encode %s packet: %w", packet.Kind, err)
	}

	log.Printf("session: %s -> scid=%q session=%q", packet.Kind, c.scid, c.hub.ID())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write %s packet: %w", packet.Kind, err)
	}
	return nil
}

// run reads inbound messages until the transport closes, forwarding each to
// the hub. The hub's close handler is notified exactly once.
func (c *Client) run() {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			c.closeOnce.Do(func() {
				c.hub.onClientClose(c, code, reason)
			})
			return
		}

		packet, err := wire.Decode(data)
		if err != nil {
			// A malformed packet is not fatal: the hub answers with a
			// protocol fault and the connection stays open.
			c.hub.onClientBadMessage(c, data)
			continue
		}
		c.hub.onClientMessage(c, packet)
	}
}

func closeDetails(err error) (code int, reason string) {
	if errors.Is(err, io.EOF) {
		return 1000, "connection closed"
	}
	return 1006, err.Error()
}
