package realtime

import (
	"sync"

	"scriptroom/api/internal/rbac"
)

// wireConn is the transport surface a client needs. *websocket.Conn
// satisfies it; tests substitute a recording fake.
type wireConn interface {
	WriteJSON(v any) error
	Close() error
}

// Client is one live transport connection. A client belongs to at most
// one room; DocID and Role are set by the join and never change for the
// lifetime of the connection. A mid-session privilege change takes
// effect on the next reconnect, which the join/broadcast ordering relies
// on.
type Client struct {
	ID     string // connection id
	UserID string // durable identity id, empty when anonymous
	Name   string
	Color  string

	DocID  string
	Role   rbac.Role
	joined bool

	conn    wireConn
	writeMu sync.Mutex // the websocket allows one concurrent writer
}

func NewClient(connectionID, userID, name, color string, conn wireConn) *Client {
	return &Client{
		ID:     connectionID,
		UserID: userID,
		Name:   name,
		Color:  color,
		conn:   conn,
	}
}

// IdentityKey dedupes presence: authenticated connections share their
// durable user id, anonymous connections stand alone under the
// connection id.
func (c *Client) IdentityKey() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.ID
}

func (c *Client) send(event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame{Event: event, Data: data})
}

// SendError emits a terminal error event on this connection only.
func (c *Client) SendError(message string) {
	_ = c.send(EventError, errorPayload{Message: message})
}
