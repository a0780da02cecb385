package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scriptroom/api/internal/store"
	"scriptroom/api/internal/util"
)

// SessionResolver turns a bearer token into an identity. Implemented by
// app.Service; anonymous connections carry no token at all.
type SessionResolver interface {
	IdentityFromToken(ctx context.Context, token string) (store.User, error)
}

// Handler upgrades HTTP requests to websocket connections and runs each
// connection's read loop. Message handling is sequential per connection;
// connections run concurrently with each other.
type Handler struct {
	hub      *Hub
	sessions SessionResolver
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, sessions SessionResolver, corsOrigin string) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == corsOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Browsers cannot set headers on websocket dials, so the token rides
	// the query string; a header is accepted for non-browser clients.
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token = strings.TrimPrefix(header, "Bearer ")
	}

	var identity store.User
	if token != "" {
		user, err := h.sessions.IdentityFromToken(r.Context(), token)
		if err != nil {
			// An expired token degrades to an anonymous connection; the
			// join still runs the access check, so nothing is granted.
			log.Printf("realtime: token rejected: %v", err)
		} else {
			identity = user
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()
	name := identity.DisplayName
	color := identity.Color
	if identity.ID == "" {
		name = "Guest-" + connectionID[:4]
		color = util.ColorFor(connectionID)
	}

	client := NewClient(connectionID, identity.ID, name, color, conn)
	defer func() {
		h.hub.Leave(client)
		_ = conn.Close()
	}()

	h.readLoop(r.Context(), client, conn)
}

func (h *Handler) readLoop(ctx context.Context, c *Client, conn *websocket.Conn) {
	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		h.dispatch(ctx, c, envelope)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, envelope Envelope) {
	if envelope.Event == EventJoinDocument {
		var p joinPayload
		if err := json.Unmarshal(envelope.Data, &p); err != nil || p.DocID == "" {
			c.SendError("invalid join payload")
			return
		}
		_ = h.hub.Join(ctx, c, p.DocID)
		return
	}

	switch envelope.Event {
	case EventTitleChange:
		h.hub.HandleTitleChange(ctx, c, envelope.Data)
	case EventElementChange:
		h.hub.HandleElementChange(ctx, c, envelope.Data)
	case EventElementTypeChange:
		h.hub.HandleElementTypeChange(ctx, c, envelope.Data)
	case EventElementInsert:
		h.hub.HandleElementInsert(ctx, c, envelope.Data)
	case EventElementDelete:
		h.hub.HandleElementDelete(ctx, c, envelope.Data)
	case EventCursorMove:
		h.hub.HandleCursorMove(ctx, c, envelope.Data)
	}
}
