package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"scriptroom/api/internal/rbac"
	"scriptroom/api/internal/store"
)

// DocumentStore is the persistence surface the hub needs. Implemented by
// *store.PostgresStore and faked in tests.
type DocumentStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	UpdateDocumentTitle(ctx context.Context, documentID, title string) error
	UpdateDocumentElements(ctx context.Context, documentID string, elements []store.Element, characters, locations []string) error
	AddCollaborator(ctx context.Context, documentID string, collab store.Collaborator) error
	AppendHistory(ctx context.Context, entry store.HistoryEntry) error
	TouchSnapshot(ctx context.Context, documentID string, at time.Time) error
}

// Hub owns every live room. Rooms are created lazily on the first join
// and discarded when their last connection leaves.
type Hub struct {
	store         DocumentStore
	snapshotEvery int

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(documentStore DocumentStore, snapshotEvery int) *Hub {
	if snapshotEvery <= 0 {
		snapshotEvery = 100
	}
	return &Hub{
		store:         documentStore,
		snapshotEvery: snapshotEvery,
		rooms:         make(map[string]*Room),
	}
}

func (h *Hub) room(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[documentID]
}

func (h *Hub) ensureRoom(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[documentID]
	if !ok {
		r = newRoom(documentID)
		h.rooms[documentID] = r
	}
	return r
}

// Join bootstraps a connection into a document room: resolve access at
// viewer tier, auto-enroll first-time authenticated joiners, register
// presence, send the full document-state snapshot to the joiner, then
// announce the arrival to everyone else. On failure the connection gets a
// terminal error event and no presence side effects occur.
func (h *Hub) Join(ctx context.Context, c *Client, documentID string) error {
	if c.joined {
		c.SendError("already joined")
		return errors.New("already joined")
	}

	doc, err := h.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		c.SendError("document not found")
		return err
	}
	if err != nil {
		log.Printf("realtime: load document %s: %v", documentID, err)
		c.SendError("document not found")
		return err
	}

	role, ok := rbac.Resolve(doc.Access(), c.UserID)
	if !ok {
		c.SendError("access denied")
		return errors.New("access denied")
	}

	// Auto-enrollment: an authenticated identity joining a document it
	// does not own gets a collaborator record at the resolved role.
	if c.UserID != "" && c.UserID != doc.OwnerID && !hasCollaborator(doc, c.UserID) {
		collab := store.Collaborator{UserID: c.UserID, Role: string(role), AddedAt: time.Now()}
		if err := h.store.AddCollaborator(ctx, documentID, collab); err != nil {
			log.Printf("realtime: auto-enroll %s on %s: %v", c.UserID, documentID, err)
		} else {
			log.Printf("realtime: enrolled %s on %s as %s", c.UserID, documentID, role)
			doc.Collaborators = append(doc.Collaborators, collab)
		}
	}

	c.DocID = documentID
	c.Role = role
	c.joined = true

	r := h.ensureRoom(documentID)
	r.mu.Lock()
	for r.closed {
		r.mu.Unlock()
		r = h.ensureRoom(documentID)
		r.mu.Lock()
	}
	defer r.mu.Unlock()

	entry, created := r.add(c)
	users := r.users()

	_ = c.send(EventDocumentState, documentStatePayload{
		ID:            doc.ID,
		Title:         doc.Title,
		Elements:      doc.Elements,
		Characters:    doc.Characters,
		Locations:     doc.Locations,
		Comments:      doc.Comments,
		Users:         users,
		Role:          role,
		Collaborators: doc.Collaborators,
	})

	if created {
		r.broadcast(c, EventUserJoined, map[string]any{
			"user": RoomUser{
				ID:    entry.Key,
				Name:  entry.Name,
				Color: entry.Color,
				Role:  entry.Role,
			},
			"users": users,
		})
	}
	return nil
}

// Leave drops a connection from its room. When the identity's last
// connection closes its presence entry goes with it and the departure is
// broadcast; when the room's last entry goes, the room itself is
// discarded.
func (h *Hub) Leave(c *Client) {
	if !c.joined {
		return
	}
	r := h.room(c.DocID)
	if r == nil {
		return
	}

	r.mu.Lock()
	key := c.IdentityKey()
	removedEntry := r.remove(c)
	roomEmpty := r.empty()
	if removedEntry && !roomEmpty {
		r.broadcast(nil, EventUserLeft, map[string]any{
			"id":    key,
			"users": r.users(),
		})
	}
	r.mu.Unlock()

	if roomEmpty {
		h.mu.Lock()
		if current, ok := h.rooms[c.DocID]; ok {
			current.mu.Lock()
			if current.empty() {
				current.closed = true
				delete(h.rooms, c.DocID)
			}
			current.mu.Unlock()
		}
		h.mu.Unlock()
	}
	c.joined = false
}

// BroadcastToDocument fans an event out to every connection in a
// document's room. Used by the HTTP side (restore, comments) where no
// room connection originates the change. A missing room is a no-op.
func (h *Hub) BroadcastToDocument(documentID, event string, data any) {
	r := h.room(documentID)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.broadcast(nil, event, data)
	r.mu.Unlock()
}

// Presence returns the live-user list of a document's room.
func (h *Hub) Presence(documentID string) []RoomUser {
	r := h.room(documentID)
	if r == nil {
		return []RoomUser{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users()
}

// maybeSnapshot writes a full snapshot history entry once enough
// operations have accumulated since the last one. Called under the room
// lock after a successful operation append. The counter is in-memory
// only; a restart just restarts the cadence.
func (h *Hub) maybeSnapshot(ctx context.Context, r *Room, doc store.Document) {
	r.opsSinceSnapshot++
	if r.opsSinceSnapshot < h.snapshotEvery {
		return
	}
	if err := h.appendSnapshot(ctx, doc, nil); err != nil {
		log.Printf("realtime: snapshot %s: %v", doc.ID, err)
		return
	}
	r.opsSinceSnapshot = 0
}

func (h *Hub) appendSnapshot(ctx context.Context, doc store.Document, actorID *string) error {
	payload, err := json.Marshal(store.SnapshotPayload{Title: doc.Title, Elements: doc.Elements})
	if err != nil {
		return err
	}
	if err := h.store.AppendHistory(ctx, store.HistoryEntry{
		DocumentID: doc.ID,
		Kind:       store.HistorySnapshot,
		ActorID:    actorID,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return h.store.TouchSnapshot(ctx, doc.ID, time.Now())
}

func hasCollaborator(doc store.Document, userID string) bool {
	for _, collab := range doc.Collaborators {
		if collab.UserID == userID {
			return true
		}
	}
	return false
}
