package realtime

import (
	"sort"
	"sync"

	"scriptroom/api/internal/rbac"
)

// PresenceEntry is the deduplicated live-state record for one identity in
// a room. It exists exactly as long as its connection set is non-empty.
type PresenceEntry struct {
	Key    string
	UserID string
	Name   string
	Color  string
	Role   rbac.Role
	Cursor *Cursor

	conns map[string]*Client // by connection id
}

// Room holds the presence state of one document. All mutation and every
// broadcast happens under mu: a newly joined connection's bootstrap send
// occurs inside the same critical section as its registration, so no
// relayed operation can reach it first.
type Room struct {
	docID   string
	mu      sync.Mutex
	entries map[string]*PresenceEntry // by identity key
	conns   map[string]*Client        // by connection id

	// closed marks a room the hub has discarded. A joiner that raced the
	// last leaver and locked this room must abandon it and get a fresh
	// one from the hub.
	closed bool

	opsSinceSnapshot int
}

func newRoom(docID string) *Room {
	return &Room{
		docID:   docID,
		entries: make(map[string]*PresenceEntry),
		conns:   make(map[string]*Client),
	}
}

// add registers a connection under its identity key. It reports whether
// this created a new presence entry (false for tabs 2..n of the same
// authenticated identity, which must not re-broadcast a join).
func (r *Room) add(c *Client) (entry *PresenceEntry, created bool) {
	key := c.IdentityKey()
	entry, ok := r.entries[key]
	if !ok {
		entry = &PresenceEntry{
			Key:    key,
			UserID: c.UserID,
			Name:   c.Name,
			Color:  c.Color,
			Role:   c.Role,
			conns:  make(map[string]*Client),
		}
		r.entries[key] = entry
		created = true
	}
	entry.conns[c.ID] = c
	r.conns[c.ID] = c
	return entry, created
}

// remove drops a connection; it reports whether the identity's presence
// entry disappeared with it.
func (r *Room) remove(c *Client) (removedEntry bool) {
	delete(r.conns, c.ID)
	entry, ok := r.entries[c.IdentityKey()]
	if !ok {
		return false
	}
	delete(entry.conns, c.ID)
	if len(entry.conns) == 0 {
		delete(r.entries, entry.Key)
		return true
	}
	return false
}

func (r *Room) empty() bool {
	return len(r.entries) == 0
}

// users snapshots the live-user list, stable by identity key.
func (r *Room) users() []RoomUser {
	list := make([]RoomUser, 0, len(r.entries))
	for _, entry := range r.entries {
		list = append(list, RoomUser{
			ID:     entry.Key,
			Name:   entry.Name,
			Color:  entry.Color,
			Role:   entry.Role,
			Cursor: entry.Cursor,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// broadcast sends an event to every connection in the room except the
// originator (which already applied the change locally before sending).
// Callers hold r.mu.
func (r *Room) broadcast(except *Client, event string, data any) {
	for id, c := range r.conns {
		if except != nil && id == except.ID {
			continue
		}
		_ = c.send(event, data)
	}
}
