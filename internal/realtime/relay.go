package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"scriptroom/api/internal/rbac"
	"scriptroom/api/internal/store"
)

// The operation relay. Every edit operation shares one posture: load the
// authoritative document, require the editor tier, guard the index,
// persist, append history, then broadcast to every other connection in
// the room. Invalid or unauthorized operations are dropped silently: a
// denied client cannot distinguish denial from a vanished document, and
// other participants never observe the attempt.

func (h *Hub) HandleTitleChange(ctx context.Context, c *Client, data json.RawMessage) {
	var p titleChangePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := h.loadForEdit(ctx, c)
	if !ok {
		return
	}
	if err := h.store.UpdateDocumentTitle(ctx, doc.ID, p.Title); err != nil {
		log.Printf("realtime: title change %s: %v", doc.ID, err)
		return
	}
	doc.Title = p.Title
	h.appendOpHistory(ctx, c, doc.ID, store.HistoryTitleChange, p)
	r.broadcast(c, EventTitleUpdated, p)
	h.maybeSnapshot(ctx, r, doc)
}

func (h *Hub) HandleElementChange(ctx context.Context, c *Client, data json.RawMessage) {
	var p elementChangePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := h.loadForEdit(ctx, c)
	if !ok {
		return
	}
	if p.Index < 0 || p.Index >= len(doc.Elements) {
		return
	}

	// Element identity is the stored id; the index is only transient
	// addressing, so the id never changes on edit.
	el := doc.Elements[p.Index]
	el.Content = p.Element.Content
	if p.Element.Type.Valid() {
		el.Type = p.Element.Type
	}
	doc.Elements[p.Index] = el

	if !h.persistElements(ctx, &doc) {
		return
	}
	h.appendOpHistory(ctx, c, doc.ID, store.HistoryElementChange, elementChangePayload{Index: p.Index, Element: el})
	r.broadcast(c, EventElementUpdated, elementChangePayload{Index: p.Index, Element: el})
	h.maybeSnapshot(ctx, r, doc)
}

func (h *Hub) HandleElementTypeChange(ctx context.Context, c *Client, data json.RawMessage) {
	var p elementTypeChangePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !p.Type.Valid() {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := h.loadForEdit(ctx, c)
	if !ok {
		return
	}
	if p.Index < 0 || p.Index >= len(doc.Elements) {
		return
	}
	doc.Elements[p.Index].Type = p.Type

	if !h.persistElements(ctx, &doc) {
		return
	}
	h.appendOpHistory(ctx, c, doc.ID, store.HistoryElementTypeChange, p)
	r.broadcast(c, EventElementTypeUpdated, p)
	h.maybeSnapshot(ctx, r, doc)
}

func (h *Hub) HandleElementInsert(ctx context.Context, c *Client, data json.RawMessage) {
	var p elementInsertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.Element.ID == "" || !p.Element.Type.Valid() {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := h.loadForEdit(ctx, c)
	if !ok {
		return
	}
	if p.AfterIndex < 0 || p.AfterIndex >= len(doc.Elements) {
		return
	}
	// Ids are caller-generated; a colliding id is rejected rather than
	// tolerated so element addressing stays unambiguous.
	for _, el := range doc.Elements {
		if el.ID == p.Element.ID {
			return
		}
	}

	elements := make([]store.Element, 0, len(doc.Elements)+1)
	elements = append(elements, doc.Elements[:p.AfterIndex+1]...)
	elements = append(elements, p.Element)
	elements = append(elements, doc.Elements[p.AfterIndex+1:]...)
	doc.Elements = elements

	if !h.persistElements(ctx, &doc) {
		return
	}
	h.appendOpHistory(ctx, c, doc.ID, store.HistoryElementInsert, p)
	r.broadcast(c, EventElementInserted, p)
	h.maybeSnapshot(ctx, r, doc)
}

func (h *Hub) HandleElementDelete(ctx context.Context, c *Client, data json.RawMessage) {
	var p elementDeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := h.loadForEdit(ctx, c)
	if !ok {
		return
	}
	if p.Index < 0 || p.Index >= len(doc.Elements) {
		return
	}
	// A document never goes below one element.
	if len(doc.Elements) <= 1 {
		return
	}
	doc.Elements = append(doc.Elements[:p.Index], doc.Elements[p.Index+1:]...)

	if !h.persistElements(ctx, &doc) {
		return
	}
	h.appendOpHistory(ctx, c, doc.ID, store.HistoryElementDelete, p)
	r.broadcast(c, EventElementDeleted, p)
	h.maybeSnapshot(ctx, r, doc)
}

// HandleCursorMove relays a caret position. Cursors are presence
// signals, not document mutations: no persistence, no history, and no
// editor requirement. Any admitted identity may move its cursor.
func (h *Hub) HandleCursorMove(_ context.Context, c *Client, data json.RawMessage) {
	var p Cursor
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r := h.opRoom(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[c.IdentityKey()]
	if !ok {
		return
	}
	cursor := p
	entry.Cursor = &cursor

	r.broadcast(c, EventCursorUpdated, map[string]any{
		"userId": entry.Key,
		"cursor": cursor,
	})
}

// opRoom returns the client's room, or nil when the client never joined
// (operations before join-document are dropped).
func (h *Hub) opRoom(c *Client) *Room {
	if !c.joined {
		return nil
	}
	return h.room(c.DocID)
}

// loadForEdit loads the authoritative document and checks the editor
// tier against the role fixed at join time. Both failure modes drop
// silently.
func (h *Hub) loadForEdit(ctx context.Context, c *Client) (store.Document, bool) {
	doc, err := h.store.GetDocument(ctx, c.DocID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("realtime: load document %s: %v", c.DocID, err)
		}
		return store.Document{}, false
	}
	if !c.Role.AtLeast(rbac.RoleEditor) {
		return store.Document{}, false
	}
	return doc, true
}

func (h *Hub) persistElements(ctx context.Context, doc *store.Document) bool {
	characters, locations := store.DeriveNames(doc.Elements)
	doc.Characters = characters
	doc.Locations = locations
	if err := h.store.UpdateDocumentElements(ctx, doc.ID, doc.Elements, characters, locations); err != nil {
		log.Printf("realtime: persist elements %s: %v", doc.ID, err)
		return false
	}
	return true
}

// appendOpHistory records an accepted mutation. The append runs after
// the document write succeeded; if it fails only the audit record is
// lost, never the edit, so the error is logged and swallowed.
func (h *Hub) appendOpHistory(ctx context.Context, c *Client, documentID, kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("realtime: marshal history payload %s: %v", documentID, err)
		return
	}
	var actorID *string
	if c.UserID != "" {
		id := c.UserID
		actorID = &id
	}
	if err := h.store.AppendHistory(ctx, store.HistoryEntry{
		DocumentID: documentID,
		Kind:       kind,
		ActorID:    actorID,
		Payload:    raw,
	}); err != nil {
		log.Printf("realtime: append history %s: %v", documentID, err)
	}
}
