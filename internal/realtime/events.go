package realtime

import (
	"encoding/json"

	"scriptroom/api/internal/rbac"
	"scriptroom/api/internal/store"
)

// Client → server events.
const (
	EventJoinDocument      = "join-document"
	EventTitleChange       = "title-change"
	EventElementChange     = "element-change"
	EventElementTypeChange = "element-type-change"
	EventElementInsert     = "element-insert"
	EventElementDelete     = "element-delete"
	EventCursorMove        = "cursor-move"
)

// Server → client events.
const (
	EventDocumentState      = "document-state"
	EventTitleUpdated       = "title-updated"
	EventElementUpdated     = "element-updated"
	EventElementTypeUpdated = "element-type-updated"
	EventElementInserted    = "element-inserted"
	EventElementDeleted     = "element-deleted"
	EventCursorUpdated      = "cursor-updated"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventDocumentRestored   = "document-restored"
	EventCommentAdded       = "comment-added"
	EventCommentReply       = "comment-reply-added"
	EventCommentResolved    = "comment-resolved"
	EventError              = "error"
)

// Envelope frames every message on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// frame is the outbound counterpart; Data is marshaled in place.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Cursor is a live caret position, element-index addressed.
type Cursor struct {
	Index    int `json:"index"`
	Position int `json:"position"`
}

// RoomUser is the wire shape of one presence entry.
type RoomUser struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Color  string    `json:"color"`
	Role   rbac.Role `json:"role"`
	Cursor *Cursor   `json:"cursor,omitempty"`
}

type joinPayload struct {
	DocID string `json:"docId"`
}

type titleChangePayload struct {
	Title string `json:"title"`
}

type elementChangePayload struct {
	Index   int           `json:"index"`
	Element store.Element `json:"element"`
}

type elementTypeChangePayload struct {
	Index int               `json:"index"`
	Type  store.ElementType `json:"type"`
}

type elementInsertPayload struct {
	AfterIndex int           `json:"afterIndex"`
	Element    store.Element `json:"element"`
}

type elementDeletePayload struct {
	Index int `json:"index"`
}

type documentStatePayload struct {
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Elements      []store.Element      `json:"elements"`
	Characters    []string             `json:"characters"`
	Locations     []string             `json:"locations"`
	Comments      []store.Comment      `json:"comments"`
	Users         []RoomUser           `json:"users"`
	Role          rbac.Role            `json:"role"`
	Collaborators []store.Collaborator `json:"collaborators"`
}

type errorPayload struct {
	Message string `json:"message"`
}
