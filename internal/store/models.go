package store

import (
	"encoding/json"
	"time"

	"scriptroom/api/internal/rbac"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Color        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ElementType is the closed set of screenplay paragraph kinds.
type ElementType string

const (
	ElementScene         ElementType = "scene"
	ElementAction        ElementType = "action"
	ElementCharacter     ElementType = "character"
	ElementDialogue      ElementType = "dialogue"
	ElementParenthetical ElementType = "parenthetical"
	ElementTransition    ElementType = "transition"
)

func (t ElementType) Valid() bool {
	switch t {
	case ElementScene, ElementAction, ElementCharacter, ElementDialogue,
		ElementParenthetical, ElementTransition:
		return true
	default:
		return false
	}
}

// Element is one typed paragraph of a screenplay. Its identity is the id,
// assigned at creation and stable across edits; indices are transient wire
// addressing only.
type Element struct {
	ID      string      `json:"id"`
	Type    ElementType `json:"type"`
	Content string      `json:"content"`
}

type Collaborator struct {
	UserID  string    `json:"userId"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"addedAt"`
}

type PublicAccess struct {
	Enabled bool   `json:"enabled"`
	Role    string `json:"role"`
}

type CommentReply struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Comment struct {
	ID         string         `json:"id"`
	ElementID  string         `json:"elementId"`
	AuthorID   string         `json:"authorId"`
	AuthorName string         `json:"authorName"`
	Content    string         `json:"content"`
	Resolved   bool           `json:"resolved"`
	Replies    []CommentReply `json:"replies"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Document is the authoritative copy of one screenplay. ID is the short
// URL-safe identifier; it never changes once assigned. Elements is never
// empty for a stored document.
type Document struct {
	ID            string
	Title         string
	Elements      []Element
	Characters    []string
	Locations     []string
	Comments      []Comment
	OwnerID       string
	Collaborators []Collaborator
	Public        PublicAccess
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SnapshotAt    time.Time
}

// Access projects the document's permission metadata for the evaluator.
func (d Document) Access() rbac.Access {
	grants := make([]rbac.Grant, 0, len(d.Collaborators))
	for _, c := range d.Collaborators {
		grants = append(grants, rbac.Grant{UserID: c.UserID, Role: rbac.Normalize(c.Role)})
	}
	return rbac.Access{
		OwnerID:       d.OwnerID,
		Collaborators: grants,
		Public: rbac.PublicPolicy{
			Enabled: d.Public.Enabled,
			Role:    rbac.Normalize(d.Public.Role),
		},
	}
}

// History action kinds. Entries are immutable once written.
const (
	HistoryTitleChange       = "title-change"
	HistoryElementChange     = "element-change"
	HistoryElementTypeChange = "element-type-change"
	HistoryElementInsert     = "element-insert"
	HistoryElementDelete     = "element-delete"
	HistorySnapshot          = "snapshot"
)

type HistoryEntry struct {
	ID         int64
	DocumentID string
	Kind       string
	ActorID    *string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// SnapshotPayload is the payload shape of a snapshot entry: the full
// element sequence and title at one instant, the unit of restore.
type SnapshotPayload struct {
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
}
