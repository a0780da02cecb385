package app

import (
	"context"
	"sync"
	"time"

	"scriptroom/api/internal/realtime"
	"scriptroom/api/internal/store"
)

// memStore is an in-memory dataStore for service and handler tests.
// Optional fn fields override individual methods when a test needs a
// failure path.
type memStore struct {
	mu      sync.Mutex
	users   map[string]store.User
	docs    map[string]store.Document
	history []store.HistoryEntry
	revoked map[string]bool

	getDocumentFn   func(context.Context, string) (store.Document, error)
	appendHistoryFn func(context.Context, store.HistoryEntry) error
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]store.User),
		docs:    make(map[string]store.Document),
		revoked: make(map[string]bool),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) InsertDocument(_ context.Context, doc store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if m.getDocumentFn != nil {
		return m.getDocumentFn(ctx, documentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) ListDocumentsForUser(_ context.Context, userID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []store.Document
	for _, doc := range m.docs {
		if doc.OwnerID == userID {
			docs = append(docs, doc)
			continue
		}
		for _, collab := range doc.Collaborators {
			if collab.UserID == userID {
				docs = append(docs, doc)
				break
			}
		}
	}
	return docs, nil
}

func (m *memStore) UpdateDocumentComments(_ context.Context, documentID string, comments []store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.Comments = comments
	m.docs[documentID] = doc
	return nil
}

func (m *memStore) UpdateDocumentSharing(_ context.Context, documentID string, collaborators []store.Collaborator, public store.PublicAccess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.Collaborators = collaborators
	doc.Public = public
	m.docs[documentID] = doc
	return nil
}

func (m *memStore) RestoreDocumentContent(_ context.Context, documentID, title string, elements []store.Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.Title = title
	doc.Elements = elements
	doc.Characters, doc.Locations = store.DeriveNames(elements)
	doc.SnapshotAt = time.Now()
	m.docs[documentID] = doc
	return nil
}

func (m *memStore) TouchSnapshot(_ context.Context, documentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.SnapshotAt = at
	m.docs[documentID] = doc
	return nil
}

func (m *memStore) AppendHistory(ctx context.Context, entry store.HistoryEntry) error {
	if m.appendHistoryFn != nil {
		return m.appendHistoryFn(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.history) + 1)
	entry.CreatedAt = time.Now()
	m.history = append(m.history, entry)
	return nil
}

func (m *memStore) ListHistory(_ context.Context, documentID string, limit int) ([]store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var entries []store.HistoryEntry
	for i := len(m.history) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.history[i].DocumentID == documentID {
			entries = append(entries, m.history[i])
		}
	}
	return entries, nil
}

func (m *memStore) GetHistoryEntry(_ context.Context, documentID string, entryID int64) (store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.history {
		if entry.DocumentID == documentID && entry.ID == entryID {
			return entry, nil
		}
	}
	return store.HistoryEntry{}, store.ErrNotFound
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) document(id string) store.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id]
}

// memSessions is an in-memory sessionStore.
type memSessions struct {
	mu     sync.Mutex
	tokens map[string]store.User
}

func newMemSessions() *memSessions {
	return &memSessions{tokens: make(map[string]store.User)}
}

func (m *memSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenHash] = user
	return nil
}

func (m *memSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.tokens[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memSessions) Ping(context.Context) error { return nil }

// recordingBroadcaster captures fan-out calls.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	datas  []any
	users  []realtime.RoomUser
}

func (b *recordingBroadcaster) BroadcastToDocument(_, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	b.datas = append(b.datas, data)
}

func (b *recordingBroadcaster) Presence(string) []realtime.RoomUser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users
}

func (b *recordingBroadcaster) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}
