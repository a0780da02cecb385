package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"scriptroom/api/internal/store"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	closed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v.(frame))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		names = append(names, fr.Event)
	}
	return names
}

func (f *fakeConn) lastFrame() (frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return frame{}, false
	}
	return f.frames[len(f.frames)-1], true
}

func (f *fakeConn) count(event string) int {
	n := 0
	for _, name := range f.events() {
		if name == event {
			n++
		}
	}
	return n
}

// fakeDocStore is an in-memory DocumentStore. GetDocument hands out
// copies, the way a real store materializes fresh rows.
type fakeDocStore struct {
	mu         sync.Mutex
	docs       map[string]store.Document
	history    []store.HistoryEntry
	snapshots  int
	failWrites bool
}

func newFakeDocStore(docs ...store.Document) *fakeDocStore {
	f := &fakeDocStore{docs: make(map[string]store.Document)}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
	}
	return f
}

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	copied := doc
	copied.Elements = append([]store.Element(nil), doc.Elements...)
	copied.Collaborators = append([]store.Collaborator(nil), doc.Collaborators...)
	return copied, nil
}

func (f *fakeDocStore) UpdateDocumentTitle(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errTestWrite
	}
	doc, ok := f.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Title = title
	f.docs[id] = doc
	return nil
}

func (f *fakeDocStore) UpdateDocumentElements(_ context.Context, id string, elements []store.Element, characters, locations []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errTestWrite
	}
	doc, ok := f.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Elements = append([]store.Element(nil), elements...)
	doc.Characters = characters
	doc.Locations = locations
	f.docs[id] = doc
	return nil
}

func (f *fakeDocStore) AddCollaborator(_ context.Context, id string, collab store.Collaborator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Collaborators = append(doc.Collaborators, collab)
	f.docs[id] = doc
	return nil
}

func (f *fakeDocStore) AppendHistory(_ context.Context, entry store.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.history) + 1)
	entry.CreatedAt = time.Now()
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeDocStore) TouchSnapshot(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return nil
}

func (f *fakeDocStore) document(id string) store.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

func (f *fakeDocStore) historyKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.history))
	for _, entry := range f.history {
		kinds = append(kinds, entry.Kind)
	}
	return kinds
}

var errTestWrite = errors.New("write failed")
