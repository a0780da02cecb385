package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scriptroom/api/internal/auth"
	"scriptroom/api/internal/authpw"
	"scriptroom/api/internal/config"
	"scriptroom/api/internal/rbac"
	"scriptroom/api/internal/realtime"
	"scriptroom/api/internal/store"
	"scriptroom/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Color        string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsForUser(context.Context, string) ([]store.Document, error)
	UpdateDocumentComments(context.Context, string, []store.Comment) error
	UpdateDocumentSharing(context.Context, string, []store.Collaborator, store.PublicAccess) error
	RestoreDocumentContent(context.Context, string, string, []store.Element) error
	TouchSnapshot(context.Context, string, time.Time) error
	AppendHistory(context.Context, store.HistoryEntry) error
	ListHistory(context.Context, string, int) ([]store.HistoryEntry, error)
	GetHistoryEntry(context.Context, string, int64) (store.HistoryEntry, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

// sessionStore holds refresh-token state; backed by Redis in production.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// broadcaster fans HTTP-originated changes out to live rooms.
type broadcaster interface {
	BroadcastToDocument(documentID, event string, data any)
	Presence(documentID string) []realtime.RoomUser
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	rt       broadcaster
	creds    *authpw.Service
}

func New(cfg config.Config, data dataStore, sessions sessionStore, rt broadcaster) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		rt:       rt,
		creds:    authpw.NewService(data),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// ── Auth and sessions ──

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.creds.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.creds.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Color: user.Color,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Color:        user.Color,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh access/refresh pair is issued in its place.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	partial, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, partial.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, user, err := s.identity(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Color:     user.Color,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// IdentityFromToken resolves a bearer token to its user record. The
// realtime handler uses it to authenticate websocket dials.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (store.User, error) {
	_, user, err := s.identity(ctx, token)
	return user, err
}

func (s *Service) identity(ctx context.Context, token string) (auth.Claims, store.User, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return auth.Claims{}, store.User{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return auth.Claims{}, store.User{}, err
	}
	if revoked {
		return auth.Claims{}, store.User{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return auth.Claims{}, store.User{}, err
	}
	return claims, user, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Documents ──

func (s *Service) CreateDocument(ctx context.Context, session Session, title string) (store.Document, error) {
	if session.UserID == "" {
		return store.Document{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to create a screenplay", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Screenplay"
	}

	now := time.Now()
	doc := store.Document{
		ID:    util.NewShortID(),
		Title: title,
		Elements: []store.Element{
			{ID: util.NewID("el"), Type: store.ElementScene, Content: ""},
		},
		Characters:    []string{},
		Locations:     []string{},
		Comments:      []store.Comment{},
		OwnerID:       session.UserID,
		Collaborators: []store.Collaborator{},
		Public:        store.PublicAccess{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]map[string]any, error) {
	if session.UserID == "" {
		return []map[string]any{}, nil
	}
	documents, err := s.store.ListDocumentsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		role, _ := rbac.Resolve(doc.Access(), session.UserID)
		items = append(items, map[string]any{
			"id":        doc.ID,
			"title":     doc.Title,
			"role":      role,
			"elements":  len(doc.Elements),
			"createdAt": doc.CreatedAt,
			"updatedAt": doc.UpdatedAt,
		})
	}
	return items, nil
}

// GetDocument returns the document along with the caller's resolved role.
// Anonymous callers pass a zero session and are admitted only by a public
// access policy.
func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, rbac.Role, error) {
	return s.requireRole(ctx, session, documentID, rbac.RoleViewer)
}

// UpdateSharing replaces the collaborator list and public policy. Only
// the owner may change who can reach a document.
func (s *Service) UpdateSharing(ctx context.Context, session Session, documentID string, collaborators []store.Collaborator, public store.PublicAccess) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if session.UserID == "" || session.UserID != doc.OwnerID {
		return store.Document{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can change sharing", nil)
	}

	now := time.Now()
	cleaned := make([]store.Collaborator, 0, len(collaborators))
	for _, collab := range collaborators {
		if collab.UserID == "" || collab.UserID == doc.OwnerID {
			continue
		}
		collab.Role = string(rbac.Normalize(collab.Role))
		if collab.AddedAt.IsZero() {
			collab.AddedAt = now
		}
		cleaned = append(cleaned, collab)
	}
	public.Role = string(rbac.Normalize(public.Role))

	if err := s.store.UpdateDocumentSharing(ctx, documentID, cleaned, public); err != nil {
		return store.Document{}, err
	}
	doc.Collaborators = cleaned
	doc.Public = public
	return doc, nil
}

func (s *Service) Presence(ctx context.Context, session Session, documentID string) ([]realtime.RoomUser, error) {
	if _, _, err := s.requireRole(ctx, session, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	return s.rt.Presence(documentID), nil
}

// ── History ──

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) ([]store.HistoryEntry, error) {
	if _, _, err := s.requireRole(ctx, session, documentID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, documentID, limit)
}

// Restore replaces the live document content with a snapshot entry's
// payload. The current content is snapshotted first, so a restore is
// itself always reversible through history.
func (s *Service) Restore(ctx context.Context, session Session, documentID string, entryID int64) (store.Document, error) {
	doc, _, err := s.requireRole(ctx, session, documentID, rbac.RoleEditor)
	if err != nil {
		return store.Document{}, err
	}

	entry, err := s.store.GetHistoryEntry(ctx, documentID, entryID)
	if err != nil {
		return store.Document{}, err
	}
	if entry.Kind != store.HistorySnapshot {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "NOT_RESTORABLE", "Only snapshot entries can be restored", nil)
	}
	var snapshot store.SnapshotPayload
	if err := json.Unmarshal(entry.Payload, &snapshot); err != nil {
		return store.Document{}, fmt.Errorf("decode snapshot payload: %w", err)
	}
	if len(snapshot.Elements) == 0 {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "NOT_RESTORABLE", "Snapshot holds no content", nil)
	}

	if err := s.appendSnapshot(ctx, doc, session.UserID); err != nil {
		return store.Document{}, err
	}
	if err := s.store.RestoreDocumentContent(ctx, documentID, snapshot.Title, snapshot.Elements); err != nil {
		return store.Document{}, err
	}

	doc.Title = snapshot.Title
	doc.Elements = snapshot.Elements
	doc.Characters, doc.Locations = store.DeriveNames(snapshot.Elements)

	s.rt.BroadcastToDocument(documentID, realtime.EventDocumentRestored, map[string]any{
		"title":      doc.Title,
		"elements":   doc.Elements,
		"characters": doc.Characters,
		"locations":  doc.Locations,
	})
	return doc, nil
}

// ForceSnapshot writes a snapshot entry immediately, outside the
// operation-count cadence.
func (s *Service) ForceSnapshot(ctx context.Context, session Session, documentID string) error {
	doc, _, err := s.requireRole(ctx, session, documentID, rbac.RoleEditor)
	if err != nil {
		return err
	}
	return s.appendSnapshot(ctx, doc, session.UserID)
}

func (s *Service) appendSnapshot(ctx context.Context, doc store.Document, actorID string) error {
	payload, err := json.Marshal(store.SnapshotPayload{Title: doc.Title, Elements: doc.Elements})
	if err != nil {
		return err
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	if err := s.store.AppendHistory(ctx, store.HistoryEntry{
		DocumentID: doc.ID,
		Kind:       store.HistorySnapshot,
		ActorID:    actor,
		Payload:    payload,
	}); err != nil {
		return err
	}
	return s.store.TouchSnapshot(ctx, doc.ID, time.Now())
}

// ── Comments ──

func (s *Service) AddComment(ctx context.Context, session Session, documentID, elementID, content string) (store.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment text is required", nil)
	}
	doc, _, err := s.requireRole(ctx, session, documentID, rbac.RoleCommenter)
	if err != nil {
		return store.Comment{}, err
	}
	if elementID != "" && !hasElement(doc, elementID) {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown element", nil)
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		ElementID:  elementID,
		AuthorID:   session.UserID,
		AuthorName: commenterName(session),
		Content:    content,
		Replies:    []store.CommentReply{},
		CreatedAt:  time.Now(),
	}
	comments := append(doc.Comments, comment)
	if err := s.store.UpdateDocumentComments(ctx, documentID, comments); err != nil {
		return store.Comment{}, err
	}

	s.rt.BroadcastToDocument(documentID, realtime.EventCommentAdded, map[string]any{"comment": comment})
	return comment, nil
}

func (s *Service) ReplyToComment(ctx context.Context, session Session, documentID, commentID, content string) (store.CommentReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.CommentReply{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Reply text is required", nil)
	}
	doc, _, err := s.requireRole(ctx, session, documentID, rbac.RoleCommenter)
	if err != nil {
		return store.CommentReply{}, err
	}

	reply := store.CommentReply{
		ID:         util.NewID("rpl"),
		AuthorID:   session.UserID,
		AuthorName: commenterName(session),
		Content:    content,
		CreatedAt:  time.Now(),
	}
	found := false
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments[i].Replies = append(doc.Comments[i].Replies, reply)
			found = true
			break
		}
	}
	if !found {
		return store.CommentReply{}, store.ErrNotFound
	}
	if err := s.store.UpdateDocumentComments(ctx, documentID, doc.Comments); err != nil {
		return store.CommentReply{}, err
	}

	s.rt.BroadcastToDocument(documentID, realtime.EventCommentReply, map[string]any{
		"commentId": commentID,
		"reply":     reply,
	})
	return reply, nil
}

func (s *Service) ResolveComment(ctx context.Context, session Session, documentID, commentID string) error {
	doc, _, err := s.requireRole(ctx, session, documentID, rbac.RoleCommenter)
	if err != nil {
		return err
	}
	found := false
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments[i].Resolved = true
			found = true
			break
		}
	}
	if !found {
		return store.ErrNotFound
	}
	if err := s.store.UpdateDocumentComments(ctx, documentID, doc.Comments); err != nil {
		return err
	}

	s.rt.BroadcastToDocument(documentID, realtime.EventCommentResolved, map[string]any{"commentId": commentID})
	return nil
}

// ── Helpers ──

// requireRole loads a document and checks the caller clears the given
// tier. Denials surface as 403 on the HTTP side; the silent-drop posture
// belongs to the relay, not here.
func (s *Service) requireRole(ctx context.Context, session Session, documentID string, min rbac.Role) (store.Document, rbac.Role, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, "", err
	}
	role, ok := rbac.Resolve(doc.Access(), session.UserID)
	if !ok || !role.AtLeast(min) {
		return store.Document{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return doc, role, nil
}

func commenterName(session Session) string {
	if session.UserName != "" {
		return session.UserName
	}
	return "Guest"
}

func hasElement(doc store.Document, elementID string) bool {
	for _, el := range doc.Elements {
		if el.ID == elementID {
			return true
		}
	}
	return false
}
