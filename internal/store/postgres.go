package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, color)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Color)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, color, created_at, updated_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.Color, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, color, created_at, updated_at
		FROM users WHERE id = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.Color, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// ── Documents ──

const documentColumns = `
	id, title, elements, characters, locations, comments,
	owner_id, collaborators, public_access, created_at, updated_at, snapshot_at
`

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	elements, err := json.Marshal(doc.Elements)
	if err != nil {
		return fmt.Errorf("marshal elements: %w", err)
	}
	characters, _ := json.Marshal(emptyIfNil(doc.Characters))
	locations, _ := json.Marshal(emptyIfNil(doc.Locations))
	comments, _ := json.Marshal(doc.Comments)
	collaborators, _ := json.Marshal(doc.Collaborators)
	public, _ := json.Marshal(doc.Public)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, elements, characters, locations, comments,
			owner_id, collaborators, public_access, snapshot_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, doc.ID, doc.Title, elements, characters, locations, comments,
		doc.OwnerID, collaborators, public)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

// ListDocumentsForUser returns documents the user owns or collaborates on,
// most recently updated first.
func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = $1
			OR collaborators @> $2::jsonb
		ORDER BY updated_at DESC
	`, userID, fmt.Sprintf(`[{"userId":%q}]`, userID))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var items []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, documentID, title string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = $2, updated_at = NOW() WHERE id = $1
	`, documentID, title)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateDocumentElements(ctx context.Context, documentID string, elements []Element, characters, locations []string) error {
	elementsJSON, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("marshal elements: %w", err)
	}
	charactersJSON, _ := json.Marshal(emptyIfNil(characters))
	locationsJSON, _ := json.Marshal(emptyIfNil(locations))

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET elements = $2, characters = $3, locations = $4, updated_at = NOW()
		WHERE id = $1
	`, documentID, elementsJSON, charactersJSON, locationsJSON)
	if err != nil {
		return fmt.Errorf("update elements: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateDocumentComments(ctx context.Context, documentID string, comments []Comment) error {
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET comments = $2, updated_at = NOW() WHERE id = $1
	`, documentID, commentsJSON)
	if err != nil {
		return fmt.Errorf("update comments: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateDocumentSharing(ctx context.Context, documentID string, collaborators []Collaborator, public PublicAccess) error {
	collaboratorsJSON, err := json.Marshal(collaborators)
	if err != nil {
		return fmt.Errorf("marshal collaborators: %w", err)
	}
	publicJSON, _ := json.Marshal(public)

	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET collaborators = $2, public_access = $3, updated_at = NOW()
		WHERE id = $1
	`, documentID, collaboratorsJSON, publicJSON)
	if err != nil {
		return fmt.Errorf("update sharing: %w", err)
	}
	return requireRow(result)
}

// AddCollaborator appends one grant to the document's collaborator list.
// Used by the join auto-enrollment step; callers check for an existing
// grant before calling.
func (s *PostgresStore) AddCollaborator(ctx context.Context, documentID string, collab Collaborator) error {
	entry, err := json.Marshal(collab)
	if err != nil {
		return fmt.Errorf("marshal collaborator: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET collaborators = collaborators || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, documentID, fmt.Sprintf("[%s]", entry))
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return requireRow(result)
}

// RestoreDocumentContent overwrites title and elements from a snapshot
// payload and stamps snapshot_at.
func (s *PostgresStore) RestoreDocumentContent(ctx context.Context, documentID, title string, elements []Element) error {
	elementsJSON, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("marshal elements: %w", err)
	}
	characters, locations := DeriveNames(elements)
	charactersJSON, _ := json.Marshal(characters)
	locationsJSON, _ := json.Marshal(locations)
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = $2, elements = $3, characters = $4, locations = $5,
		    updated_at = NOW(), snapshot_at = NOW()
		WHERE id = $1
	`, documentID, title, elementsJSON, charactersJSON, locationsJSON)
	if err != nil {
		return fmt.Errorf("restore document: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) TouchSnapshot(ctx context.Context, documentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET snapshot_at = $2 WHERE id = $1
	`, documentID, at)
	if err != nil {
		return fmt.Errorf("touch snapshot: %w", err)
	}
	return nil
}

// ── History ──

func (s *PostgresStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	payload := entry.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history_entries (document_id, kind, actor_id, payload)
		VALUES ($1, $2, $3, $4)
	`, entry.DocumentID, entry.Kind, entry.ActorID, []byte(payload))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, documentID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, kind, actor_id, payload, created_at
		FROM history_entries
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.Kind, &entry.ActorID, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetHistoryEntry(ctx context.Context, documentID string, entryID int64) (HistoryEntry, error) {
	var entry HistoryEntry
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, kind, actor_id, payload, created_at
		FROM history_entries
		WHERE document_id = $1 AND id = $2
	`, documentID, entryID).Scan(&entry.ID, &entry.DocumentID, &entry.Kind, &entry.ActorID, &payload, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, ErrNotFound
	}
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("load history entry: %w", err)
	}
	entry.Payload = json.RawMessage(payload)
	return entry, nil
}

// ── Access-token revocation ──

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── helpers ──

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var elements, characters, locations, comments, collaborators, public []byte
	err := row.Scan(
		&doc.ID, &doc.Title, &elements, &characters, &locations, &comments,
		&doc.OwnerID, &collaborators, &public,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.SnapshotAt,
	)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(elements, &doc.Elements); err != nil {
		return Document{}, fmt.Errorf("unmarshal elements: %w", err)
	}
	if err := json.Unmarshal(characters, &doc.Characters); err != nil {
		return Document{}, fmt.Errorf("unmarshal characters: %w", err)
	}
	if err := json.Unmarshal(locations, &doc.Locations); err != nil {
		return Document{}, fmt.Errorf("unmarshal locations: %w", err)
	}
	if err := json.Unmarshal(comments, &doc.Comments); err != nil {
		return Document{}, fmt.Errorf("unmarshal comments: %w", err)
	}
	if err := json.Unmarshal(collaborators, &doc.Collaborators); err != nil {
		return Document{}, fmt.Errorf("unmarshal collaborators: %w", err)
	}
	if err := json.Unmarshal(public, &doc.Public); err != nil {
		return Document{}, fmt.Errorf("unmarshal public access: %w", err)
	}
	return doc, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
