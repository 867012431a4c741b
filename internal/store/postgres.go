package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a registered user. A taken email reports ErrConflict.
func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(email, ''), password_hash, created_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.created_at
		FROM login_sessions ls
		JOIN users u ON u.id = ls.user_id
		WHERE ls.token_hash = $1
			AND ls.revoked_at IS NULL
			AND ls.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE login_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

const poemColumns = `id, content, title, COALESCE(owner_id, ''), created_at`

func scanPoem(row interface{ Scan(...any) error }) (Poem, error) {
	var item Poem
	err := row.Scan(&item.ID, &item.Content, &item.Title, &item.OwnerID, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertPoem(ctx context.Context, item Poem) (Poem, error) {
	created, err := scanPoem(s.db.QueryRowContext(ctx, `
		INSERT INTO poems (id, content, title, owner_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING `+poemColumns,
		item.ID, item.Content, item.Title, item.OwnerID))
	if err != nil {
		return Poem{}, fmt.Errorf("insert poem: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPoem(ctx context.Context, poemID string) (Poem, error) {
	item, err := scanPoem(s.db.QueryRowContext(ctx, `SELECT `+poemColumns+` FROM poems WHERE id=$1`, poemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Poem{}, ErrNotFound
	}
	if err != nil {
		return Poem{}, fmt.Errorf("get poem: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListPoemsByOwner(ctx context.Context, ownerID string) ([]Poem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+poemColumns+`
		FROM poems
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list poems: %w", err)
	}
	defer rows.Close()

	items := make([]Poem, 0)
	for rows.Next() {
		item, err := scanPoem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poem: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poems: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListSharedPoems(ctx context.Context, userID string) ([]SharedPoem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.content, p.title, COALESCE(p.owner_id, ''), p.created_at, c.mode
		FROM collaborators c
		JOIN poems p ON p.id = c.poem_id
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared poems: %w", err)
	}
	defer rows.Close()

	items := make([]SharedPoem, 0)
	for rows.Next() {
		var item SharedPoem
		if err := rows.Scan(&item.ID, &item.Content, &item.Title, &item.OwnerID, &item.CreatedAt, &item.Mode); err != nil {
			return nil, fmt.Errorf("scan shared poem: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared poems: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenamePoem(ctx context.Context, poemID, ownerID, title string) (Poem, error) {
	item, err := scanPoem(s.db.QueryRowContext(ctx, `
		UPDATE poems SET title=$3
		WHERE id=$1 AND owner_id=$2
		RETURNING `+poemColumns,
		poemID, ownerID, title))
	if errors.Is(err, sql.ErrNoRows) {
		return Poem{}, ErrNotFound
	}
	if err != nil {
		return Poem{}, fmt.Errorf("rename poem: %w", err)
	}
	return item, nil
}

// DeletePoem removes an owned poem together with its annotations, share links
// and collaborator rows.
func (s *PostgresStore) DeletePoem(ctx context.Context, poemID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete poem: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM poems WHERE id=$1 AND owner_id=$2`, poemID, ownerID)
	if err != nil {
		return fmt.Errorf("delete poem: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete poem rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE poem_id=$1`, poemID); err != nil {
		return fmt.Errorf("delete poem annotations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete poem: %w", err)
	}
	return nil
}

// EnsureShareLink returns the poem's link for mode, creating it with newID
// when none exists yet.
func (s *PostgresStore) EnsureShareLink(ctx context.Context, poemID, mode, newID string) (ShareLink, error) {
	var link ShareLink
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO share_links (id, poem_id, mode)
		VALUES ($1, $2, $3)
		ON CONFLICT (poem_id, mode) DO UPDATE SET mode = EXCLUDED.mode
		RETURNING id, poem_id, mode, created_at
	`, newID, poemID, mode).Scan(&link.ID, &link.PoemID, &link.Mode, &link.CreatedAt)
	if err != nil {
		return ShareLink{}, fmt.Errorf("ensure share link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) GetShareLink(ctx context.Context, shareID string) (ShareLink, error) {
	var link ShareLink
	err := s.db.QueryRowContext(ctx, `SELECT id, poem_id, mode, created_at FROM share_links WHERE id=$1`, shareID).
		Scan(&link.ID, &link.PoemID, &link.Mode, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ShareLink{}, ErrNotFound
	}
	if err != nil {
		return ShareLink{}, fmt.Errorf("get share link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) ListShareLinks(ctx context.Context, poemID string) ([]ShareLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, poem_id, mode, created_at FROM share_links WHERE poem_id=$1 ORDER BY created_at ASC
	`, poemID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	items := make([]ShareLink, 0)
	for rows.Next() {
		var link ShareLink
		if err := rows.Scan(&link.ID, &link.PoemID, &link.Mode, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		items = append(items, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share links: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCollaborator(ctx context.Context, poemID, userID string) (Collaborator, error) {
	var item Collaborator
	err := s.db.QueryRowContext(ctx, `
		SELECT poem_id, user_id, mode, created_at, updated_at
		FROM collaborators WHERE poem_id=$1 AND user_id=$2
	`, poemID, userID).Scan(&item.PoemID, &item.UserID, &item.Mode, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Collaborator{}, ErrNotFound
	}
	if err != nil {
		return Collaborator{}, fmt.Errorf("get collaborator: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, poemID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT poem_id, user_id, mode, created_at, updated_at
		FROM collaborators WHERE poem_id=$1 ORDER BY created_at ASC
	`, poemID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.PoemID, &item.UserID, &item.Mode, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// SaveCollaborator writes the collaborator's mode. The caller decides the
// mode; the row update itself is a single atomic write.
func (s *PostgresStore) SaveCollaborator(ctx context.Context, item Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborators (poem_id, user_id, mode)
		VALUES ($1, $2, $3)
		ON CONFLICT (poem_id, user_id) DO UPDATE SET mode=EXCLUDED.mode, updated_at=NOW()
	`, item.PoemID, item.UserID, item.Mode)
	if err != nil {
		return fmt.Errorf("save collaborator: %w", err)
	}
	return nil
}

const annotationColumns = `id, poem_id, ephemeral_id, body, anchors, color_tag, offset_dx, offset_dy, COALESCE(user_id, ''), created_at, updated_at`

func scanAnnotation(row interface{ Scan(...any) error }) (Annotation, error) {
	var (
		item    Annotation
		anchors []byte
		dx, dy  sql.NullFloat64
	)
	if err := row.Scan(&item.ID, &item.PoemID, &item.EphemeralID, &item.Body, &anchors, &item.ColorTag, &dx, &dy, &item.UserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Annotation{}, err
	}
	if err := json.Unmarshal(anchors, &item.Anchors); err != nil {
		return Annotation{}, fmt.Errorf("decode anchors: %w", err)
	}
	if dx.Valid && dy.Valid {
		item.Offset = &Offset{DX: dx.Float64, DY: dy.Float64}
	}
	return item, nil
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, item Annotation) (Annotation, error) {
	anchors, err := json.Marshal(item.Anchors)
	if err != nil {
		return Annotation{}, fmt.Errorf("encode anchors: %w", err)
	}
	var dx, dy sql.NullFloat64
	if item.Offset != nil {
		dx = sql.NullFloat64{Float64: item.Offset.DX, Valid: true}
		dy = sql.NullFloat64{Float64: item.Offset.DY, Valid: true}
	}
	created, err := scanAnnotation(s.db.QueryRowContext(ctx, `
		INSERT INTO annotations (id, poem_id, ephemeral_id, body, anchors, color_tag, offset_dx, offset_dy, user_id)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, NULLIF($9, ''))
		RETURNING `+annotationColumns,
		item.ID, item.PoemID, item.EphemeralID, item.Body, string(anchors), item.ColorTag, dx, dy, item.UserID))
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	item, err := scanAnnotation(s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id=$1`, annotationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, ErrNotFound
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("get annotation: %w", err)
	}
	return item, nil
}

// UpdateAnnotation applies patch as one UPDATE statement and returns the
// stored row.
func (s *PostgresStore) UpdateAnnotation(ctx context.Context, annotationID string, patch AnnotationPatch) (Annotation, error) {
	var body sql.NullString
	if patch.Body != nil {
		body = sql.NullString{String: *patch.Body, Valid: true}
	}
	var dx, dy sql.NullFloat64
	if patch.Offset != nil {
		dx = sql.NullFloat64{Float64: patch.Offset.DX, Valid: true}
		dy = sql.NullFloat64{Float64: patch.Offset.DY, Valid: true}
	}
	item, err := scanAnnotation(s.db.QueryRowContext(ctx, `
		UPDATE annotations SET
			body = COALESCE($2, body),
			offset_dx = CASE WHEN $3::double precision IS NULL THEN offset_dx ELSE $3 END,
			offset_dy = CASE WHEN $4::double precision IS NULL THEN offset_dy ELSE $4 END,
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+annotationColumns,
		annotationID, body, dx, dy))
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, ErrNotFound
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("update annotation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, annotationID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete annotation rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAnnotationsByPoem(ctx context.Context, poemID string) ([]Annotation, error) {
	return s.listAnnotations(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE poem_id=$1 ORDER BY created_at ASC, id ASC`, poemID)
}

func (s *PostgresStore) ListAnnotationsByUser(ctx context.Context, userID string) ([]Annotation, error) {
	return s.listAnnotations(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) listAnnotations(ctx context.Context, query string, arg string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}
