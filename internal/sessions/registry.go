package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/wagate/internal/models"
	"github.com/iammorganparry/wagate/internal/store"
)

// ErrNotFound is returned by updates that target a session id with no row.
var ErrNotFound = errors.New("session not found")

const sessionColumns = `id, owner_id, name, status, status_message, credential_blob, created_at, updated_at`

// Registry handles Session CRUD on SQLite. It is the durable source of truth
// across restarts; the supervisor is its only writer.
type Registry struct {
	db  *store.DB
	now func() time.Time
}

// NewRegistry creates a new session registry.
func NewRegistry(db *store.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Create inserts a new session. Missing ids are generated and a missing
// status defaults to INITIALIZING. The stored timestamps are written back.
func (r *Registry) Create(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = models.StatusInitializing
	}
	now := r.now().Unix()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, name, status, status_message, credential_blob, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.OwnerID, sess.Name, string(sess.Status), sess.StatusMessage, nullBlob(sess.CredentialBlob), now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.HasCredentials = len(sess.CredentialBlob) > 0
	return nil
}

// Get fetches a session by ID. It returns (nil, nil) when no row exists.
func (r *Registry) Get(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateStatus sets the status and status message. Setting CONNECTED on a row
// without credentials is rejected by the schema.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status models.Status, message string) error {
	return r.exec(ctx, "update status", `
		UPDATE sessions SET status = ?, status_message = ?, updated_at = ? WHERE id = ?
	`, string(status), message, r.now().Unix(), id)
}

// MarkConnected records a successful connection together with the credential
// blob that backs it, in one statement.
func (r *Registry) MarkConnected(ctx context.Context, id string, blob json.RawMessage) error {
	if len(blob) == 0 {
		return fmt.Errorf("mark connected: empty credential blob")
	}
	return r.exec(ctx, "mark connected", `
		UPDATE sessions SET status = ?, status_message = '', credential_blob = ?, updated_at = ? WHERE id = ?
	`, string(models.StatusConnected), string(blob), r.now().Unix(), id)
}

// SetCredentials replaces the credential blob without touching the status.
func (r *Registry) SetCredentials(ctx context.Context, id string, blob json.RawMessage) error {
	if len(blob) == 0 {
		return fmt.Errorf("set credentials: empty credential blob")
	}
	return r.exec(ctx, "set credentials", `
		UPDATE sessions SET credential_blob = ?, updated_at = ? WHERE id = ?
	`, string(blob), r.now().Unix(), id)
}

// ClearCredentials drops the credential blob and moves the session to status.
func (r *Registry) ClearCredentials(ctx context.Context, id string, status models.Status, message string) error {
	return r.exec(ctx, "clear credentials", `
		UPDATE sessions SET credential_blob = NULL, status = ?, status_message = ?, updated_at = ? WHERE id = ?
	`, string(status), message, r.now().Unix(), id)
}

// FindRestorable returns the sessions that should get a connection again after
// a restart: connected or pairing sessions, plus sessions that were mid-reconnect
// and still hold credentials.
func (r *Registry) FindRestorable(ctx context.Context) ([]*models.Session, error) {
	return r.query(ctx, "find restorable", `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN (?, ?)
		   OR (status = ? AND credential_blob IS NOT NULL)
		ORDER BY created_at ASC
	`, string(models.StatusConnected), string(models.StatusAwaitingPairing), string(models.StatusInitializing))
}

// FindByOwner returns every session of a tenant ordered by name.
func (r *Registry) FindByOwner(ctx context.Context, ownerID string) ([]*models.Session, error) {
	return r.query(ctx, "find by owner", `
		SELECT `+sessionColumns+` FROM sessions
		WHERE owner_id = ?
		ORDER BY name ASC, created_at ASC
	`, ownerID)
}

func (r *Registry) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (r *Registry) query(ctx context.Context, op, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*models.Session, error) {
	var sess models.Session
	var status string
	var blob sql.NullString

	if err := s.Scan(&sess.ID, &sess.OwnerID, &sess.Name, &status, &sess.StatusMessage, &blob, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.Status = models.Status(status)
	if blob.Valid {
		sess.CredentialBlob = json.RawMessage(blob.String)
		sess.HasCredentials = true
	}
	return &sess, nil
}

func nullBlob(blob json.RawMessage) any {
	if len(blob) == 0 {
		return nil
	}
	return string(blob)
}
