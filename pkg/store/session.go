package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/models"
)

// SessionStore persists sessions and their activity timestamps.
type SessionStore struct {
	db *sqlx.DB
}

// NewSessionStore creates a new session store
func NewSessionStore(client *database.Client) *SessionStore {
	return &SessionStore{db: client.DB()}
}

type sessionRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	AgentKind      string    `db:"agent_kind"`
	ModelID        string    `db:"model_id"`
	Status         string    `db:"status"`
	Metadata       []byte    `db:"metadata"`
	CreatedAt      time.Time `db:"created_at"`
	LastActivityAt time.Time `db:"last_activity_at"`
}

func (r *sessionRow) toModel() (*models.Session, error) {
	s := &models.Session{
		ID:             r.ID,
		UserID:         r.UserID,
		AgentKind:      models.AgentKind(r.AgentKind),
		ModelID:        r.ModelID,
		Status:         models.SessionStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for session %s: %w", r.ID, err)
		}
	}
	return s, nil
}

const sessionColumns = `id, user_id, agent_kind, model_id, status, metadata, created_at, last_activity_at`

// GetOrCreate returns the session, creating it on first contact. An existing
// session keeps its stored agent kind and model; reconnecting with different
// values does not rewrite history, it just bumps activity.
func (s *SessionStore) GetOrCreate(ctx context.Context, sessionID, userID string, agentKind models.AgentKind) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	if userID == "" {
		return nil, NewValidationError("user_id", "user ID is required")
	}
	if agentKind == "" {
		agentKind = models.AgentKindGeneric
	}
	if !agentKind.IsValid() {
		return nil, NewValidationError("agent_kind", fmt.Sprintf("invalid agent kind: %s", agentKind))
	}

	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO sessions (id, user_id, agent_kind, status, metadata)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		ON CONFLICT (id) DO UPDATE SET last_activity_at = now()
		RETURNING `+sessionColumns,
		sessionID, userID, string(agentKind), string(models.SessionStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create session %s: %w", sessionID, err)
	}
	return row.toModel()
}

// Get returns the session or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return row.toModel()
}

// Touch bumps last_activity_at. Called on every user turn.
func (s *SessionStore) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "session ID is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SetModel records the model the client selected for this session.
func (s *SessionStore) SetModel(ctx context.Context, sessionID, modelID string) error {
	if sessionID == "" {
		return NewValidationError("session_id", "session ID is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET model_id = $2, last_activity_at = now() WHERE id = $1`,
		sessionID, modelID)
	if err != nil {
		return fmt.Errorf("failed to set model for session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ExpireIdle marks active sessions with no activity since the cutoff as
// expired and returns how many were affected.
func (s *SessionStore) ExpireIdle(ctx context.Context, idleFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-idleFor)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1
		WHERE status = $2 AND last_activity_at < $3`,
		string(models.SessionStatusExpired), string(models.SessionStatusActive), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired sessions: %w", err)
	}
	return n, nil
}
