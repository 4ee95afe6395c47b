package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aris-ai/aris/pkg/database"
	"github.com/aris-ai/aris/pkg/models"
)

// MemoryStore is the session-scoped scratchpad. Writes are upserts keyed by
// (session_id, memory_key); concurrent writers for the same key serialize on
// an in-process mutex so the last writer wins cleanly.
type MemoryStore struct {
	db *sqlx.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemoryStore creates a new session memory store
func NewMemoryStore(client *database.Client) *MemoryStore {
	return &MemoryStore{
		db:    client.DB(),
		locks: make(map[string]*sync.Mutex),
	}
}

type memoryRow struct {
	ID             string     `db:"id"`
	SessionID      string     `db:"session_id"`
	Key            string     `db:"memory_key"`
	ToolName       string     `db:"tool_name"`
	Tags           []byte     `db:"tags"`
	Value          []byte     `db:"value"`
	SizeBytes      int64      `db:"size_bytes"`
	AccessCount    int64      `db:"access_count"`
	LastAccessedAt *time.Time `db:"last_accessed_at"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r *memoryRow) toModel() (*models.MemoryItem, error) {
	item := &models.MemoryItem{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Key:            r.Key,
		ToolName:       r.ToolName,
		SizeBytes:      r.SizeBytes,
		AccessCount:    r.AccessCount,
		LastAccessedAt: r.LastAccessedAt,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &item.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for memory item %s: %w", r.ID, err)
		}
	}
	if len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &item.Value); err != nil {
			return nil, fmt.Errorf("failed to decode value for memory item %s: %w", r.ID, err)
		}
	}
	return item, nil
}

func (m *MemoryStore) keyLock(sessionID, key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionID + "\x00" + key
	lock, ok := m.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[k] = lock
	}
	return lock
}

// PutOptions carries the optional attributes of a memory write.
type PutOptions struct {
	ToolName string
	Tags     []string
	TTL      *time.Duration
}

// Put upserts a value under the key. Values that do not survive JSON
// encoding are wrapped as {"data": <string form>, "type": <Go type>} so the
// write never fails on serialization. Tool names are truncated to the
// column limit.
func (m *MemoryStore) Put(ctx context.Context, sessionID, key string, value any, opts PutOptions) error {
	if sessionID == "" {
		return NewValidationError("session_id", "session ID is required")
	}
	if key == "" {
		return NewValidationError("memory_key", "memory key is required")
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		wrapped := map[string]any{
			"data": fmt.Sprintf("%v", value),
			"type": fmt.Sprintf("%T", value),
		}
		encoded, err = json.Marshal(wrapped)
		if err != nil {
			return fmt.Errorf("failed to encode memory value: %w", err)
		}
	}

	toolName := opts.ToolName
	if len(toolName) > models.MaxToolNameLength {
		toolName = toolName[:models.MaxToolNameLength]
	}
	tags, err := marshalJSONColumn(opts.Tags, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	var expiresAt *time.Time
	if opts.TTL != nil {
		t := time.Now().UTC().Add(*opts.TTL)
		expiresAt = &t
	}

	lock := m.keyLock(sessionID, key)
	lock.Lock()
	defer lock.Unlock()

	// Memory writes must land even when the turn is being torn down: a tool
	// result that finished is a tool result the next plan can reference.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = m.db.ExecContext(writeCtx, `
		INSERT INTO session_memory (id, session_id, memory_key, tool_name, tags, value, size_bytes, expires_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
		ON CONFLICT (session_id, memory_key) DO UPDATE SET
			tool_name = EXCLUDED.tool_name,
			tags = EXCLUDED.tags,
			value = EXCLUDED.value,
			size_bytes = EXCLUDED.size_bytes,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		uuid.NewString(), sessionID, key, toolName, tags, string(encoded), int64(len(encoded)), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to put memory item %s/%s: %w", sessionID, key, err)
	}
	return nil
}

// Get returns the item and bumps its access counter in one statement.
// Expired items are invisible: callers get ErrNotFound until the sweeper
// physically removes the row.
func (m *MemoryStore) Get(ctx context.Context, sessionID, key string) (*models.MemoryItem, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	if key == "" {
		return nil, NewValidationError("memory_key", "memory key is required")
	}

	var row memoryRow
	err := m.db.GetContext(ctx, &row, `
		UPDATE session_memory SET
			access_count = access_count + 1,
			last_accessed_at = now()
		WHERE session_id = $1 AND memory_key = $2
			AND (expires_at IS NULL OR expires_at > now())
		RETURNING id, session_id, memory_key, tool_name, tags, value, size_bytes,
			access_count, last_accessed_at, expires_at, created_at, updated_at`,
		sessionID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("memory item %s/%s: %w", sessionID, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get memory item %s/%s: %w", sessionID, key, err)
	}
	return row.toModel()
}

// GetValue is Get for callers that only need the decoded value.
func (m *MemoryStore) GetValue(ctx context.Context, sessionID, key string) (any, error) {
	item, err := m.Get(ctx, sessionID, key)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Delete removes the given keys and reports per-key whether a row existed.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string, keys []string) (map[string]bool, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	results := make(map[string]bool, len(keys))
	for _, key := range keys {
		res, err := m.db.ExecContext(ctx, `
			DELETE FROM session_memory WHERE session_id = $1 AND memory_key = $2`,
			sessionID, key)
		if err != nil {
			return results, fmt.Errorf("failed to delete memory item %s/%s: %w", sessionID, key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return results, fmt.Errorf("failed to count deleted rows: %w", err)
		}
		results[key] = n > 0
	}
	return results, nil
}

// ListKeys returns the live keys of the session, optionally filtered by a
// glob-style pattern where * matches any run of characters.
func (m *MemoryStore) ListKeys(ctx context.Context, sessionID, pattern string) ([]string, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	query := `
		SELECT memory_key FROM session_memory
		WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > now())`
	args := []any{sessionID}
	if pattern != "" && pattern != "*" {
		query += ` AND memory_key LIKE $2`
		args = append(args, globToLike(pattern))
	}
	query += ` ORDER BY memory_key`

	keys := []string{}
	if err := m.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list memory keys for session %s: %w", sessionID, err)
	}
	return keys, nil
}

// ByTool returns live items written by the given tool, most recent first.
func (m *MemoryStore) ByTool(ctx context.Context, sessionID, toolName string) ([]*models.MemoryItem, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	if len(toolName) > models.MaxToolNameLength {
		toolName = toolName[:models.MaxToolNameLength]
	}
	var rows []memoryRow
	err := m.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, memory_key, tool_name, tags, value, size_bytes,
			access_count, last_accessed_at, expires_at, created_at, updated_at
		FROM session_memory
		WHERE session_id = $1 AND tool_name = $2
			AND (expires_at IS NULL OR expires_at > now())
		ORDER BY updated_at DESC`, sessionID, toolName)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory by tool %s: %w", toolName, err)
	}
	return rowsToItems(rows)
}

// ByTag returns live items carrying the given tag, most recent first.
func (m *MemoryStore) ByTag(ctx context.Context, sessionID, tag string) ([]*models.MemoryItem, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	tagJSON, err := json.Marshal([]string{tag})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tag filter: %w", err)
	}
	var rows []memoryRow
	err = m.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, memory_key, tool_name, tags, value, size_bytes,
			access_count, last_accessed_at, expires_at, created_at, updated_at
		FROM session_memory
		WHERE session_id = $1 AND tags @> $2::jsonb
			AND (expires_at IS NULL OR expires_at > now())
		ORDER BY updated_at DESC`, sessionID, string(tagJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to query memory by tag %s: %w", tag, err)
	}
	return rowsToItems(rows)
}

// HandleToolResult stores a normalized tool result under the canonical key
// for its action, tagged so later plans can find it by tool or by kind.
func (m *MemoryStore) HandleToolResult(ctx context.Context, sessionID, actionID, toolName string, result any) error {
	if actionID == "" {
		return NewValidationError("action_id", "action ID is required")
	}
	return m.Put(ctx, sessionID, models.ToolResultKey(actionID), result, PutOptions{
		ToolName: toolName,
		Tags:     []string{models.TagToolResult, toolName},
	})
}

// SweepExpired deletes items whose expiry has passed and returns the count.
func (m *MemoryStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM session_memory WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept rows: %w", err)
	}
	return n, nil
}

// SessionStats summarizes a session's memory footprint.
type SessionStats struct {
	Items      int64 `db:"items"`
	TotalBytes int64 `db:"total_bytes"`
}

// Stats returns item count and total stored bytes for the session.
func (m *MemoryStore) Stats(ctx context.Context, sessionID string) (*SessionStats, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "session ID is required")
	}
	var stats SessionStats
	err := m.db.GetContext(ctx, &stats, `
		SELECT count(*) AS items, COALESCE(sum(size_bytes), 0) AS total_bytes
		FROM session_memory
		WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > now())`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory stats for session %s: %w", sessionID, err)
	}
	return &stats, nil
}

func rowsToItems(rows []memoryRow) ([]*models.MemoryItem, error) {
	items := make([]*models.MemoryItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// globToLike converts a glob pattern to a SQL LIKE pattern, escaping the
// LIKE metacharacters so user keys cannot smuggle wildcards.
func globToLike(pattern string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	escaped := replacer.Replace(pattern)
	return strings.ReplaceAll(escaped, "*", "%")
}
