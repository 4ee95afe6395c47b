package models

import "time"

// ToolResultKeyPrefix prefixes the canonical memory key for a tool result.
const ToolResultKeyPrefix = "tool_result_"

// MaxToolNameLength bounds the tool_name column; longer names are truncated.
const MaxToolNameLength = 100

// TagToolResult marks memory items written by the canonical tool-result path.
const TagToolResult = "tool_result"

// ToolResultKey returns the canonical memory key for an action's tool result.
func ToolResultKey(actionID string) string {
	return ToolResultKeyPrefix + actionID
}

// MemoryItem is one durable key/value entry in a session's scratchpad.
// Values are always JSON-serializable; writers wrap anything else before
// storing. Keys are unique within a session and writes are upserts.
type MemoryItem struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Key            string     `json:"memory_key"`
	ToolName       string     `json:"tool_name,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Value          any        `json:"value"`
	SizeBytes      int64      `json:"size_bytes"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Expired reports whether the item has an expiry in the past.
func (m *MemoryItem) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}
