package models

import "time"

// SessionStatus defines the lifecycle states of a session
type SessionStatus string

const (
	// SessionStatusActive is a session with a live or recently live connection
	SessionStatusActive SessionStatus = "active"
	// SessionStatusArchived is a session retired by an external archival process
	SessionStatusArchived SessionStatus = "archived"
	// SessionStatusExpired is a session past its retention window
	SessionStatusExpired SessionStatus = "expired"
)

// IsValid checks if the session status is valid
func (s SessionStatus) IsValid() bool {
	return s == SessionStatusActive || s == SessionStatusArchived || s == SessionStatusExpired
}

// AgentKind selects the agent variant that owns a session
type AgentKind string

const (
	// AgentKindGeneric is the default general-purpose assistant
	AgentKindGeneric AgentKind = "generic"
	// AgentKindManufacturing is the manufacturing-domain assistant
	AgentKindManufacturing AgentKind = "manufacturing"
)

// IsValid checks if the agent kind is valid
func (k AgentKind) IsValid() bool {
	return k == AgentKindGeneric || k == AgentKindManufacturing
}

// Session is a user-scoped conversation bound to one client connection.
// Sessions are created on first message and updated on every turn; the core
// never deletes them.
type Session struct {
	ID             string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	AgentKind      AgentKind      `json:"agent_kind"`
	ModelID        string         `json:"model_id,omitempty"`
	Status         SessionStatus  `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// TurnRole identifies the author of a conversation turn
type TurnRole string

const (
	// TurnRoleUser is a message sent by the user
	TurnRoleUser TurnRole = "user"
	// TurnRoleAssistant is a reply produced by the assistant
	TurnRoleAssistant TurnRole = "assistant"
)

// ConversationTurn is one entry in the session's recent-window buffer used
// for planner context. The full history is not persisted by the core.
type ConversationTurn struct {
	Role    TurnRole `json:"role"`
	Content string   `json:"content"`
}
