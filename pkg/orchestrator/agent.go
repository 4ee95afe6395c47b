package orchestrator

import (
	"context"
	"fmt"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/executor"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/planner"
)

// Agent is the per-session conversational surface the transport layer
// drives. One agent owns one session's conversation window and runtime
// options; its methods are safe to call from the connection goroutine and
// from operational readers concurrently.
type Agent interface {
	// ProcessMessage runs the full turn pipeline for one inbound message
	// and returns the plan snapshot the turn ended on.
	ProcessMessage(ctx context.Context, msg UserMessage) (*models.ExecutionPlan, error)

	// SetRuntimeOptions maps raw client-supplied LLM overrides through the
	// allowlist before the next turn is planned.
	SetRuntimeOptions(ctx context.Context, modelID string, temperature any)

	// RecentMessages returns a copy of the conversation window, oldest first.
	RecentMessages() []models.ConversationTurn

	// PublishActivePlan replays the current non-terminal plan snapshot, if
	// any, as one plan_update. Used when a client (re)attaches.
	PublishActivePlan(ctx context.Context) bool
}

// UserMessage is one inbound user message after transport decoding.
type UserMessage struct {
	// Text is the user's message.
	Text string

	// DocBucket and DocKey reference an external document to ingest as
	// planning context. Both must be set for ingestion to run.
	DocBucket string
	DocKey    string
}

// PlanPersister is the slice of the plan store the orchestrator needs.
// Satisfied by *store.PlanStore.
type PlanPersister interface {
	CreatePlan(ctx context.Context, plan *models.ExecutionPlan) error
	ActivePlan(ctx context.Context, sessionID string) (*models.ExecutionPlan, error)
}

// MemoryReader reads session memory values written during execution.
// Satisfied by *store.MemoryStore.
type MemoryReader interface {
	GetValue(ctx context.Context, sessionID, key string) (any, error)
}

// SessionUpdater persists session-level preferences. Satisfied by
// *store.SessionStore.
type SessionUpdater interface {
	SetModel(ctx context.Context, sessionID, modelID string) error
}

// PlanMaker turns a request into an unpersisted plan. Satisfied by
// *planner.Planner.
type PlanMaker interface {
	CreatePlan(ctx context.Context, req planner.PlanRequest) *models.ExecutionPlan
}

// PlanRunner drives a persisted plan to a terminal state. Satisfied by
// *executor.Executioner.
type PlanRunner interface {
	Execute(ctx context.Context, plan *models.ExecutionPlan, opts executor.Options, bus *events.Bus) (*models.ExecutionPlan, error)
}

// ToolSource exposes the current tool catalog. Satisfied by *mcp.Dispatcher.
type ToolSource interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
}

// DocumentIngester turns an external document reference into textual
// planning context. Implementations typically read from blob storage.
type DocumentIngester interface {
	Ingest(ctx context.Context, bucket, key string) (string, error)
}

// Deps bundles the collaborators one agent needs. Sessions and Ingester are
// optional; everything else is required.
type Deps struct {
	Plans    PlanPersister
	Memory   MemoryReader
	Sessions SessionUpdater
	Planner  PlanMaker
	Executor PlanRunner
	Tools    ToolSource
	Ingester DocumentIngester
	LLM      *config.LLMConfig
}

func (d Deps) validate() error {
	switch {
	case d.Plans == nil:
		return fmt.Errorf("agent requires a plan store")
	case d.Memory == nil:
		return fmt.Errorf("agent requires a memory reader")
	case d.Planner == nil:
		return fmt.Errorf("agent requires a planner")
	case d.Executor == nil:
		return fmt.Errorf("agent requires an executor")
	case d.Tools == nil:
		return fmt.Errorf("agent requires a tool source")
	case d.LLM == nil:
		return fmt.Errorf("agent requires the LLM configuration")
	}
	return nil
}

// variantInstructions carries the per-variant planning guidance prepended to
// the planner system prompt. The generic variant adds nothing.
var variantInstructions = map[models.AgentKind]string{
	models.AgentKindGeneric:       "",
	models.AgentKindManufacturing: manufacturingInstructions,
}

const manufacturingInstructions = `You assist a manufacturing operations team.
Ground every answer in plant data: prefer tool calls that read production runs, machine status, quality measurements, and work orders over answering from general knowledge.
When the user asks about a line, a machine, or an order, plan a step that fetches its current data before any analysis step.
Keep equipment and order identifiers exactly as the user wrote them.`

// New builds the agent variant for a session. The kind comes from the
// persisted session (seeded from configuration for new sessions); unknown
// kinds are rejected rather than silently downgraded.
func New(kind models.AgentKind, sessionID string, deps Deps, bus *events.Bus) (Agent, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown agent variant %q", kind)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("agent requires a session id")
	}
	if bus == nil {
		return nil, fmt.Errorf("agent requires an event bus")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		sessionID:    sessionID,
		kind:         kind,
		instructions: variantInstructions[kind],
		plans:        deps.Plans,
		memory:       deps.Memory,
		sessions:     deps.Sessions,
		planner:      deps.Planner,
		executor:     deps.Executor,
		tools:        deps.Tools,
		ingester:     deps.Ingester,
		llmCfg:       deps.LLM,
		bus:          bus,
		window:       &window{},
	}, nil
}
