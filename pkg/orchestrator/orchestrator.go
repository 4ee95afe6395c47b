// Package orchestrator sequences the per-message work of a session: document
// context ingestion, conversation bookkeeping, planning, plan persistence,
// execution, and the final reply. One Orchestrator instance is bound to one
// session and its event bus; a Registry tracks the live instances so
// connections can be cancelled on shutdown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/executor"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/planner"
	"github.com/aris-ai/aris/pkg/store"
)

// ErrEmptyMessage rejects a message with no text before any state changes.
var ErrEmptyMessage = errors.New("message text is required")

// persistApology is the reply when the plan could not be persisted. The turn
// aborts before execution: a plan the store never saw is never run.
const persistApology = "I'm sorry, I couldn't start working on that request just now. Please try again in a moment."

// Orchestrator owns one session's turn pipeline. Constructed through New,
// which selects the agent variant.
type Orchestrator struct {
	sessionID    string
	kind         models.AgentKind
	instructions string

	plans    PlanPersister
	memory   MemoryReader
	sessions SessionUpdater
	planner  PlanMaker
	executor PlanRunner
	tools    ToolSource
	ingester DocumentIngester
	llmCfg   *config.LLMConfig
	bus      *events.Bus

	mu     sync.Mutex
	opts   RuntimeOptions
	window *window
}

// ProcessMessage runs one turn end to end:
//
//	ingest document context, record the user turn, plan, persist, emit
//	plan_create, execute, read the reply from memory, record the assistant
//	turn, emit final_message.
//
// A still-running plan absorbs the message: the user turn is recorded and the
// current snapshot is returned unchanged, with no new frames. Planning and
// execution failures degrade to user-visible apologies; the error return is
// for caller logging and never carries anything the user has not already
// been told about.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg UserMessage) (*models.ExecutionPlan, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	log := slog.With("session_id", o.sessionID, "agent", string(o.kind))

	if msg.DocBucket != "" && msg.DocKey != "" {
		text = o.withDocumentContext(ctx, text, msg.DocBucket, msg.DocKey)
	}

	o.window.append(models.TurnRoleUser, text)

	if active := o.activePlan(ctx); active != nil {
		log.Info("Plan already running, returning its snapshot",
			"plan_id", active.ID, "status", active.Status)
		return active, nil
	}

	opts := o.runtimeOptions()

	o.bus.Progress("Working out a plan for your request")
	plan := o.planner.CreatePlan(ctx, planner.PlanRequest{
		SessionID:    o.sessionID,
		UserQuery:    text,
		Turns:        o.window.snapshot(),
		Tools:        o.toolCatalog(ctx),
		ModelID:      opts.ModelID,
		Instructions: o.instructions,
	})

	if err := o.plans.CreatePlan(ctx, plan); err != nil {
		log.Error("Failed to persist plan, aborting turn", "error", err)
		o.finish(persistApology, map[string]any{})
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}
	o.bus.PlanCreate(plan)
	log.Info("Plan created", "plan_id", plan.ID, "actions", len(plan.Actions))

	final, execErr := o.executor.Execute(ctx, plan, executor.Options{
		ModelID:     opts.ModelID,
		Temperature: opts.Temperature,
	}, o.bus)
	if execErr != nil {
		log.Error("Plan execution aborted", "plan_id", plan.ID, "error", execErr)
	}
	if final == nil {
		final = plan
	}

	reply, ok := o.replyFromMemory(ctx, final)
	if !ok {
		reply = fallbackReply(final)
	}
	o.finish(reply, o.turnData(ctx, final))
	log.Info("Turn finished", "plan_id", final.ID, "status", final.Status)
	return final, execErr
}

// PublishActivePlan emits one plan_update carrying the store's current
// snapshot when the session still has a non-terminal plan. Called on
// (re)attach so a returning client catches up before new frames arrive.
func (o *Orchestrator) PublishActivePlan(ctx context.Context) bool {
	plan := o.activePlan(ctx)
	if plan == nil {
		return false
	}
	o.bus.PlanUpdate(plan)
	slog.Info("Replayed active plan snapshot",
		"session_id", o.sessionID, "plan_id", plan.ID, "status", plan.Status)
	return true
}

// finish records the assistant turn and closes the turn on the bus.
func (o *Orchestrator) finish(reply string, data map[string]any) {
	o.window.append(models.TurnRoleAssistant, reply)
	o.bus.FinalMessage(reply, data)
}

// activePlan returns the session's non-terminal plan, or nil. A lookup error
// other than not-found is logged and treated as "no active plan": planning a
// fresh turn is safer than silently dropping the message.
func (o *Orchestrator) activePlan(ctx context.Context) *models.ExecutionPlan {
	plan, err := o.plans.ActivePlan(ctx, o.sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Active plan lookup failed",
				"session_id", o.sessionID, "error", err)
		}
		return nil
	}
	if plan == nil || plan.Status.IsTerminal() {
		return nil
	}
	return plan
}

// toolCatalog fetches the dispatcher catalog, degrading to an empty catalog
// when discovery fails so the planner can still produce an analysis-only plan.
func (o *Orchestrator) toolCatalog(ctx context.Context) []mcp.ToolDescriptor {
	tools, err := o.tools.ListTools(ctx)
	if err != nil {
		slog.Warn("Tool catalog unavailable, planning without tools",
			"session_id", o.sessionID, "error", err)
		return nil
	}
	return tools
}

// withDocumentContext asks the ingestion collaborator for textual context and
// prepends it to the user text. Every failure is fail-open: the turn proceeds
// with the bare message.
func (o *Orchestrator) withDocumentContext(ctx context.Context, text, bucket, key string) string {
	if o.ingester == nil {
		slog.Warn("Document reference received but no ingester is configured",
			"session_id", o.sessionID, "doc_key", key)
		return text
	}
	o.bus.Progress("Reading the attached document")
	docText, err := o.ingester.Ingest(ctx, bucket, key)
	if err != nil {
		slog.Warn("Document ingestion failed, continuing without it",
			"session_id", o.sessionID, "doc_bucket", bucket, "doc_key", key, "error", err)
		return text
	}
	if strings.TrimSpace(docText) == "" {
		return text
	}
	return "## Attached Document\n\n" + docText + "\n\n" + text
}

// replyFromMemory reads the reply the plan's response action stored. The last
// completed response or clarification action wins when a plan carries more
// than one.
func (o *Orchestrator) replyFromMemory(ctx context.Context, plan *models.ExecutionPlan) (string, bool) {
	for i := len(plan.Actions) - 1; i >= 0; i-- {
		a := plan.Actions[i]
		if a.Status != models.ActionStatusCompleted {
			continue
		}
		if a.Type != models.ActionTypeResponse && a.Type != models.ActionTypeClarification {
			continue
		}
		value, err := o.memory.GetValue(ctx, o.sessionID, models.ToolResultKey(a.ID))
		if err != nil {
			slog.Warn("Reply lookup failed",
				"session_id", o.sessionID, "action_id", a.ID, "error", err)
			continue
		}
		if m, ok := value.(map[string]any); ok {
			if text, ok := m["response_text"].(string); ok && strings.TrimSpace(text) != "" {
				return text, true
			}
		}
	}
	return "", false
}

// turnData assembles the final_message data payload. Completed tool calls
// whose stored results carry a file URL become data.files entries, each also
// announced with a doc frame so clients can offer the download early.
func (o *Orchestrator) turnData(ctx context.Context, plan *models.ExecutionPlan) map[string]any {
	data := map[string]any{}
	var files []map[string]any
	for _, a := range plan.Actions {
		if a.Type != models.ActionTypeToolCall || a.Status != models.ActionStatusCompleted {
			continue
		}
		value, err := o.memory.GetValue(ctx, o.sessionID, models.ToolResultKey(a.ID))
		if err != nil {
			continue
		}
		result, ok := value.(map[string]any)
		if !ok {
			continue
		}
		url := firstString(result, "url", "file_url", "download_url", "presigned_url")
		if url == "" {
			continue
		}
		name := firstString(result, "name", "file_name", "filename", "document_name")
		if name == "" {
			name = path.Base(strings.SplitN(url, "?", 2)[0])
		}
		files = append(files, map[string]any{"name": name, "url": url})
		o.bus.DocumentNotice(events.DocumentInfo{
			Name:   name,
			Format: strings.TrimPrefix(path.Ext(name), "."),
			Type:   "file",
			Metadata: map[string]any{
				"url":       url,
				"tool_name": a.ToolName,
				"action_id": a.ID,
			},
		})
	}
	if len(files) > 0 {
		data["files"] = files
	}
	return data
}

// fallbackReply synthesizes the end-of-turn apology when no response action
// stored a reply, naming every failed action so the user knows what broke.
func fallbackReply(plan *models.ExecutionPlan) string {
	var failures []string
	for _, a := range plan.Actions {
		if a.Status != models.ActionStatusFailed {
			continue
		}
		if a.ErrorMessage != "" {
			failures = append(failures, fmt.Sprintf("%q (%s)", a.Name, a.ErrorMessage))
		} else {
			failures = append(failures, fmt.Sprintf("%q", a.Name))
		}
	}
	switch len(failures) {
	case 0:
		return "I'm sorry, I wasn't able to put together a response for that request. Please try again."
	case 1:
		return fmt.Sprintf("I'm sorry, I couldn't complete your request: the step %s failed. Please try again or rephrase.", failures[0])
	default:
		return fmt.Sprintf("I'm sorry, I couldn't complete your request: these steps failed: %s. Please try again or rephrase.", strings.Join(failures, ", "))
	}
}

// firstString returns the first non-empty string among the given keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
