package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/aris-ai/aris/pkg/models"
)

// conversationWindowSize bounds the per-session turn buffer. The planner
// embeds only its own, narrower slice of this window.
const conversationWindowSize = 10

// RuntimeOptions are the per-request LLM overrides a client may set. Zero
// value means "configured defaults".
type RuntimeOptions struct {
	// ModelID is the resolved model id, empty until the client selects one.
	ModelID string

	// Temperature overrides reply sampling when non-nil.
	Temperature *float32
}

// SetRuntimeOptions maps raw client-supplied options through the allowlist:
// a model id outside the allowlist falls back to the configured default; a
// temperature that does not parse as a finite number clears any previous
// override. Omitted values (empty model id, nil temperature) leave the
// current options untouched.
func (o *Orchestrator) SetRuntimeOptions(ctx context.Context, modelID string, temperature any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if modelID != "" {
		resolved := o.llmCfg.ResolveModel(modelID)
		if resolved != modelID {
			slog.Warn("Requested model not in allowlist, using default",
				"session_id", o.sessionID, "requested", modelID, "resolved", resolved)
		}
		o.opts.ModelID = resolved
		if o.sessions != nil {
			if err := o.sessions.SetModel(ctx, o.sessionID, resolved); err != nil {
				slog.Warn("Failed to persist model selection",
					"session_id", o.sessionID, "error", err)
			}
		}
	}

	if temperature != nil {
		o.opts.Temperature = parseTemperature(temperature)
	}
}

// RecentMessages returns a copy of the conversation window, oldest first.
func (o *Orchestrator) RecentMessages() []models.ConversationTurn {
	return o.window.snapshot()
}

// runtimeOptions snapshots the options one turn will run with.
func (o *Orchestrator) runtimeOptions() RuntimeOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts
}

// parseTemperature accepts the numeric shapes JSON decoding produces plus
// numeric strings. Anything else, NaN and infinities included, is unset.
func parseTemperature(v any) *float32 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 32)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	out := float32(f)
	return &out
}

// window is the bounded in-memory turn buffer. The full history is not
// persisted; a reconnecting client starts with an empty window.
type window struct {
	mu    sync.Mutex
	turns []models.ConversationTurn
}

func (w *window) append(role models.TurnRole, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = append(w.turns, models.ConversationTurn{Role: role, Content: content})
	if len(w.turns) > conversationWindowSize {
		w.turns = w.turns[len(w.turns)-conversationWindowSize:]
	}
}

func (w *window) snapshot() []models.ConversationTurn {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.ConversationTurn, len(w.turns))
	copy(out, w.turns)
	return out
}
