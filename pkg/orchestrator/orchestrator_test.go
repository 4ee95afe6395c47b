package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/config"
	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/executor"
	"github.com/aris-ai/aris/pkg/mcp"
	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/planner"
	"github.com/aris-ai/aris/pkg/store"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type fakePlans struct {
	mu         sync.Mutex
	created    []*models.ExecutionPlan
	active     *models.ExecutionPlan
	failCreate error // consumed by the next CreatePlan
}

func (f *fakePlans) CreatePlan(_ context.Context, plan *models.ExecutionPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		err := f.failCreate
		f.failCreate = nil
		return err
	}
	f.created = append(f.created, plan)
	return nil
}

func (f *fakePlans) ActivePlan(_ context.Context, sessionID string) (*models.ExecutionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, fmt.Errorf("active plan for session %s: %w", sessionID, store.ErrNotFound)
	}
	return f.active, nil
}

func (f *fakePlans) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeMemory struct {
	mu     sync.Mutex
	values map[string]any
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{values: map[string]any{}}
}

func (f *fakeMemory) seed(sessionID, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[sessionID+"/"+key] = value
}

func (f *fakeMemory) GetValue(_ context.Context, sessionID, key string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[sessionID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("memory key %s: %w", key, store.ErrNotFound)
	}
	return v, nil
}

type fakePlanner struct {
	mu   sync.Mutex
	next *models.ExecutionPlan
	reqs []planner.PlanRequest
}

func (f *fakePlanner) CreatePlan(_ context.Context, req planner.PlanRequest) *models.ExecutionPlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	plan := f.next
	if plan == nil {
		plan = scriptedPlan(
			analysisAction("a-think", "Review the request"),
			replyAction("a-reply", models.ActionTypeResponse, "a-think"),
		)
	}
	plan.SessionID = req.SessionID
	plan.UserQuery = req.UserQuery
	for _, a := range plan.Actions {
		a.PlanID = plan.ID
	}
	return plan
}

func (f *fakePlanner) requests() []planner.PlanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]planner.PlanRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

// fakeRunner completes every action unless run is set, and emits one
// plan_update for the terminal snapshot the way the real executioner does.
type fakeRunner struct {
	mu    sync.Mutex
	calls []executor.Options
	run   func(plan *models.ExecutionPlan) *models.ExecutionPlan
	err   error
}

func (f *fakeRunner) Execute(_ context.Context, plan *models.ExecutionPlan, opts executor.Options, bus *events.Bus) (*models.ExecutionPlan, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	out := clonePlan(plan)
	if f.run != nil {
		out = f.run(out)
	} else {
		for _, a := range out.Actions {
			a.Status = models.ActionStatusCompleted
		}
		out.Status = models.PlanStatusCompleted
		out.RecountActions()
	}
	if bus != nil {
		bus.PlanUpdate(out)
	}
	return out, f.err
}

func (f *fakeRunner) options() []executor.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]executor.Options, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeTools struct {
	descriptors []mcp.ToolDescriptor
	err         error
}

func (f *fakeTools) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return f.descriptors, f.err
}

type fakeIngester struct {
	mu    sync.Mutex
	text  string
	err   error
	calls [][2]string
}

func (f *fakeIngester) Ingest(_ context.Context, bucket, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{bucket, key})
	return f.text, f.err
}

type fakeSessions struct {
	mu     sync.Mutex
	models map[string]string
	err    error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{models: map[string]string{}}
}

func (f *fakeSessions) SetModel(_ context.Context, sessionID, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.models[sessionID] = modelID
	return nil
}

// recordingSink captures frames in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	frames []any
}

func (s *recordingSink) Send(_ context.Context, frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) all() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.frames))
	copy(out, s.frames)
	return out
}

func frameType(f any) string {
	switch t := f.(type) {
	case events.ProgressFrame:
		return t.Type
	case events.PlanFrame:
		return t.Type
	case events.MessageFrame:
		return t.Type
	case events.DocFrame:
		return t.Type
	case events.ErrorFrame:
		return t.Type
	case events.PingFrame:
		return t.Type
	default:
		return fmt.Sprintf("%T", f)
	}
}

func frameTypes(frames []any) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = frameType(f)
	}
	return out
}

func messagesOf(frames []any) []events.MessageFrame {
	var out []events.MessageFrame
	for _, f := range frames {
		if m, ok := f.(events.MessageFrame); ok {
			out = append(out, m)
		}
	}
	return out
}

func countType(frames []any, frameTypeName string) int {
	n := 0
	for _, f := range frames {
		if frameType(f) == frameTypeName {
			n++
		}
	}
	return n
}

// ────────────────────────────────────────────────────────────
// Harness and builders
// ────────────────────────────────────────────────────────────

type agentHarness struct {
	plans    *fakePlans
	memory   *fakeMemory
	sessions *fakeSessions
	planner  *fakePlanner
	runner   *fakeRunner
	tools    *fakeTools
	ingester *fakeIngester
	sink     *recordingSink
	bus      *events.Bus
	agent    Agent
}

func newAgentHarness(t *testing.T, kind models.AgentKind) *agentHarness {
	t.Helper()
	h := &agentHarness{
		plans:    &fakePlans{},
		memory:   newFakeMemory(),
		sessions: newFakeSessions(),
		planner:  &fakePlanner{},
		runner:   &fakeRunner{},
		tools: &fakeTools{descriptors: []mcp.ToolDescriptor{
			{Name: "get_fake_data", Description: "Returns sample data", Server: "data"},
		}},
		ingester: &fakeIngester{},
		sink:     &recordingSink{},
	}
	h.bus = events.NewBus("sess-1", h.sink)
	t.Cleanup(h.bus.Close)

	agent, err := New(kind, "sess-1", Deps{
		Plans:    h.plans,
		Memory:   h.memory,
		Sessions: h.sessions,
		Planner:  h.planner,
		Executor: h.runner,
		Tools:    h.tools,
		Ingester: h.ingester,
		LLM: &config.LLMConfig{
			DefaultModelID: "default-model",
			AllowedModels:  []string{"default-model", "fast-model"},
		},
	}, h.bus)
	require.NoError(t, err)
	h.agent = agent
	return h
}

// frames closes the bus, flushing the writer, and returns what was delivered.
func (h *agentHarness) frames() []any {
	h.bus.Close()
	return h.sink.all()
}

func scriptedPlan(actions ...*models.PlannedAction) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{
		ID:      uuid.NewString(),
		Summary: "scripted plan",
		Status:  models.PlanStatusNew,
		Actions: actions,
	}
	for i, a := range actions {
		a.PlanID = plan.ID
		a.Status = models.ActionStatusPending
		a.ExecutionOrder = i + 1
	}
	plan.RecountActions()
	return plan
}

func toolAction(id, tool string, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: models.ActionTypeToolCall,
		Name: "Call " + tool, ToolName: tool, DependsOn: deps,
	}
}

func analysisAction(id, name string, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: models.ActionTypeAnalysis, Name: name, DependsOn: deps,
	}
}

func replyAction(id string, typ models.ActionType, deps ...string) *models.PlannedAction {
	return &models.PlannedAction{
		ID: id, Type: typ, Name: "Respond to user", DependsOn: deps,
	}
}

func clonePlan(plan *models.ExecutionPlan) *models.ExecutionPlan {
	encoded, _ := json.Marshal(plan)
	var out models.ExecutionPlan
	_ = json.Unmarshal(encoded, &out)
	return &out
}

// seedReply stores the reply text the way the executioner's response runner
// does, keyed by the reply action id.
func (h *agentHarness) seedReply(actionID, text string) {
	h.memory.seed("sess-1", models.ToolResultKey(actionID),
		map[string]any{"success": true, "response_text": text})
}

// ────────────────────────────────────────────────────────────
// ProcessMessage
// ────────────────────────────────────────────────────────────

func TestProcessMessage_TurnPipeline(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.seedReply("a-reply", "Hello there!")

	final, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "hello"})
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, models.PlanStatusCompleted, final.Status)
	assert.Equal(t, 1, h.plans.createdCount())

	frames := h.frames()
	types := frameTypes(frames)
	createIdx := -1
	updateIdx := -1
	messageIdx := -1
	for i, typ := range types {
		switch typ {
		case events.FrameTypePlanCreate:
			createIdx = i
		case events.FrameTypePlanUpdate:
			updateIdx = i
		case events.FrameTypeMessage:
			messageIdx = i
		}
	}
	require.GreaterOrEqual(t, createIdx, 0, "missing plan_create in %v", types)
	require.GreaterOrEqual(t, updateIdx, 0, "missing plan_update in %v", types)
	require.GreaterOrEqual(t, messageIdx, 0, "missing message in %v", types)
	assert.Less(t, createIdx, updateIdx, "plan_create must precede plan_update")
	assert.Less(t, updateIdx, messageIdx, "plan_update must precede final message")

	msg := frames[messageIdx].(events.MessageFrame)
	assert.Equal(t, "Hello there!", msg.Message)
	assert.Equal(t, map[string]any{}, msg.Data)
	assert.Equal(t, events.ActionClose, msg.Action)

	turns := h.agent.RecentMessages()
	require.Len(t, turns, 2)
	assert.Equal(t, models.TurnRoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, models.TurnRoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello there!", turns[1].Content)

	reqs := h.planner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "sess-1", reqs[0].SessionID)
	assert.Equal(t, "hello", reqs[0].UserQuery)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "get_fake_data", reqs[0].Tools[0].Name)
	assert.Empty(t, reqs[0].Instructions)
}

func TestProcessMessage_EmptyTextRejected(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)

	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.agent.RecentMessages())
	assert.Empty(t, h.frames())
}

func TestProcessMessage_ReusesRunningPlan(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	running := scriptedPlan(toolAction("a-1", "get_fake_data"))
	running.SessionID = "sess-1"
	running.Status = models.PlanStatusInProgress
	h.plans.active = running

	final, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "are you done yet?"})
	require.NoError(t, err)
	assert.Equal(t, running.ID, final.ID)
	assert.Equal(t, models.PlanStatusInProgress, final.Status)

	assert.Empty(t, h.planner.requests(), "a running plan must not trigger planning")
	assert.Empty(t, h.runner.options(), "a running plan must not be re-executed")
	assert.Empty(t, h.frames(), "reuse emits nothing")

	turns := h.agent.RecentMessages()
	require.Len(t, turns, 1, "the user turn is still recorded")
	assert.Equal(t, models.TurnRoleUser, turns[0].Role)
}

func TestProcessMessage_PersistFailureAbortsTurn(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.plans.failCreate = errors.New("insert failed")
	h.seedReply("a-reply", "Second turn works.")

	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "first"})
	require.Error(t, err)
	assert.Empty(t, h.runner.options(), "an unpersisted plan must never execute")

	// The next message plans and runs normally.
	final, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, final.Status)

	frames := h.frames()
	assert.Equal(t, 1, countType(frames, events.FrameTypePlanCreate),
		"only the persisted plan gets a plan_create")
	msgs := messagesOf(frames)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Message, "sorry")
	assert.Equal(t, "Second turn works.", msgs[1].Message)
}

func TestProcessMessage_FallbackNamesFailedActions(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.planner.next = scriptedPlan(
		toolAction("a-fetch", "get_fake_data"),
		replyAction("a-reply", models.ActionTypeResponse, "a-fetch"),
	)
	h.planner.next.Actions[0].Name = "Fetch data"
	h.runner.run = func(plan *models.ExecutionPlan) *models.ExecutionPlan {
		plan.Action("a-fetch").Status = models.ActionStatusFailed
		plan.Action("a-fetch").ErrorMessage = "boom"
		plan.Status = models.PlanStatusFailed
		plan.ErrorMessage = `action "Fetch data" failed: boom`
		plan.RecountActions()
		return plan
	}

	final, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "show me today's data"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, final.Status)

	msgs := messagesOf(h.frames())
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Message, `"Fetch data"`)
	assert.Contains(t, msgs[0].Message, "boom")
	assert.Equal(t, map[string]any{}, msgs[0].Data)
}

func TestProcessMessage_FilesSurfaceInFinalData(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.planner.next = scriptedPlan(
		toolAction("a-data", "get_fake_data"),
		toolAction("a-pdf", "create_pdf", "a-data"),
		replyAction("a-reply", models.ActionTypeResponse, "a-pdf"),
	)
	h.memory.seed("sess-1", models.ToolResultKey("a-data"), map[string]any{"rows": []any{1.0, 2.0}})
	h.memory.seed("sess-1", models.ToolResultKey("a-pdf"), map[string]any{
		"file_url":  "https://files.example.com/report.pdf?sig=abc",
		"file_name": "report.pdf",
	})
	h.seedReply("a-reply", "Your report is ready.")

	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "export today's data as pdf"})
	require.NoError(t, err)

	frames := h.frames()
	msgs := messagesOf(frames)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Your report is ready.", msgs[0].Message)
	require.Contains(t, msgs[0].Data, "files")
	assert.Equal(t, []map[string]any{
		{"name": "report.pdf", "url": "https://files.example.com/report.pdf?sig=abc"},
	}, msgs[0].Data["files"])

	docIdx := -1
	msgIdx := -1
	for i, typ := range frameTypes(frames) {
		switch typ {
		case events.FrameTypeDoc:
			docIdx = i
		case events.FrameTypeMessage:
			msgIdx = i
		}
	}
	require.GreaterOrEqual(t, docIdx, 0, "a produced file is announced with a doc frame")
	assert.Less(t, docIdx, msgIdx, "the doc frame precedes the final message")
	doc := frames[docIdx].(events.DocFrame)
	assert.Equal(t, "report.pdf", doc.Data.Document.Name)
	assert.Equal(t, "pdf", doc.Data.Document.Format)
}

func TestProcessMessage_ClarificationReplySurfaces(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.planner.next = scriptedPlan(
		replyAction("a-clarify", models.ActionTypeClarification),
	)
	h.seedReply("a-clarify", "Which production line did you mean?")

	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "line status"})
	require.NoError(t, err)

	msgs := messagesOf(h.frames())
	require.Len(t, msgs, 1)
	assert.Equal(t, "Which production line did you mean?", msgs[0].Message)
}

func TestProcessMessage_DocumentContext(t *testing.T) {
	t.Run("ingested text is prepended", func(t *testing.T) {
		h := newAgentHarness(t, models.AgentKindGeneric)
		h.ingester.text = "Quarterly output fell 4% in March."
		h.seedReply("a-reply", "Summary done.")

		_, err := h.agent.ProcessMessage(context.Background(), UserMessage{
			Text: "summarize the attached report", DocBucket: "reports", DocKey: "q1.pdf",
		})
		require.NoError(t, err)

		require.Len(t, h.ingester.calls, 1)
		assert.Equal(t, [2]string{"reports", "q1.pdf"}, h.ingester.calls[0])

		reqs := h.planner.requests()
		require.Len(t, reqs, 1)
		assert.Contains(t, reqs[0].UserQuery, "## Attached Document")
		assert.Contains(t, reqs[0].UserQuery, "Quarterly output fell 4% in March.")
		assert.Contains(t, reqs[0].UserQuery, "summarize the attached report")
	})

	t.Run("ingestion failure is fail-open", func(t *testing.T) {
		h := newAgentHarness(t, models.AgentKindGeneric)
		h.ingester.err = errors.New("bucket unreachable")
		h.seedReply("a-reply", "Done without the doc.")

		final, err := h.agent.ProcessMessage(context.Background(), UserMessage{
			Text: "summarize the attached report", DocBucket: "reports", DocKey: "q1.pdf",
		})
		require.NoError(t, err)
		assert.Equal(t, models.PlanStatusCompleted, final.Status)

		reqs := h.planner.requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "summarize the attached report", reqs[0].UserQuery)
	})

	t.Run("no ingester configured", func(t *testing.T) {
		h := newAgentHarness(t, models.AgentKindGeneric)
		h.seedReply("a-reply", "Done.")
		agent, err := New(models.AgentKindGeneric, "sess-1", Deps{
			Plans:    h.plans,
			Memory:   h.memory,
			Planner:  h.planner,
			Executor: h.runner,
			Tools:    h.tools,
			LLM:      &config.LLMConfig{DefaultModelID: "default-model"},
		}, h.bus)
		require.NoError(t, err)

		_, err = agent.ProcessMessage(context.Background(), UserMessage{
			Text: "summarize the attached report", DocBucket: "reports", DocKey: "q1.pdf",
		})
		require.NoError(t, err)
		reqs := h.planner.requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "summarize the attached report", reqs[0].UserQuery)
	})
}

func TestProcessMessage_CatalogFailurePlansWithoutTools(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.tools.err = errors.New("all servers down")
	h.seedReply("a-reply", "Answered from context.")

	final, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCompleted, final.Status)

	reqs := h.planner.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
}

func TestProcessMessage_RuntimeOptionsFlowThrough(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	h.seedReply("a-reply", "ok")

	h.agent.SetRuntimeOptions(context.Background(), "fast-model", 0.3)
	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "first"})
	require.NoError(t, err)

	reqs := h.planner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "fast-model", reqs[0].ModelID)

	opts := h.runner.options()
	require.Len(t, opts, 1)
	assert.Equal(t, "fast-model", opts[0].ModelID)
	require.NotNil(t, opts[0].Temperature)
	assert.InDelta(t, 0.3, float64(*opts[0].Temperature), 1e-6)
	assert.Equal(t, "fast-model", h.sessions.models["sess-1"])

	// An unlisted model falls back, a garbage temperature becomes unset.
	h.agent.SetRuntimeOptions(context.Background(), "evil-model", "not-a-number")
	_, err = h.agent.ProcessMessage(context.Background(), UserMessage{Text: "second"})
	require.NoError(t, err)

	opts = h.runner.options()
	require.Len(t, opts, 2)
	assert.Equal(t, "default-model", opts[1].ModelID)
	assert.Nil(t, opts[1].Temperature)
	assert.Equal(t, "default-model", h.sessions.models["sess-1"])
}

func TestProcessMessage_ManufacturingVariantAddsInstructions(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindManufacturing)
	h.seedReply("a-reply", "Line 3 is running.")

	_, err := h.agent.ProcessMessage(context.Background(), UserMessage{Text: "status of line 3"})
	require.NoError(t, err)

	reqs := h.planner.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "manufacturing operations team")
}

// ────────────────────────────────────────────────────────────
// PublishActivePlan
// ────────────────────────────────────────────────────────────

func TestPublishActivePlan_ReplaysSnapshot(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)
	running := scriptedPlan(toolAction("a-1", "get_fake_data"))
	running.SessionID = "sess-1"
	running.Status = models.PlanStatusInProgress
	h.plans.active = running

	assert.True(t, h.agent.PublishActivePlan(context.Background()))
	// The same snapshot again is deduplicated by the bus.
	assert.True(t, h.agent.PublishActivePlan(context.Background()))

	frames := h.frames()
	assert.Equal(t, 1, countType(frames, events.FrameTypePlanUpdate))
	for _, f := range frames {
		if pf, ok := f.(events.PlanFrame); ok {
			assert.Equal(t, running.ID, pf.Data.PlanID)
		}
	}
}

func TestPublishActivePlan_NothingToReplay(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)

	assert.False(t, h.agent.PublishActivePlan(context.Background()))
	assert.Empty(t, h.frames())
}

// ────────────────────────────────────────────────────────────
// Factory
// ────────────────────────────────────────────────────────────

func TestNew_RejectsUnknownVariant(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)

	_, err := New(models.AgentKind("quantum"), "sess-2", Deps{
		Plans:    h.plans,
		Memory:   h.memory,
		Planner:  h.planner,
		Executor: h.runner,
		Tools:    h.tools,
		LLM:      &config.LLMConfig{DefaultModelID: "default-model"},
	}, h.bus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	h := newAgentHarness(t, models.AgentKindGeneric)

	_, err := New(models.AgentKindGeneric, "sess-2", Deps{
		Memory:   h.memory,
		Planner:  h.planner,
		Executor: h.runner,
		Tools:    h.tools,
		LLM:      &config.LLMConfig{DefaultModelID: "default-model"},
	}, h.bus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan store")
}
