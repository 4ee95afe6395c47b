package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/models"
	"github.com/aris-ai/aris/pkg/store"
	testdb "github.com/aris-ai/aris/test/database"
)

// TestE2E_RestartRecoversOrphanedPlan simulates a process restart: a previous
// run leaves a plan in_progress and the next run's startup sweep fails it,
// after which the session takes new turns again. Two connection pools over
// one shared schema stand in for the crashed and the restarted process.
func TestE2E_RestartRecoversOrphanedPlan(t *testing.T) {
	sharedDB := testdb.NewSharedTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The previous run: its pool created a session and left a plan running.
	prevRun := sharedDB.NewClient(t)
	sessions := store.NewSessionStore(prevRun)
	plans := store.NewPlanStore(prevRun)

	sessionID := uuid.NewString()
	_, err := sessions.GetOrCreate(ctx, sessionID, "anonymous", models.AgentKindGeneric)
	require.NoError(t, err)

	orphanID := uuid.NewString()
	fetchID, respondID := uuid.NewString(), uuid.NewString()
	require.NoError(t, plans.CreatePlan(ctx, &models.ExecutionPlan{
		ID:        orphanID,
		SessionID: sessionID,
		UserQuery: "check the evening shift numbers",
		Summary:   "Fetch shift data, then answer.",
		Actions: []*models.PlannedAction{
			{ID: fetchID, Type: models.ActionTypeToolCall, Name: "Fetch shift data",
				Description: "Query the evening shift metrics",
				ToolName:    "get_shift_data", ExecutionOrder: 0},
			{ID: respondID, Type: models.ActionTypeResponse, Name: "Respond",
				Description: "Summarize the shift numbers",
				DependsOn:   []string{fetchID}, ExecutionOrder: 1},
		},
	}))
	_, err = plans.UpdatePlanStatus(ctx, orphanID, models.PlanStatusInProgress)
	require.NoError(t, err)

	// The restarted process: a fresh pool over the same schema. Its boot
	// sweep runs before any client attaches.
	app := NewTestApp(t, WithDBClient(sharedDB.NewClient(t)))

	recovered, err := app.Plans.RecoverOrphanedPlans(ctx, "orphaned by restart")
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := app.Plans.GetPlan(ctx, orphanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, got.Status)
	assert.Equal(t, "orphaned by restart", got.ErrorMessage)

	// The read API serves the failed plan as the session's latest.
	plan := app.getJSON(t, "/api/v1/sessions/"+sessionID+"/plan", 200)
	assert.Equal(t, orphanID, plan["plan_id"])
	assert.Equal(t, "failed", plan["status"])

	// With no active plan left, the next message plans fresh instead of
	// being absorbed into the orphan.
	app.LLM.AddSequential(
		LLMScriptEntry{Text: "Back after the restart."},
		LLMScriptEntry{Text: "The evening shift produced 120 units."},
	)

	ws, err := WSConnect(ctx, app.WSURLFor(sessionID))
	require.NoError(t, err)
	defer ws.Close()
	_, err = ws.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ws.SendMessage(ctx, "what did the evening shift produce?"))
	final, err := ws.WaitForEventType("message", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "The evening shift produced 120 units.", final.Parsed["message"])

	// Every frame on the new connection belongs to the fresh plan; the
	// failed orphan is never replayed.
	frames := planFrames(ws.Events())
	freshPlanID := assertSinglePlanID(t, frames)
	assert.NotEqual(t, orphanID, freshPlanID)
	assert.Equal(t, "completed", planStatus(t, lastPlanUpdate(t, ws.Events())))
	assert.Equal(t, 2, app.LLM.CallCount())
}
