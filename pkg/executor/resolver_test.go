package executor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/models"
)

// resolverPlan builds a plan whose actions are already completed, the state
// templates are resolved against.
func resolverPlan(actions ...*models.PlannedAction) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{ID: "plan-1", SessionID: "sess-1", Status: models.PlanStatusInProgress, Actions: actions}
	for i, a := range actions {
		a.PlanID = plan.ID
		a.ExecutionOrder = i + 1
		if a.Status == "" {
			a.Status = models.ActionStatusCompleted
		}
	}
	return plan
}

func newResolver(plan *models.ExecutionPlan, memory *fakeMemory) *resolver {
	return &resolver{plan: plan, memory: memory, session: plan.SessionID}
}

func TestResolver_DirectSiblingReference(t *testing.T) {
	plan := resolverPlan(toolAction("a-1", "get_fake_data", nil))
	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", map[string]any{
		"user": map[string]any{"name": "ada", "id": 7.0},
	})

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"who": "{{a-1.user.name}}",
	})
	assert.Equal(t, "ada", args["who"])
}

func TestResolver_WholeResultBecomesPrettyJSON(t *testing.T) {
	value := map[string]any{"rows": []any{"r1", "r2"}}
	plan := resolverPlan(toolAction("a-1", "get_fake_data", nil))
	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", value)

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"content": "{{a-1.result}}",
	})

	expected, err := json.MarshalIndent(value, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, string(expected), args["content"])
}

func TestResolver_URLFieldPrefersDocumentTool(t *testing.T) {
	// Both completed results carry a file_url; the document tool must win.
	dataTool := toolAction("a-1", "get_fake_data", nil)
	pdfTool := toolAction("a-2", "create_pdf", nil)
	plan := resolverPlan(dataTool, pdfTool)

	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", map[string]any{"file_url": "https://files.example/data.csv"})
	memory.seed("sess-1", "a-2", map[string]any{"file_url": "https://files.example/report.pdf"})

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"link": "{{made_up_label.file_url}}",
	})
	assert.Equal(t, "https://files.example/report.pdf", args["link"])
}

func TestResolver_AnalysisLabelYieldsFormattedContent(t *testing.T) {
	analysis := analysisAction("a-1", "Format data for document", "Prepare the summary")
	plan := resolverPlan(analysis)

	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", map[string]any{
		"success":           true,
		"formatted_content": "# Report\n\nTwo rows.",
	})

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"content": "{{formatted.result}}",
	})
	assert.Equal(t, "# Report\n\nTwo rows.", args["content"])
}

func TestResolver_UnresolvableReferenceStaysVerbatim(t *testing.T) {
	plan := resolverPlan() // nothing completed
	r := newResolver(plan, newFakeMemory())

	args := r.resolveArguments(context.Background(), map[string]any{
		"content": "prefix {{ghost.result}} suffix",
		"plain":   "no templates here",
	})
	assert.Equal(t, "prefix {{ghost.result}} suffix", args["content"])
	assert.Equal(t, "no templates here", args["plain"])
}

func TestResolver_RecursesIntoNestedStructuresWithoutMutating(t *testing.T) {
	plan := resolverPlan(toolAction("a-1", "get_fake_data", nil))
	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", map[string]any{"items": []any{
		map[string]any{"name": "first"},
		map[string]any{"name": "second"},
	}})

	original := map[string]any{
		"outer": map[string]any{
			"list": []any{"{{a-1.items.1.name}}", "static"},
		},
	}
	r := newResolver(plan, memory)
	resolved := r.resolveArguments(context.Background(), original)

	outer := resolved["outer"].(map[string]any)
	list := outer["list"].([]any)
	assert.Equal(t, "second", list[0])
	assert.Equal(t, "static", list[1])

	// The input map is left untouched.
	originalList := original["outer"].(map[string]any)["list"].([]any)
	assert.Equal(t, "{{a-1.items.1.name}}", originalList[0])
}

func TestResolver_IncompleteSiblingFallsBackToHeuristics(t *testing.T) {
	// The referenced sibling exists but has no stored result yet; a
	// completed data tool satisfies the reference instead.
	pendingTool := toolAction("a-1", "create_pdf", nil)
	pendingTool.Status = models.ActionStatusPending
	doneTool := toolAction("a-2", "get_fake_data", nil)
	plan := resolverPlan(pendingTool, doneTool)

	memory := newFakeMemory()
	memory.seed("sess-1", "a-2", map[string]any{"value": "42"})

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"v": "{{a-1.value}}",
	})
	assert.Equal(t, "42", args["v"])
}

func TestResolver_MultipleReferencesInOneString(t *testing.T) {
	plan := resolverPlan(toolAction("a-1", "get_fake_data", nil))
	memory := newFakeMemory()
	memory.seed("sess-1", "a-1", map[string]any{"name": "report.pdf", "url": "https://x/y"})

	r := newResolver(plan, memory)
	args := r.resolveArguments(context.Background(), map[string]any{
		"line": "{{a-1.name}} is at {{a-1.url}}",
	})
	assert.Equal(t, "report.pdf is at https://x/y", args["line"])
}
