package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────── HTTP helpers ────────────────────────────

// getJSON performs a GET against the test server, asserts the status code,
// and decodes the JSON body.
func (app *TestApp) getJSON(t *testing.T, path string, expectStatus int) map[string]any {
	t.Helper()
	return app.getJSONAuth(t, path, "", expectStatus)
}

// getJSONAuth is getJSON with a bearer token on the request.
func (app *TestApp) getJSONAuth(t *testing.T, path, token string, expectStatus int) map[string]any {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, expectStatus, resp.StatusCode, "GET %s", path)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "GET %s returned non-JSON body", path)
	return body
}

// ──────────────────────────── frame helpers ────────────────────────────

// planFrames selects plan_create and plan_update events, in arrival order.
func planFrames(events []WSEvent) []WSEvent {
	var out []WSEvent
	for _, e := range events {
		if e.Type == "plan_create" || e.Type == "plan_update" {
			out = append(out, e)
		}
	}
	return out
}

// planData returns a plan frame's data object.
func planData(t *testing.T, evt WSEvent) map[string]any {
	t.Helper()
	data, ok := evt.Parsed["data"].(map[string]any)
	require.True(t, ok, "%s frame carries no data object", evt.Type)
	return data
}

func planID(t *testing.T, evt WSEvent) string {
	t.Helper()
	id, _ := planData(t, evt)["plan_id"].(string)
	require.NotEmpty(t, id, "%s frame carries no plan_id", evt.Type)
	return id
}

func planStatus(t *testing.T, evt WSEvent) string {
	t.Helper()
	status, _ := planData(t, evt)["status"].(string)
	return status
}

// actionSnapshots returns a plan frame's actions, in plan order.
func actionSnapshots(t *testing.T, evt WSEvent) []map[string]any {
	t.Helper()
	raw, ok := planData(t, evt)["actions"].([]any)
	require.True(t, ok, "%s frame carries no actions array", evt.Type)
	out := make([]map[string]any, 0, len(raw))
	for i, a := range raw {
		m, ok := a.(map[string]any)
		require.True(t, ok, "action %d is not an object", i)
		out = append(out, m)
	}
	return out
}

// actionStatuses maps action id to status for one plan frame.
func actionStatuses(t *testing.T, evt WSEvent) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, a := range actionSnapshots(t, evt) {
		id, _ := a["id"].(string)
		status, _ := a["status"].(string)
		out[id] = status
	}
	return out
}

// actionByName finds one action snapshot by its display name.
func actionByName(t *testing.T, evt WSEvent, name string) map[string]any {
	t.Helper()
	for _, a := range actionSnapshots(t, evt) {
		if a["name"] == name {
			return a
		}
	}
	require.Failf(t, "action not found", "no action named %q in %s frame", name, evt.Type)
	return nil
}

// statusRank orders action statuses for monotonicity checks. All terminal
// states share a rank; a terminal action may never change again.
var statusRank = map[string]int{
	"pending":     0,
	"starting":    1,
	"in_progress": 2,
	"completed":   3,
	"failed":      3,
	"cancelled":   3,
}

// assertMonotonicActionStatuses verifies no action in the frame sequence
// ever moves backwards or leaves a terminal state.
func assertMonotonicActionStatuses(t *testing.T, frames []WSEvent) {
	t.Helper()
	last := make(map[string]string)
	for i, f := range frames {
		for id, status := range actionStatuses(t, f) {
			prev, seen := last[id]
			if seen {
				assert.LessOrEqual(t, statusRank[prev], statusRank[status],
					"frame %d: action %s went %s to %s", i, id, prev, status)
				if statusRank[prev] == 3 {
					assert.Equal(t, prev, status,
						"frame %d: action %s changed terminal status", i, id)
				}
			}
			last[id] = status
		}
	}
}

// assertSinglePlanID verifies every plan frame references the same plan and
// returns its id.
func assertSinglePlanID(t *testing.T, frames []WSEvent) string {
	t.Helper()
	require.NotEmpty(t, frames, "no plan frames received")
	id := planID(t, frames[0])
	for i, f := range frames[1:] {
		assert.Equal(t, id, planID(t, f), "frame %d references a different plan", i+1)
	}
	return id
}

// lastPlanUpdate returns the most recent plan_update in the history.
func lastPlanUpdate(t *testing.T, events []WSEvent) WSEvent {
	t.Helper()
	var found *WSEvent
	for i := range events {
		if events[i].Type == "plan_update" {
			found = &events[i]
		}
	}
	require.NotNil(t, found, "no plan_update frame received")
	return *found
}
