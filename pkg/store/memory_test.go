package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-ai/aris/pkg/models"
	testdb "github.com/aris-ai/aris/test/database"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	t.Run("round-trips JSON values and counts accesses", func(t *testing.T) {
		value := map[string]any{"rows": []any{map[string]any{"line": float64(3)}}, "count": float64(1)}
		require.NoError(t, store.Put(ctx, session.ID, "line_data", value, PutOptions{ToolName: "get_production_data"}))

		item, err := store.Get(ctx, session.ID, "line_data")
		require.NoError(t, err)
		assert.Equal(t, value, item.Value)
		assert.Equal(t, "get_production_data", item.ToolName)
		assert.Equal(t, int64(1), item.AccessCount)
		assert.Positive(t, item.SizeBytes)
		assert.NotNil(t, item.LastAccessedAt)
		assert.Nil(t, item.ExpiresAt)

		item, err = store.Get(ctx, session.ID, "line_data")
		require.NoError(t, err)
		assert.Equal(t, int64(2), item.AccessCount)
	})

	t.Run("overwrite is last writer wins", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, session.ID, "shift", map[string]any{"shift": "day"}, PutOptions{}))
		require.NoError(t, store.Put(ctx, session.ID, "shift", map[string]any{"shift": "night"}, PutOptions{}))

		item, err := store.Get(ctx, session.ID, "shift")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"shift": "night"}, item.Value)
	})

	t.Run("wraps values that cannot be serialized", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, session.ID, "weird", make(chan int), PutOptions{}))

		item, err := store.Get(ctx, session.ID, "weird")
		require.NoError(t, err)
		wrapped, ok := item.Value.(map[string]any)
		require.True(t, ok, "expected wrapped value, got %T", item.Value)
		assert.Equal(t, "chan int", wrapped["type"])
		assert.Contains(t, wrapped, "data")
	})

	t.Run("truncates oversized tool names", func(t *testing.T) {
		long := strings.Repeat("x", models.MaxToolNameLength+50)
		require.NoError(t, store.Put(ctx, session.ID, "trunc", "v", PutOptions{ToolName: long}))

		item, err := store.Get(ctx, session.ID, "trunc")
		require.NoError(t, err)
		assert.Len(t, item.ToolName, models.MaxToolNameLength)
	})

	t.Run("missing key returns not found", func(t *testing.T) {
		_, err := store.Get(ctx, session.ID, "no_such_key")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_TTL(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	ttl := 50 * time.Millisecond
	require.NoError(t, store.Put(ctx, session.ID, "ephemeral", "soon gone", PutOptions{TTL: &ttl}))

	item, err := store.Get(ctx, session.ID, "ephemeral")
	require.NoError(t, err)
	require.NotNil(t, item.ExpiresAt)

	time.Sleep(100 * time.Millisecond)

	// Expired items are invisible to readers even before the sweep.
	_, err = store.Get(ctx, session.ID, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.ListKeys(ctx, session.ID, "")
	require.NoError(t, err)
	assert.NotContains(t, keys, "ephemeral")

	swept, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)
}

func TestMemoryStore_DeleteAndList(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	for _, key := range []string{"report_a", "report_b", "raw_1"} {
		require.NoError(t, store.Put(ctx, session.ID, key, key, PutOptions{}))
	}

	t.Run("list all and by pattern", func(t *testing.T) {
		keys, err := store.ListKeys(ctx, session.ID, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"report_a", "report_b", "raw_1"}, keys)

		keys, err = store.ListKeys(ctx, session.ID, "report_*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"report_a", "report_b"}, keys)

		// Underscores in keys are literal, not LIKE wildcards.
		keys, err = store.ListKeys(ctx, session.ID, "raw_1")
		require.NoError(t, err)
		assert.Equal(t, []string{"raw_1"}, keys)
	})

	t.Run("delete reports per-key results", func(t *testing.T) {
		results, err := store.Delete(ctx, session.ID, []string{"report_a", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"report_a": true, "missing": false}, results)

		_, err = store.Get(ctx, session.ID, "report_a")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_FindByToolAndTag(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	require.NoError(t, store.Put(ctx, session.ID, "k1", "v1", PutOptions{
		ToolName: "get_production_data",
		Tags:     []string{"tool_result", "get_production_data"},
	}))
	require.NoError(t, store.Put(ctx, session.ID, "k2", "v2", PutOptions{
		ToolName: "generate_report",
		Tags:     []string{"tool_result", "generate_report"},
	}))
	require.NoError(t, store.Put(ctx, session.ID, "k3", "v3", PutOptions{Tags: []string{"note"}}))

	byTool, err := store.ByTool(ctx, session.ID, "get_production_data")
	require.NoError(t, err)
	require.Len(t, byTool, 1)
	assert.Equal(t, "k1", byTool[0].Key)

	byTag, err := store.ByTag(ctx, session.ID, "tool_result")
	require.NoError(t, err)
	assert.Len(t, byTag, 2)

	byTag, err = store.ByTag(ctx, session.ID, "note")
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "k3", byTag[0].Key)
}

func TestMemoryStore_HandleToolResult(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	actionID := uuid.NewString()
	result := map[string]any{"status": "ok", "rows": float64(4)}
	require.NoError(t, store.HandleToolResult(ctx, session.ID, actionID, "get_production_data", result))

	item, err := store.Get(ctx, session.ID, models.ToolResultKey(actionID))
	require.NoError(t, err)
	assert.Equal(t, result, item.Value)
	assert.Equal(t, "get_production_data", item.ToolName)
	assert.ElementsMatch(t, []string{models.TagToolResult, "get_production_data"}, item.Tags)
}

func TestMemoryStore_ConcurrentPutSameKey(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := store.Put(ctx, session.ID, "contested", map[string]any{"writer": float64(n)}, PutOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	item, err := store.Get(ctx, session.ID, "contested")
	require.NoError(t, err)
	value, ok := item.Value.(map[string]any)
	require.True(t, ok)

	// Exactly one writer's value survives intact.
	winner, ok := value["writer"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, winner, float64(0))
	assert.Less(t, winner, float64(writers))
}

func TestMemoryStore_Stats(t *testing.T) {
	client := testdb.NewTestClient(t)
	store := NewMemoryStore(client)
	ctx := context.Background()
	session := createTestSession(t, client)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, session.ID, fmt.Sprintf("k%d", i), strings.Repeat("a", 100), PutOptions{}))
	}

	stats, err := store.Stats(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Items)
	assert.GreaterOrEqual(t, stats.TotalBytes, int64(300))
}
