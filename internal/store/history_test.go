package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndListRuns(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	first := Run{
		ID: "run-1", Mode: "account", Subject: "Acme", Status: "ok", Health: "Green",
		Artifact: "output/a.html", StartedAt: base, Duration: 1500 * time.Millisecond,
		LLMCalls: 1, MCPCalls: 7, Tokens: 420,
		Steps: []Step{
			{Name: "gather", Status: "ok", StartedAt: base, Duration: time.Second},
			{Name: "analyze", Status: "ok", StartedAt: base.Add(time.Second), Duration: 2 * time.Millisecond},
		},
	}
	second := Run{
		ID: "run-2", Mode: "query", Subject: "query", Status: "failed", Error: "denied by policy",
		StartedAt: base.Add(time.Hour),
		Steps:     []Step{{Name: "query", Status: "failed", StartedAt: base.Add(time.Hour), Error: "denied by policy"}},
	}
	require.NoError(t, h.RecordRun(ctx, first))
	require.NoError(t, h.RecordRun(ctx, second))

	runs, err := h.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID, "newest first")
	assert.Equal(t, "denied by policy", runs[0].Error)

	got := runs[1]
	assert.Equal(t, "Green", got.Health)
	assert.Equal(t, base, got.StartedAt)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.EqualValues(t, 420, got.Tokens)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "gather", got.Steps[0].Name)
	assert.Equal(t, 1, got.Steps[1].Position)

	limited, err := h.RecentRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordRunReplaces(t *testing.T) {
	h := newTestStore(t)
	ctx := context.Background()
	run := Run{ID: "r", Mode: "account", Status: "failed", StartedAt: time.Now(),
		Steps: []Step{{Name: "a", Status: "ok"}, {Name: "b", Status: "failed"}}}
	require.NoError(t, h.RecordRun(ctx, run))

	run.Status = "ok"
	run.Steps = run.Steps[:1]
	require.NoError(t, h.RecordRun(ctx, run))

	runs, err := h.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].Status)
	assert.Len(t, runs[0].Steps, 1)
}
