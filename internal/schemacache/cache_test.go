package schemacache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type schemaPayload struct {
	Catalog string   `json:"catalog"`
	Tables  []string `json:"tables"`
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(filepath.Join(t.TempDir(), "nested", "schema.json"), WithClock(clock.Now))
	return c, clock
}

func TestPutThenGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	want := schemaPayload{Catalog: "Demo", Tables: []string{"Account", "Case"}}

	require.NoError(t, c.Put("ops@example.com@mcp/Demo", want, 3600))

	entry, ok := c.Get("ops@example.com@mcp/Demo")
	require.True(t, ok)
	assert.Equal(t, 3600, entry.TTLSeconds)

	var got schemaPayload
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, want, got)
}

func TestGetSurvivesNewInstance(t *testing.T) {
	c, clock := newTestCache(t)
	require.NoError(t, c.Put("k", schemaPayload{Catalog: "Demo"}, 60))

	reopened := New(c.Path(), WithClock(clock.Now))
	_, ok := reopened.Get("k")
	assert.True(t, ok)
}

func TestGetAfterExpiry(t *testing.T) {
	c, clock := newTestCache(t)
	require.NoError(t, c.Put("k", schemaPayload{Catalog: "Demo"}, 60))

	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry should be valid just before the deadline")

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire at discoveredAt + ttl")

	clock.Advance(time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestZeroTTLIsAlwaysExpired(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Put("k", schemaPayload{Catalog: "Demo"}, 0))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestPutOverwrites(t *testing.T) {
	c, clock := newTestCache(t)
	require.NoError(t, c.Put("k", schemaPayload{Catalog: "Old"}, 60))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.Put("k", schemaPayload{Catalog: "New"}, 60))

	clock.Advance(45 * time.Second)
	entry, ok := c.Get("k")
	require.True(t, ok, "refresh must restart the ttl window")

	var got schemaPayload
	require.NoError(t, entry.Decode(&got))
	assert.Equal(t, "New", got.Catalog)
	assert.Len(t, c.Entries(), 1)
}

func TestInvalidateKey(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Put("a", schemaPayload{Catalog: "A"}, 60))
	require.NoError(t, c.Put("b", schemaPayload{Catalog: "B"}, 60))

	require.NoError(t, c.Invalidate("a"))
	require.NoError(t, c.Invalidate("missing"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestInvalidateAll(t *testing.T) {
	c, _ := newTestCache(t)
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(key, schemaPayload{Catalog: key}, 60))
	}

	require.NoError(t, c.InvalidateAll())
	require.NoError(t, c.InvalidateAll(), "clearing an empty cache is not an error")

	for _, key := range []string{"a", "b", "c"} {
		_, ok := c.Get(key)
		assert.False(t, ok, key)
	}
	assert.Empty(t, c.Entries())
}

func TestMissingFileIsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok := c.Get("anything")
	assert.False(t, ok)
	assert.Empty(t, c.Entries())
}

func TestCorruptFileIsEmptyAndRecoverable(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":   "{not json",
		"null":      "null",
		"wrongType": `["a", "b"]`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestCache(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(c.Path()), 0o755))
			require.NoError(t, os.WriteFile(c.Path(), []byte(content), 0o644))

			_, ok := c.Get("k")
			assert.False(t, ok)

			require.NoError(t, c.Put("k", schemaPayload{Catalog: "Fresh"}, 60))
			entry, ok := c.Get("k")
			require.True(t, ok)

			var got schemaPayload
			require.NoError(t, entry.Decode(&got))
			assert.Equal(t, "Fresh", got.Catalog)

			raw, err := os.ReadFile(c.Path())
			require.NoError(t, err)
			assert.True(t, json.Valid(raw))
		})
	}
}
