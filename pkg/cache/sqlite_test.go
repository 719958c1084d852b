package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "responses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleResponse() *store.Response {
	return &store.Response{
		Success:    true,
		Answer:     "The attitude control subsystem stabilizes the satellite.",
		Confidence: 0.9,
		Verified:   true,
		Sources:    []store.Citation{{Filename: "design.pdf", Page: 5}},
		Language:   "en",
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key := Key("what stabilizes the satellite?", "fp1")
	require.NoError(t, c.Put(ctx, key, sampleResponse(), time.Hour))

	got, found := c.Get(ctx, key)
	require.True(t, found)
	assert.Equal(t, sampleResponse().Answer, got.Answer)
	assert.Equal(t, sampleResponse().Sources, got.Sources)
}

func TestMissOnUnknownKey(t *testing.T) {
	c := newTestCache(t)
	_, found := c.Get(context.Background(), Key("never asked", "fp1"))
	assert.False(t, found)
}

func TestNonSuccessResponsesAreNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key := Key("failed query", "fp1")
	require.NoError(t, c.Put(ctx, key, &store.Response{Success: false}, time.Hour))

	_, found := c.Get(ctx, key)
	assert.False(t, found)
}

func TestKeyNormalizesQuery(t *testing.T) {
	assert.Equal(t, Key("  What IS aocs? ", "fp"), Key("what is aocs?", "fp"))
	assert.NotEqual(t, Key("what is aocs?", "fp1"), Key("what is aocs?", "fp2"))
}

func TestFingerprintChangesWithIndexState(t *testing.T) {
	ctx := context.Background()
	idx := index.NewMemoryIndex()

	fp1, err := Fingerprint(ctx, idx)
	require.NoError(t, err)

	idx.Add("c1", "some chunk", store.ChunkMetadata{Filename: "a.pdf"}, []float32{1}, "hash-a")

	fp2, err := Fingerprint(ctx, idx)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2, "adding a document must invalidate the fingerprint")
}

func TestExpiredEntriesAreDropped(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key := Key("short lived", "fp1")
	require.NoError(t, c.Put(ctx, key, sampleResponse(), time.Hour))

	// Force the persisted row to be expired and bypass the hot layer.
	_, err := c.db.Exec(`UPDATE cached_responses SET expires_at = 0 WHERE cache_key = ?`, key)
	require.NoError(t, err)
	c.hot.Flush()

	_, found := c.Get(ctx, key)
	assert.False(t, found)
}

func TestCleanupExpired(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, Key("q1", "fp"), sampleResponse(), time.Hour))
	_, err := c.db.Exec(`UPDATE cached_responses SET expires_at = 0`)
	require.NoError(t, err)

	n, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
