package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/store"
)

// ResponseCache stores terminal responses keyed by query + knowledge-base
// state. Reads may see a slightly stale value; writes are atomic by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*store.Response, bool)
	Put(ctx context.Context, key string, resp *store.Response, ttl time.Duration) error
}

// Key derives the cache key: SHA-256 of the normalized query joined to the
// knowledge-base fingerprint with a NUL separator.
func Key(query, kbFingerprint string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized + "\x00" + kbFingerprint))
	return hex.EncodeToString(sum[:])
}

// Fingerprint produces a short hex digest of the index's observable state.
// Any ingestion or deletion changes it, invalidating all cached responses.
func Fingerprint(ctx context.Context, idx index.VectorIndex) (string, error) {
	stats, err := idx.Stats(ctx)
	if err != nil {
		return "", fmt.Errorf("index stats: %w", err)
	}
	state := fmt.Sprintf("%d_%d_%d", stats.DocumentCount, stats.ChunkCount, stats.LatestModTime.UnixNano())
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:8]), nil
}
