package index

import (
	"context"
	"time"

	"doc-qa-engine/pkg/store"
)

// Hit is one nearest-neighbour result from the dense index.
type Hit struct {
	ID         string
	Document   string
	Metadata   store.ChunkMetadata
	Similarity float64
}

// Entry is one stored chunk as exposed for lexical and section scans.
type Entry struct {
	ID       string
	Document string
	Metadata store.ChunkMetadata
}

// Stats summarises the observable state of the index; the response cache
// derives the knowledge-base fingerprint from it.
type Stats struct {
	DocumentCount int
	ChunkCount    int
	LatestModTime time.Time
}

// VectorIndex is the persistent-index collaborator. The query path only
// reads; the ingestion pipeline is the sole writer, so concurrent readers
// are safe.
type VectorIndex interface {
	Search(ctx context.Context, embedding []float32, k int) ([]Hit, error)
	Documents(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	DeleteByFileHash(ctx context.Context, hash string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}
