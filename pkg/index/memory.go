package index

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"doc-qa-engine/pkg/store"
)

// MemoryIndex is a brute-force cosine-similarity index held in memory.
// It backs single-node deployments and tests; larger installs use the
// pgvector implementation.
type MemoryIndex struct {
	mu         sync.RWMutex
	entries    []memoryEntry
	latestMod  time.Time
	fileHashes map[string][]int // file hash -> entry positions
}

type memoryEntry struct {
	id        string
	document  string
	metadata  store.ChunkMetadata
	embedding []float32
	fileHash  string
	deleted   bool
}

var _ VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{fileHashes: make(map[string][]int)}
}

// Add inserts chunks with their embeddings. Called by the ingestion side;
// the query path never writes.
func (m *MemoryIndex) Add(id, document string, metadata store.ChunkMetadata, embedding []float32, fileHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, memoryEntry{
		id:        id,
		document:  document,
		metadata:  metadata,
		embedding: embedding,
		fileHash:  fileHash,
	})
	m.fileHashes[fileHash] = append(m.fileHashes[fileHash], len(m.entries)-1)
	m.latestMod = time.Now()
}

func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []Hit
	for _, e := range m.entries {
		if e.deleted || len(e.embedding) == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:         e.id,
			Document:   e.document,
			Metadata:   e.metadata,
			Similarity: cosineSimilarity(embedding, e.embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) Documents(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.deleted {
			continue
		}
		entries = append(entries, Entry{ID: e.id, Document: e.document, Metadata: e.metadata})
	}
	return entries, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if !e.deleted {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) DeleteByFileHash(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions, ok := m.fileHashes[hash]
	if !ok || len(positions) == 0 {
		return false, nil
	}
	for _, pos := range positions {
		m.entries[pos].deleted = true
	}
	delete(m.fileHashes, hash)
	m.latestMod = time.Now()
	return true, nil
}

func (m *MemoryIndex) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make(map[string]struct{})
	chunks := 0
	for _, e := range m.entries {
		if e.deleted {
			continue
		}
		files[e.metadata.Filename] = struct{}{}
		chunks++
	}
	return Stats{
		DocumentCount: len(files),
		ChunkCount:    chunks,
		LatestModTime: m.latestMod,
	}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
