package index

import (
	"context"
	"errors"
	"time"

	"doc-qa-engine/pkg/store"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// DocumentChunk is the gorm model backing the pgvector index. The ingestion
// pipeline writes rows; the query path only reads.
type DocumentChunk struct {
	ID         string          `gorm:"primaryKey;type:uuid"`
	Filename   string          `gorm:"index"`
	FileHash   string          `gorm:"index"`
	Page       int             `gorm:"column:page"`
	ChunkIndex int             `gorm:"column:chunk_index"`
	ChunkType  string          `gorm:"column:chunk_type"`
	Section    string          `gorm:"column:section"`
	ImagePath  string          `gorm:"column:image_path"`
	HasImage   bool            `gorm:"column:has_image"`
	Document   string          `gorm:"column:document;type:text"`
	Embedding  pgvector.Vector `gorm:"column:embedding;type:vector(384)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// PgVectorIndex implements VectorIndex over Postgres with the pgvector
// extension, using cosine distance for nearest-neighbour search.
type PgVectorIndex struct {
	db *gorm.DB
}

var _ VectorIndex = (*PgVectorIndex)(nil)

func NewPgVectorIndex(db *gorm.DB) *PgVectorIndex {
	return &PgVectorIndex{db: db}
}

func (p *PgVectorIndex) Search(ctx context.Context, embedding []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}

	// Cosine distance in pgvector is 1 - cosine_similarity, so we compute
	// 1 - (embedding <=> query_vector) to get the similarity back.
	type scored struct {
		DocumentChunk
		Similarity float64
	}
	var rows []scored

	queryVector := pgvector.NewVector(embedding)

	err := p.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, 1 - (embedding <=> ?) as similarity", queryVector).
		Order(gorm.Expr("embedding <=> ?", queryVector)).
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{
			ID:         r.ID,
			Document:   r.Document,
			Metadata:   chunkMetadata(&r.DocumentChunk),
			Similarity: r.Similarity,
		}
	}
	return hits, nil
}

func (p *PgVectorIndex) Documents(ctx context.Context) ([]Entry, error) {
	var rows []DocumentChunk
	if err := p.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]Entry, len(rows))
	for i := range rows {
		entries[i] = Entry{
			ID:       rows[i].ID,
			Document: rows[i].Document,
			Metadata: chunkMetadata(&rows[i]),
		}
	}
	return entries, nil
}

func (p *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&DocumentChunk{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (p *PgVectorIndex) DeleteByFileHash(ctx context.Context, hash string) (bool, error) {
	res := p.db.WithContext(ctx).Where("file_hash = ?", hash).Delete(&DocumentChunk{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (p *PgVectorIndex) Stats(ctx context.Context) (Stats, error) {
	type row struct {
		DocumentCount int
		ChunkCount    int
		LatestModTime *time.Time
	}
	var r row

	err := p.db.WithContext(ctx).
		Model(&DocumentChunk{}).
		Select("COUNT(DISTINCT filename) as document_count, COUNT(*) as chunk_count, MAX(updated_at) as latest_mod_time").
		Scan(&r).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, err
	}

	stats := Stats{DocumentCount: r.DocumentCount, ChunkCount: r.ChunkCount}
	if r.LatestModTime != nil {
		stats.LatestModTime = *r.LatestModTime
	}
	return stats, nil
}

func chunkMetadata(c *DocumentChunk) store.ChunkMetadata {
	return store.ChunkMetadata{
		Filename:   c.Filename,
		Page:       c.Page,
		ChunkIndex: c.ChunkIndex,
		Type:       c.ChunkType,
		Section:    c.Section,
		ImagePath:  c.ImagePath,
		HasImage:   c.HasImage,
	}
}
