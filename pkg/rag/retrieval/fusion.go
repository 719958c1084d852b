package retrieval

import (
	"fmt"
	"sort"

	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/store"
)

const tableBoost = 1.5

// dedupKey collapses chunks that refer to the same ingested unit.
func dedupKey(m store.ChunkMetadata) string {
	return fmt.Sprintf("%s\x00%d\x00%d", m.Filename, m.Page, m.ChunkIndex)
}

// fuse merges the three sub-search result sets into one deduplicated,
// score-ordered evidence list. Each chunk's fused score is the weighted sum
// of its sub-search scores, renormalised over the sources it actually
// appeared in; ties break by vector score, then by the metadata chunk index.
// The index entry ID is not compared.
func (a *Agent) fuse(
	vectorHits []index.Hit,
	keywordHits []entryScore,
	sectionHits []entryScore,
	boostTables bool,
	topK int,
) []store.SearchResult {

	candidates := make(map[string]*candidate)

	upsert := func(doc string, meta store.ChunkMetadata, source string, score float64) {
		key := dedupKey(meta)
		c, ok := candidates[key]
		if !ok {
			c = &candidate{document: doc, metadata: meta, scores: make(map[string]float64)}
			candidates[key] = c
		}
		// Same chunk hit twice from one source keeps the higher score.
		if score > c.scores[source] {
			c.scores[source] = score
		}
	}

	for _, h := range vectorHits {
		upsert(h.Document, h.Metadata, store.SourceVector, clamp01(h.Similarity))
	}
	for _, h := range keywordHits {
		upsert(h.entry.Document, h.entry.Metadata, store.SourceKeyword, clamp01(h.score))
	}
	for _, h := range sectionHits {
		upsert(h.entry.Document, h.entry.Metadata, store.SourceSection, clamp01(h.score))
	}

	weights := map[string]float64{
		store.SourceVector:  a.config.VectorWeight,
		store.SourceKeyword: a.config.KeywordWeight,
		store.SourceSection: a.config.SectionWeight,
	}

	results := make([]store.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		var weighted, presentWeight float64
		sources := make([]string, 0, len(c.scores))
		for _, source := range []string{store.SourceVector, store.SourceKeyword, store.SourceSection} {
			score, ok := c.scores[source]
			if !ok {
				continue
			}
			weighted += weights[source] * score
			presentWeight += weights[source]
			sources = append(sources, source)
		}
		if presentWeight == 0 {
			continue
		}

		fused := weighted / presentWeight
		if boostTables && c.metadata.Type == store.ChunkTypeTable {
			fused *= tableBoost
		}

		results = append(results, store.SearchResult{
			Document:    c.document,
			Metadata:    c.metadata,
			Score:       fused,
			Sources:     sources,
			VectorScore: c.scores[store.SourceVector],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		return results[i].Metadata.ChunkIndex < results[j].Metadata.ChunkIndex
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
