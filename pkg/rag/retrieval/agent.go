package retrieval

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"doc-qa-engine/pkg/embedding"
	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Config encapsulates retrieval parameters. Fusion weights are renormalised
// to the sources actually present on each chunk.
type Config struct {
	VectorWeight     float64
	KeywordWeight    float64
	SectionWeight    float64
	MinKeywordScore  float64
	SubSearchTimeout time.Duration
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		VectorWeight:     0.6,
		KeywordWeight:    0.3,
		SectionWeight:    0.1,
		MinKeywordScore:  0.1,
		SubSearchTimeout: 10 * time.Second,
	}
}

// Agent runs dense, lexical, and section sub-searches over the indexed
// chunk set and fuses their scores into one deduplicated evidence set.
type Agent struct {
	embedder embedding.Provider
	idx      index.VectorIndex
	config   Config
	logger   *log.Logger
}

func NewAgent(embedder embedding.Provider, idx index.VectorIndex, config Config, logger *log.Logger) *Agent {
	return &Agent{
		embedder: embedder,
		idx:      idx,
		config:   config,
		logger:   logger,
	}
}

// candidate accumulates per-source scores for one chunk during fusion.
type candidate struct {
	document string
	metadata store.ChunkMetadata
	scores   map[string]float64 // source tag -> normalized sub-search score
}

var unitRe = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(kg|g|m|mm|cm|km|s|ms|hz|khz|mhz|ghz|w|kw|mw|v|mv|a|ma|db|deg|rad|n|nm|pa|kpa|bar|%)\b`)

// Execute fills ec.Evidence with up to ec.TopK fused chunks, sorted by
// fused score descending. An empty index yields an empty evidence set, not
// an error; a single failed sub-search degrades to the union of the rest.
func (a *Agent) Execute(ctx context.Context, ec *store.ExecutionContext) error {
	count, err := a.idx.Count(ctx)
	if err != nil {
		return fmt.Errorf("index count: %w", err)
	}
	if count == 0 {
		a.logger.Printf("[RETRIEVAL] Index is empty")
		ec.Evidence = nil
		return nil
	}

	topK := ec.TopK
	if topK <= 0 {
		topK = 10
	}

	var (
		vectorHits  []index.Hit
		entries     []index.Entry
		vectorErr   error
		documentErr error
	)

	g, gCtx := errgroup.WithContext(ctx)

	// Dense search embeds the query and asks the index for neighbours.
	g.Go(func() error {
		subCtx, cancel := context.WithTimeout(gCtx, a.config.SubSearchTimeout)
		defer cancel()

		vec, err := a.embedder.Generate(subCtx, ec.UserQuery, embedding.TaskRetrievalQuery)
		if err != nil {
			vectorErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		hits, err := a.idx.Search(subCtx, vec, topK*2)
		if err != nil {
			vectorErr = fmt.Errorf("vector search: %w", err)
			return nil
		}
		vectorHits = hits
		return nil
	})

	// Lexical and section scans share one pass over the stored chunks.
	g.Go(func() error {
		subCtx, cancel := context.WithTimeout(gCtx, a.config.SubSearchTimeout)
		defer cancel()

		all, err := a.idx.Documents(subCtx)
		if err != nil {
			documentErr = fmt.Errorf("load documents: %w", err)
			return nil
		}
		entries = all
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	keywords := ec.Keywords
	if len(keywords) == 0 {
		keywords = fallbackKeywords(ec.UserQuery)
	}

	var keywordHits, sectionHits []entryScore
	if documentErr == nil {
		keywordHits = keywordSearch(entries, keywords, a.config.MinKeywordScore)
		sectionHits = sectionSearch(entries, keywords)
	}

	if vectorErr != nil {
		a.logger.Printf("[RETRIEVAL] Vector search degraded: %v", vectorErr)
	}
	if documentErr != nil {
		a.logger.Printf("[RETRIEVAL] Lexical/section search degraded: %v", documentErr)
	}
	if vectorErr != nil && documentErr != nil {
		return fmt.Errorf("all sub-searches failed: %v; %v", vectorErr, documentErr)
	}

	boostTables := wantsTableBoost(ec.QueryType, ec.UserQuery)
	evidence := a.fuse(vectorHits, keywordHits, sectionHits, boostTables, topK)
	ec.Evidence = evidence

	a.logger.Printf("[RETRIEVAL] %d evidence chunks (vector=%d keyword=%d section=%d)",
		len(evidence), len(vectorHits), len(keywordHits), len(sectionHits))
	return nil
}

type entryScore struct {
	entry index.Entry
	score float64
}

// keywordSearch scores chunks by token overlap with the query keywords:
// (matched / total) * 0.5 + 0.5 when at least one keyword matches.
func keywordSearch(entries []index.Entry, keywords []string, minScore float64) []entryScore {
	if len(keywords) == 0 {
		return nil
	}

	var hits []entryScore
	for _, e := range entries {
		doc := strings.ToLower(e.Document)
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(doc, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched)/float64(len(keywords))*0.5 + 0.5
		if score < minScore {
			continue
		}
		hits = append(hits, entryScore{entry: e, score: score})
	}
	return hits
}

// sectionSearch boosts chunks whose section label shares tokens with the
// query keywords.
func sectionSearch(entries []index.Entry, keywords []string) []entryScore {
	if len(keywords) == 0 {
		return nil
	}

	var hits []entryScore
	for _, e := range entries {
		if e.Metadata.Section == "" {
			continue
		}
		section := strings.ToLower(e.Metadata.Section)
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(section, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, entryScore{
			entry: e,
			score: float64(matched)/float64(len(keywords))*0.5 + 0.5,
		})
	}
	return hits
}

func fallbackKeywords(query string) []string {
	var kws []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!")
		if len(w) >= 4 {
			kws = append(kws, w)
		}
	}
	return kws
}

func wantsTableBoost(queryType, query string) bool {
	if queryType == store.QueryTypeNumerical || queryType == store.QueryTypeExtraction {
		return true
	}
	return unitRe.MatchString(query)
}
