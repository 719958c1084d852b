package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"doc-qa-engine/pkg/cache"
	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/rag/artifact"
	"doc-qa-engine/pkg/rag/reasoning"
	"doc-qa-engine/pkg/rag/retrieval"
	"doc-qa-engine/pkg/rag/understanding"
	"doc-qa-engine/pkg/rag/verification"
	"doc-qa-engine/pkg/store"
	"doc-qa-engine/pkg/translate"

	"github.com/google/uuid"
)

// Pipeline states. Terminal states end the run.
type State string

const (
	StateStart      State = "START"
	StateUnderstood State = "UNDERSTOOD"
	StateCasual     State = "CASUAL"
	StateRetrieved  State = "RETRIEVED"
	StateNoEvidence State = "NO_EVIDENCE"
	StateReasoned   State = "REASONED"
	StateVerified   State = "VERIFIED"
	StateRefine     State = "REFINE"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)

// Config holds the orchestrator's pipeline parameters.
type Config struct {
	ConfidenceThreshold float64
	MaxRefinements      int
	QueryDeadline       time.Duration
	CacheTTL            time.Duration
	// LowRelevanceFloor marks evidence sets whose best fused score is too
	// weak to trust; the answer carries an advisory note below it.
	LowRelevanceFloor float64
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		MaxRefinements:      2,
		QueryDeadline:       90 * time.Second,
		CacheTTL:            24 * time.Hour,
		LowRelevanceFloor:   0.15,
	}
}

const casualRedirect = `I am a specialized research assistant focused on analyzing uploaded documents. Your question appears to be outside the scope of the knowledge base. Please upload documents (PDF, images, or audio) and ask questions related to their content. I can help you with:
- Extracting information from documents
- Answering questions about uploaded content
- Creating reports and summaries
- Analyzing data from your files`

// Orchestrator owns the pipeline state machine: pre-processing, the four
// agents in order, the refinement loop, artifact decision, and response
// assembly.
type Orchestrator struct {
	understanding *understanding.Agent
	retrieval     *retrieval.Agent
	reasoning     *reasoning.Agent
	verification  *verification.Agent

	idx        index.VectorIndex
	respCache  cache.ResponseCache
	translator translate.Provider
	config     Config
	logger     *log.Logger
}

func New(
	understandingAgent *understanding.Agent,
	retrievalAgent *retrieval.Agent,
	reasoningAgent *reasoning.Agent,
	verificationAgent *verification.Agent,
	idx index.VectorIndex,
	respCache cache.ResponseCache,
	translator translate.Provider,
	config Config,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		understanding: understandingAgent,
		retrieval:     retrievalAgent,
		reasoning:     reasoningAgent,
		verification:  verificationAgent,
		idx:           idx,
		respCache:     respCache,
		translator:    translator,
		config:        config,
		logger:        logger,
	}
}

// RunQuery processes one query from START to a terminal state. The caller
// never observes a raw error; every outcome is a Response.
func (o *Orchestrator) RunQuery(ctx context.Context, query string, topKOverride int) *store.Response {
	if strings.TrimSpace(query) == "" {
		return errorResponse(store.ErrKindEmptyQuery,
			"The query is empty. Please type a question about your documents.")
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.QueryDeadline)
	defer cancel()

	ec := &store.ExecutionContext{
		RunID:         uuid.New().String(),
		OriginalQuery: query,
		UserQuery:     query,
		Language:      "en",
		TopK:          topKOverride,
	}

	o.logger.Printf("[ORCHESTRATOR] run=%s query=%q", ec.RunID, truncate(query, 80))

	// Translation pre-step for non-Latin queries. The original query and
	// detected language always stay on the context.
	if isNonLatin(query) && o.translator != nil {
		translated, detected, err := o.translator.Translate(ctx, query, "", "en")
		if err == nil && strings.TrimSpace(translated) != "" {
			ec.UserQuery = translated
			if detected != "" {
				ec.Language = detected
			}
			ec.LogStep("translation", time.Now().Unix(), map[string]any{
				"original": query, "translated": translated, "language": detected,
			})
			o.logger.Printf("[ORCHESTRATOR] Translated %q -> %q (%s)", truncate(query, 40), truncate(translated, 40), detected)
		}
	}

	// Cache lookup happens before Understanding; a hit ends the run.
	key := o.cacheKey(ctx, ec.UserQuery)
	if key != "" {
		if cached, found := o.respCache.Get(ctx, key); found {
			o.logger.Printf("[ORCHESTRATOR] Cache hit run=%s", ec.RunID)
			hit := *cached
			hit.FromCache = true
			return &hit
		}
	}

	resp := o.runPipeline(ctx, ec)

	// Qualifying completions are written back; cancelled queries never are.
	if key != "" && ctx.Err() == nil && resp.Success && resp.Confidence >= o.config.ConfidenceThreshold {
		if err := o.respCache.Put(ctx, key, resp, o.config.CacheTTL); err != nil {
			o.logger.Printf("[WARN] Cache write failed (ignored): %v", err)
		}
	}

	return resp
}

func (o *Orchestrator) runPipeline(ctx context.Context, ec *store.ExecutionContext) *store.Response {
	// ═══════════════════════════════════════════════════════════════
	// PHASE 1: QUERY UNDERSTANDING
	// ═══════════════════════════════════════════════════════════════
	o.logger.Printf("[PHASE 1] Understanding... run=%s", ec.RunID)
	if err := o.understanding.Execute(ctx, ec); err != nil {
		return o.internalError(ec, err)
	}
	ec.LogStep(string(StateUnderstood), time.Now().Unix(), map[string]any{
		"query_type": ec.QueryType, "intent": ec.Intent,
	})

	if ec.IsCasual {
		o.logger.Printf("[PHASE 1] Casual query, no retrieval or model call run=%s", ec.RunID)
		return &store.Response{
			Success:    true,
			Answer:     casualRedirect,
			Confidence: 1.0,
			Verified:   true,
			Sources:    []store.Citation{},
			Images:     []store.ImageRef{},
			Language:   ec.Language,
			QueryType:  store.QueryTypeCasual,
		}
	}

	// Empty index fails fast, before any retrieval work.
	count, err := o.idx.Count(ctx)
	if err != nil {
		return o.internalError(ec, err)
	}
	if count == 0 {
		return errorResponse(store.ErrKindNoDocuments,
			"I don't have any documents in my knowledge base yet. Please upload related documents first.")
	}

	// ═══════════════════════════════════════════════════════════════
	// PHASE 2: HYBRID RETRIEVAL
	// ═══════════════════════════════════════════════════════════════
	ec.TopK = chooseTopK(ec.UserQuery, ec.TopK)
	o.logger.Printf("[PHASE 2] Retrieving (top_k=%d)... run=%s", ec.TopK, ec.RunID)

	if err := o.retrieval.Execute(ctx, ec); err != nil {
		if ctx.Err() != nil {
			return o.deadlineResponse(ec)
		}
		return o.internalError(ec, err)
	}
	ec.LogStep(string(StateRetrieved), time.Now().Unix(), map[string]any{"results": len(ec.Evidence)})

	if len(ec.Evidence) == 0 {
		return &store.Response{
			Success:   false,
			Answer:    "I don't have relevant information in my knowledge base to answer this question. Please upload related documents first.",
			Sources:   []store.Citation{},
			Images:    []store.ImageRef{},
			Language:  ec.Language,
			QueryType: ec.QueryType,
			Error: &store.ErrorInfo{
				Kind:    store.ErrKindNoEvidence,
				Message: "No relevant documents were found for this query. Try rephrasing it or uploading more material.",
			},
		}
	}

	lowRelevance := ec.Evidence[0].Score < o.config.LowRelevanceFloor
	fullEvidence := ec.Evidence

	// ═══════════════════════════════════════════════════════════════
	// PHASE 3+4: REASONING AND VERIFICATION, WITH REFINEMENT
	// ═══════════════════════════════════════════════════════════════
	refinements := 0
	usedSoFar := 0
	for {
		o.logger.Printf("[PHASE 3] Reasoning (refinement %d)... run=%s", refinements, ec.RunID)
		if err := o.reasoning.Execute(ctx, ec); err != nil {
			if ctx.Err() != nil {
				return o.deadlineResponse(ec)
			}
			return errorResponse(store.ErrKindReasoningExhausted,
				"I could not produce an answer from the retrieved documents. Please try rephrasing your question.")
		}
		ec.LogStep(string(StateReasoned), time.Now().Unix(), map[string]any{
			"fallback": ec.FallbackUsed, "answer_len": len(ec.Answer),
		})
		usedSoFar += ec.UsedEvidence

		o.logger.Printf("[PHASE 4] Verifying... run=%s", ec.RunID)
		if err := o.verification.Execute(ctx, ec); err != nil {
			// Verification failure downgrades confidence; the answer stands.
			o.logger.Printf("[WARN] Verification failed (answer kept): %v", err)
			ec.Confidence = 0.5
			ec.Verified = false
		}
		ec.LogStep(string(StateVerified), time.Now().Unix(), map[string]any{
			"confidence": ec.Confidence, "verified": ec.Verified,
		})

		if ctx.Err() != nil {
			return o.deadlineResponse(ec)
		}
		if ec.Verified ||
			refinements >= o.config.MaxRefinements ||
			usedSoFar >= len(fullEvidence) {
			break
		}

		// Refine: re-slice the evidence past what reasoning already saw so
		// the next pass reads fresh chunks.
		refinements++
		ec.Evidence = fullEvidence[usedSoFar:]
		o.logger.Printf("[REFINE] Confidence %.2f below threshold, pass %d over %d remaining chunks",
			ec.Confidence, refinements, len(ec.Evidence))
		ec.LogStep(string(StateRefine), time.Now().Unix(), map[string]any{"attempt": refinements})
	}
	ec.Evidence = fullEvidence

	answer := ec.Answer
	if lowRelevance {
		answer += "\n\nNote: Retrieved documents had limited relevance. For higher accuracy, consider uploading more specific or related materials."
	}

	ec.Artifact = artifact.Detect(ec.UserQuery, answer, ec.Intent)
	ec.LogStep(string(StateDone), time.Now().Unix(), nil)
	o.logger.Printf("[ORCHESTRATOR] Done run=%s confidence=%.2f verified=%v fallback=%q",
		ec.RunID, ec.Confidence, ec.Verified, ec.FallbackUsed)

	return &store.Response{
		Success:      true,
		Answer:       answer,
		Confidence:   ec.Confidence,
		Verified:     ec.Verified,
		Sources:      ec.Sources,
		Images:       ec.Images,
		Artifact:     ec.Artifact,
		Language:     ec.Language,
		QueryType:    ec.QueryType,
		FallbackUsed: ec.FallbackUsed,
	}
}

// deadlineResponse short-circuits to a graceful answer once the end-to-end
// soft deadline passes.
func (o *Orchestrator) deadlineResponse(ec *store.ExecutionContext) *store.Response {
	o.logger.Printf("[ORCHESTRATOR] Deadline reached run=%s", ec.RunID)

	sources := make([]store.Citation, 0, 3)
	seen := make(map[string]struct{})
	for _, r := range ec.Evidence {
		key := fmt.Sprintf("%s:%d", r.Metadata.Filename, r.Metadata.Page)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, store.Citation{Filename: r.Metadata.Filename, Page: r.Metadata.Page + 1})
		if len(sources) == 3 {
			break
		}
	}

	return &store.Response{
		Success:   false,
		Answer:    "The query took too long to process. The most relevant documents are listed below; please try a narrower question.",
		Sources:   sources,
		Images:    []store.ImageRef{},
		Language:  ec.Language,
		QueryType: ec.QueryType,
		Error: &store.ErrorInfo{
			Kind:    store.ErrKindModelTimeout,
			Message: "Processing exceeded the time limit. Try a narrower question or a smaller topic.",
		},
	}
}

func (o *Orchestrator) internalError(ec *store.ExecutionContext, err error) *store.Response {
	o.logger.Printf("[ERROR] run=%s internal: %v", ec.RunID, err)
	return errorResponse(store.ErrKindInternal,
		"Something went wrong while processing your query. Please try again.")
}

func errorResponse(kind, message string) *store.Response {
	return &store.Response{
		Success:  false,
		Sources:  []store.Citation{},
		Images:   []store.ImageRef{},
		Language: "en",
		Error:    &store.ErrorInfo{Kind: kind, Message: message},
	}
}

// cacheKey derives the lookup key from the normalized query and the current
// knowledge-base fingerprint. Cache trouble is non-fatal.
func (o *Orchestrator) cacheKey(ctx context.Context, query string) string {
	if o.respCache == nil {
		return ""
	}
	fp, err := cache.Fingerprint(ctx, o.idx)
	if err != nil {
		o.logger.Printf("[WARN] Fingerprint failed, skipping cache: %v", err)
		return ""
	}
	return cache.Key(query, fp)
}

// chooseTopK widens retrieval for long queries: 15 above ten tokens,
// otherwise 10. A caller override wins.
func chooseTopK(query string, override int) int {
	if override > 0 {
		return override
	}
	if len(strings.Fields(query)) > 10 {
		return 15
	}
	return 10
}

// isNonLatin reports whether the query needs the translation pre-step:
// any rune above U+00FF, or Arabic-script presentation forms.
func isNonLatin(text string) bool {
	for _, r := range text {
		if r > 0xFF {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
