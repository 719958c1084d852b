package reasoning

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/store"

	"github.com/google/uuid"
)

// Fallback level names recorded on the context. An empty FallbackUsed means
// the primary path produced the answer.
const (
	FallbackSimplified = "simplified_reasoning"
	FallbackExtraction = "direct_extraction"
	FallbackGraceful   = "graceful_fallback"
)

const minAnswerLength = 20

// Config holds the prompt-budget parameters for the reasoning stage.
type Config struct {
	ContextWindow  int // model context window in tokens
	ReservedTokens int // system + query + response allowance
	PerChunkTokens int // cap before head/tail truncation kicks in
}

func DefaultConfig() Config {
	return Config{
		ContextWindow:  2048,
		ReservedTokens: 800,
		PerChunkTokens: 500,
	}
}

// Agent produces an answer grounded strictly in the evidence set, attaching
// citations and degrading through progressively cheaper strategies when the
// model misbehaves.
type Agent struct {
	llmClient  llm.Client
	config     Config
	failureLog *FailureLog
	logger     *log.Logger
}

func NewAgent(llmClient llm.Client, config Config, failureLog *FailureLog, logger *log.Logger) *Agent {
	return &Agent{
		llmClient:  llmClient,
		config:     config,
		failureLog: failureLog,
		logger:     logger,
	}
}

// Execute runs the fallback ladder over ec.Evidence and writes the answer,
// citations, images, and the engaged fallback level onto the context.
// The ladder always ends in an answer (Level 3 at worst); the only error
// returned is for an empty query.
func (a *Agent) Execute(ctx context.Context, ec *store.ExecutionContext) error {
	if strings.TrimSpace(ec.UserQuery) == "" {
		return fmt.Errorf("no query provided")
	}

	evidence := ec.Evidence
	ec.Images = collectImages(evidence)

	// Level 0: full prompt with in-budget evidence.
	build := buildPrompt(ec.UserQuery, evidence, promptBudget{
		window:      a.config.ContextWindow,
		reserved:    a.config.ReservedTokens,
		perChunkCap: a.config.PerChunkTokens,
	})
	ec.Truncated = build.truncated
	ec.UsedEvidence = build.used

	answer := ""
	fallback := ""

	if build.tokens <= a.config.ContextWindow && build.used > 0 {
		answer = a.generate(ctx, ec, build.prompt, build.tokens)
		if answer != "" {
			a.logger.Printf("[REASONING] Full reasoning succeeded (%d evidence chunks)", build.used)
		}
	} else {
		a.logFailure(ctx, ec, "ContextOverflow",
			fmt.Sprintf("prompt estimated at %d tokens exceeds %d window", build.tokens, a.config.ContextWindow),
			build.prompt)
	}

	// Level 1: simplified prompt over the top-2 chunks.
	if answer == "" && len(evidence) > 0 {
		prompt := buildSimplifiedPrompt(ec.UserQuery, evidence)
		answer = a.generate(ctx, ec, prompt, estimateTokens(prompt))
		if answer != "" {
			fallback = FallbackSimplified
			a.logger.Printf("[REASONING] Simplified reasoning succeeded")
		}
	}

	// Level 2: keyword-overlap sentence extraction, no model call.
	if answer == "" && len(evidence) > 0 {
		answer = directExtraction(ec.UserQuery, evidence)
		if answer != "" {
			fallback = FallbackExtraction
			a.logger.Printf("[REASONING] Direct extraction succeeded")
		}
	}

	// Level 3: fixed apology listing the evidence sources.
	if answer == "" {
		answer = gracefulFallback(evidence)
		fallback = FallbackGraceful
		a.logger.Printf("[REASONING] Using graceful fallback")
	}

	// Citations come from the evidence actually shown to the model: the full
	// in-budget slice on the primary path, top-3 once a fallback engaged.
	citedFrom := build.used
	if fallback != "" {
		citedFrom = min(3, len(evidence))
	}
	ec.Sources = collectCitations(evidence[:min(citedFrom, len(evidence))])

	if len(ec.Sources) > 0 {
		answer += formatSourcesBlock(ec.Sources)
	}

	ec.Answer = answer
	ec.FallbackUsed = fallback
	return nil
}

// generate runs one model call and validates the output; failures land in
// the failure log and return an empty string so the ladder continues.
func (a *Agent) generate(ctx context.Context, ec *store.ExecutionContext, prompt string, promptTokens int) string {
	opts := []llm.Option{
		llm.WithMaxTokens(600),
		llm.WithTemperature(0.1),
	}
	if len(ec.Images) > 0 && a.llmClient.MultimodalHealth(ctx) {
		paths := make([]string, 0, len(ec.Images))
		for _, img := range ec.Images {
			paths = append(paths, img.Path)
		}
		opts = append(opts, llm.WithImages(paths...))
		a.logger.Printf("[REASONING] Using multimodal path with %d image(s)", len(paths))
	}

	result := a.llmClient.Generate(ctx, prompt, opts...)
	if !result.Success {
		a.logFailure(ctx, ec, errorType(result.Err), fmt.Sprint(result.Err), prompt)
		return ""
	}

	text := strings.TrimSpace(result.Text)
	if len(text) < minAnswerLength {
		a.logFailure(ctx, ec, "ShortResponse",
			fmt.Sprintf("model returned %d characters", len(text)), prompt)
		return ""
	}
	return text
}

func (a *Agent) logFailure(ctx context.Context, ec *store.ExecutionContext, errType, message, prompt string) {
	// Cancelled queries must not write to the failure log.
	if ctx.Err() != nil {
		return
	}

	contextLength := 0
	for _, r := range ec.Evidence {
		contextLength += len(r.Document)
	}

	a.failureLog.Append(FailureEntry{
		ID:            uuid.New().String(),
		ErrorType:     errType,
		Message:       message,
		Query:         ec.UserQuery,
		ContextLength: contextLength,
		PromptLength:  len(prompt),
		RunID:         ec.RunID,
	})
	a.logger.Printf("[REASONING] %s: %s", errType, message)
}

func errorType(err error) string {
	if err == nil {
		return "EmptyResponse"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Client.Timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Timeout"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionError"
	default:
		return "GenerationError"
	}
}

// directExtraction ranks evidence sentences by keyword overlap with the
// query and returns up to 5 of the best with inline source tags (only 3
// when the fourth matches a single keyword). At least one query keyword
// must appear in a sentence for it to qualify.
func directExtraction(query string, evidence []store.SearchResult) string {
	queryWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!")
		if len(w) > 2 {
			queryWords[w] = struct{}{}
		}
	}
	if len(queryWords) == 0 {
		return ""
	}

	type scoredSentence struct {
		text    string
		overlap int
	}
	var ranked []scoredSentence

	for _, r := range evidence[:min(3, len(evidence))] {
		for _, sentence := range splitSentences(r.Document) {
			if len(sentence) < 30 {
				continue
			}
			overlap := 0
			for _, w := range strings.Fields(strings.ToLower(sentence)) {
				if _, ok := queryWords[strings.Trim(w, "?.,!")]; ok {
					overlap++
				}
			}
			if overlap < 1 {
				continue
			}
			ranked = append(ranked, scoredSentence{
				text: fmt.Sprintf("%s. (Source: %s, Page: %d)",
					strings.TrimSuffix(sentence, "."), r.Metadata.Filename, r.Metadata.Page+1),
				overlap: overlap,
			})
		}
	}

	if len(ranked) == 0 {
		return ""
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].overlap > ranked[j].overlap })
	keep := min(5, len(ranked))
	if keep > 3 && ranked[3].overlap < 2 {
		keep = 3
	}

	sentences := make([]string, keep)
	for i := 0; i < keep; i++ {
		sentences[i] = ranked[i].text
	}
	return "Based on the documents, I found the following relevant information:\n\n" +
		strings.Join(sentences, "\n\n")
}

// gracefulFallback is the terminal level: a fixed apology that still tells
// the user where the relevant material lives.
func gracefulFallback(evidence []store.SearchResult) string {
	var sources []string
	seen := make(map[string]struct{})
	for _, r := range evidence[:min(3, len(evidence))] {
		s := fmt.Sprintf("%s (Page %d)", r.Metadata.Filename, r.Metadata.Page+1)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sources = append(sources, s)
	}

	if len(sources) > 0 {
		return fmt.Sprintf(`I found relevant information in the documents but encountered a processing error.

The relevant sections are from: %s

Please try:
1. Rephrasing your question more specifically
2. Asking about a smaller topic
3. Requesting information from a specific page or section`, strings.Join(sources, ", "))
	}

	return "I was unable to process your query. Please try rephrasing your question or uploading relevant documents."
}

func collectCitations(evidence []store.SearchResult) []store.Citation {
	var citations []store.Citation
	seen := make(map[string]struct{})
	for _, r := range evidence {
		key := fmt.Sprintf("%s:%d", r.Metadata.Filename, r.Metadata.Page)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, store.Citation{
			Filename: r.Metadata.Filename,
			Page:     r.Metadata.Page + 1,
		})
	}
	return citations
}

func formatSourcesBlock(citations []store.Citation) string {
	var b strings.Builder
	b.WriteString("\n\n**Sources:**\n")
	for _, c := range citations {
		fmt.Fprintf(&b, "- %s (Page %d)\n", c.Filename, c.Page)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// collectImages gathers image references from the top-3 evidence entries,
// deduplicated by path.
func collectImages(evidence []store.SearchResult) []store.ImageRef {
	var images []store.ImageRef
	seen := make(map[string]struct{})
	for _, r := range evidence[:min(3, len(evidence))] {
		if !r.Metadata.HasImage || r.Metadata.ImagePath == "" {
			continue
		}
		if _, dup := seen[r.Metadata.ImagePath]; dup {
			continue
		}
		seen[r.Metadata.ImagePath] = struct{}{}
		images = append(images, store.ImageRef{
			Path:     r.Metadata.ImagePath,
			Page:     r.Metadata.Page + 1,
			Filename: r.Metadata.Filename,
		})
	}
	return images
}
