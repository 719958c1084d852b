package understanding

import (
	"context"
	"log"
	"regexp"
	"strings"

	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/store"
)

// Agent analyzes the user query to extract intent, query type, and keywords.
// This is the first pipeline stage - casual queries short-circuit here and
// never reach retrieval or the model.
type Agent struct {
	llmClient llm.Client
	logger    *log.Logger
}

func NewAgent(llmClient llm.Client, logger *log.Logger) *Agent {
	return &Agent{
		llmClient: llmClient,
		logger:    logger,
	}
}

// Intent labels produced alongside the query type.
const (
	IntentReportGeneration = "report_generation"
	IntentDataExtraction   = "data_extraction"
	IntentComparison       = "comparison"
	IntentAnalysis         = "analysis"
	IntentLookup           = "lookup"
	IntentResearch         = "research"
	IntentSmallTalk        = "small_talk"
)

const maxKeywords = 8

var casualPatterns = []string{
	"hello", "hi", "hey", "salam", "how are you", "what's up",
	"good morning", "good evening", "good afternoon", "thanks", "thank you",
	"bye", "goodbye", "see you", "nice to meet",
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "must": {}, "shall": {}, "can": {},
	"need": {}, "to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {},
	"at": {}, "by": {}, "from": {}, "as": {}, "into": {}, "through": {},
	"during": {}, "before": {}, "after": {}, "above": {}, "below": {},
	"between": {}, "under": {}, "again": {}, "further": {}, "then": {},
	"once": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "am": {}, "or": {}, "and": {},
	"but": {}, "if": {}, "because": {}, "until": {}, "while": {}, "about": {},
	"against": {}, "how": {}, "where": {}, "when": {}, "why": {}, "please": {},
	"tell": {}, "give": {}, "show": {}, "me": {}, "my": {}, "your": {},
}

var (
	comparisonRe = regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|difference between|contrast)\b`)
	extractionRe = regexp.MustCompile(`(?i)\b(list all|list every|extract all|show all|every|each)\b`)
	numericalRe  = regexp.MustCompile(`(?i)(\bhow (many|much)\b|\d+(\.\d+)?\s*(kg|m|mm|km|s|ms|hz|khz|mhz|ghz|w|kw|mw|v|mv|a|ma|db|deg|rad|n|nm|pa|kpa|bar|%)\b|\btotal\b|\bsum\b|\baverage\b)`)
	analyticalRe = regexp.MustCompile(`(?i)\b(why|how)\b`)
	factualRe    = regexp.MustCompile(`(?i)\b(what|when|who|where|define|definition)\b`)
	reportRe     = regexp.MustCompile(`(?i)\b(create|generate|write|compile)\b[^.?!]{0,60}\b(report|summary)\b|comprehensive analysis`)
	wordRe       = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// Execute classifies the query and writes intent, query type, keywords, and
// the casual flag onto the context.
func (a *Agent) Execute(ctx context.Context, ec *store.ExecutionContext) error {
	query := strings.TrimSpace(ec.UserQuery)

	if a.isCasual(query) {
		ec.QueryType = store.QueryTypeCasual
		ec.Intent = IntentSmallTalk
		ec.IsCasual = true
		a.logger.Printf("[UNDERSTANDING] Casual query detected, short-circuiting")
		return nil
	}

	queryType, intent := classify(query)
	ec.QueryType = queryType
	ec.Intent = intent
	ec.Keywords = extractKeywords(query)

	// Optional model disambiguation for typed queries. A failed call keeps
	// the regex classification; it never fails the stage.
	if refined, ok := a.disambiguate(ctx, query, queryType); ok {
		ec.QueryType = refined
	}

	a.logger.Printf("[UNDERSTANDING] Type: %s, Intent: %s, Keywords: %v",
		ec.QueryType, ec.Intent, ec.Keywords)
	return nil
}

func (a *Agent) isCasual(query string) bool {
	normalized := strings.ToLower(strings.TrimSpace(query))
	normalized = strings.Trim(normalized, "!?.,")
	words := strings.Fields(normalized)

	if len(words) == 0 {
		return false
	}

	padded := " " + normalized + " "
	for _, pattern := range casualPatterns {
		if strings.Contains(padded, " "+pattern+" ") && len(words) <= 5 {
			return true
		}
	}

	// Very short queries without a single domain-looking term.
	if len(words) < 3 {
		for _, w := range words {
			if _, stop := stopwords[w]; !stop && len(w) >= 4 {
				return false
			}
		}
		return true
	}

	return false
}

func classify(query string) (string, string) {
	switch {
	case reportRe.MatchString(query):
		return store.QueryTypeResearch, IntentReportGeneration
	case comparisonRe.MatchString(query):
		return store.QueryTypeComparison, IntentComparison
	case extractionRe.MatchString(query):
		return store.QueryTypeExtraction, IntentDataExtraction
	case numericalRe.MatchString(query):
		return store.QueryTypeNumerical, IntentDataExtraction
	case analyticalRe.MatchString(query):
		return store.QueryTypeAnalytical, IntentAnalysis
	case factualRe.MatchString(query):
		return store.QueryTypeFactual, IntentLookup
	default:
		return store.QueryTypeResearch, IntentResearch
	}
}

func extractKeywords(query string) []string {
	var keywords []string
	seen := make(map[string]struct{})

	for _, w := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len(w) < 4 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

var validTypes = map[string]struct{}{
	store.QueryTypeFactual:    {},
	store.QueryTypeAnalytical: {},
	store.QueryTypeExtraction: {},
	store.QueryTypeNumerical:  {},
	store.QueryTypeComparison: {},
	store.QueryTypeResearch:   {},
}

func (a *Agent) disambiguate(ctx context.Context, query, regexType string) (string, bool) {
	if a.llmClient == nil {
		return "", false
	}

	prompt := "Classify this question into exactly one of: factual, analytical, extraction, numerical, comparison, research.\n\n" +
		"Question: " + query + "\n\n" +
		"Respond in this exact format:\nCategory: [category]\nReason: [one short sentence]"

	result := a.llmClient.Generate(ctx, prompt,
		llm.WithTemperature(0.0),
		llm.WithMaxTokens(60),
	)
	if !result.Success {
		a.logger.Printf("[UNDERSTANDING] Disambiguation failed, keeping regex result %q: %v", regexType, result.Err)
		return "", false
	}

	for _, line := range strings.Split(result.Text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Category:") {
			continue
		}
		candidate := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "Category:")))
		candidate = strings.Trim(candidate, ".,![] ")
		if _, ok := validTypes[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}
