package verification

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/store"
)

const verifiedThreshold = 0.7

// Agent cross-checks the answer against the evidence and assigns a
// confidence score. A failed model call downgrades confidence but never
// fails the query.
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

// Execute writes Confidence and Verified onto the context. The score is the
// model's judgement multiplied by three heuristics, clamped to [0,1].
func (a *Agent) Execute(ctx context.Context, ec *store.ExecutionContext) error {
	if ec.Answer == "" {
		return fmt.Errorf("no answer to verify")
	}

	if len(ec.Evidence) == 0 {
		ec.Confidence = 0.5
		ec.Verified = false
		a.logger.Printf("[VERIFICATION] No evidence available, defaulting to 0.5")
		return nil
	}

	// Overlap is computed on the answer body; the appended citation block
	// lists filenames that never appear in chunk text and would only skew
	// the ratio down.
	body := ec.Answer
	if idx := strings.Index(body, "**Sources:**"); idx >= 0 {
		body = body[:idx]
	}
	overlap := evidenceOverlap(body, ec.Evidence)

	judgement, ok := a.modelJudgement(ctx, ec)
	if !ok {
		// Degraded scoring when the model is unavailable.
		ec.Confidence = minFloat(0.5*overlap, verifiedThreshold)
		ec.Verified = false
		a.logger.Printf("[VERIFICATION] Model unavailable, degraded confidence %.2f", ec.Confidence)
		return nil
	}

	confidence := judgement
	if len(ec.Answer) < 50 {
		confidence *= 0.8
	}
	confidence *= overlap
	if strings.Contains(ec.Answer, "Source:") || strings.Contains(ec.Answer, "Page") {
		confidence *= 1.05
	}

	ec.Confidence = clamp01(confidence)
	ec.Verified = ec.Confidence >= verifiedThreshold

	a.logger.Printf("[VERIFICATION] Confidence: %.2f, Verified: %v (judgement=%.2f overlap=%.2f)",
		ec.Confidence, ec.Verified, judgement, overlap)
	return nil
}

// modelJudgement asks the model whether the answer is supported by the
// context and parses a confidence in [0,1] from the response.
func (a *Agent) modelJudgement(ctx context.Context, ec *store.ExecutionContext) (float64, bool) {
	var contextParts []string
	for _, r := range ec.Evidence[:minInt(3, len(ec.Evidence))] {
		doc := r.Document
		if len(doc) > 1000 {
			doc = doc[:1000]
		}
		contextParts = append(contextParts, doc)
	}

	prompt := fmt.Sprintf(`Verify if the answer is supported by the context and check citation accuracy.

Context:
%s

Question: %s
Answer: %s

Verification checklist:
1. Does the answer align with the context?
2. Are citations present and accurate?
3. Is any information contradicted by the context?

Response format:
Confidence: [0.0-1.0]
Issues: [list issues or "None"]`,
		strings.Join(contextParts, "\n"), ec.UserQuery, ec.Answer)

	result := a.llmClient.Generate(ctx, prompt,
		llm.WithMaxTokens(200),
		llm.WithTemperature(0.3),
	)
	if !result.Success {
		return 0, false
	}

	for _, line := range strings.Split(result.Text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Confidence:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "Confidence:"))
		raw = strings.Trim(raw, "[] ")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return clamp01(v), true
		}
	}

	// Parseable output without a confidence line: neutral judgement.
	return verifiedThreshold, true
}

// evidenceOverlap is the fraction of answer tokens that appear anywhere in
// the evidence, clamped to [0,1].
func evidenceOverlap(answer string, evidence []store.SearchResult) float64 {
	evidenceTokens := make(map[string]struct{})
	for _, r := range evidence {
		for _, w := range strings.Fields(strings.ToLower(r.Document)) {
			evidenceTokens[strings.Trim(w, "?.,!()")] = struct{}{}
		}
	}

	answerTokens := strings.Fields(strings.ToLower(answer))
	if len(answerTokens) == 0 {
		return 0
	}

	matched := 0
	for _, w := range answerTokens {
		if _, ok := evidenceTokens[strings.Trim(w, "?.,!()")]; ok {
			matched++
		}
	}
	return clamp01(float64(matched) / float64(len(answerTokens)))
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

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
