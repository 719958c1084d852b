package reasoning

import (
	"fmt"
	"math"
	"strings"

	"doc-qa-engine/pkg/store"
)

// estimateTokens approximates the model tokenizer as ceil(words * 1.3).
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

const systemDirective = `You are an expert technical assistant analyzing documents.
Your goal is to answer questions strictly based on the provided context.

CRITICAL INSTRUCTIONS:
1. Answer ONLY using the provided Context.
2. You MUST cite the source filename and page number for every key fact. Format: (Source: filename.pdf, Page: X)
3. Use the exact technical terminology found in the text.
4. If the answer is not in the context, state "Insufficient information provided."
5. Do not invent facts that are not in the Context.`

// formatChunk renders one evidence chunk with its source header. Tables get
// their own marker so the model reads them as structured data.
func formatChunk(r store.SearchResult) string {
	page := r.Metadata.Page + 1
	if r.Metadata.Type == store.ChunkTypeTable {
		return fmt.Sprintf("--- TABLE from %s (Page %d) ---\n%s", r.Metadata.Filename, page, r.Document)
	}
	return fmt.Sprintf("--- DOCUMENT: %s (Page %d) ---\n%s", r.Metadata.Filename, page, r.Document)
}

// promptBudget describes how much of the context window evidence may fill.
type promptBudget struct {
	window      int // model context window in tokens
	reserved    int // system directive + query + response allowance
	perChunkCap int // cap on a single chunk before head/tail truncation
}

// buildResult carries the assembled prompt and what went into it.
type buildResult struct {
	prompt    string
	used      int  // evidence entries included
	truncated bool // any chunk was cut to fit its cap
	tokens    int  // estimated prompt size
}

// buildPrompt assembles the full Level-0 prompt, filling the remaining
// token budget with evidence chunks in fused-score order.
func buildPrompt(query string, evidence []store.SearchResult, budget promptBudget) buildResult {
	available := budget.window - budget.reserved
	if available < 0 {
		available = 0
	}

	var parts []string
	var spent int
	used := 0
	truncated := false

	for _, r := range evidence {
		text := formatChunk(r)
		cost := estimateTokens(text)

		if cost > budget.perChunkCap {
			text = truncateChunk(text, budget.perChunkCap)
			cost = estimateTokens(text)
			truncated = true
		}
		if spent+cost > available {
			break
		}
		parts = append(parts, text)
		spent += cost
		used++
	}

	var b strings.Builder
	b.WriteString(systemDirective)
	b.WriteString("\n\nContext:\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")

	prompt := b.String()
	return buildResult{
		prompt:    prompt,
		used:      used,
		truncated: truncated,
		tokens:    estimateTokens(prompt),
	}
}

// truncateChunk cuts an oversized chunk down to roughly maxTokens, keeping
// the leading and trailing sentences so both ends of the passage survive.
func truncateChunk(text string, maxTokens int) string {
	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		words := strings.Fields(text)
		keep := int(float64(maxTokens) / 1.3)
		if keep >= len(words) {
			return text
		}
		return strings.Join(words[:keep], " ") + " [...]"
	}

	// Alternate head and tail sentences until the budget runs out.
	head, tail := 0, len(sentences)-1
	budget := maxTokens - estimateTokens("[...]")
	var front, back []string
	takeFront := true

	for head <= tail && budget > 0 {
		var s string
		if takeFront {
			s = sentences[head]
		} else {
			s = sentences[tail]
		}
		cost := estimateTokens(s)
		if cost > budget {
			break
		}
		if takeFront {
			front = append(front, s)
			head++
		} else {
			back = append([]string{s}, back...)
			tail--
		}
		budget -= cost
		takeFront = !takeFront
	}

	if head > tail {
		return strings.Join(append(front, back...), " ")
	}
	return strings.Join(front, " ") + " [...] " + strings.Join(back, " ")
}

func splitSentences(text string) []string {
	flat := strings.ReplaceAll(text, "\n", " ")
	var sentences []string
	for _, s := range strings.Split(flat, ". ") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// buildSimplifiedPrompt is the Level-1 minimal prompt: at most the top two
// chunks, capped at 2000 characters of context in total.
func buildSimplifiedPrompt(query string, evidence []store.SearchResult) string {
	var contextParts []string
	remaining := 2000
	for _, r := range evidence[:min(2, len(evidence))] {
		text := r.Document
		if len(text) > remaining {
			text = text[:remaining]
		}
		contextParts = append(contextParts, text)
		remaining -= len(text)
		if remaining <= 0 {
			break
		}
	}

	return fmt.Sprintf(`You are a research assistant. Based on the following context, answer the question.

Context from documents:
%s

Question: %s

Provide a clear, accurate answer based ONLY on the context above.
If the context doesn't contain enough information, say so.

Answer:`, strings.Join(contextParts, "\n"), query)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
