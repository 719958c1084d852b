package artifact

import (
	"regexp"
	"strings"

	"doc-qa-engine/pkg/rag/understanding"
	"doc-qa-engine/pkg/store"
)

// Keywords in the query that signal the user wants a rich, structured view.
var intentKeywords = []string{
	"comprehensive analysis", "list all", "show all", "extract all",
	"compare", "contrast",
}

// reportRequestRe catches "create/generate ... report/summary" phrasings.
var reportRequestRe = regexp.MustCompile(`(?i)\b(create|generate|write|compile)\b[^.?!]{0,60}\b(report|summary)\b`)

var artifactIntents = map[string]struct{}{
	understanding.IntentReportGeneration: {},
	understanding.IntentDataExtraction:   {},
	understanding.IntentComparison:       {},
	understanding.IntentAnalysis:         {},
}

const longAnswerThreshold = 1500

// Detect decides whether the response merits a sidecar artifact and builds
// it. Returns nil when a plain chat reply is enough.
func Detect(query, answer, intent string) *store.Artifact {
	queryLower := strings.ToLower(query)

	keywordHit := reportRequestRe.MatchString(query)
	for _, kw := range intentKeywords {
		if strings.Contains(queryLower, kw) {
			keywordHit = true
			break
		}
	}

	_, intentHit := artifactIntents[intent]

	longStructured := len(answer) > longAnswerThreshold && hasStructure(answer)

	if !keywordHit && !intentHit && !longStructured {
		return nil
	}

	artifactType := store.ArtifactTypeReport
	title := "Analysis Report"
	if intent == understanding.IntentDataExtraction {
		artifactType = store.ArtifactTypeData
		title = "Extracted Data"
	}

	return &store.Artifact{
		Title:   title,
		Type:    artifactType,
		Content: RenderHTML(answer, query),
	}
}

// hasStructure reports whether the answer carries headers, bullet lists, or
// a table marker.
func hasStructure(answer string) bool {
	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ") ||
			strings.Contains(trimmed, "|") {
			return true
		}
	}
	return false
}
