package artifact

import (
	"strings"
	"testing"

	"doc-qa-engine/pkg/rag/understanding"
	"doc-qa-engine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectByQueryKeyword(t *testing.T) {
	a := Detect("Create a comprehensive report about AOCS documentation requirements",
		"Short answer.", understanding.IntentResearch)

	require.NotNil(t, a)
	assert.Equal(t, store.ArtifactTypeReport, a.Type)
	assert.Contains(t, a.Content, "<h1>")
	assert.Contains(t, a.Content, "Create a comprehensive report about AOCS documentation requirements")
}

func TestDetectByIntent(t *testing.T) {
	a := Detect("documentation requirements", "Short answer.", understanding.IntentReportGeneration)
	require.NotNil(t, a)
	assert.Equal(t, store.ArtifactTypeReport, a.Type)
}

func TestDataArtifactForExtractionIntent(t *testing.T) {
	a := Detect("list all unit masses", "- item one\n- item two", understanding.IntentDataExtraction)
	require.NotNil(t, a)
	assert.Equal(t, store.ArtifactTypeData, a.Type)
}

func TestDetectByLongStructuredAnswer(t *testing.T) {
	long := "## Summary\n" + strings.Repeat("A paragraph of analysis text. ", 60)
	a := Detect("what about the thermal design", long, understanding.IntentLookup)
	require.NotNil(t, a)
}

func TestNoArtifactForPlainAnswers(t *testing.T) {
	assert.Nil(t, Detect("what is AOCS", "A short factual answer about AOCS.", understanding.IntentLookup))
}

func TestLongUnstructuredAnswerIsNotEnough(t *testing.T) {
	long := strings.Repeat("flat prose with no structure whatsoever ", 50)
	assert.Nil(t, Detect("what is AOCS", long, understanding.IntentLookup))
}

func TestMarkdownToHTML(t *testing.T) {
	md := "## Findings\n\nThe design is **sound** and *stable*.\n\n- first point\n- second point\n\nClosing paragraph."
	html := markdownToHTML(md)

	assert.Contains(t, html, "<h2>Findings</h2>")
	assert.Contains(t, html, "<strong>sound</strong>")
	assert.Contains(t, html, "<em>stable</em>")
	assert.Contains(t, html, "<li>first point</li>")
	assert.Contains(t, html, "<p>Closing paragraph.</p>")
}

func TestHTMLEscapesContent(t *testing.T) {
	html := RenderHTML("a < b & c", "query with <script>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "a &lt; b &amp; c")
}

func TestRenderIsDeterministic(t *testing.T) {
	one := RenderHTML("## Heading\ntext", "q")
	two := RenderHTML("## Heading\ntext", "q")
	assert.Equal(t, one, two)
}
