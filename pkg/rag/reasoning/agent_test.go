package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) llm.Result {
	f.calls++
	if f.err != nil {
		return llm.Result{Err: f.err}
	}
	return llm.Result{Success: true, Text: f.response}
}

func (f *fakeLLM) Health(ctx context.Context) bool           { return true }
func (f *fakeLLM) MultimodalHealth(ctx context.Context) bool { return false }

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func evidenceFixture() []store.SearchResult {
	return []store.SearchResult{
		{
			Document: "The Design Justification File collects all analyses proving the attitude control design meets its requirements.",
			Metadata: store.ChunkMetadata{Filename: "design.pdf", Page: 42, ChunkIndex: 0, Type: store.ChunkTypeText},
			Score:    0.9,
		},
		{
			Document: "Sensitivity analysis covers parameter variations across the operational envelope of the controller.",
			Metadata: store.ChunkMetadata{Filename: "design.pdf", Page: 43, ChunkIndex: 1, Type: store.ChunkTypeText},
			Score:    0.7,
		},
		{
			Document: "Thermal margins are listed per unit in the environmental test report chapter.",
			Metadata: store.ChunkMetadata{Filename: "thermal.pdf", Page: 7, ChunkIndex: 0, Type: store.ChunkTypeText,
				HasImage: true, ImagePath: "/static/images/fig7.png"},
			Score: 0.5,
		},
	}
}

func newTestAgent(client llm.Client) *Agent {
	return NewAgent(client, DefaultConfig(), NewFailureLog(io.Discard), testLogger())
}

func TestPrimaryPathSucceeds(t *testing.T) {
	fake := &fakeLLM{response: "The Design Justification File collects the analyses that prove the design meets its requirements. (Source: design.pdf, Page: 43)"}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{
		UserQuery: "What is the purpose of the Design Justification File?",
		Evidence:  evidenceFixture(),
	}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Empty(t, ec.FallbackUsed)
	assert.Contains(t, ec.Answer, "**Sources:**")
	assert.Contains(t, ec.Answer, "design.pdf (Page 43)")
	assert.Equal(t, 1, fake.calls)
}

func TestCitationsArePageOneBased(t *testing.T) {
	fake := &fakeLLM{response: "A sufficiently long grounded answer derived from the evidence set."}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{UserQuery: "purpose of the file?", Evidence: evidenceFixture()}
	require.NoError(t, agent.Execute(context.Background(), ec))

	require.NotEmpty(t, ec.Sources)
	assert.Equal(t, store.Citation{Filename: "design.pdf", Page: 43}, ec.Sources[0])
}

func TestFallbackToSimplifiedReasoning(t *testing.T) {
	// First call (full prompt) fails, second (simplified) succeeds.
	responses := []llm.Result{
		{Err: errors.New("context overflow")},
		{Success: true, Text: "Simplified grounded answer about the design justification analyses."},
	}
	fake := &scriptedLLM{script: responses}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{UserQuery: "What is the Design Justification File?", Evidence: evidenceFixture()}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, FallbackSimplified, ec.FallbackUsed)
	assert.Equal(t, 2, fake.calls)
}

func TestFallbackToDirectExtraction(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{
		UserQuery: "What does the Design Justification File collect?",
		Evidence:  evidenceFixture(),
	}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, FallbackExtraction, ec.FallbackUsed)
	assert.Contains(t, ec.Answer, "Design Justification File")
	assert.Contains(t, ec.Answer, "(Source: design.pdf, Page: 43)")
	// Levels 0 and 1 each tried the model once; level 2 must not.
	assert.Equal(t, 2, fake.calls)
}

func TestOversizedPromptSkipsStraightToSimplified(t *testing.T) {
	// A query so large the assembled prompt overflows the window no matter
	// how the evidence is budgeted: Level 0 must be rejected on size without
	// a model call, and Level 1 takes over.
	hugeQuery := strings.Repeat("requirement ", 2300) + "what is the design justification file?"
	fake := &scriptedLLM{script: []llm.Result{
		{Success: true, Text: "Simplified answer produced from the truncated context."},
	}}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{UserQuery: hugeQuery, Evidence: evidenceFixture()}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, FallbackSimplified, ec.FallbackUsed)
	assert.Equal(t, 1, fake.calls, "the oversized Level-0 prompt must not reach the model")
}

func TestGracefulFallbackWhenNoSentencesMatch(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{
		UserQuery: "zzzz qqqq xxxx",
		Evidence:  evidenceFixture(),
	}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, FallbackGraceful, ec.FallbackUsed)
	assert.Contains(t, ec.Answer, "Rephrasing your question")
	assert.Contains(t, ec.Answer, "design.pdf (Page 43)")
}

func TestShortModelOutputTriggersFallback(t *testing.T) {
	fake := &fakeLLM{response: "too short"}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{
		UserQuery: "What does the Design Justification File collect?",
		Evidence:  evidenceFixture(),
	}
	require.NoError(t, agent.Execute(context.Background(), ec))
	assert.NotEmpty(t, ec.FallbackUsed)
}

func TestImagesFromTopThreeDeduplicated(t *testing.T) {
	evidence := evidenceFixture()
	// A fourth chunk with an image must not contribute; a duplicate path
	// within the top-3 must collapse.
	evidence[1].Metadata.HasImage = true
	evidence[1].Metadata.ImagePath = "/static/images/fig7.png"
	evidence = append(evidence, store.SearchResult{
		Document: "Out of range chunk with image.",
		Metadata: store.ChunkMetadata{Filename: "late.pdf", Page: 1, HasImage: true, ImagePath: "/static/images/late.png"},
	})

	fake := &fakeLLM{response: "A sufficiently long grounded answer derived from the evidence."}
	agent := newTestAgent(fake)

	ec := &store.ExecutionContext{UserQuery: "thermal margins?", Evidence: evidence}
	require.NoError(t, agent.Execute(context.Background(), ec))

	require.Len(t, ec.Images, 1)
	assert.Equal(t, "/static/images/fig7.png", ec.Images[0].Path)
	assert.LessOrEqual(t, len(ec.Images), 3)
}

func TestContextBudgetRespected(t *testing.T) {
	longDoc := strings.Repeat("word ", 3000) // ~3900 estimated tokens
	evidence := []store.SearchResult{
		{Document: longDoc, Metadata: store.ChunkMetadata{Filename: "big.pdf", Page: 0}, Score: 0.9},
		{Document: longDoc, Metadata: store.ChunkMetadata{Filename: "big.pdf", Page: 1, ChunkIndex: 1}, Score: 0.8},
	}

	build := buildPrompt("what is in the big document?", evidence, promptBudget{
		window:      2048,
		reserved:    800,
		perChunkCap: 500,
	})

	assert.LessOrEqual(t, build.tokens, 2048)
	assert.True(t, build.truncated, "oversized chunks must be truncated")
}

func TestTruncateChunkKeepsHeadAndTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", 5))
		b.WriteString(". ")
	}
	text := "FIRST sentence marker. " + b.String() + "LAST sentence marker."

	out := truncateChunk(text, 100)
	assert.Contains(t, out, "FIRST sentence marker")
	assert.Contains(t, out, "LAST sentence marker")
	assert.Less(t, estimateTokens(out), estimateTokens(text))
}

func TestTablesFormattedWithTableHeader(t *testing.T) {
	r := store.SearchResult{
		Document: "| Mass | 1200 kg |",
		Metadata: store.ChunkMetadata{Filename: "budget.pdf", Page: 2, Type: store.ChunkTypeTable},
	}
	formatted := formatChunk(r)
	assert.True(t, strings.HasPrefix(formatted, "--- TABLE from budget.pdf (Page 3) ---"))
}

func TestFailureLogRecordsStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	agent := NewAgent(&fakeLLM{err: errors.New("connection refused")}, DefaultConfig(), NewFailureLog(&buf), testLogger())

	ec := &store.ExecutionContext{
		RunID:     "run-1",
		UserQuery: "What does the Design Justification File collect?",
		Evidence:  evidenceFixture(),
	}
	require.NoError(t, agent.Execute(context.Background(), ec))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var entry FailureEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "ConnectionError", entry.ErrorType)
	assert.Equal(t, "run-1", entry.RunID)
	assert.NotZero(t, entry.PromptLength)
	assert.NotZero(t, entry.ContextLength)
	assert.NotEmpty(t, entry.Timestamp)
}

func TestCancelledContextDoesNotWriteFailureLog(t *testing.T) {
	var buf bytes.Buffer
	agent := NewAgent(&fakeLLM{err: errors.New("anything")}, DefaultConfig(), NewFailureLog(&buf), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ec := &store.ExecutionContext{UserQuery: "some question", Evidence: evidenceFixture()}
	_ = agent.Execute(ctx, ec)

	assert.Empty(t, buf.String())
}

// scriptedLLM returns canned results in order.
type scriptedLLM struct {
	script []llm.Result
	calls  int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) llm.Result {
	i := s.calls
	s.calls++
	if i >= len(s.script) {
		return llm.Result{Err: errors.New("script exhausted")}
	}
	return s.script[i]
}

func (s *scriptedLLM) Health(ctx context.Context) bool           { return true }
func (s *scriptedLLM) MultimodalHealth(ctx context.Context) bool { return false }
