package verification

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.Option) llm.Result {
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

func contextFixture(answer string) *store.ExecutionContext {
	return &store.ExecutionContext{
		UserQuery: "What stabilizes the satellite?",
		Answer:    answer,
		Evidence: []store.SearchResult{
			{
				Document: "The attitude control subsystem stabilizes the satellite using reaction wheels and magnetorquers during nominal operations.",
				Metadata: store.ChunkMetadata{Filename: "design.pdf", Page: 4},
			},
		},
	}
}

func TestVerifiedAboveThreshold(t *testing.T) {
	fake := &fakeLLM{response: "Confidence: 0.9\nIssues: None"}
	agent := NewAgent(fake, testLogger())

	// Answer built from evidence tokens with a citation marker: 13 of 17
	// tokens match (overlap ~0.76), citation bonus applies, no length penalty.
	ec := contextFixture("The attitude control subsystem stabilizes the satellite using reaction wheels during nominal operations. Source: design.pdf Page 5")
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.GreaterOrEqual(t, ec.Confidence, 0.7)
	assert.True(t, ec.Verified)
}

func TestVerifiedFlagMatchesThreshold(t *testing.T) {
	tests := []struct {
		name       string
		judgement  string
		answer     string
		wantVerify bool
	}{
		{
			name:       "low judgement",
			judgement:  "Confidence: 0.3\nIssues: weak grounding",
			answer:     "The attitude control subsystem stabilizes the satellite using reaction wheels during nominal operations.",
			wantVerify: false,
		},
		{
			name:       "high judgement",
			judgement:  "Confidence: 1.0\nIssues: None",
			answer:     "The attitude control subsystem stabilizes the satellite using reaction wheels and magnetorquers during nominal operations. Source: design.pdf",
			wantVerify: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := NewAgent(&fakeLLM{response: tt.judgement}, testLogger())
			ec := contextFixture(tt.answer)
			require.NoError(t, agent.Execute(context.Background(), ec))

			assert.Equal(t, tt.wantVerify, ec.Verified)
			assert.Equal(t, ec.Confidence >= 0.7, ec.Verified)
		})
	}
}

func TestShortAnswerPenalty(t *testing.T) {
	agent := NewAgent(&fakeLLM{response: "Confidence: 1.0\nIssues: None"}, testLogger())

	ec := contextFixture("reaction wheels stabilizes satellite")
	require.NoError(t, agent.Execute(context.Background(), ec))

	// 1.0 * 0.8 (short) * overlap(1.0) without citation bonus.
	assert.InDelta(t, 0.8, ec.Confidence, 1e-9)
	assert.True(t, ec.Verified, "0.8 is still at or above the 0.7 threshold")
}

func TestModelFailureDegradesConfidence(t *testing.T) {
	agent := NewAgent(&fakeLLM{err: errors.New("model unreachable")}, testLogger())

	ec := contextFixture("The attitude control subsystem stabilizes the satellite using reaction wheels during nominal operations.")
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.False(t, ec.Verified)
	assert.LessOrEqual(t, ec.Confidence, 0.5)
}

func TestConfidenceClamped(t *testing.T) {
	agent := NewAgent(&fakeLLM{response: "Confidence: 5.0\nIssues: None"}, testLogger())

	ec := contextFixture("The attitude control subsystem stabilizes the satellite using reaction wheels and magnetorquers during nominal operations. Source: design.pdf Page 4")
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.LessOrEqual(t, ec.Confidence, 1.0)
	assert.GreaterOrEqual(t, ec.Confidence, 0.0)
}

func TestNoEvidenceDefaultsToUnverified(t *testing.T) {
	agent := NewAgent(&fakeLLM{response: "Confidence: 1.0"}, testLogger())

	ec := &store.ExecutionContext{UserQuery: "q", Answer: "an answer with no evidence behind it"}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, 0.5, ec.Confidence)
	assert.False(t, ec.Verified)
}

func TestNoAnswerIsAnError(t *testing.T) {
	agent := NewAgent(&fakeLLM{response: "Confidence: 1.0"}, testLogger())
	err := agent.Execute(context.Background(), &store.ExecutionContext{UserQuery: "q"})
	assert.Error(t, err)
}
