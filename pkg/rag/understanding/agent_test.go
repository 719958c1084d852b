package understanding

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

func TestCasualDetection(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		casual bool
	}{
		{name: "greeting", query: "Hi there", casual: true},
		{name: "thanks", query: "Thanks!", casual: true},
		{name: "long greeting", query: "good morning", casual: true},
		{name: "two short words", query: "yes please", casual: true},
		{name: "domain question", query: "What is the purpose of the Design Justification File?", casual: false},
		{name: "short but domain", query: "AOCS definition", casual: false},
		{name: "hi inside word", query: "explain this machine behaviour", casual: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{err: errors.New("should not be called for casual")}
			agent := NewAgent(fake, testLogger())

			ec := &store.ExecutionContext{UserQuery: tt.query}
			require.NoError(t, agent.Execute(context.Background(), ec))

			assert.Equal(t, tt.casual, ec.IsCasual)
			if tt.casual {
				assert.Equal(t, store.QueryTypeCasual, ec.QueryType)
				assert.Zero(t, fake.calls, "casual queries must not reach the model")
			}
		})
	}
}

func TestTypedClassification(t *testing.T) {
	tests := []struct {
		query    string
		wantType string
	}{
		{"Compare the thermal design versus the power design", store.QueryTypeComparison},
		{"List all requirements from chapter three", store.QueryTypeExtraction},
		{"How many kg does the payload weigh in total", store.QueryTypeNumerical},
		{"Why does the controller saturate during slew", store.QueryTypeAnalytical},
		{"What is the attitude determination accuracy", store.QueryTypeFactual},
		{"Satellite pointing stability considerations overview", store.QueryTypeResearch},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			// Disambiguation failing must keep the regex result.
			agent := NewAgent(&fakeLLM{err: errors.New("model down")}, testLogger())

			ec := &store.ExecutionContext{UserQuery: tt.query}
			require.NoError(t, agent.Execute(context.Background(), ec))
			assert.Equal(t, tt.wantType, ec.QueryType)
		})
	}
}

func TestDisambiguationRefinesType(t *testing.T) {
	fake := &fakeLLM{response: "Category: numerical\nReason: the question asks for a quantity."}
	agent := NewAgent(fake, testLogger())

	// The regex alone classifies this as factual; the model refines it.
	ec := &store.ExecutionContext{UserQuery: "What is the mass margin documented in the budget table"}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, store.QueryTypeNumerical, ec.QueryType)
	assert.Equal(t, 1, fake.calls)
}

func TestDisambiguationGarbageKeepsRegexResult(t *testing.T) {
	fake := &fakeLLM{response: "I think this is probably about spacecraft, hard to say."}
	agent := NewAgent(fake, testLogger())

	ec := &store.ExecutionContext{UserQuery: "What is the attitude determination accuracy"}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.Equal(t, store.QueryTypeFactual, ec.QueryType)
}

func TestKeywordExtraction(t *testing.T) {
	agent := NewAgent(&fakeLLM{err: errors.New("down")}, testLogger())

	ec := &store.ExecutionContext{
		UserQuery: "What is the purpose of the Design Justification File for attitude control systems",
	}
	require.NoError(t, agent.Execute(context.Background(), ec))

	assert.LessOrEqual(t, len(ec.Keywords), 8)
	assert.Contains(t, ec.Keywords, "design")
	assert.Contains(t, ec.Keywords, "justification")
	assert.NotContains(t, ec.Keywords, "the", "stopwords are excluded")
	assert.NotContains(t, ec.Keywords, "is", "short tokens are excluded")

	// Order-preserving: "purpose" precedes "design" in the query.
	purposeIdx, designIdx := -1, -1
	for i, kw := range ec.Keywords {
		switch kw {
		case "purpose":
			purposeIdx = i
		case "design":
			designIdx = i
		}
	}
	require.NotEqual(t, -1, purposeIdx)
	require.NotEqual(t, -1, designIdx)
	assert.Less(t, purposeIdx, designIdx)
}

func TestKeywordCap(t *testing.T) {
	agent := NewAgent(&fakeLLM{err: errors.New("down")}, testLogger())

	ec := &store.ExecutionContext{
		UserQuery: "alpha bravo charlie delta echelon foxtrot golfing hotels indigo juliet kilogramme lima",
	}
	require.NoError(t, agent.Execute(context.Background(), ec))
	assert.Len(t, ec.Keywords, 8)
}
