package embedding

import "context"

// Provider defines the interface for generating text embeddings. The task
// type hint distinguishes retrieval queries from indexed documents for
// providers that care.
type Provider interface {
	Generate(ctx context.Context, text string, taskType string) ([]float32, error)
}

// Task type hints.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)
