package dto

import "doc-qa-engine/pkg/store"

// AskQueryRequest is the inbound question payload.
type AskQueryRequest struct {
	Query        string `json:"query"`
	SessionId    string `json:"session_id,omitempty"`
	TopK         int    `json:"top_k,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`
}

// AskQueryResponse mirrors the engine's terminal record for the wire.
type AskQueryResponse struct {
	Success      bool             `json:"success"`
	Answer       string           `json:"answer"`
	Confidence   float64          `json:"confidence"`
	Verified     bool             `json:"verified"`
	Sources      []store.Citation `json:"sources"`
	Images       []store.ImageRef `json:"images"`
	Artifact     *store.Artifact  `json:"artifact,omitempty"`
	Language     string           `json:"language"`
	QueryType    string           `json:"query_type"`
	FallbackUsed string           `json:"fallback_used,omitempty"`
	FromCache    bool             `json:"from_cache"`
	Error        *store.ErrorInfo `json:"error,omitempty"`
}

// FromResponse maps the engine response onto the wire shape.
func FromResponse(r *store.Response) *AskQueryResponse {
	return &AskQueryResponse{
		Success:      r.Success,
		Answer:       r.Answer,
		Confidence:   r.Confidence,
		Verified:     r.Verified,
		Sources:      r.Sources,
		Images:       r.Images,
		Artifact:     r.Artifact,
		Language:     r.Language,
		QueryType:    r.QueryType,
		FallbackUsed: r.FallbackUsed,
		FromCache:    r.FromCache,
		Error:        r.Error,
	}
}

// HealthResponse reports readiness of the engine's collaborators.
type HealthResponse struct {
	Status     string `json:"status"`
	LLMServer  bool   `json:"llm_server"`
	ChunkCount int    `json:"chunk_count"`
}
