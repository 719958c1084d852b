package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"doc-qa-engine/pkg/llm"

	"golang.org/x/sync/semaphore"
)

const (
	defaultTimeout    = 30 * time.Second
	maxAttempts       = 3
	maxBackoff        = 30 * time.Second
	minResponseLength = 20
	maxImageBytes     = 5 * 1024 * 1024
)

// Client talks to a llama.cpp-style completion server over HTTP.
// A weighted semaphore bounds in-flight calls so a single-GPU deployment
// is never asked to serve more than maxInflight (see New) generations at once.
type Client struct {
	BaseURL           string
	MultimodalBaseURL string
	HTTPClient        *http.Client

	inflight *semaphore.Weighted
}

// Ensure Client implements llm.Client
var _ llm.Client = &Client{}

func New(baseURL, multimodalBaseURL string, maxInflight int64) *Client {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	return &Client{
		BaseURL:           baseURL,
		MultimodalBaseURL: multimodalBaseURL,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		inflight: semaphore.NewWeighted(maxInflight),
	}
}

// --- Request/Response structs (internal to this package) ---

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Images      []string `json:"images,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// --- Interface implementation ---

func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.Option) llm.Result {
	options := &llm.Options{
		Temperature: 0.6,
		MaxTokens:   400,
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return llm.Result{Err: fmt.Errorf("acquire llm slot: %w", err)}
	}
	defer c.inflight.Release(1)

	reqPayload := completionRequest{
		Prompt:      prompt,
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		TopP:        0.9,
		Stop:        options.Stop,
	}

	baseURL := c.BaseURL
	if len(options.Images) > 0 {
		encoded, err := encodeImages(options.Images)
		if err != nil {
			return llm.Result{Err: err}
		}
		reqPayload.Images = encoded
		baseURL = c.MultimodalBaseURL
	}

	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return llm.Result{Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return llm.Result{Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		text, err := c.doCompletion(ctx, baseURL, payloadBytes)
		if err == nil {
			return llm.Result{Success: true, Text: text}
		}
		lastErr = err

		if !retryable(err) {
			break
		}
	}

	return llm.Result{Err: lastErr}
}

func (c *Client) doCompletion(ctx context.Context, baseURL string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &httpError{status: resp.StatusCode, body: string(bodyBytes)}
	}

	var compResp completionResponse
	if err := json.Unmarshal(bodyBytes, &compResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	return validateText(compResp.Content)
}

// validateText rejects outputs the server should never hand back: empty
// strings, fragments too short to be an answer, and obvious error markers.
func validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", errInvalidResponse
	}
	if len(text) < minResponseLength {
		return "", errInvalidResponse
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"error:", "internal server error", "<html"} {
		if strings.HasPrefix(lower, marker) {
			return "", errInvalidResponse
		}
	}
	return text, nil
}

var errInvalidResponse = errors.New("empty or too short response")

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, truncate(e.body, 200))
}

// retryable reports whether another attempt could succeed: connection and
// timeout failures, invalid text, and 5xx statuses qualify.
func retryable(err error) bool {
	if errors.Is(err, errInvalidResponse) {
		return true
	}
	var herr *httpError
	if errors.As(err, &herr) {
		return herr.status >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	// url.Error wraps both connection refusals and client timeouts.
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "Client.Timeout")
}

func (c *Client) Health(ctx context.Context) bool {
	return c.healthCheck(ctx, c.BaseURL)
}

func (c *Client) MultimodalHealth(ctx context.Context) bool {
	if c.MultimodalBaseURL == "" {
		return false
	}
	return c.healthCheck(ctx, c.MultimodalBaseURL)
}

func (c *Client) healthCheck(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// encodeImages reads and base64-encodes image files, enforcing the
// per-image size cap before anything is loaded into memory.
func encodeImages(paths []string) ([]string, error) {
	encoded := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.Size() > maxImageBytes {
			return nil, fmt.Errorf("image too large: %s (%.1fMB > 5MB limit)", p, float64(info.Size())/1024/1024)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(data))
	}
	return encoded, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
