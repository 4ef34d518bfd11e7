// Package ollama provides a client for a local Ollama inference server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the local model operations used for validation.
type Client interface {
	// Generate runs a single non-streaming completion and returns the raw text.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateJSON runs a completion and unmarshals the JSON payload embedded
	// in the model output into out. Models wrap JSON in prose or code fences,
	// so the payload is located with ExtractJSON before unmarshaling.
	GenerateJSON(ctx context.Context, prompt string, out any) error
	// Available reports whether the Ollama server is reachable.
	Available(ctx context.Context) bool
}

// Option configures the Ollama client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

type httpClient struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Ollama client. Local inference is single-threaded
// in practice, so requests are rate limited to one at a time with no burst
// beyond the next slot.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:11434",
		model:   "qwen3:8b",
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *httpClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "ollama: rate limiter")
	}

	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", eris.Wrap(err, "ollama: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "ollama: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ollama: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ollama: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "ollama: unmarshal response")
	}

	return result.Response, nil
}

func (c *httpClient) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	payload, ok := ExtractJSON(text)
	if !ok {
		return eris.Errorf("ollama: no JSON payload in model output: %.200s", text)
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return eris.Wrap(err, "ollama: unmarshal model output")
	}
	return nil
}

// Available probes the server with a short deadline so callers can fall back
// quickly when no local model is running.
func (c *httpClient) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
