// Package embed is the HTTP client for the embedding server. The server
// exposes POST /embed for batches, POST /embed/single for one text and
// GET /health; request and response bodies are plain JSON.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const maxResponseBytes = 32 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the embedding server.
type Client struct {
	baseURL string
	client  HTTPClient
	timeout time.Duration
}

// New creates a Client for the embedding server at baseURL.
func New(baseURL string, client HTTPClient, timeout time.Duration) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{baseURL: baseURL, client: client, timeout: timeout}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error"`
}

type embedSingleRequest struct {
	Text string `json:"text"`
}

type embedSingleResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed returns one embedding per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp embedResponse
	if err := c.post(ctx, "/embed", embedRequest{Texts: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("embed server: %s", resp.Error)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed server returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// EmbedSingle returns the embedding of a single text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float64, error) {
	var resp embedSingleResponse
	if err := c.post(ctx, "/embed/single", embedSingleRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("embed server: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embed server returned empty embedding")
	}
	return resp.Embedding, nil
}

// Health checks the embedding server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http post: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
