// Package verify invokes the external language-model verifier that confirms
// whether a message truly satisfies a subscription, and provides the
// score-threshold fallback applied when the verifier is unreachable.
package verify

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

const maxResponseBytes = 1 * 1024 * 1024

// Outcome is a verifier verdict for one (message, subscription) pair.
type Outcome struct {
	IsMatch    bool
	Confidence float64
	Reasoning  string
	// Fallback marks outcomes produced by the threshold heuristic rather
	// than a real verifier response.
	Fallback bool
}

// Verifier confirms candidate matches.
type Verifier interface {
	Verify(ctx context.Context, messageText, subscriptionDescription string) (Outcome, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP verifier client. Calls are retried with exponential
// backoff up to maxRetries extra attempts; each attempt carries its own
// timeout. A malformed response body counts as a verifier failure.
type Client struct {
	url        string
	client     HTTPClient
	timeout    time.Duration
	maxRetries uint64
}

// New creates a verifier Client.
func New(url string, client HTTPClient, timeout time.Duration, maxRetries int) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{url: url, client: client, timeout: timeout, maxRetries: uint64(maxRetries)}
}

type verifyRequest struct {
	MessageText             string `json:"message_text"`
	SubscriptionDescription string `json:"subscription_description"`
}

type verifyResponse struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Verify asks the language-model verifier for a verdict. The request is
// idempotent and safe to retry.
func (c *Client) Verify(ctx context.Context, messageText, subscriptionDescription string) (Outcome, error) {
	payload, err := json.Marshal(verifyRequest{
		MessageText:             messageText,
		SubscriptionDescription: subscriptionDescription,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal request: %w", err)
	}

	var out Outcome
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(payload))
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
		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		var vr verifyResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			return retry.RetryableError(fmt.Errorf("decode response: %w", err))
		}
		out = Outcome{IsMatch: vr.IsMatch, Confidence: vr.Confidence, Reasoning: vr.Reasoning}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("verify: %w", err)
	}
	return out, nil
}

// Fallback is the policy applied after the verifier is exhausted: treat the
// candidate as a match iff its n-gram score clears the threshold. Outages
// must not silently stop all notifications, but must not flood users with
// low-confidence matches either.
func Fallback(ngramScore, threshold float64) Outcome {
	return Outcome{
		IsMatch:  ngramScore >= threshold,
		Fallback: true,
		Reasoning: fmt.Sprintf(
			"verifier unavailable; score-threshold fallback applied (ngram %.2f, threshold %.2f)",
			ngramScore, threshold),
	}
}
