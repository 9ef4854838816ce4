package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Signature headers set on webhook requests
const (
	HeaderSignature = "X-Signature"
	HeaderSigner    = "X-Signer"
	HeaderDigest    = "X-Digest"
)

// WebhookSink posts batches as JSON
type WebhookSink struct {
	url    string
	apiKey string
	client *retryablehttp.Client
}

// NewWebhookSink creates a webhook sink with retries
func NewWebhookSink(url, apiKey string, timeout time.Duration) *WebhookSink {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	return &WebhookSink{url: url, apiKey: apiKey, client: c}
}

// WithRetries overrides the retry policy
func (w *WebhookSink) WithRetries(retries int, wait time.Duration) *WebhookSink {
	w.client.RetryMax = retries
	w.client.RetryWaitMin = wait
	w.client.RetryWaitMax = wait
	return w
}

// Name implements Sink
func (w *WebhookSink) Name() string {
	return "webhook"
}

// Send implements Sink
func (w *WebhookSink) Send(ctx context.Context, env Envelope) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, env.Body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	if env.Signature != nil {
		req.Header.Set(HeaderSignature, env.Signature.Signature)
		req.Header.Set(HeaderSigner, env.Signature.Signer)
		req.Header.Set(HeaderDigest, env.Signature.Digest)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
