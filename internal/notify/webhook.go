package notify

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

const (
	defaultWebhookTimeout = 10 * time.Second
	webhookMaxRetries     = 3
)

// webhookPayload is the JSON body POSTed to the configured webhook.
type webhookPayload struct {
	BackupID        int64   `json:"backup_id"`
	Type            string  `json:"type"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Timestamp       string  `json:"timestamp_utc"`
}

// WebhookSender POSTs outcome payloads with exponential-backoff retries.
type WebhookSender struct {
	httpClient *http.Client
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// Send delivers the outcome to targetURL, retrying transient failures. A
// non-2xx response counts as a failure.
func (s *WebhookSender) Send(ctx context.Context, targetURL string, o Outcome) error {
	payload := webhookPayload{
		BackupID:        o.BackupID,
		Type:            o.Type,
		Success:         o.Success,
		Error:           o.Error,
		SizeBytes:       o.Size,
		DurationSeconds: o.Duration.Seconds(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	backoff := retry.WithMaxRetries(webhookMaxRetries, retry.NewExponential(2*time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(s.post(ctx, targetURL, body))
	})
}

func (s *WebhookSender) post(ctx context.Context, targetURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
