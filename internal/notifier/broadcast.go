package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookBroadcaster posts engine signals (distress, status, distribution
// notices) to an external monitoring webhook.
type WebhookBroadcaster struct {
	URL    string
	Client *http.Client
}

// NewWebhookBroadcaster creates a broadcaster for the given webhook URL.
// An empty URL yields a broadcaster that drops messages after logging them,
// so the engine keeps running without monitoring configured.
func NewWebhookBroadcaster(url string) *WebhookBroadcaster {
	return &WebhookBroadcaster{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts one message to the webhook.
func (w *WebhookBroadcaster) Send(text string) error {
	if w.URL == "" {
		logrus.Infof("broadcast (no webhook configured): %s", text)
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send broadcast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (w *WebhookBroadcaster) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := w.Send(text); err != nil {
			lastErr = err
			backoff := time.Duration(1<<uint(i)) * time.Second
			logrus.Warnf("broadcast failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}
