package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"powerstation-cloud/internal/observability/metrics"
)

// Channel delivers notification messages to users.
type Channel interface {
	Send(ctx context.Context, message, channel string) error
}

type slackPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// WebhookChannel posts Slack-compatible payloads to a webhook endpoint.
type WebhookChannel struct {
	url            string
	defaultChannel string
	client         *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithDefaultChannel sets the channel used when an action names none.
func WithDefaultChannel(channel string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.defaultChannel = channel
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	ch := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts the message. A non-2xx response counts as a delivery failure
// so the action outcome reflects it.
func (w *WebhookChannel) Send(ctx context.Context, message, channel string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	if channel == "" {
		channel = w.defaultChannel
	}
	body, err := json.Marshal(slackPayload{Text: message, Channel: channel})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		metrics.IncNotification(false)
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		metrics.IncNotification(false)
		return fmt.Errorf("webhook channel: status %d", resp.StatusCode)
	}
	metrics.IncNotification(true)
	return nil
}
