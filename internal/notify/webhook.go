// Package notify delivers mode transition notifications to external systems.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HerbHall/wifiwarden/internal/config"
)

// Notifier delivers a notification about a mode transition.
type Notifier interface {
	NotifyTransition(ctx context.Context, from, to, cause string) error
}

// Compile-time interface guards.
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*NopNotifier)(nil)
)

// NopNotifier discards all notifications. Used when no webhook is configured.
type NopNotifier struct{}

// NotifyTransition is a no-op.
func (NopNotifier) NotifyTransition(context.Context, string, string, string) error { return nil }

// transitionPayload is the JSON body sent to webhook endpoints.
type transitionPayload struct {
	EventType string    `json:"event_type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookNotifier delivers notifications via HTTP POST to a configured URL.
type WebhookNotifier struct {
	client *http.Client
	cfg    config.NotifyConfig
}

// NewWebhookNotifier creates a new webhook notifier with the given config.
func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}
}

// New returns a webhook notifier when a URL is configured, otherwise a nop.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return NopNotifier{}
	}
	return NewWebhookNotifier(cfg)
}

// NotifyTransition sends a mode transition event to the configured webhook URL.
func (w *WebhookNotifier) NotifyTransition(ctx context.Context, from, to, cause string) error {
	payload := transitionPayload{
		EventType: "mode_transition",
		From:      from,
		To:        to,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WifiWarden-Webhook/0.1")

	// Add HMAC-SHA256 signature if secret is configured.
	if w.cfg.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(w.cfg.WebhookSecret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Signature", sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST %s: %w", w.cfg.WebhookURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST %s: status %d", w.cfg.WebhookURL, resp.StatusCode)
	}

	return nil
}
