package tasks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const webhookUserAgent = "ChatService-Webhook/1.0"

// WebhookSender posts signed JSON payloads to a fixed set of endpoints. The
// signature lets receivers verify origin without a shared session: HMAC
// SHA-256 of the exact body under the configured secret.
type WebhookSender struct {
	URLs   []string
	Secret string
	Client *http.Client
	Log    *slog.Logger
}

func NewWebhookSender(urls []string, secret string, timeout time.Duration, log *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookSender{
		URLs:   urls,
		Secret: secret,
		Client: &http.Client{Timeout: timeout},
		Log:    log,
	}
}

// Deliver posts body to every endpoint. Any endpoint failure fails the
// whole delivery so the dispatcher retries it; idempotencyKey is stable
// across retries and crash redeliveries so receivers can dedupe.
func (w *WebhookSender) Deliver(ctx context.Context, idempotencyKey string, body []byte) error {
	for _, url := range w.URLs {
		if err := w.post(ctx, url, idempotencyKey, body); err != nil {
			return err
		}
	}
	return nil
}

func (w *WebhookSender) post(ctx context.Context, url, idempotencyKey string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	if w.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+w.sign(body))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post to %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: %s responded %d", url, resp.StatusCode)
	}
	w.Log.Debug("webhook delivered", "url", url, "status", resp.StatusCode)
	return nil
}

func (w *WebhookSender) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookExecutor delivers message.sent notifications.
type WebhookExecutor struct {
	Sender *WebhookSender
}

func (e *WebhookExecutor) Kind() string { return KindWebhook }

func (e *WebhookExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("webhook: decode payload: %w", err)
	}
	return e.Sender.Deliver(ctx, p.Event+":"+p.MessageID, payload)
}

// ReviewExecutor routes flagged messages to the moderation review feed over
// the same signed webhook channel, under a distinct event name.
type ReviewExecutor struct {
	Sender *WebhookSender
}

func (e *ReviewExecutor) Kind() string { return KindReview }

func (e *ReviewExecutor) Execute(ctx context.Context, payload json.RawMessage) error {
	var p ReviewPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("review: decode payload: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"event":           "content_flagged",
		"message_id":      p.MessageID,
		"conversation_id": p.ConversationID,
		"confidence":      p.Confidence,
		"timestamp":       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("review: encode event: %w", err)
	}
	return e.Sender.Deliver(ctx, "content_flagged:"+p.MessageID, body)
}
