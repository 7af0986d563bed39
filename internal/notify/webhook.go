package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
)

// WebhookSender posts the whole Notification as JSON. When a secret is set,
// each request carries a timestamp and an HMAC-SHA256 signature over
// "<timestamp>.<body>".
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{url: url, secret: []byte(secret), client: newHTTPClient(), now: time.Now}
}

// Send posts n.
func (w *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	var headers map[string]string
	if len(w.secret) > 0 {
		ts := w.now().Unix()
		headers = map[string]string{
			crypto.WebhookTimestampHeader: strconv.FormatInt(ts, 10),
			crypto.WebhookSignatureHeader: crypto.SignWebhook(w.secret, ts, body),
		}
	}
	if err := postJSON(ctx, w.client, w.url, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }
