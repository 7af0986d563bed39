package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	WebhookTimestampHeader = "X-Xbet-Timestamp"
	WebhookSignatureHeader = "X-Xbet-Signature"
)

// SignWebhook returns hex(HMAC-SHA256(secret, timestamp + "." + body)).
func SignWebhook(secret []byte, unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks sig in constant time and rejects timestamps further
// than maxSkew from now.
func VerifyWebhook(secret []byte, unixTS int64, body []byte, sig string, maxSkew time.Duration, now time.Time) bool {
	if d := now.Sub(time.Unix(unixTS, 0)); d > maxSkew || d < -maxSkew {
		return false
	}
	want := SignWebhook(secret, unixTS, body)
	return hmac.Equal([]byte(want), []byte(sig))
}
