package proxypay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Codec signs and verifies messages exchanged with a proxy site using
// HMAC-SHA256 over a deterministic concatenation of fields with the shared
// API key. Field order is part of the wire contract: checkout requests sign
// (order_id, nonce), refunds (order_id, nonce, amount) and webhooks
// (order_id, status, nonce).
type Codec struct {
	secret []byte
}

// NewCodec creates a codec bound to one endpoint's API key.
func NewCodec(apiKey string) *Codec {
	return &Codec{secret: []byte(apiKey)}
}

// Sign returns the hex-encoded HMAC-SHA256 of the concatenated fields.
func (c *Codec) Sign(fields ...string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(strings.Join(fields, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature against the expected HMAC for the fields.
// Comparison is constant time.
func (c *Codec) Verify(signature string, fields ...string) bool {
	expected := c.Sign(fields...)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NonceFunc produces a single-use token. The binding string names the
// context the nonce protects (e.g. "order-42" or "refund-42") and may be
// used by host-provided implementations; the default ignores it and returns
// an unguessable random token.
type NonceFunc func(binding string) string

// UUIDNonce is the default NonceFunc.
func UUIDNonce(string) string {
	return uuid.NewString()
}
