package http

import (
	proxypay "github.com/codersmutant/paypal-proxy-gateway"
)

// Admin action names. Tokens are bound to the action they authorize.
const (
	ActionResetAll    = "reset_paypal_proxy_payments"
	ActionResetProxy  = "reset_proxy_site_payments"
	ActionSelectProxy = "select_proxy_site"
)

// TokenGuard issues and verifies the action tokens protecting admin routes.
// Host platforms with their own CSRF facility can implement this directly;
// HMACTokenGuard is the standalone default.
type TokenGuard interface {
	Issue(action string) string
	Verify(action, token string) bool
}

// HMACTokenGuard derives action tokens from a shared admin secret. Tokens
// are stable per action and carry no expiry; rotate the secret to revoke
// them.
type HMACTokenGuard struct {
	codec *proxypay.Codec
}

// NewHMACTokenGuard creates a token guard over the given admin secret.
func NewHMACTokenGuard(secret string) *HMACTokenGuard {
	return &HMACTokenGuard{codec: proxypay.NewCodec(secret)}
}

// Issue returns the token authorizing the given action.
func (g *HMACTokenGuard) Issue(action string) string {
	return g.codec.Sign(action)
}

// Verify checks a token against the action it claims to authorize.
func (g *HMACTokenGuard) Verify(action, token string) bool {
	return g.codec.Verify(token, action)
}

// Ensure HMACTokenGuard implements TokenGuard
var _ TokenGuard = (*HMACTokenGuard)(nil)
