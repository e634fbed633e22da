// Package http provides HTTP transport adapters for the proxypay gateway:
// inbound webhook and admin handlers (gin and echo flavors) and the outbound
// client that talks to proxy sites.
package http

import (
	proxypay "github.com/codersmutant/paypal-proxy-gateway"
)

// Route paths served by the inbound adapters.
const (
	WebhookRoute          = "/wc-paypal-proxy/v1/webhook"
	AdminResetRoute       = "/wc-paypal-proxy/v1/admin/reset"
	AdminResetProxyRoute  = "/wc-paypal-proxy/v1/admin/reset-proxy"
	AdminSelectProxyRoute = "/wc-paypal-proxy/v1/admin/select-proxy"
	AdminStateRoute       = "/wc-paypal-proxy/v1/admin/state"
)

// legacyWebhookParam is the query flag the original plugin used to route
// webhook posts before it had a REST endpoint.
const legacyWebhookParam = "wc-paypal-proxy-webhook"

// NewClient creates an outbound proxy client with default settings.
func NewClient(opts ...ClientOption) *ProxyClient {
	return NewProxyClient(opts...)
}

// NewWebhook creates a webhook handler for the given processor.
func NewWebhook(processor *proxypay.WebhookProcessor, opts ...WebhookHandlerOption) *WebhookHandler {
	return NewWebhookHandler(processor, opts...)
}

// NewAdmin creates an admin handler over the given tracker.
func NewAdmin(tracker *proxypay.Tracker, guard TokenGuard, opts ...AdminHandlerOption) *AdminHandler {
	return NewAdminHandler(tracker, guard, opts...)
}
