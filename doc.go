// Package proxypay delegates PayPal checkout to one or more remote proxy
// sites and reconciles payment outcomes via signed webhooks.
//
// # Overview
//
// A store that cannot (or does not want to) talk to PayPal directly embeds a
// proxy site's hosted checkout in an iframe. The proxy collects the payment
// and reports the outcome back through an HMAC-signed webhook with replay
// protection. Each proxy endpoint has a configurable collection cap; when a
// proxy reaches its cap the tracker rotates new checkouts to the next
// endpoint that still has headroom.
//
// The package is organized around a few explicit services owned by the
// application's composition root; there are no hidden singletons:
//
//   - Registry: parses the configured endpoint list (primary + additional
//     "URL|API_KEY" lines) on every read.
//   - Tracker: the rotation engine. Accumulates per-proxy totals, enforces
//     the cap, rotates, and keeps a bounded audit history. State persists
//     through a StateStore (in-memory or redis).
//   - Codec: HMAC-SHA256 signing/verification for payloads exchanged with
//     proxy sites.
//   - Gateway: facade bridging host order objects to the tracker. Builds
//     signed checkout payloads and refund requests.
//   - WebhookProcessor: verifies inbound status calls (signature + nonce
//     replay) and applies order transitions, feeding completed payments to
//     the tracker.
//
// HTTP transport adapters (gin and echo handlers, the outbound proxy
// client) live in the http subpackage. The host e-commerce platform is an
// external collaborator reached through the Order, OrderStore and
// RefundCreator interfaces.
package proxypay
