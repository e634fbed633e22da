package proxypay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// checkoutRoute is the proxy-site REST route that renders hosted checkout.
const checkoutRoute = "/wc-paypal-proxy/v1/checkout"

// refundRoute is the proxy-site REST route that executes refunds.
const refundRoute = "/wc-paypal-proxy/v1/refund"

// CheckoutRequest is everything the host needs to embed the hosted checkout:
// the signed payload, its encoded form and the iframe source URL.
type CheckoutRequest struct {
	Payload      CheckoutPayload
	Encoded      string
	IframeURL    string
	IframeHeight int
}

// Gateway bridges host order objects to the tracker and registry: it builds
// outbound signed requests and exposes the current endpoint to the checkout
// flow.
type Gateway struct {
	tracker  *Tracker
	source   SettingsSource
	orders   OrderStore
	nonce    NonceFunc
	refunds  RefundSender
	products ProductMapper
	logger   *zap.Logger
	strict   bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithNonceFunc replaces the nonce generator, e.g. with the host platform's
// token facility.
func WithNonceFunc(fn NonceFunc) GatewayOption {
	return func(g *Gateway) {
		g.nonce = fn
	}
}

// WithRefundSender wires the outbound refund transport.
func WithRefundSender(sender RefundSender) GatewayOption {
	return func(g *Gateway) {
		g.refunds = sender
	}
}

// WithProductMapper enables the optional products field in checkout
// payloads.
func WithProductMapper(mapper ProductMapper) GatewayOption {
	return func(g *Gateway) {
		g.products = mapper
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithStrictAvailability makes Available report false as soon as every
// configured endpoint is capped. The default mirrors the original behavior,
// which only disables checkout when the cap is reached with at most one
// endpoint configured and otherwise keeps accepting orders on the stuck
// endpoint.
func WithStrictAvailability(strict bool) GatewayOption {
	return func(g *Gateway) {
		g.strict = strict
	}
}

// NewGateway creates the gateway facade.
func NewGateway(tracker *Tracker, source SettingsSource, orders OrderStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		tracker: tracker,
		source:  source,
		orders:  orders,
		nonce:   UUIDNonce,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Tracker returns the tracker this gateway rotates over.
func (g *Gateway) Tracker() *Tracker {
	return g.tracker
}

// Available reports whether the gateway should be offered at checkout.
func (g *Gateway) Available(ctx context.Context) (bool, error) {
	if g.strict {
		allCapped, err := g.tracker.AllCapped(ctx)
		if err != nil {
			return false, err
		}
		return !allCapped, nil
	}

	capped, err := g.tracker.CapReached(ctx)
	if err != nil {
		return false, err
	}
	if capped && g.tracker.Registry().Count() <= 1 {
		return false, nil
	}
	return true, nil
}

// ProcessPayment marks the order pending and returns the URL of the hosted
// page that embeds the proxy checkout.
func (g *Gateway) ProcessPayment(ctx context.Context, orderID string) (string, error) {
	order, err := g.orders.Get(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if order == nil {
		return "", NewProxyError(ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}

	order.UpdateStatus("pending", "Awaiting PayPal payment")
	if err := g.orders.Save(ctx, order); err != nil {
		return "", fmt.Errorf("failed to save order %s: %w", orderID, err)
	}

	g.logger.Info("payment pending", zap.String("order_id", orderID))
	return order.PayURL(), nil
}

// BuildCheckout builds the signed checkout payload for the order against the
// tracker's current endpoint and the iframe URL that carries it.
func (g *Gateway) BuildCheckout(ctx context.Context, order Order) (*CheckoutRequest, error) {
	endpoint, err := g.tracker.CurrentEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	codec := NewCodec(endpoint.APIKey)
	nonce := g.nonce("order-" + order.ID())

	payload := CheckoutPayload{
		OrderID:   order.ID(),
		Currency:  order.Currency(),
		Amount:    order.Total().String(),
		ReturnURL: order.ReturnURL(),
		CancelURL: order.CancelURL(),
		Nonce:     nonce,
		Hash:      codec.Sign(order.ID(), nonce),
		StoreName: g.source.Settings().StoreName,
	}

	if g.products != nil {
		products, err := g.products.MapProducts(ctx, order.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to map products for order %s: %w", order.ID(), err)
		}
		payload.Products = products
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	return &CheckoutRequest{
		Payload:      payload,
		Encoded:      encoded,
		IframeURL:    checkoutURL(endpoint.URL, encoded),
		IframeHeight: g.source.Settings().IframeHeight,
	}, nil
}

// checkoutURL builds the iframe source URL for an encoded payload.
func checkoutURL(proxyURL, encoded string) string {
	return strings.TrimRight(proxyURL, "/") + "/?rest_route=" + checkoutRoute + "&data=" + url.QueryEscape(encoded)
}

// RefundURL returns the refund route on the given proxy site.
func RefundURL(proxyURL string) string {
	return strings.TrimRight(proxyURL, "/") + "/?rest_route=" + refundRoute
}

// Refund sends a signed refund request to the primary proxy site. The call
// is synchronous with a fixed transport timeout and is not retried; transport
// errors and remote-reported failures surface to the caller.
func (g *Gateway) Refund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) error {
	if g.refunds == nil {
		return NewProxyError(ErrCodeRefundFailed, "no refund transport configured", nil)
	}

	order, err := g.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if order == nil {
		return NewProxyError(ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}
	if order.TransactionID() == "" {
		return NewProxyError(ErrCodeRefundFailed, "no transaction ID found for order", nil)
	}

	settings := g.source.Settings()
	codec := NewCodec(settings.APIKey)
	nonce := g.nonce("refund-" + orderID)
	amountStr := amount.String()

	req := RefundRequest{
		OrderID:       orderID,
		Amount:        amountStr,
		Reason:        reason,
		TransactionID: order.TransactionID(),
		Currency:      order.Currency(),
		Nonce:         nonce,
		Hash:          codec.Sign(orderID, nonce, amountStr),
	}

	resp, err := g.refunds.SendRefund(ctx, settings.ProxyURL, req)
	if err != nil {
		metricRefunds.WithLabelValues("transport_error").Inc()
		g.logger.Error("refund request failed", zap.String("order_id", orderID), zap.Error(err))
		return NewProxyError(ErrCodeTransportError, err.Error(), nil)
	}
	if !resp.Success {
		metricRefunds.WithLabelValues("rejected").Inc()
		g.logger.Error("refund rejected by proxy",
			zap.String("order_id", orderID),
			zap.String("message", resp.Message))
		return NewProxyError(ErrCodeRefundFailed, resp.Message, nil)
	}

	metricRefunds.WithLabelValues("success").Inc()
	g.logger.Info("refund successful", zap.String("order_id", orderID), zap.String("amount", amountStr))
	return nil
}
