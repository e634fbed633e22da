package proxypay

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WebhookProcessor verifies inbound signed status calls from proxy sites and
// applies the resulting order transitions. Verification fails closed: field
// presence, then signature, then replay, and the nonce is recorded before
// any processing so a crash mid-processing cannot open a replay window (a
// legitimate retry after such a crash is also blocked; accepted tradeoff).
type WebhookProcessor struct {
	source   SettingsSource
	registry *Registry
	tracker  *Tracker
	nonces   NonceStore
	orders   OrderStore
	refunds  RefundCreator
	logger   *zap.Logger
	anyKey   bool
}

// WebhookOption configures a WebhookProcessor.
type WebhookOption func(*WebhookProcessor)

// WithWebhookLogger sets the processor logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(p *WebhookProcessor) {
		p.logger = logger
	}
}

// WithAnyEndpointKey accepts signatures made with any configured endpoint's
// API key instead of only the primary key. The original verified against the
// primary key only, which rejects webhooks from additional proxies that sign
// with their own keys.
func WithAnyEndpointKey(enabled bool) WebhookOption {
	return func(p *WebhookProcessor) {
		p.anyKey = enabled
	}
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(source SettingsSource, tracker *Tracker, nonces NonceStore, orders OrderStore, refunds RefundCreator, opts ...WebhookOption) *WebhookProcessor {
	p := &WebhookProcessor{
		source:   source,
		registry: NewRegistry(source),
		tracker:  tracker,
		nonces:   nonces,
		orders:   orders,
		refunds:  refunds,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process verifies and applies one webhook event. Errors are ProxyError
// values whose codes the transport layer maps to HTTP statuses.
func (p *WebhookProcessor) Process(ctx context.Context, ev WebhookEvent) error {
	if err := p.verify(ctx, ev); err != nil {
		metricWebhooksRejected.WithLabelValues(ErrorCode(err)).Inc()
		return err
	}

	if err := p.applyStatus(ctx, ev); err != nil {
		metricWebhooksRejected.WithLabelValues(ErrorCode(err)).Inc()
		return err
	}

	metricWebhooksProcessed.WithLabelValues(ev.Status).Inc()
	return nil
}

// verify checks field presence, the HMAC signature and nonce freshness, and
// records the nonce.
func (p *WebhookProcessor) verify(ctx context.Context, ev WebhookEvent) error {
	if ev.OrderID == "" || ev.Status == "" || ev.Nonce == "" || ev.Hash == "" {
		p.logger.Warn("webhook missing required parameters")
		return NewProxyError(ErrCodeMissingFields,
			"order_id, status, nonce and hash are required", nil)
	}

	if !p.signatureValid(ev) {
		p.logger.Warn("webhook signature invalid", zap.String("order_id", ev.OrderID))
		return NewProxyError(ErrCodeInvalidSignature,
			"invalid webhook signature", nil)
	}

	used, err := p.nonces.MarkUsed(ctx, ev.Nonce)
	if err != nil {
		return fmt.Errorf("failed to record webhook nonce: %w", err)
	}
	if used {
		p.logger.Warn("webhook nonce already used", zap.String("order_id", ev.OrderID))
		return NewProxyError(ErrCodeReplayedNonce,
			"nonce already used", nil)
	}
	return nil
}

func (p *WebhookProcessor) signatureValid(ev WebhookEvent) bool {
	if !p.anyKey {
		return NewCodec(p.source.Settings().APIKey).Verify(ev.Hash, ev.OrderID, ev.Status, ev.Nonce)
	}
	for _, ep := range p.registry.Endpoints() {
		if NewCodec(ep.APIKey).Verify(ev.Hash, ev.OrderID, ev.Status, ev.Nonce) {
			return true
		}
	}
	return false
}

// applyStatus applies the order transition for a verified event.
func (p *WebhookProcessor) applyStatus(ctx context.Context, ev WebhookEvent) error {
	order, err := p.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", ev.OrderID, err)
	}
	if order == nil {
		p.logger.Warn("webhook for unknown order", zap.String("order_id", ev.OrderID))
		return NewProxyError(ErrCodeOrderNotFound,
			fmt.Sprintf("order %s not found", ev.OrderID), nil)
	}

	if order.PaymentMethod() != GatewayID {
		p.logger.Warn("webhook payment method mismatch",
			zap.String("order_id", ev.OrderID),
			zap.String("method", order.PaymentMethod()))
		return NewProxyError(ErrCodeMethodMismatch, "payment method mismatch", nil)
	}

	switch ev.Status {
	case StatusCompleted:
		return p.complete(ctx, order, ev)
	case StatusFailed:
		order.UpdateStatus("failed", "PayPal payment failed.")
		p.logger.Info("payment failed", zap.String("order_id", ev.OrderID))
		return p.orders.Save(ctx, order)
	case StatusCancelled:
		order.UpdateStatus("cancelled", "PayPal payment cancelled.")
		p.logger.Info("payment cancelled", zap.String("order_id", ev.OrderID))
		return p.orders.Save(ctx, order)
	case StatusRefunded:
		return p.refund(ctx, order, ev)
	default:
		p.logger.Warn("unknown webhook status",
			zap.String("order_id", ev.OrderID),
			zap.String("status", ev.Status))
		return NewProxyError(ErrCodeUnknownStatus,
			fmt.Sprintf("unknown payment status %q", ev.Status), nil)
	}
}

// complete marks the order paid and feeds the tracker. A second completed
// webhook for an already-completed order is a success no-op.
func (p *WebhookProcessor) complete(ctx context.Context, order Order, ev WebhookEvent) error {
	if order.Status() == StatusCompleted {
		p.logger.Info("order already completed", zap.String("order_id", ev.OrderID))
		return nil
	}

	if ev.TransactionID != "" {
		order.SetTransactionID(ev.TransactionID)
	}
	order.AddNote(fmt.Sprintf("PayPal payment completed via proxy. Transaction ID: %s", ev.TransactionID))
	order.PaymentComplete(ev.TransactionID)

	if err := p.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", ev.OrderID, err)
	}

	p.logger.Info("payment completed",
		zap.String("order_id", ev.OrderID),
		zap.String("transaction_id", ev.TransactionID))

	if err := p.tracker.AddPayment(ctx, order.Total(), ev.OrderID); err != nil {
		// The order is paid; a tracker persistence failure must still be
		// surfaced so the operator notices the counters drifting.
		p.logger.Error("failed to record payment in tracker",
			zap.String("order_id", ev.OrderID), zap.Error(err))
		return err
	}
	return nil
}

// refund creates a refund record for the webhook amount, defaulting to the
// order total. A second refunded webhook for an already-refunded order is a
// success no-op.
func (p *WebhookProcessor) refund(ctx context.Context, order Order, ev WebhookEvent) error {
	if order.Status() == StatusRefunded {
		p.logger.Info("order already refunded", zap.String("order_id", ev.OrderID))
		return nil
	}

	amount := order.Total()
	if ev.Amount != "" {
		parsed, err := decimal.NewFromString(ev.Amount)
		if err != nil {
			return NewProxyError(ErrCodeRefundFailed,
				fmt.Sprintf("invalid refund amount %q", ev.Amount), nil)
		}
		amount = parsed
	}

	reason := ev.Reason
	if reason == "" {
		reason = "Refunded via PayPal"
	}

	if err := p.refunds.CreateRefund(ctx, ev.OrderID, amount, reason); err != nil {
		p.logger.Error("refund creation failed",
			zap.String("order_id", ev.OrderID), zap.Error(err))
		return NewProxyError(ErrCodeRefundFailed, err.Error(), nil)
	}

	order.AddNote(fmt.Sprintf("Refunded %s %s via PayPal proxy. Refund ID: %s",
		amount.String(), order.Currency(), ev.TransactionID))

	p.logger.Info("payment refunded",
		zap.String("order_id", ev.OrderID),
		zap.String("amount", amount.String()))
	return p.orders.Save(ctx, order)
}
