package http

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	proxypay "github.com/codersmutant/paypal-proxy-gateway"
)

// defaultProxyTimeout bounds outbound calls to proxy sites. Refunds are
// synchronous admin actions; no retry is attempted on timeout.
const defaultProxyTimeout = 60 * time.Second

// ProxyClient sends signed requests to proxy sites. It implements
// proxypay.RefundSender.
type ProxyClient struct {
	rest   *resty.Client
	logger *zap.Logger
}

// ClientOption configures a ProxyClient.
type ClientOption func(*ProxyClient)

// WithTimeout overrides the default 60s request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ProxyClient) {
		c.rest.SetTimeout(timeout)
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *ProxyClient) {
		c.logger = logger
	}
}

// NewProxyClient creates an outbound proxy client.
func NewProxyClient(opts ...ClientOption) *ProxyClient {
	c := &ProxyClient{
		rest:   resty.New().SetTimeout(defaultProxyTimeout),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendRefund posts a signed refund request to the proxy site's refund route
// and decodes the success/failure envelope.
func (c *ProxyClient) SendRefund(ctx context.Context, proxyURL string, req proxypay.RefundRequest) (*proxypay.ProxyResponse, error) {
	c.logger.Debug("sending refund request",
		zap.String("proxy_url", proxyURL),
		zap.String("order_id", req.OrderID))

	resp, err := c.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"order_id":       req.OrderID,
			"amount":         req.Amount,
			"reason":         req.Reason,
			"transaction_id": req.TransactionID,
			"currency":       req.Currency,
			"nonce":          req.Nonce,
			"hash":           req.Hash,
		}).
		Post(proxypay.RefundURL(proxyURL))
	if err != nil {
		return nil, fmt.Errorf("refund request failed: %w", err)
	}

	var envelope proxypay.ProxyResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, fmt.Errorf("invalid response from proxy (%d): %w", resp.StatusCode(), err)
	}
	return &envelope, nil
}

// Ensure ProxyClient implements the refund transport
var _ proxypay.RefundSender = (*ProxyClient)(nil)
