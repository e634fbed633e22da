package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	proxypay "github.com/codersmutant/paypal-proxy-gateway"
)

// WebhookHandler serves the inbound webhook routes: the REST endpoint and
// the legacy query-triggered fallback.
type WebhookHandler struct {
	processor *proxypay.WebhookProcessor
	logger    *zap.Logger
	limiter   *IPRateLimiter
}

// WebhookHandlerOption configures a WebhookHandler.
type WebhookHandlerOption func(*WebhookHandler)

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger *zap.Logger) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		h.logger = logger
	}
}

// WithRateLimiter enables per-IP rate limiting on the webhook routes.
func WithRateLimiter(limiter *IPRateLimiter) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		h.limiter = limiter
	}
}

// NewWebhookHandler creates a webhook handler for the given processor.
func NewWebhookHandler(processor *proxypay.WebhookProcessor, opts ...WebhookHandlerOption) *WebhookHandler {
	h := &WebhookHandler{
		processor: processor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the webhook routes on a gin router.
func (h *WebhookHandler) Register(r gin.IRouter) {
	r.POST(WebhookRoute, h.rateLimited(h.handleWebhook))
	// Legacy fallback: POST / with ?wc-paypal-proxy-webhook=yes and a
	// base64 JSON payload form field.
	r.POST("/", h.rateLimited(h.handleLegacyWebhook))
}

func (h *WebhookHandler) rateLimited(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, proxypay.ProxyResponse{
				Success: false,
				Message: "rate limit exceeded",
			})
			return
		}
		next(c)
	}
}

func (h *WebhookHandler) handleWebhook(c *gin.Context) {
	var ev proxypay.WebhookEvent
	if err := c.ShouldBind(&ev); err != nil {
		c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
		return
	}
	h.process(c, ev)
}

func (h *WebhookHandler) handleLegacyWebhook(c *gin.Context) {
	if c.Query(legacyWebhookParam) != "yes" {
		c.JSON(http.StatusNotFound, proxypay.ProxyResponse{
			Success: false,
			Message: "not found",
		})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(c.PostForm("payload"))
	if err != nil {
		c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
		return
	}

	var ev proxypay.WebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
		return
	}
	h.process(c, ev)
}

func (h *WebhookHandler) process(c *gin.Context, ev proxypay.WebhookEvent) {
	if err := h.processor.Process(c.Request.Context(), ev); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		c.JSON(statusForError(err), proxypay.ProxyResponse{
			Success: false,
			Message: publicMessage(err),
		})
		return
	}

	c.JSON(http.StatusOK, proxypay.ProxyResponse{
		Success: true,
		Message: "Webhook processed successfully",
	})
}

// statusForError maps processor error codes to HTTP statuses: verification
// failures are 403, processing failures 400, everything else 500.
func statusForError(err error) int {
	switch proxypay.ErrorCode(err) {
	case proxypay.ErrCodeMissingFields,
		proxypay.ErrCodeInvalidSignature,
		proxypay.ErrCodeReplayedNonce:
		return http.StatusForbidden
	case proxypay.ErrCodeMethodMismatch,
		proxypay.ErrCodeOrderNotFound,
		proxypay.ErrCodeUnknownStatus,
		proxypay.ErrCodeRefundFailed,
		proxypay.ErrCodeIndexOutOfRange,
		proxypay.ErrCodeProxyNotFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the coded message for ProxyErrors and a generic one
// for anything else, so storage failures never leak internals.
func publicMessage(err error) string {
	if pe, ok := err.(*proxypay.ProxyError); ok {
		return pe.Message
	}
	return "internal error"
}

// AdminHandler serves the operator actions: reset counters, reset one
// proxy, select the active proxy and inspect tracker state. Every mutating
// route is guarded by an action token.
type AdminHandler struct {
	tracker *proxypay.Tracker
	guard   TokenGuard
	logger  *zap.Logger
}

// AdminHandlerOption configures an AdminHandler.
type AdminHandlerOption func(*AdminHandler)

// WithAdminLogger sets the handler logger.
func WithAdminLogger(logger *zap.Logger) AdminHandlerOption {
	return func(h *AdminHandler) {
		h.logger = logger
	}
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(tracker *proxypay.Tracker, guard TokenGuard, opts ...AdminHandlerOption) *AdminHandler {
	h := &AdminHandler{
		tracker: tracker,
		guard:   guard,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the admin routes on a gin router.
func (h *AdminHandler) Register(r gin.IRouter) {
	r.POST(AdminResetRoute, h.guarded(ActionResetAll, h.handleResetAll))
	r.POST(AdminResetProxyRoute, h.guarded(ActionResetProxy, h.handleResetProxy))
	r.POST(AdminSelectProxyRoute, h.guarded(ActionSelectProxy, h.handleSelectProxy))
	r.GET(AdminStateRoute, h.handleState)
}

func (h *AdminHandler) guarded(action string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.guard.Verify(action, c.PostForm("_token")) {
			c.JSON(http.StatusForbidden, proxypay.ProxyResponse{
				Success: false,
				Message: "security check failed",
			})
			return
		}
		next(c)
	}
}

func (h *AdminHandler) handleResetAll(c *gin.Context) {
	if err := h.tracker.ResetAll(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proxypay.ProxyResponse{
		Success: true,
		Message: "payment counters reset",
	})
}

func (h *AdminHandler) handleResetProxy(c *gin.Context) {
	proxyID := c.PostForm("proxy_id")
	if proxyID == "" {
		c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "proxy_id is required",
		})
		return
	}
	if err := h.tracker.ResetProxy(c.Request.Context(), proxyID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proxypay.ProxyResponse{
		Success: true,
		Message: "proxy counter reset",
	})
}

func (h *AdminHandler) handleSelectProxy(c *gin.Context) {
	index, err := strconv.Atoi(c.PostForm("proxy_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "proxy_index must be an integer",
		})
		return
	}
	if err := h.tracker.SelectProxy(c.Request.Context(), index); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proxypay.ProxyResponse{
		Success: true,
		Message: "active proxy updated",
	})
}

func (h *AdminHandler) handleState(c *gin.Context) {
	state, err := h.tracker.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	endpoints, skipped := h.tracker.Registry().EndpointsWithSkipped()
	urls := make([]string, len(endpoints))
	for i, ep := range endpoints {
		urls[i] = ep.URL
	}
	c.JSON(http.StatusOK, gin.H{
		"state":   state,
		"proxies": urls,
		"skipped": skipped,
		"cap":     h.tracker.Cap(),
		"gateway": proxypay.GatewayID,
	})
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	h.logger.Error("admin action failed", zap.Error(err))
	c.JSON(statusForError(err), proxypay.ProxyResponse{
		Success: false,
		Message: publicMessage(err),
	})
}
