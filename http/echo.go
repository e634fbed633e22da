package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	proxypay "github.com/codersmutant/paypal-proxy-gateway"
)

// RegisterEchoWebhookRoutes mounts the webhook routes on an echo router,
// for hosts already running echo instead of gin. Behavior matches the gin
// handler.
func (h *WebhookHandler) RegisterEchoWebhookRoutes(e *echo.Echo) {
	e.POST(WebhookRoute, h.echoWebhook)
	e.POST("/", h.echoLegacyWebhook)
}

func (h *WebhookHandler) echoWebhook(c echo.Context) error {
	if !h.echoAllow(c) {
		return c.JSON(http.StatusTooManyRequests, proxypay.ProxyResponse{
			Success: false,
			Message: "rate limit exceeded",
		})
	}

	var ev proxypay.WebhookEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
	}
	return h.echoProcess(c, ev)
}

func (h *WebhookHandler) echoLegacyWebhook(c echo.Context) error {
	if !h.echoAllow(c) {
		return c.JSON(http.StatusTooManyRequests, proxypay.ProxyResponse{
			Success: false,
			Message: "rate limit exceeded",
		})
	}
	if c.QueryParam(legacyWebhookParam) != "yes" {
		return c.JSON(http.StatusNotFound, proxypay.ProxyResponse{
			Success: false,
			Message: "not found",
		})
	}

	raw, err := base64.StdEncoding.DecodeString(c.FormValue("payload"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
	}

	var ev proxypay.WebhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return c.JSON(http.StatusBadRequest, proxypay.ProxyResponse{
			Success: false,
			Message: "malformed webhook payload",
		})
	}
	return h.echoProcess(c, ev)
}

func (h *WebhookHandler) echoAllow(c echo.Context) bool {
	return h.limiter == nil || h.limiter.Allow(c.RealIP())
}

func (h *WebhookHandler) echoProcess(c echo.Context, ev proxypay.WebhookEvent) error {
	if err := h.processor.Process(c.Request().Context(), ev); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		return c.JSON(statusForError(err), proxypay.ProxyResponse{
			Success: false,
			Message: publicMessage(err),
		})
	}
	return c.JSON(http.StatusOK, proxypay.ProxyResponse{
		Success: true,
		Message: "Webhook processed successfully",
	})
}
