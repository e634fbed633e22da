package proxypay

import "fmt"

// ProxyError represents a gateway-specific error with a stable machine code
type ProxyError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeMissingFields    = "missing_fields"
	ErrCodeInvalidSignature = "invalid_signature"
	ErrCodeReplayedNonce    = "replayed_nonce"
	ErrCodeMethodMismatch   = "method_mismatch"
	ErrCodeOrderNotFound    = "order_not_found"
	ErrCodeUnknownStatus    = "unknown_status"
	ErrCodeIndexOutOfRange  = "index_out_of_range"
	ErrCodeProxyNotFound    = "proxy_not_found"
	ErrCodeRefundFailed     = "refund_failed"
	ErrCodeTransportError   = "transport_error"
)

// NewProxyError creates a new proxy error
func NewProxyError(code, message string, details map[string]interface{}) *ProxyError {
	return &ProxyError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the machine code from an error. Returns "" for nil
// or non-ProxyError errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*ProxyError); ok {
		return pe.Code
	}
	return ""
}
