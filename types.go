package proxypay

import (
	"time"

	"github.com/shopspring/decimal"
)

// GatewayID is the payment method identifier orders must carry for webhook
// status transitions to be applied.
const GatewayID = "paypal_proxy"

// historyLimit bounds the tracker audit log. Oldest entries are evicted first.
const historyLimit = 20

// Settings holds the gateway configuration as read from the host settings
// store. The registry is rebuilt from Settings on every read, so edits take
// effect without a restart.
type Settings struct {
	// ProxyURL is the primary proxy site, always registry index 0.
	ProxyURL string
	// APIKey is the shared secret for the primary proxy.
	APIKey string
	// AdditionalProxies declares extra endpoints, one "URL|API_KEY" per line.
	AdditionalProxies string
	// PaymentCap is the per-proxy collection limit. Zero disables cap
	// enforcement entirely.
	PaymentCap decimal.Decimal
	// StoreName is embedded in checkout payloads shown on the proxy side.
	StoreName string
	// IframeHeight is the checkout iframe height in pixels.
	IframeHeight int
}

// SettingsSource supplies the current gateway settings. Implementations
// typically read from the host platform's option storage.
type SettingsSource interface {
	Settings() Settings
}

// SettingsFunc adapts a function to the SettingsSource interface.
type SettingsFunc func() Settings

func (f SettingsFunc) Settings() Settings { return f() }

// ProxyEndpoint is one configured proxy site: where to embed checkout and
// which secret signs traffic to and from it.
type ProxyEndpoint struct {
	URL    string `json:"url"`
	APIKey string `json:"-"`
}

// ProxyAccount accumulates the amount collected through one endpoint.
// Accounts are created lazily and never deleted, only reset.
type ProxyAccount struct {
	URL        string          `json:"url"`
	Amount     decimal.Decimal `json:"amount"`
	CapReached bool            `json:"cap_reached"`
}

// Audit event types recorded in tracker history.
const (
	EventPayment         = "payment"
	EventResetAll        = "reset_all"
	EventResetProxy      = "reset_proxy"
	EventRotation        = "rotation"
	EventRotationFailed  = "rotation_failed"
	EventManualSelection = "manual_selection"
)

// AuditEvent is one entry in the tracker history. Type selects the variant;
// unused fields are omitted from the serialized form.
type AuditEvent struct {
	Type       string          `json:"type"`
	Date       time.Time       `json:"date"`
	OrderID    string          `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ProxyURL   string          `json:"proxy_url,omitempty"`
	FromIndex  int             `json:"from,omitempty"`
	ToIndex    int             `json:"to,omitempty"`
	ProxyIndex int             `json:"proxy_index,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// TrackerState is the persisted rotation-engine state: the active endpoint
// index, running totals, per-proxy accounts keyed by endpoint ID, and the
// bounded audit history.
type TrackerState struct {
	CurrentProxyIndex int                      `json:"current_proxy_index"`
	TotalCollected    decimal.Decimal          `json:"total_collected"`
	CapReached        bool                     `json:"cap_reached"`
	History           []AuditEvent             `json:"history"`
	ProxyAccounts     map[string]*ProxyAccount `json:"proxy_amounts"`
}

// NewTrackerState returns a zero-valued state with initialized containers.
func NewTrackerState() *TrackerState {
	return &TrackerState{
		TotalCollected: decimal.Zero,
		History:        []AuditEvent{},
		ProxyAccounts:  make(map[string]*ProxyAccount),
	}
}

// Clone returns a deep copy of the state.
func (s *TrackerState) Clone() *TrackerState {
	out := &TrackerState{
		CurrentProxyIndex: s.CurrentProxyIndex,
		TotalCollected:    s.TotalCollected,
		CapReached:        s.CapReached,
		History:           make([]AuditEvent, len(s.History)),
		ProxyAccounts:     make(map[string]*ProxyAccount, len(s.ProxyAccounts)),
	}
	copy(out.History, s.History)
	for id, acct := range s.ProxyAccounts {
		c := *acct
		out.ProxyAccounts[id] = &c
	}
	return out
}

// WebhookEvent is the inbound status notification from a proxy site.
type WebhookEvent struct {
	OrderID       string `json:"order_id" form:"order_id"`
	Status        string `json:"status" form:"status"`
	Nonce         string `json:"nonce" form:"nonce"`
	Hash          string `json:"hash" form:"hash"`
	TransactionID string `json:"transaction_id,omitempty" form:"transaction_id"`
	Amount        string `json:"amount,omitempty" form:"amount"`
	Reason        string `json:"reason,omitempty" form:"reason"`
}

// Webhook status values a proxy site may report.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// CheckoutPayload is the signed order description embedded in the iframe URL.
type CheckoutPayload struct {
	OrderID   string            `json:"order_id"`
	Currency  string            `json:"currency"`
	Amount    string            `json:"amount"`
	ReturnURL string            `json:"return_url"`
	CancelURL string            `json:"cancel_url"`
	Nonce     string            `json:"nonce"`
	Hash      string            `json:"hash"`
	StoreName string            `json:"store_name"`
	Products  map[string]string `json:"products,omitempty"`
}

// RefundRequest is the signed refund instruction posted to a proxy site.
type RefundRequest struct {
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transaction_id"`
	Currency      string `json:"currency"`
	Nonce         string `json:"nonce"`
	Hash          string `json:"hash"`
}

// ProxyResponse is the success/failure envelope proxy sites return and this
// gateway emits from its own webhook endpoints.
type ProxyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
