package proxypay

import (
	"context"

	"github.com/shopspring/decimal"
)

// Order is the slice of the host platform's order object this gateway needs.
// The host supplies the real implementation; tests use in-memory fakes.
type Order interface {
	// ID returns the host order identifier.
	ID() string
	// Total returns the order total in the order currency.
	Total() decimal.Decimal
	// Currency returns the ISO currency code.
	Currency() string
	// PaymentMethod returns the identifier of the gateway that owns the order.
	PaymentMethod() string
	// Status returns the current order status ("completed", "refunded", ...).
	Status() string

	// SetTransactionID records the remote transaction identifier.
	SetTransactionID(id string)
	// TransactionID returns the recorded remote transaction identifier.
	TransactionID() string
	// AddNote attaches an operator-visible annotation to the order.
	AddNote(note string)
	// PaymentComplete marks the order paid.
	PaymentComplete(transactionID string)
	// UpdateStatus transitions the order with an annotation.
	UpdateStatus(status, note string)
	// ReturnURL is where the buyer lands after successful payment.
	ReturnURL() string
	// CancelURL is where the buyer lands after abandoning payment.
	CancelURL() string
	// PayURL is the hosted page that embeds the proxy checkout iframe.
	PayURL() string
}

// OrderStore resolves order IDs to order objects and persists changes.
type OrderStore interface {
	// Get returns the order, or a nil order with nil error when none exists.
	Get(ctx context.Context, orderID string) (Order, error)
	// Save persists any pending order mutations.
	Save(ctx context.Context, order Order) error
}

// RefundCreator creates refund records on the host platform.
type RefundCreator interface {
	CreateRefund(ctx context.Context, orderID string, amount decimal.Decimal, reason string) error
}

// ProductMapper resolves local product IDs to their identifiers on a proxy
// site. Optional; when absent, checkout payloads omit the products field.
type ProductMapper interface {
	MapProducts(ctx context.Context, orderID string) (map[string]string, error)
}

// StateStore persists the tracker state blob. Implementations must return a
// state the caller may mutate freely (a private copy).
type StateStore interface {
	// Load returns the persisted state, or (nil, nil) when none exists yet.
	Load(ctx context.Context) (*TrackerState, error)
	// Save persists the full state atomically.
	Save(ctx context.Context, state *TrackerState) error
}

// NonceStore records webhook nonces for replay rejection.
type NonceStore interface {
	// MarkUsed atomically records the nonce and reports whether it had been
	// seen before. Recording happens before any downstream processing, so a
	// crash mid-processing cannot open a replay window.
	MarkUsed(ctx context.Context, nonce string) (alreadyUsed bool, err error)
}

// RefundSender delivers a signed refund request to a proxy site.
type RefundSender interface {
	SendRefund(ctx context.Context, proxyURL string, req RefundRequest) (*ProxyResponse, error)
}
