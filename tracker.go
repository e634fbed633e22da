package proxypay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Tracker accumulates payment totals per proxy endpoint, enforces the
// per-proxy cap and rotates the active endpoint when the cap is reached.
//
// Every mutation is a read-modify-write of the persisted state. Unlike the
// host platform's bare option storage, the tracker serializes mutations with
// a mutex so concurrent webhook deliveries cannot lose increments.
type Tracker struct {
	mu       sync.Mutex
	source   SettingsSource
	registry *Registry
	store    StateStore
	logger   *zap.Logger
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(logger *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker over the given settings source and state
// store.
func NewTracker(source SettingsSource, store StateStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		source:   source,
		registry: NewRegistry(source),
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry returns the endpoint registry the tracker rotates over.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Cap returns the configured per-proxy payment cap. Zero means cap
// enforcement is disabled.
func (t *Tracker) Cap() decimal.Decimal {
	return t.source.Settings().PaymentCap
}

// loadState fetches the persisted state and normalizes it against the
// current configuration: accounts exist for every configured endpoint, URLs
// track setting changes, the index is reset to 0 when out of range and the
// history is bounded. Callers must hold t.mu.
func (t *Tracker) loadState(ctx context.Context, endpoints []ProxyEndpoint) (*TrackerState, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker state: %w", err)
	}
	if state == nil {
		state = NewTrackerState()
	}
	if state.ProxyAccounts == nil {
		state.ProxyAccounts = make(map[string]*ProxyAccount)
	}

	for _, ep := range endpoints {
		id := EndpointID(ep.URL)
		if acct, ok := state.ProxyAccounts[id]; ok {
			acct.URL = ep.URL
			continue
		}
		state.ProxyAccounts[id] = &ProxyAccount{
			URL:    ep.URL,
			Amount: decimal.Zero,
		}
	}

	if state.CurrentProxyIndex < 0 || state.CurrentProxyIndex >= len(endpoints) {
		state.CurrentProxyIndex = 0
	}
	if len(state.History) > historyLimit {
		state.History = state.History[len(state.History)-historyLimit:]
	}
	return state, nil
}

func (t *Tracker) saveState(ctx context.Context, state *TrackerState) error {
	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save tracker state: %w", err)
	}
	return nil
}

// appendEvent appends an audit event, evicting the oldest entries beyond the
// history limit.
func (t *Tracker) appendEvent(state *TrackerState, ev AuditEvent) {
	ev.Date = t.now()
	state.History = append(state.History, ev)
	if len(state.History) > historyLimit {
		state.History = state.History[len(state.History)-historyLimit:]
	}
}

// AddPayment applies a completed payment to the current endpoint's account
// and the global total. When a cap is configured and the account total
// reaches it, the account is marked capped and rotation is attempted. The
// state is persisted regardless of cap outcome.
func (t *Tracker) AddPayment(ctx context.Context, amount decimal.Decimal, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return err
	}

	current := endpoints[state.CurrentProxyIndex]
	id := EndpointID(current.URL)
	acct := state.ProxyAccounts[id]

	state.TotalCollected = state.TotalCollected.Add(amount)
	acct.Amount = acct.Amount.Add(amount)

	t.appendEvent(state, AuditEvent{
		Type:     EventPayment,
		OrderID:  orderID,
		Amount:   amount,
		ProxyURL: current.URL,
	})

	capLimit := t.source.Settings().PaymentCap
	if capLimit.IsPositive() && acct.Amount.GreaterThanOrEqual(capLimit) {
		acct.CapReached = true
		state.CapReached = true
		t.logger.Info("payment cap reached",
			zap.String("proxy_url", current.URL),
			zap.String("collected", acct.Amount.String()),
			zap.String("cap", capLimit.String()))
		t.rotateLocked(state, endpoints)
	}

	metricPaymentsRecorded.Inc()
	return t.saveState(ctx, state)
}

// Rotate attempts to switch to the next endpoint that is not at cap.
func (t *Tracker) Rotate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return err
	}
	t.rotateLocked(state, endpoints)
	return t.saveState(ctx, state)
}

// rotateLocked scans candidates (current+1 .. current+N-1) mod N in order
// and selects the first whose account is not at cap; accounts with no record
// count as available. With a single endpoint the candidate list is empty.
// When no candidate is available the index is left unchanged and a
// rotation_failed event is recorded; disabling checkout in that situation is
// the gateway's responsibility, not the tracker's.
func (t *Tracker) rotateLocked(state *TrackerState, endpoints []ProxyEndpoint) {
	current := state.CurrentProxyIndex
	for i := 1; i < len(endpoints); i++ {
		next := (current + i) % len(endpoints)
		acct, ok := state.ProxyAccounts[EndpointID(endpoints[next].URL)]
		if ok && acct.CapReached {
			continue
		}
		state.CurrentProxyIndex = next
		t.appendEvent(state, AuditEvent{
			Type:      EventRotation,
			FromIndex: current,
			ToIndex:   next,
		})
		t.logger.Info("rotated to next proxy",
			zap.Int("from", current),
			zap.Int("to", next),
			zap.String("proxy_url", endpoints[next].URL))
		metricRotations.Inc()
		return
	}

	t.appendEvent(state, AuditEvent{
		Type:    EventRotationFailed,
		Message: "no available proxies found",
	})
	t.logger.Warn("rotation failed, all proxies at cap", zap.Int("current", current))
	metricRotationFailures.Inc()
}

// SelectProxy sets the active endpoint manually. No cap check: manual
// override bypasses cap enforcement intentionally.
func (t *Tracker) SelectProxy(ctx context.Context, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	if index < 0 || index >= len(endpoints) {
		return NewProxyError(ErrCodeIndexOutOfRange,
			fmt.Sprintf("proxy index %d out of range (%d configured)", index, len(endpoints)), nil)
	}

	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return err
	}

	from := state.CurrentProxyIndex
	state.CurrentProxyIndex = index
	t.appendEvent(state, AuditEvent{
		Type:       EventManualSelection,
		ProxyIndex: index,
		FromIndex:  from,
		ProxyURL:   endpoints[index].URL,
	})
	t.logger.Info("proxy selected manually", zap.Int("from", from), zap.Int("to", index))
	return t.saveState(ctx, state)
}

// ResetAll zeroes the global total and every account.
func (t *Tracker) ResetAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return err
	}

	state.TotalCollected = decimal.Zero
	state.CapReached = false
	for _, acct := range state.ProxyAccounts {
		acct.Amount = decimal.Zero
		acct.CapReached = false
	}
	t.appendEvent(state, AuditEvent{Type: EventResetAll})
	t.logger.Info("all payment counters reset")
	return t.saveState(ctx, state)
}

// ResetProxy zeroes a single account, identified by its endpoint ID, then
// recomputes the global total and cap flag from the remaining accounts.
func (t *Tracker) ResetProxy(ctx context.Context, endpointID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return err
	}

	acct, ok := state.ProxyAccounts[endpointID]
	if !ok {
		return NewProxyError(ErrCodeProxyNotFound,
			fmt.Sprintf("no payment account for proxy id %q", endpointID), nil)
	}

	acct.Amount = decimal.Zero
	acct.CapReached = false

	total := decimal.Zero
	anyCapped := false
	for _, a := range state.ProxyAccounts {
		total = total.Add(a.Amount)
		if a.CapReached {
			anyCapped = true
		}
	}
	state.TotalCollected = total
	state.CapReached = anyCapped

	t.appendEvent(state, AuditEvent{
		Type:     EventResetProxy,
		ProxyURL: acct.URL,
	})
	t.logger.Info("proxy payment counter reset", zap.String("proxy_url", acct.URL))
	return t.saveState(ctx, state)
}

// CapReached reports whether the current endpoint is at cap, falling back to
// the global flag when the current endpoint has no account record.
func (t *Tracker) CapReached(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return false, err
	}
	if acct, ok := state.ProxyAccounts[EndpointID(endpoints[state.CurrentProxyIndex].URL)]; ok {
		return acct.CapReached, nil
	}
	return state.CapReached, nil
}

// AllCapped reports whether every configured endpoint is at cap.
func (t *Tracker) AllCapped(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return false, err
	}
	for _, ep := range endpoints {
		acct, ok := state.ProxyAccounts[EndpointID(ep.URL)]
		if !ok || !acct.CapReached {
			return false, nil
		}
	}
	return true, nil
}

// CurrentEndpoint returns the active endpoint.
func (t *Tracker) CurrentEndpoint(ctx context.Context) (ProxyEndpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := t.registry.Endpoints()
	state, err := t.loadState(ctx, endpoints)
	if err != nil {
		return ProxyEndpoint{}, err
	}
	return endpoints[state.CurrentProxyIndex], nil
}

// Collected returns the amount collected through the given endpoint URL.
// Endpoints with no account yet report zero.
func (t *Tracker) Collected(ctx context.Context, proxyURL string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.loadState(ctx, t.registry.Endpoints())
	if err != nil {
		return decimal.Zero, err
	}
	if acct, ok := state.ProxyAccounts[EndpointID(proxyURL)]; ok {
		return acct.Amount, nil
	}
	return decimal.Zero, nil
}

// AtCap reports whether the given endpoint URL is at cap.
func (t *Tracker) AtCap(ctx context.Context, proxyURL string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.loadState(ctx, t.registry.Endpoints())
	if err != nil {
		return false, err
	}
	if acct, ok := state.ProxyAccounts[EndpointID(proxyURL)]; ok {
		return acct.CapReached, nil
	}
	return false, nil
}

// TotalCollected returns the sum collected across all endpoints.
func (t *Tracker) TotalCollected(ctx context.Context) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.loadState(ctx, t.registry.Endpoints())
	if err != nil {
		return decimal.Zero, err
	}
	return state.TotalCollected, nil
}

// Snapshot returns a copy of the normalized state for operator diagnostics.
func (t *Tracker) Snapshot(ctx context.Context) (*TrackerState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.loadState(ctx, t.registry.Endpoints())
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}
