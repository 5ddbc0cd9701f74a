package darkpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// DefaultQuoteTTL bounds how long a received quote may be acted on when the
// relayer does not send a tighter deadline.
const DefaultQuoteTTL = 30 * time.Second

var transitions = map[model.FlowState][]model.FlowState{
	model.FlowBuilt:          {model.FlowQuoteRequested},
	model.FlowQuoteRequested: {model.FlowQuoteReceived, model.FlowRejected},
	model.FlowQuoteReceived:  {model.FlowValidated, model.FlowRejected, model.FlowExpired},
	model.FlowValidated:      {model.FlowAssembled, model.FlowRejected, model.FlowExpired},
	model.FlowAssembled:      {model.FlowSubmitted, model.FlowExpired},
	model.FlowSubmitted:      {model.FlowSettled, model.FlowExpired},
}

// CanTransition reports whether from → to is a legal flow transition.
func CanTransition(from, to model.FlowState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionFunc observes every state change of a flow.
type TransitionFunc func(model.FlowTransition)

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowClock overrides the clock used for expiry.
func WithFlowClock(now func() time.Time) FlowOption {
	return func(f *Flow) { f.now = now }
}

// WithTransitionHook registers fn to be called after each transition. fn runs
// with the flow locked and must not call back into it.
func WithTransitionHook(fn TransitionFunc) FlowOption {
	return func(f *Flow) { f.hook = fn }
}

// Flow drives one order through quote, validation, assembly and settlement.
// States only move forward; a flow is safe for concurrent use.
type Flow struct {
	mu   sync.Mutex
	rec  model.FlowRecord
	ttl  time.Duration
	now  func() time.Time
	hook TransitionFunc
	opts []FlowOption
}

// NewFlow starts a flow in the Built state.
func NewFlow(clientID string, order model.ExternalOrder, ttl time.Duration, opts ...FlowOption) *Flow {
	f := &Flow{ttl: ttl, now: time.Now, opts: opts}
	for _, o := range opts {
		o(f)
	}
	if f.ttl <= 0 {
		f.ttl = DefaultQuoteTTL
	}
	now := f.now().UTC()
	f.rec = model.FlowRecord{
		ID:        uuid.New(),
		ClientID:  clientID,
		State:     model.FlowBuilt,
		Order:     order,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return f
}

// RestoreFlow rebuilds a flow from a persisted record.
func RestoreFlow(rec model.FlowRecord, ttl time.Duration, opts ...FlowOption) *Flow {
	f := &Flow{rec: rec, ttl: ttl, now: time.Now, opts: opts}
	for _, o := range opts {
		o(f)
	}
	if f.ttl <= 0 {
		f.ttl = DefaultQuoteTTL
	}
	return f
}

func (f *Flow) ID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.ID
}

func (f *Flow) State() model.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.State
}

// Record returns a snapshot of the flow.
func (f *Flow) Record() model.FlowRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

// QuoteRequested marks the quote request as sent.
func (f *Flow) QuoteRequested() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.move(model.FlowQuoteRequested, "")
}

// QuoteReceived stores the relayer's quote and starts the TTL. A nil
// response means the relayer had no quote and rejects the flow.
func (f *Flow) QuoteReceived(resp *model.QuoteResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp == nil {
		f.rec.RejectReason = "no quote available"
		return f.move(model.FlowRejected, f.rec.RejectReason)
	}
	if err := f.move(model.FlowQuoteReceived, ""); err != nil {
		return err
	}
	sq := resp.SignedQuote
	f.rec.SignedQuote = &sq
	f.rec.Sponsorship = resp.GasSponsorshipInfo
	f.rec.ExpiresAt = f.deadline(sq.Deadline)
	return nil
}

// Validate runs ValidateQuote on the received quote. A failing quote moves
// the flow to Rejected and the *ValidationError is returned.
func (f *Flow) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expireIfDue(); err != nil {
		return err
	}
	if f.rec.State != model.FlowQuoteReceived || f.rec.SignedQuote == nil {
		return f.invalidMove(model.FlowValidated)
	}
	if err := ValidateQuote(f.rec.Order, f.rec.SignedQuote.Quote); err != nil {
		f.rec.RejectReason = err.Error()
		if mErr := f.move(model.FlowRejected, f.rec.RejectReason); mErr != nil {
			return mErr
		}
		return err
	}
	return f.move(model.FlowValidated, "")
}

// Assembled validates the bundle against the order it was assembled for
// (updated, when the size was changed on assemble) and stores it. A bundle
// that fails validation rejects the flow.
func (f *Flow) Assembled(resp *model.MatchResponse, updated *model.ExternalOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expireIfDue(); err != nil {
		return err
	}
	if f.rec.State != model.FlowValidated {
		return f.invalidMove(model.FlowAssembled)
	}
	if resp == nil {
		return fmt.Errorf("%w: no bundle to assemble", ErrInvalidTransition)
	}
	order := f.rec.Order
	if updated != nil {
		if err := checkUpdatedOrder(order, *updated); err != nil {
			return err
		}
		order = *updated
	}
	if err := ValidateBundle(order, resp.MatchBundle); err != nil {
		f.rec.RejectReason = err.Error()
		if mErr := f.move(model.FlowRejected, f.rec.RejectReason); mErr != nil {
			return mErr
		}
		return err
	}
	if err := f.move(model.FlowAssembled, ""); err != nil {
		return err
	}
	b := resp.MatchBundle
	f.rec.Order = order
	f.rec.Bundle = &b
	if resp.GasSponsorshipInfo != nil {
		f.rec.Sponsorship = resp.GasSponsorshipInfo
	}
	return nil
}

// Submitted records the settlement transaction hash.
func (f *Flow) Submitted(txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expireIfDue(); err != nil {
		return err
	}
	prev := f.rec.TxHash
	f.rec.TxHash = txHash
	if err := f.move(model.FlowSubmitted, ""); err != nil {
		f.rec.TxHash = prev
		return err
	}
	return nil
}

// Settled marks the settlement transaction as mined.
func (f *Flow) Settled() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.move(model.FlowSettled, "")
}

// Reject abandons a flow before assembly, e.g. when the relayer could not
// be reached or could not assemble the quote.
func (f *Flow) Reject(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.move(model.FlowRejected, reason); err != nil {
		return err
	}
	f.rec.RejectReason = reason
	return nil
}

// Expire forces the flow into Expired, e.g. when a submitted transaction
// misses its deadline.
func (f *Flow) Expire(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.move(model.FlowExpired, reason)
}

// CheckExpiry moves the flow to Expired if its quote TTL has elapsed and
// returns ErrFlowExpired in that case.
func (f *Flow) CheckExpiry() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expireIfDue()
}

// Restart begins a new flow for the same order once this one has expired.
// The new flow has its own id and starts at QuoteRequested.
func (f *Flow) Restart() (*Flow, error) {
	f.mu.Lock()
	state, clientID, order := f.rec.State, f.rec.ClientID, f.rec.Order
	f.mu.Unlock()
	if state != model.FlowExpired {
		return nil, fmt.Errorf("%w: restart from %s", ErrInvalidTransition, state)
	}
	next := NewFlow(clientID, order, f.ttl, f.opts...)
	if err := next.QuoteRequested(); err != nil {
		return nil, err
	}
	return next, nil
}

func (f *Flow) deadline(relayerDeadlineMillis uint64) time.Time {
	exp := f.now().UTC().Add(f.ttl)
	if relayerDeadlineMillis > 0 {
		d := time.UnixMilli(int64(relayerDeadlineMillis)).UTC()
		if d.Before(exp) {
			exp = d
		}
	}
	return exp
}

func (f *Flow) expireIfDue() error {
	switch f.rec.State {
	case model.FlowQuoteReceived, model.FlowValidated, model.FlowAssembled:
	case model.FlowExpired:
		return ErrFlowExpired
	default:
		return nil
	}
	if f.rec.ExpiresAt.IsZero() || f.now().Before(f.rec.ExpiresAt) {
		return nil
	}
	if err := f.move(model.FlowExpired, "quote ttl elapsed"); err != nil {
		return err
	}
	return ErrFlowExpired
}

func (f *Flow) invalidMove(to model.FlowState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.rec.State, to)
}

// move must be called with mu held.
func (f *Flow) move(to model.FlowState, reason string) error {
	from := f.rec.State
	if !CanTransition(from, to) {
		return f.invalidMove(to)
	}
	now := f.now().UTC()
	f.rec.State = to
	f.rec.UpdatedAt = now
	if f.hook != nil {
		f.hook(model.FlowTransition{
			FlowID:   f.rec.ID,
			ClientID: f.rec.ClientID,
			From:     from,
			To:       to,
			Reason:   reason,
			TxHash:   f.rec.TxHash,
			At:       now,
		})
	}
	return nil
}
