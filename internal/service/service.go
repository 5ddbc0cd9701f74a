package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/config"
	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/internal/secrets"
	"github.com/Checker-Finance/darkpool-adapter/internal/store"
	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

var (
	// ErrFlowNotFound is returned when no flow exists for an id.
	ErrFlowNotFound = errors.New("match flow not found")
	// ErrSettlementDisabled is returned by Submit when no chain key is configured.
	ErrSettlementDisabled = errors.New("on-chain settlement is not configured")
	// ErrWrongState is returned when an operation does not apply to the flow's state.
	ErrWrongState = errors.New("operation not allowed in current flow state")
	// ErrFlowBusy is returned when another request is already working on the flow.
	ErrFlowBusy = errors.New("flow is being processed by another request")
)

// flowLockTTL bounds how long one operation may hold a flow.
const flowLockTTL = time.Minute

// Relayer is the subset of darkpool.Client the service drives.
type Relayer interface {
	RequestQuote(ctx context.Context, order model.ExternalOrder, opts darkpool.QuoteOptions) (*model.QuoteResponse, error)
	AssembleQuote(ctx context.Context, quote model.SignedQuote, opts darkpool.AssembleOptions) (*model.MatchResponse, error)
	Markets(ctx context.Context) ([]model.MarketInfo, error)
}

// RelayerFactory builds a relayer client signing with cred.
type RelayerFactory func(cred darkpool.Credential) Relayer

// EventSink receives every flow transition.
type EventSink interface {
	PublishFlowTransition(ctx context.Context, tr model.FlowTransition) error
}

// Settler broadcasts settlement transactions and waits for inclusion.
type Settler interface {
	Submit(ctx context.Context, tx model.SettlementTx) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TradeRecorder mirrors settled trades into downstream books.
type TradeRecorder interface {
	RecordSettledTrade(ctx context.Context, rec model.FlowRecord) error
}

// AssembleParams are the caller's choices when assembling a validated quote.
type AssembleParams struct {
	// UpdatedOrder resizes the order; pair and side must not change.
	UpdatedOrder    *darkpool.OrderParams
	ReceiverAddress string
	AllowShared     bool
}

// Service runs match flows end to end: quote, validate, assemble, submit.
// Every transition is persisted, appended to the ledger and published.
type Service struct {
	cfg        config.Config
	logger     *zap.Logger
	creds      secrets.CredentialSource
	newRelayer RelayerFactory
	store      store.Store
	settler    Settler
	sinks      []EventSink
	trades     TradeRecorder
	now        func() time.Time

	mu       sync.Mutex
	relayers map[string]Relayer

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithSettler enables on-chain submission.
func WithSettler(s Settler) Option {
	return func(svc *Service) { svc.settler = s }
}

// WithEventSinks adds transition sinks.
func WithEventSinks(sinks ...EventSink) Option {
	return func(svc *Service) { svc.sinks = append(svc.sinks, sinks...) }
}

// WithTradeRecorder records every settled flow.
func WithTradeRecorder(r TradeRecorder) Option {
	return func(svc *Service) { svc.trades = r }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// NewService constructs a fully wired match flow service.
func NewService(
	cfg config.Config,
	logger *zap.Logger,
	creds secrets.CredentialSource,
	newRelayer RelayerFactory,
	st store.Store,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:        cfg,
		logger:     logger,
		creds:      creds,
		newRelayer: newRelayer,
		store:      st,
		now:        time.Now,
		relayers:   make(map[string]Relayer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) quoteOptions() darkpool.QuoteOptions {
	return darkpool.QuoteOptions{
		DisableGasSponsorship: s.cfg.GasSponsorshipOff,
		GasRefundAddress:      s.cfg.GasRefundAddress,
		RefundNativeETH:       s.cfg.GasRefundNativeETH,
	}
}

// relayer returns the cached client for clientID, building one from its
// credential on first use.
func (s *Service) relayer(ctx context.Context, clientID string) (Relayer, error) {
	s.mu.Lock()
	r, ok := s.relayers[clientID]
	s.mu.Unlock()
	if ok {
		return r, nil
	}

	cred, err := s.creds.Credential(ctx, clientID)
	if err != nil {
		s.logger.Error("darkpool.resolve_credential_failed",
			zap.String("client", clientID),
			zap.Error(err))
		return nil, fmt.Errorf("resolve credential for %q: %w", clientID, err)
	}
	r = s.newRelayer(cred)

	s.mu.Lock()
	s.relayers[clientID] = r
	s.mu.Unlock()
	return r, nil
}

// forget drops a client whose credential was refused so the next call
// re-resolves it.
func (s *Service) forget(clientID string) {
	s.mu.Lock()
	delete(s.relayers, clientID)
	s.mu.Unlock()
	s.creds.Invalidate(clientID)
}

func (s *Service) relayerFailed(clientID string, err error) {
	if darkpool.IsAuth(err) {
		s.logger.Warn("darkpool.credential_refused", zap.String("client", clientID))
		s.forget(clientID)
	}
	metrics.IncError("relayer", errorReason(err))
}

// RequestQuote builds an order, asks the relayer for a quote and validates
// it. The returned record is in Validated on success, Rejected when the
// relayer had no quote or the quote failed validation (the
// *darkpool.ValidationError is returned alongside the record).
func (s *Service) RequestQuote(ctx context.Context, clientID string, params darkpool.OrderParams) (*model.FlowRecord, error) {
	order, err := darkpool.NewOrder(params)
	if err != nil {
		return nil, err
	}

	s.logger.Info("darkpool.request_quote.start",
		zap.String("client", clientID),
		zap.String("base", order.BaseMint),
		zap.String("quote", order.QuoteMint),
		zap.String("side", string(order.Side)),
		zap.String("size", order.Size().String()))

	rel, err := s.relayer(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var pending transitions
	flow := darkpool.NewFlow(clientID, order, s.cfg.QuoteTTL, s.flowOptions(&pending)...)
	if err := flow.QuoteRequested(); err != nil {
		return nil, err
	}
	return s.quote(ctx, rel, flow, &pending)
}

// lock claims a flow for one operation across requests and processes.
func (s *Service) lock(ctx context.Context, flowID uuid.UUID) (func(), error) {
	release, err := s.store.LockFlow(ctx, flowID, flowLockTTL)
	if errors.Is(err, store.ErrFlowLocked) {
		return nil, fmt.Errorf("%w: %s", ErrFlowBusy, flowID)
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

// lockWait is lock with retries until ctx is done.
func (s *Service) lockWait(ctx context.Context, flowID uuid.UUID) (func(), error) {
	for {
		release, err := s.lock(ctx, flowID)
		if !errors.Is(err, ErrFlowBusy) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Requote restarts an expired flow with a fresh quote for the same order.
func (s *Service) Requote(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error) {
	release, err := s.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer release()

	var pending transitions
	flow, err := s.load(ctx, flowID, &pending)
	if err != nil {
		return nil, err
	}
	if err := flow.CheckExpiry(); err != nil && !errors.Is(err, darkpool.ErrFlowExpired) {
		return nil, err
	}
	s.persist(ctx, flow, pending.drain())

	next, err := flow.Restart()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongState, err)
	}
	rec := next.Record()
	rel, err := s.relayer(ctx, rec.ClientID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("darkpool.requote",
		zap.String("expired_flow", flowID.String()),
		zap.String("flow", rec.ID.String()))
	return s.quote(ctx, rel, next, &pending)
}

func (s *Service) quote(ctx context.Context, rel Relayer, flow *darkpool.Flow, pending *transitions) (*model.FlowRecord, error) {
	rec := flow.Record()
	release, err := s.lock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	defer release()
	s.persist(ctx, flow, pending.drain())

	resp, err := rel.RequestQuote(ctx, rec.Order, s.quoteOptions())
	if err != nil {
		s.relayerFailed(rec.ClientID, err)
		s.logger.Error("darkpool.request_quote.failed",
			zap.String("client", rec.ClientID),
			zap.String("flow", rec.ID.String()),
			zap.Error(err))
		_ = flow.Reject("quote request failed: " + err.Error())
		s.persist(ctx, flow, pending.drain())
		return nil, fmt.Errorf("request quote: %w", err)
	}

	if err := flow.QuoteReceived(resp); err != nil {
		return nil, err
	}
	if resp == nil {
		s.logger.Info("darkpool.request_quote.no_quote",
			zap.String("client", rec.ClientID),
			zap.String("flow", rec.ID.String()))
		return s.persist(ctx, flow, pending.drain()), nil
	}

	verr := flow.Validate()
	if check, ok := darkpool.IsValidation(verr); ok {
		metrics.IncValidationFailure("quote", string(check))
		s.logger.Warn("darkpool.quote.invalid",
			zap.String("flow", rec.ID.String()),
			zap.String("check", string(check)),
			zap.Error(verr))
	}
	out := s.persist(ctx, flow, pending.drain())
	if verr != nil {
		return out, verr
	}

	s.logger.Info("darkpool.quote.validated",
		zap.String("client", out.ClientID),
		zap.String("flow", out.ID.String()),
		zap.String("price", out.SignedQuote.Quote.Price.Price.String()),
		zap.Time("expires_at", out.ExpiresAt))
	return out, nil
}

// Assemble turns a validated quote into a settlement bundle and validates
// the bundle against the (possibly resized) order.
func (s *Service) Assemble(ctx context.Context, flowID uuid.UUID, params AssembleParams) (*model.FlowRecord, error) {
	release, err := s.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer release()

	var pending transitions
	flow, err := s.load(ctx, flowID, &pending)
	if err != nil {
		return nil, err
	}
	if err := flow.CheckExpiry(); err != nil {
		return s.persist(ctx, flow, pending.drain()), err
	}
	rec := flow.Record()
	if rec.State != model.FlowValidated || rec.SignedQuote == nil {
		return &rec, fmt.Errorf("%w: assemble from %s", ErrWrongState, rec.State)
	}

	opts := darkpool.AssembleOptions{
		DoGasEstimation: true,
		AllowShared:     params.AllowShared,
		ReceiverAddress: params.ReceiverAddress,
	}
	if opts.ReceiverAddress == "" {
		opts.ReceiverAddress = s.cfg.ReceiverAddress
	}
	var updated *model.ExternalOrder
	if params.UpdatedOrder != nil {
		o, err := darkpool.NewOrder(*params.UpdatedOrder)
		if err != nil {
			return &rec, err
		}
		updated = &o
		opts.UpdatedOrder = updated
	}

	rel, err := s.relayer(ctx, rec.ClientID)
	if err != nil {
		return &rec, err
	}
	resp, err := rel.AssembleQuote(ctx, *rec.SignedQuote, opts)
	if err != nil {
		var ioe *darkpool.InvalidOrderError
		if !errors.As(err, &ioe) {
			s.relayerFailed(rec.ClientID, err)
		}
		s.logger.Error("darkpool.assemble.failed",
			zap.String("flow", rec.ID.String()),
			zap.Error(err))
		return &rec, fmt.Errorf("assemble quote: %w", err)
	}
	if resp == nil {
		_ = flow.Reject("relayer could not assemble the quote")
		return s.persist(ctx, flow, pending.drain()), nil
	}

	aerr := flow.Assembled(resp, updated)
	if check, ok := darkpool.IsValidation(aerr); ok {
		metrics.IncValidationFailure("bundle", string(check))
		s.logger.Warn("darkpool.bundle.invalid",
			zap.String("flow", rec.ID.String()),
			zap.String("check", string(check)),
			zap.Error(aerr))
	}
	out := s.persist(ctx, flow, pending.drain())
	if aerr != nil {
		return out, aerr
	}
	s.logger.Info("darkpool.bundle.assembled",
		zap.String("flow", out.ID.String()),
		zap.String("send", out.Bundle.Send.Amount.String()),
		zap.String("receive", out.Bundle.Receive.Amount.String()))
	return out, nil
}

// Submit broadcasts the assembled bundle. The flow is held for the duration
// of the call so a bundle is broadcast at most once; a concurrent caller gets
// ErrFlowBusy. The flow moves to Submitted immediately; inclusion is tracked
// in the background and ends in Settled, or Expired when the transaction
// reverts or is not mined in time.
func (s *Service) Submit(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error) {
	if s.settler == nil {
		return nil, ErrSettlementDisabled
	}
	release, err := s.lock(ctx, flowID)
	if err != nil {
		return nil, err
	}
	defer release()

	var pending transitions
	flow, err := s.load(ctx, flowID, &pending)
	if err != nil {
		return nil, err
	}
	if err := flow.CheckExpiry(); err != nil {
		return s.persist(ctx, flow, pending.drain()), err
	}
	rec := flow.Record()
	if rec.State != model.FlowAssembled || rec.Bundle == nil {
		return &rec, fmt.Errorf("%w: submit from %s", ErrWrongState, rec.State)
	}

	hash, err := s.settler.Submit(ctx, rec.Bundle.SettlementTx)
	if err != nil {
		s.logger.Error("darkpool.submit.failed",
			zap.String("flow", rec.ID.String()),
			zap.Error(err))
		return &rec, fmt.Errorf("submit settlement: %w", err)
	}
	if err := flow.Submitted(hash.Hex()); err != nil {
		return s.persist(ctx, flow, pending.drain()), err
	}
	out := s.persist(ctx, flow, pending.drain())

	s.wg.Add(1)
	go s.awaitSettlement(flow, hash)
	return out, nil
}

func (s *Service) awaitSettlement(flow *darkpool.Flow, hash common.Hash) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.settlementTimeout())
	defer cancel()

	receipt, err := s.settler.WaitMined(ctx, hash)

	persistCtx, cancelPersist := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPersist()
	if release, lerr := s.lockWait(persistCtx, flow.ID()); lerr != nil {
		s.logger.Warn("darkpool.settlement_lock_failed",
			zap.String("flow", flow.ID().String()),
			zap.Error(lerr))
	} else {
		defer release()
	}

	var pending transitions
	flow = darkpool.RestoreFlow(flow.Record(), s.cfg.QuoteTTL, s.flowOptions(&pending)...)
	switch {
	case err == nil:
		_ = flow.Settled()
		s.logger.Info("darkpool.settled",
			zap.String("flow", flow.ID().String()),
			zap.String("tx_hash", hash.Hex()),
			zap.Uint64("block", receipt.BlockNumber.Uint64()))
	default:
		_ = flow.Expire("settlement failed: " + err.Error())
		s.logger.Warn("darkpool.settlement_failed",
			zap.String("flow", flow.ID().String()),
			zap.String("tx_hash", hash.Hex()),
			zap.Error(err))
	}

	s.persist(persistCtx, flow, pending.drain())

	if s.trades != nil && flow.State() == model.FlowSettled {
		if err := s.trades.RecordSettledTrade(persistCtx, flow.Record()); err != nil {
			s.logger.Warn("darkpool.trade_record_failed",
				zap.String("flow", flow.ID().String()),
				zap.Error(err))
		}
	}
}

func (s *Service) settlementTimeout() time.Duration {
	if s.cfg.SettlementTimeout > 0 {
		return s.cfg.SettlementTimeout
	}
	return 2 * time.Minute
}

// GetFlow returns the current record of a flow.
func (s *Service) GetFlow(ctx context.Context, flowID uuid.UUID) (*model.FlowRecord, error) {
	rec, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrFlowNotFound
	}
	return rec, nil
}

// Markets returns the relayer's tradable pairs, served from cache when fresh.
func (s *Service) Markets(ctx context.Context, clientID string) ([]model.MarketInfo, error) {
	cached, err := s.store.GetMarkets(ctx)
	if err != nil {
		s.logger.Warn("darkpool.markets.cache_read_failed", zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	rel, err := s.relayer(ctx, clientID)
	if err != nil {
		return nil, err
	}
	markets, err := rel.Markets(ctx)
	if err != nil {
		s.relayerFailed(clientID, err)
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if markets == nil {
		markets = []model.MarketInfo{}
	}
	if err := s.store.SetMarkets(ctx, markets, s.cfg.MarketsCacheTTL); err != nil {
		s.logger.Warn("darkpool.markets.cache_write_failed", zap.Error(err))
	}
	return markets, nil
}

// SweepExpired expires active flows whose quote TTL has elapsed and rejects
// quote requests that never completed. It returns how many flows changed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.store.ActiveFlowIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active flows: %w", err)
	}

	changed := 0
	for _, id := range ids {
		if s.sweepOne(ctx, id) {
			changed++
		}
	}
	return changed, nil
}

// sweepOne reports whether the flow changed. Flows held by an in-flight
// request are left alone.
func (s *Service) sweepOne(ctx context.Context, id uuid.UUID) bool {
	release, err := s.lock(ctx, id)
	if errors.Is(err, ErrFlowBusy) {
		return false
	}
	if err != nil {
		s.logger.Warn("darkpool.sweep.lock_failed", zap.String("flow", id.String()), zap.Error(err))
		return false
	}
	defer release()

	var pending transitions
	flow, err := s.load(ctx, id, &pending)
	if errors.Is(err, ErrFlowNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("darkpool.sweep.load_failed", zap.String("flow", id.String()), zap.Error(err))
		return false
	}

	rec := flow.Record()
	switch rec.State {
	case model.FlowQuoteRequested:
		if s.now().Sub(rec.UpdatedAt) < s.cfg.QuoteTTL {
			return false
		}
		err = flow.Reject("quote request abandoned")
	default:
		if err = flow.CheckExpiry(); errors.Is(err, darkpool.ErrFlowExpired) {
			err = nil
		}
	}
	if err != nil {
		s.logger.Warn("darkpool.sweep.transition_failed",
			zap.String("flow", id.String()),
			zap.String("state", string(rec.State)),
			zap.Error(err))
	}

	tr := pending.drain()
	if len(tr) == 0 {
		return false
	}
	s.persist(ctx, flow, tr)
	return true
}

// Wait blocks until background settlement tracking has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) flowOptions(pending *transitions) []darkpool.FlowOption {
	return []darkpool.FlowOption{
		darkpool.WithFlowClock(s.now),
		darkpool.WithTransitionHook(pending.add),
	}
}

func (s *Service) load(ctx context.Context, flowID uuid.UUID, pending *transitions) (*darkpool.Flow, error) {
	rec, err := s.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return darkpool.RestoreFlow(*rec, s.cfg.QuoteTTL, s.flowOptions(pending)...), nil
}

// persist saves the flow, then records and publishes its transitions.
// Ledger and publish failures are logged; the flow record is authoritative.
func (s *Service) persist(ctx context.Context, flow *darkpool.Flow, trs []model.FlowTransition) *model.FlowRecord {
	rec := flow.Record()
	if err := s.store.SaveFlow(ctx, rec); err != nil {
		metrics.IncError("store", "save_flow")
		s.logger.Error("darkpool.save_flow_failed",
			zap.String("flow", rec.ID.String()),
			zap.Error(err))
	}
	for _, tr := range trs {
		metrics.IncFlowTransition(string(tr.From), string(tr.To))
		if err := s.store.RecordTransition(ctx, tr); err != nil {
			metrics.IncError("store", "record_transition")
		}
		for _, sink := range s.sinks {
			if err := sink.PublishFlowTransition(ctx, tr); err != nil {
				s.logger.Warn("darkpool.publish_transition_failed",
					zap.String("flow", tr.FlowID.String()),
					zap.String("to", string(tr.To)),
					zap.Error(err))
			}
		}
	}
	return &rec
}

// transitions buffers hook calls so they can be handled once the flow
// lock is released.
type transitions struct {
	mu    sync.Mutex
	items []model.FlowTransition
}

func (t *transitions) add(tr model.FlowTransition) {
	t.mu.Lock()
	t.items = append(t.items, tr)
	t.mu.Unlock()
}

func (t *transitions) drain() []model.FlowTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.items
	t.items = nil
	return out
}

func errorReason(err error) string {
	var te *darkpool.TransportError
	switch {
	case darkpool.IsAuth(err):
		return "auth"
	case errors.As(err, &te) && te.Status != 0:
		return fmt.Sprintf("http_%d", te.Status)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
