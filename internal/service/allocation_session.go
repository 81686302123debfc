package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"
	"pos-settlement/pkg/apperror"
	"pos-settlement/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AllocationConfig holds the per-deployment parameters of the allocation engine.
type AllocationConfig struct {
	PrimaryCurrency   string // rate key used by domain.ModePrimary
	SecondaryCurrency string // rate key used by domain.ModeSecondary
	LocalPrecision    int32  // minimum decimals local-currency fills are rounded to
	Epsilon           decimal.Decimal
	DefaultMode       domain.ConversionMode
	Formatter         *money.Formatter
	Location          *time.Location
	Now               func() time.Time
}

func (c AllocationConfig) withDefaults() AllocationConfig {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		loc := c.Location
		c.Now = func() time.Time { return time.Now().In(loc) }
	}
	if c.DefaultMode == "" {
		c.DefaultMode = domain.ModePrimary
	}
	if !c.Epsilon.IsPositive() {
		c.Epsilon = money.DefaultEpsilon
	}
	return c
}

// maxExtraFillDigits caps how far fillPrecision may go past LocalPrecision.
const maxExtraFillDigits = 12

// fillPrecision returns the decimals a local fill is rounded to so that the
// rounding of n local fills, converted back at rate, stays within half of
// epsilon. Rates below one need more than LocalPrecision digits.
func (c AllocationConfig) fillPrecision(rate decimal.Decimal, n int) int32 {
	budget := c.Epsilon.Mul(rate)
	worst := decimal.NewFromInt(int64(n)) // n * 0.5 * 10^-p <= eps/2 * rate
	p := c.LocalPrecision
	for p < c.LocalPrecision+maxExtraFillDigits {
		if worst.Mul(decimal.New(1, -p)).LessThanOrEqual(budget) {
			break
		}
		p++
	}
	return p
}

type totalsObserver struct {
	id int
	fn func(domain.TotalsChanged)
}

// AllocationSession is the in-memory payment state of one order being
// checked out. Every mutating operation runs a single redistribution pass.
// A session is not safe for concurrent use; callers serialize access.
type AllocationSession struct {
	order      *domain.Order
	ledger     *domain.Ledger
	mode       domain.ConversionMode
	manualRate decimal.Decimal
	rates      *domain.RateState
	source     ports.RateSource
	cfg        AllocationConfig
	log        zerolog.Logger

	obsMu     sync.Mutex
	observers []totalsObserver
	nextObsID int
	last      *domain.TotalsChanged

	diag error
}

// NewAllocationSession creates a session for order. Call Open before use.
func NewAllocationSession(order *domain.Order, source ports.RateSource, cfg AllocationConfig, log zerolog.Logger) *AllocationSession {
	cfg = cfg.withDefaults()
	return &AllocationSession{
		order:      order,
		ledger:     domain.NewLedger(),
		mode:       cfg.DefaultMode,
		manualRate: decimal.Zero,
		source:     source,
		cfg:        cfg,
		log:        log.With().Str("order_id", order.ID).Logger(),
	}
}

// Open resets the ledger, fetches the initial rate and runs one redistribution pass.
func (s *AllocationSession) Open(ctx context.Context) domain.Totals {
	s.ledger = domain.NewLedger()
	s.mode = s.cfg.DefaultMode
	s.manualRate = decimal.Zero
	s.diag = nil
	s.obsMu.Lock()
	s.last = nil
	s.obsMu.Unlock()
	if s.mode.UsesService() {
		s.fetch(ctx, false)
	}
	return s.redistribute()
}

// Order returns the order the session was opened for.
func (s *AllocationSession) Order() *domain.Order { return s.order }

// Ledger returns the live ledger.
func (s *AllocationSession) Ledger() *domain.Ledger { return s.ledger }

// Mode returns the selected conversion mode.
func (s *AllocationSession) Mode() domain.ConversionMode { return s.mode }

// ManualRate returns the operator-entered rate, zero if none.
func (s *AllocationSession) ManualRate() decimal.Decimal { return s.manualRate }

// Rates returns the last fetched rate bundle, nil if none.
func (s *AllocationSession) Rates() *domain.RateState { return s.rates }

// Diagnostic returns the recoverable problem raised by the last operation:
// a rate fetch failure or a remainder that could not be distributed.
func (s *AllocationSession) Diagnostic() error { return s.diag }

// MobileMetadataRequired is true while the mobile instrument is selected
// without a bank and reference.
func (s *AllocationSession) MobileMetadataRequired() bool {
	slot := s.ledger.Slot(domain.MethodLocalMobile)
	return slot.Selected && !s.ledger.MobileComplete()
}

// Select toggles an instrument.
func (s *AllocationSession) Select(m domain.Method, selected bool) (domain.Totals, error) {
	if err := s.ledger.Select(m, selected); err != nil {
		return s.ComputeTotals(), err
	}
	s.diag = nil
	return s.redistribute(), nil
}

// EditAmount records an operator-typed amount. The slot is never auto-filled again
// until it is deselected.
func (s *AllocationSession) EditAmount(m domain.Method, amount decimal.Decimal) (domain.Totals, error) {
	if err := s.ledger.Edit(m, amount); err != nil {
		return s.ComputeTotals(), err
	}
	s.diag = nil
	return s.redistribute(), nil
}

// SetMobileMetadata stores the bank and reference of the mobile transfer.
func (s *AllocationSession) SetMobileMetadata(bank, reference string) (domain.Totals, error) {
	if !s.ledger.Slot(domain.MethodLocalMobile).Selected {
		return s.ComputeTotals(), domain.ErrSlotNotSelected
	}
	s.ledger.Mobile = domain.MobileMetadata{
		Bank:      strings.TrimSpace(bank),
		Reference: strings.TrimSpace(reference),
	}
	return s.redistribute(), nil
}

// SetConversionMode switches the rate source. A service mode without a usable
// rate triggers a fetch; a failed fetch leaves the mode set and reports a diagnostic.
func (s *AllocationSession) SetConversionMode(ctx context.Context, mode domain.ConversionMode) domain.Totals {
	before := s.ActiveRate()
	s.mode = mode
	s.diag = nil
	if mode.UsesService() && s.ActiveRate() == nil {
		s.fetch(ctx, false)
	}
	s.onRateChange(before)
	return s.redistribute()
}

// SetManualRate stores the operator-entered rate used by domain.ModeManual.
// Zero clears it.
func (s *AllocationSession) SetManualRate(value decimal.Decimal) (domain.Totals, error) {
	if value.IsNegative() {
		return s.ComputeTotals(), domain.ErrNegativeAmount
	}
	before := s.ActiveRate()
	s.manualRate = value
	s.diag = nil
	s.onRateChange(before)
	return s.redistribute(), nil
}

// RefreshRate fetches a new bundle, bypassing the shared cache. On failure the
// previous bundle is kept and still subject to the freshness window.
func (s *AllocationSession) RefreshRate(ctx context.Context) domain.Totals {
	before := s.ActiveRate()
	s.diag = nil
	s.fetch(ctx, true)
	s.onRateChange(before)
	return s.redistribute()
}

// ActiveRate returns the rate implied by the conversion mode, or nil when that
// rate is unavailable, stale, or (manual mode) not a positive value.
func (s *AllocationSession) ActiveRate() *domain.RateSnapshot {
	now := s.cfg.Now()
	switch s.mode {
	case domain.ModePrimary:
		return s.rates.Snapshot(s.cfg.PrimaryCurrency, now)
	case domain.ModeSecondary:
		return s.rates.Snapshot(s.cfg.SecondaryCurrency, now)
	case domain.ModeManual:
		if !s.manualRate.IsPositive() {
			return nil
		}
		return &domain.RateSnapshot{
			Value:      s.manualRate,
			Date:       domain.CalendarDate(now),
			Provenance: domain.ProvenanceManual,
		}
	default:
		return nil
	}
}

// ComputeTotals reconciles the ledger against the order total without
// writing anything.
func (s *AllocationSession) ComputeTotals() domain.Totals {
	t := domain.ComputeTotals(s.ledger, s.order.Total, s.ActiveRate())
	t.Display = s.display(t)
	return t
}

// Redistribute spreads the remaining shortfall over the eligible slots.
// It returns apperror RATE_003 when only local-currency slots are eligible
// and there is no rate to convert with; nothing is written in that case.
func (s *AllocationSession) Redistribute() (domain.Totals, error) {
	t := s.ComputeTotals()
	if t.Unresolved || !t.Remaining.IsPositive() {
		s.notify(t)
		return t, nil
	}

	rate := t.ActiveRate
	var targets []*domain.Slot
	var localEligible, settlementEligible int
	for _, slot := range s.ledger.Selected() {
		if !slot.Eligible() {
			continue
		}
		switch slot.Currency() {
		case domain.CurrencySettlement:
			settlementEligible++
			targets = append(targets, slot)
		case domain.CurrencyLocal:
			localEligible++
			if rate != nil {
				targets = append(targets, slot)
			}
		}
	}

	if localEligible > 0 && rate == nil && settlementEligible == 0 {
		s.notify(t)
		return t, apperror.ErrNoRateForRemainder()
	}
	if len(targets) == 0 {
		s.notify(t)
		return t, nil
	}

	share := t.Remaining.Div(decimal.NewFromInt(int64(len(targets))))
	var precision int32
	if rate != nil {
		precision = s.cfg.fillPrecision(rate.Value, len(targets))
	}
	for _, slot := range targets {
		if slot.Currency() == domain.CurrencySettlement {
			s.ledger.Fill(slot.Method, share, nil)
			continue
		}
		s.ledger.Fill(slot.Method, share.Mul(rate.Value).Round(precision), rate)
	}

	s.log.Debug().
		Int("slots", len(targets)).
		Str("share", share.String()).
		Str("rate", rate.String()).
		Msg("remainder redistributed")

	t = s.ComputeTotals()
	s.notify(t)
	return t, nil
}

// OnTotalsChanged registers fn to be called whenever received, remaining or
// the active rate change. The returned func unsubscribes.
func (s *AllocationSession) OnTotalsChanged(fn func(domain.TotalsChanged)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.observers = append(s.observers, totalsObserver{id: id, fn: fn})
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// SettlementRequest captures the session state for confirmation.
func (s *AllocationSession) SettlementRequest(op *domain.Operator) ports.SettlementRequest {
	return ports.SettlementRequest{
		OrderID:    s.order.ID,
		OrderTotal: s.order.Total,
		Ledger:     s.ledger,
		Mode:       s.mode,
		Rate:       s.ActiveRate(),
		Operator:   op,
	}
}

func (s *AllocationSession) redistribute() domain.Totals {
	t, err := s.Redistribute()
	if err != nil && s.diag == nil {
		// A fetch failure in the same operation already explains the missing rate.
		s.diag = err
	}
	return t
}

func (s *AllocationSession) fetch(ctx context.Context, refresh bool) {
	if s.source == nil {
		s.diag = apperror.ErrRateUnavailable("no rate source configured", nil)
		return
	}
	var (
		state *domain.RateState
		err   error
	)
	if refresh {
		state, err = s.source.Refresh(ctx)
	} else {
		state, err = s.source.Current(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Bool("refresh", refresh).Msg("rate fetch failed")
		s.diag = err
		return
	}
	s.rates = state
}

// onRateChange releases engine-filled slots when the active rate moved, so the
// next pass recomputes them at the new rate. Operator entries are untouched.
func (s *AllocationSession) onRateChange(before *domain.RateSnapshot) {
	if before.Equal(s.ActiveRate()) {
		return
	}
	for _, slot := range s.ledger.Selected() {
		if slot.UserEdited || slot.Amount().IsZero() {
			continue
		}
		s.ledger.Fill(slot.Method, decimal.Zero, nil)
	}
}

func (s *AllocationSession) notify(t domain.Totals) {
	change := domain.TotalsChanged{
		OrderID:       s.order.ID,
		TotalReceived: t.TotalReceived,
		Remaining:     t.Remaining,
		ActiveRate:    t.ActiveRate,
		Unresolved:    t.Unresolved,
	}

	s.obsMu.Lock()
	if s.last != nil && s.last.Same(change) {
		s.obsMu.Unlock()
		return
	}
	s.last = &change
	observers := make([]totalsObserver, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, o := range observers {
		o.fn(change)
	}
}

func (s *AllocationSession) display(t domain.Totals) *domain.TotalsDisplay {
	rate := t.ActiveRate
	if rate == nil {
		return nil
	}
	local, _ := domain.LocalEquivalentOf(t.OrderTotal, rate)
	d := &domain.TotalsDisplay{
		RateDate:   rate.Date.Format(time.DateOnly),
		NextDay:    rate.NextDay,
		Provenance: rate.Provenance,
	}
	if s.cfg.Formatter != nil {
		d.OrderTotalLocal = s.cfg.Formatter.Format(local)
	} else {
		d.OrderTotalLocal = local.StringFixed(s.cfg.LocalPrecision)
	}
	return d
}
