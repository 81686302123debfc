package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"
	"pos-settlement/pkg/apperror"
	"pos-settlement/pkg/money"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// equivalentPrecision is the number of decimals kept for per-instrument
// settlement equivalents in the record.
const equivalentPrecision int32 = 4

var (
	errAlreadySettled = errors.New("order already settled")
	errTotalChanged   = errors.New("order total changed since the session was opened")
)

// SettlementConfig configures SettlementServiceImpl.
type SettlementConfig struct {
	Epsilon        decimal.Decimal
	LocalPrecision int32
	Now            func() time.Time
}

// SettlementMetrics receives settlement outcomes. A nil value disables recording.
type SettlementMetrics interface {
	Settlement(outcome string)
}

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	orderRepo   ports.OrderRepository
	productRepo ports.ProductRepository
	transactor  ports.DBTransactor
	cfg         SettlementConfig
	metrics     SettlementMetrics
	log         zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	orderRepo ports.OrderRepository,
	productRepo ports.ProductRepository,
	transactor ports.DBTransactor,
	cfg SettlementConfig,
	metrics SettlementMetrics,
	log zerolog.Logger,
) *SettlementServiceImpl {
	if !cfg.Epsilon.IsPositive() {
		cfg.Epsilon = money.DefaultEpsilon
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SettlementServiceImpl{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		transactor:  transactor,
		cfg:         cfg,
		metrics:     metrics,
		log:         log,
	}
}

// Settle validates the session state and commits the payment, the inventory
// decrement and the order status change in one database transaction.
// Nothing is written unless every step succeeds.
func (s *SettlementServiceImpl) Settle(ctx context.Context, req ports.SettlementRequest) (*domain.SettlementRecord, error) {
	log := s.log.With().Str("order_id", req.OrderID).Logger()

	totals, err := s.validate(req)
	if err != nil {
		s.record("validation")
		log.Info().Err(err).Msg("settlement rejected")
		return nil, err
	}

	record := s.buildRecord(req, totals)

	if err := s.commit(ctx, req, record, log); err != nil {
		if apperror.KindOf(err) == apperror.KindTransactionFatal {
			s.record("fatal")
		} else {
			s.record("conflict")
		}
		return nil, err
	}

	s.record("committed")
	log.Info().
		Str("total_received", record.TotalReceived.String()).
		Str("mode", string(record.Mode)).
		Int("instruments", len(record.Instruments)).
		Str("confirmed_by", record.ConfirmedBy).
		Msg("payment settled")

	return record, nil
}

// validate runs the confirmation preconditions in order; the first failure wins.
func (s *SettlementServiceImpl) validate(req ports.SettlementRequest) (domain.Totals, error) {
	if req.Operator == nil || strings.TrimSpace(req.Operator.ID) == "" {
		return domain.Totals{}, apperror.ErrNotAuthenticated()
	}

	l := req.Ledger
	if l == nil {
		return domain.Totals{}, apperror.ErrNoPositiveInstrument()
	}
	if l.Slot(domain.MethodLocalMobile).Selected && !l.MobileComplete() {
		return domain.Totals{}, apperror.ErrMobileMetadataMissing()
	}
	if !l.HasPositive() {
		return domain.Totals{}, apperror.ErrNoPositiveInstrument()
	}

	totals := domain.ComputeTotals(l, req.OrderTotal, req.Rate)
	if totals.Unresolved {
		return totals, apperror.ErrConversionUnresolved()
	}

	diff := totals.TotalReceived.Sub(req.OrderTotal)
	if !money.WithinTolerance(totals.TotalReceived, req.OrderTotal, s.cfg.Epsilon) {
		return totals, apperror.ErrTotalMismatch(diff.Abs().StringFixed(money.SettlementPrecision), diff.IsPositive())
	}
	return totals, nil
}

func (s *SettlementServiceImpl) buildRecord(req ports.SettlementRequest, totals domain.Totals) *domain.SettlementRecord {
	record := &domain.SettlementRecord{
		OrderID:          req.OrderID,
		OrderTotal:       req.OrderTotal,
		TotalReceived:    totals.TotalReceived.Round(money.SettlementPrecision),
		Mode:             req.Mode,
		Rate:             req.Rate,
		ConfirmedBy:      req.Operator.ID,
		ConfirmedByLabel: req.Operator.Label,
	}

	for _, slot := range req.Ledger.Selected() {
		entry := domain.InstrumentEntry{
			Method:       slot.Method,
			Currency:     slot.Currency(),
			RawAmount:    slot.Amount(),
			FilledAtRate: slot.FilledAtRate,
		}
		eq, _ := domain.SettlementEquivalent(slot, req.Rate)
		entry.SettlementEquivalent = eq.Round(equivalentPrecision)
		if slot.Currency() == domain.CurrencyLocal && slot.Amount().IsPositive() {
			entry.Rate = req.Rate
		}
		if slot.Method.RequiresMetadata() {
			entry.Bank = req.Ledger.Mobile.Bank
			entry.Reference = req.Ledger.Mobile.Reference
		}
		record.Instruments = append(record.Instruments, entry)
	}

	if local, ok := domain.LocalEquivalentOf(totals.TotalReceived, req.Rate); ok {
		record.TotalReceivedLocal = local.Round(s.cfg.LocalPrecision)
	} else {
		record.TotalReceivedLocal = totals.LocalSum
	}
	return record
}

func (s *SettlementServiceImpl) commit(ctx context.Context, req ports.SettlementRequest, record *domain.SettlementRecord, log zerolog.Logger) error {
	orderID := req.OrderID

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return s.conflict(orderID, fmt.Errorf("begin tx: %w", err), log)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock the order first, then products in id order.
	order, err := s.orderRepo.GetForUpdate(ctx, dbTx, orderID)
	if err != nil {
		return s.conflict(orderID, fmt.Errorf("lock order: %w", err), log)
	}
	if order == nil {
		log.Error().Msg("order vanished during settlement")
		return apperror.ErrTransactionFatal(orderID, errors.New("order not found"))
	}
	if order.IsPaid() {
		return s.conflict(orderID, errAlreadySettled, log)
	}
	if !order.Total.Equal(req.OrderTotal) {
		return s.conflict(orderID, errTotalChanged, log)
	}

	for _, pq := range order.QuantitiesByProduct() {
		product, err := s.productRepo.GetForUpdate(ctx, dbTx, pq.ProductID)
		if err != nil {
			return s.conflict(orderID, fmt.Errorf("lock product %s: %w", pq.ProductID, err), log)
		}
		if product == nil {
			log.Warn().Str("product_id", pq.ProductID).Int("quantity", pq.Quantity).
				Msg("product no longer exists, skipping inventory update")
			continue
		}
		product.ApplySale(pq.Quantity)
		if err := s.productRepo.UpdateInventory(ctx, dbTx, product); err != nil {
			return s.conflict(orderID, fmt.Errorf("update product %s: %w", pq.ProductID, err), log)
		}
	}

	record.ConfirmedAt = s.cfg.Now().UTC()
	if err := s.orderRepo.MarkSettled(ctx, dbTx, orderID, record); err != nil {
		return s.conflict(orderID, fmt.Errorf("mark settled: %w", err), log)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return s.conflict(orderID, fmt.Errorf("commit tx: %w", err), log)
	}
	return nil
}

// conflict maps any failure inside the transaction to TX_001. Serialization
// failures, deadlocks, lock timeouts and lost guarded updates are expected
// under contention and logged at warn; anything else at error.
func (s *SettlementServiceImpl) conflict(orderID string, err error, log zerolog.Logger) error {
	if isContention(err) {
		log.Warn().Err(err).Msg("settlement transaction conflict")
	} else {
		log.Error().Err(err).Msg("settlement transaction failed")
	}
	return apperror.ErrTransactionConflict(orderID, err)
}

func isContention(err error) bool {
	if errors.Is(err, ports.ErrConcurrentUpdate) || errors.Is(err, errAlreadySettled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func (s *SettlementServiceImpl) record(outcome string) {
	if s.metrics != nil {
		s.metrics.Settlement(outcome)
	}
}
