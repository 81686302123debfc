package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"
	"pos-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CheckoutConfig configures CheckoutServiceImpl.
type CheckoutConfig struct {
	SessionTTL    time.Duration
	SubmitLockTTL time.Duration
	Allocation    AllocationConfig
	Now           func() time.Time
}

// CheckoutMetrics receives the number of open sessions. A nil value disables recording.
type CheckoutMetrics interface {
	ActiveSessions(n int)
}

type checkoutSession struct {
	mu         sync.Mutex
	id         uuid.UUID
	engine     *AllocationSession
	openedBy   domain.Operator
	confirming bool
	lastUsed   time.Time
}

// CheckoutServiceImpl implements ports.CheckoutService. Each session is
// serialized by its own mutex; the registry by another.
type CheckoutServiceImpl struct {
	orderRepo  ports.OrderRepository
	rates      ports.RateSource
	settlement ports.SettlementService
	lock       ports.SubmissionLock
	events     ports.EventPublisher
	audit      ports.AuditService
	cfg        CheckoutConfig
	metrics    CheckoutMetrics
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*checkoutSession
}

// NewCheckoutService creates a new CheckoutServiceImpl.
func NewCheckoutService(
	orderRepo ports.OrderRepository,
	rates ports.RateSource,
	settlement ports.SettlementService,
	lock ports.SubmissionLock,
	events ports.EventPublisher,
	audit ports.AuditService,
	cfg CheckoutConfig,
	metrics CheckoutMetrics,
	log zerolog.Logger,
) *CheckoutServiceImpl {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.SubmitLockTTL <= 0 {
		cfg.SubmitLockTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CheckoutServiceImpl{
		orderRepo:  orderRepo,
		rates:      rates,
		settlement: settlement,
		lock:       lock,
		events:     events,
		audit:      audit,
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
		sessions:   make(map[uuid.UUID]*checkoutSession),
	}
}

// Open starts a payment session for an unpaid order.
func (s *CheckoutServiceImpl) Open(ctx context.Context, orderID string, op domain.Operator) (*ports.SessionView, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrOrderNotFound()
	}
	if order.IsPaid() {
		return nil, apperror.ErrOrderAlreadyPaid()
	}

	engine := NewAllocationSession(order, s.rates, s.cfg.Allocation, s.log)
	engine.Open(ctx)

	sess := &checkoutSession{
		id:       uuid.New(),
		engine:   engine,
		openedBy: op,
		lastUsed: s.cfg.Now(),
	}

	s.mu.Lock()
	s.sweepLocked()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	s.reportSessions(n)

	s.auditLog(ctx, domain.AuditActionSessionOpened, orderID, op.ID, map[string]any{"session_id": sess.id})
	s.log.Info().Str("session_id", sess.id.String()).Str("order_id", orderID).Msg("payment session opened")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

// Apply runs one operator action against a session.
func (s *CheckoutServiceImpl) Apply(ctx context.Context, sessionID uuid.UUID, cmd ports.Command) (*ports.SessionView, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.confirming {
		return nil, apperror.ErrSettlementInProgress()
	}

	e := sess.engine
	switch cmd.Kind {
	case ports.CommandSelect:
		_, err = e.Select(cmd.Method, cmd.Selected)
	case ports.CommandAmount:
		_, err = e.EditAmount(cmd.Method, cmd.Amount)
	case ports.CommandMobile:
		_, err = e.SetMobileMetadata(cmd.Bank, cmd.Reference)
	case ports.CommandConversion:
		if cmd.ManualRate != nil {
			if _, err = e.SetManualRate(*cmd.ManualRate); err != nil {
				break
			}
		}
		if cmd.Mode != "" {
			e.SetConversionMode(ctx, cmd.Mode)
		}
	case ports.CommandRefreshRate:
		e.RefreshRate(ctx)
	default:
		return nil, apperror.Validation(fmt.Sprintf("unknown command %q", cmd.Kind))
	}
	if err != nil {
		return nil, inputError(err)
	}

	return s.view(sess), nil
}

// View returns the current state of a session.
func (s *CheckoutServiceImpl) View(_ context.Context, sessionID uuid.UUID) (*ports.SessionView, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

// Close discards a session. Nothing is written.
func (s *CheckoutServiceImpl) Close(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	busy := false
	if ok {
		sess.mu.Lock()
		busy = sess.confirming
		sess.mu.Unlock()
		if !busy {
			delete(s.sessions, sessionID)
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return apperror.ErrSessionNotFound()
	}
	if busy {
		return apperror.ErrSettlementInProgress()
	}
	s.reportSessions(n)
	s.auditLog(ctx, domain.AuditActionSessionClosed, sess.engine.Order().ID, sess.openedBy.ID, nil)
	return nil
}

// Confirm settles the session. A second call while one is in flight, from
// this process or another, returns SETTLE_001 without doing anything.
func (s *CheckoutServiceImpl) Confirm(ctx context.Context, sessionID uuid.UUID, op *domain.Operator) (*domain.SettlementRecord, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sess.mu.Lock()
	if sess.confirming {
		sess.mu.Unlock()
		s.mu.Unlock()
		return nil, apperror.ErrSettlementInProgress()
	}
	sess.confirming = true
	sess.mu.Unlock()
	s.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.confirming = false
		sess.mu.Unlock()
	}()

	orderID := sess.engine.Order().ID
	log := s.log.With().Str("order_id", orderID).Str("session_id", sessionID.String()).Logger()

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, orderID, s.cfg.SubmitLockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("submission lock unavailable, relying on session guard")
		case !acquired:
			return nil, apperror.ErrSettlementInProgress()
		default:
			defer func() {
				if err := s.lock.Release(context.WithoutCancel(ctx), orderID); err != nil {
					log.Warn().Err(err).Msg("failed to release submission lock")
				}
			}()
		}
	}

	req := sess.engine.SettlementRequest(op)
	record, err := s.settlement.Settle(ctx, req)
	operatorID := ""
	if op != nil {
		operatorID = op.ID
	}
	if err != nil {
		details := map[string]any{"error": err.Error()}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			details["code"] = appErr.Code
			details["kind"] = appErr.Kind
		}
		s.auditLog(ctx, domain.AuditActionPaymentRejected, orderID, operatorID, details)
		return nil, err
	}

	if s.events != nil {
		event := ports.PaymentConfirmedEvent{
			OrderID:     orderID,
			ConfirmedBy: record.ConfirmedBy,
			ConfirmedAt: record.ConfirmedAt,
		}
		if err := s.events.PublishPaymentConfirmed(ctx, event); err != nil {
			log.Warn().Err(err).Msg("failed to publish payment confirmed event")
		}
	}

	s.auditLog(ctx, domain.AuditActionPaymentConfirmed, orderID, operatorID, map[string]any{
		"total_received": record.TotalReceived,
		"mode":           record.Mode,
		"instruments":    len(record.Instruments),
	})

	s.mu.Lock()
	delete(s.sessions, sessionID)
	n := len(s.sessions)
	s.mu.Unlock()
	s.reportSessions(n)

	return record, nil
}

func (s *CheckoutServiceImpl) get(id uuid.UUID) (*checkoutSession, error) {
	s.mu.Lock()
	s.sweepLocked()
	sess, ok := s.sessions[id]
	n := len(s.sessions)
	s.mu.Unlock()
	s.reportSessions(n)

	if !ok {
		return nil, apperror.ErrSessionNotFound()
	}
	sess.mu.Lock()
	sess.lastUsed = s.cfg.Now()
	sess.mu.Unlock()
	return sess, nil
}

// sweepLocked drops idle sessions. Caller holds s.mu.
func (s *CheckoutServiceImpl) sweepLocked() {
	cutoff := s.cfg.Now().Add(-s.cfg.SessionTTL)
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := !sess.confirming && sess.lastUsed.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			s.log.Info().Str("session_id", id.String()).Msg("payment session expired")
		}
	}
}

// view builds the read model. Caller holds sess.mu.
func (s *CheckoutServiceImpl) view(sess *checkoutSession) *ports.SessionView {
	e := sess.engine
	l := e.Ledger()
	v := &ports.SessionView{
		SessionID:              sess.id,
		OrderID:                e.Order().ID,
		Mobile:                 l.Mobile,
		MobileMetadataRequired: e.MobileMetadataRequired(),
		Mode:                   e.Mode(),
		ManualRate:             e.ManualRate(),
		Totals:                 e.ComputeTotals(),
		Confirming:             sess.confirming,
	}
	for _, slot := range l.Slots() {
		v.Slots = append(v.Slots, ports.SlotView{
			Method:     slot.Method,
			Currency:   slot.Currency(),
			Selected:   slot.Selected,
			Amount:     slot.Amount(),
			UserEdited: slot.UserEdited,
		})
	}

	if diag := e.Diagnostic(); diag != nil {
		v.DiagnosticKind = string(apperror.KindOf(diag))
		var appErr *apperror.AppError
		if errors.As(diag, &appErr) {
			v.Diagnostic = appErr.Message
		} else {
			v.Diagnostic = diag.Error()
		}
	} else if v.Totals.Unresolved {
		v.Diagnostic = v.Totals.Diagnostic
		v.DiagnosticKind = string(apperror.KindRateUnavailable)
	}
	return v
}

func (s *CheckoutServiceImpl) auditLog(ctx context.Context, action domain.AuditAction, orderID, operatorID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		OperatorID: operatorID,
		Action:     action,
		OrderID:    orderID,
		CreatedAt:  s.cfg.Now().UTC(),
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	s.audit.Log(ctx, entry)
}

func (s *CheckoutServiceImpl) reportSessions(n int) {
	if s.metrics != nil {
		s.metrics.ActiveSessions(n)
	}
}

// inputError maps ledger rejections to VAL_006.
func inputError(err error) error {
	switch {
	case errors.Is(err, domain.ErrSlotNotSelected),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrUnknownMethod):
		return apperror.Validation(err.Error())
	}
	return err
}
