package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"
	"pos-settlement/internal/core/ports/mocks"
	"pos-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type checkoutTestDeps struct {
	svc        *CheckoutServiceImpl
	orderRepo  *mocks.MockOrderRepository
	rates      *mocks.MockRateSource
	settlement *mocks.MockSettlementService
	lock       *mocks.MockSubmissionLock
	events     *mocks.MockEventPublisher
	audit      *mocks.MockAuditService

	mu       sync.Mutex
	now      time.Time
	sessions []int
}

func (d *checkoutTestDeps) ActiveSessions(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, n)
}

func (d *checkoutTestDeps) clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *checkoutTestDeps) advance(by time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = d.now.Add(by)
}

func setupCheckoutService(t *testing.T) *checkoutTestDeps {
	ctrl := gomock.NewController(t)
	d := &checkoutTestDeps{
		orderRepo:  mocks.NewMockOrderRepository(ctrl),
		rates:      mocks.NewMockRateSource(ctrl),
		settlement: mocks.NewMockSettlementService(ctrl),
		lock:       mocks.NewMockSubmissionLock(ctrl),
		events:     mocks.NewMockEventPublisher(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		now:        testNow,
	}
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).AnyTimes()

	d.svc = NewCheckoutService(d.orderRepo, d.rates, d.settlement, d.lock, d.events, d.audit, CheckoutConfig{
		SessionTTL:    10 * time.Minute,
		SubmitLockTTL: 30 * time.Second,
		Allocation: AllocationConfig{
			PrimaryCurrency:   "usd",
			SecondaryCurrency: "eur",
			LocalPrecision:    2,
			DefaultMode:       domain.ModeNone,
			Now:               func() time.Time { return testNow },
		},
		Now: d.clock,
	}, d, zerolog.Nop())
	return d
}

func (d *checkoutTestDeps) open(t *testing.T, total string) *ports.SessionView {
	t.Helper()
	d.orderRepo.EXPECT().GetByID(gomock.Any(), "order-1").
		Return(&domain.Order{ID: "order-1", Total: dec(total)}, nil)
	view, err := d.svc.Open(context.Background(), "order-1", *testOperator)
	require.NoError(t, err)
	return view
}

func payInForeignCash(t *testing.T, d *checkoutTestDeps, id uuid.UUID) {
	t.Helper()
	_, err := d.svc.Apply(context.Background(), id, ports.Command{
		Kind:     ports.CommandSelect,
		Method:   domain.MethodForeignCash,
		Selected: true,
	})
	require.NoError(t, err)
}

// ==================== Open ====================

func TestCheckoutService_Open(t *testing.T) {
	tests := []struct {
		name     string
		order    *domain.Order
		repoErr  error
		wantCode string
	}{
		{name: "order missing", wantCode: "ORDER_001"},
		{name: "already paid", order: &domain.Order{ID: "order-1", Total: dec("10"), PaymentStatus: domain.PaymentStatusPaid}, wantCode: "ORDER_002"},
		{name: "repository failure", repoErr: errors.New("connection refused"), wantCode: "SYS_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCheckoutService(t)
			d.orderRepo.EXPECT().GetByID(gomock.Any(), "order-1").Return(tt.order, tt.repoErr)

			view, err := d.svc.Open(context.Background(), "order-1", *testOperator)
			assert.Nil(t, view)
			assert.True(t, apperror.Is(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestCheckoutService_Open_BuildsView(t *testing.T) {
	d := setupCheckoutService(t)
	view := d.open(t, "25.00")

	assert.NotEqual(t, uuid.Nil, view.SessionID)
	assert.Equal(t, "order-1", view.OrderID)
	assert.Equal(t, domain.ModeNone, view.Mode)
	require.Len(t, view.Slots, len(domain.Methods))
	for _, slot := range view.Slots {
		assert.False(t, slot.Selected)
		assert.True(t, slot.Amount.IsZero())
	}
	assert.True(t, view.Totals.Remaining.Equal(dec("25")))
	assert.Equal(t, []int{1}, d.sessions)
}

// ==================== Apply ====================

func TestCheckoutService_Apply_SelectAutoFills(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")

	view, err := d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:     ports.CommandSelect,
		Method:   domain.MethodForeignCash,
		Selected: true,
	})
	require.NoError(t, err)

	var cash ports.SlotView
	for _, s := range view.Slots {
		if s.Method == domain.MethodForeignCash {
			cash = s
		}
	}
	assert.True(t, cash.Selected)
	assert.False(t, cash.UserEdited)
	assert.Equal(t, domain.CurrencySettlement, cash.Currency)
	assert.True(t, cash.Amount.Equal(dec("25")))
	assert.True(t, view.Totals.Remaining.IsZero())
}

func TestCheckoutService_Apply_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  ports.Command
	}{
		{"edit unselected slot", ports.Command{Kind: ports.CommandAmount, Method: domain.MethodLocalCash, Amount: dec("10")}},
		{"unknown method", ports.Command{Kind: ports.CommandSelect, Method: domain.Method("cheque"), Selected: true}},
		{"unknown command", ports.Command{Kind: ports.CommandKind("void")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupCheckoutService(t)
			opened := d.open(t, "25.00")

			_, err := d.svc.Apply(context.Background(), opened.SessionID, tt.cmd)
			assert.True(t, apperror.Is(err, "VAL_006"), "got %v", err)
		})
	}
}

func TestCheckoutService_Apply_NegativeAmount(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	_, err := d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:   ports.CommandAmount,
		Method: domain.MethodForeignCash,
		Amount: dec("-1"),
	})
	assert.True(t, apperror.Is(err, "VAL_006"))
}

func TestCheckoutService_Apply_ManualConversion(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "10.00")
	rate := dec("36.50")

	view, err := d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:       ports.CommandConversion,
		Mode:       domain.ModeManual,
		ManualRate: &rate,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeManual, view.Mode)
	assert.True(t, view.ManualRate.Equal(rate))
	require.NotNil(t, view.Totals.ActiveRate)
	assert.Equal(t, domain.ProvenanceManual, view.Totals.ActiveRate.Provenance)

	view, err = d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:     ports.CommandSelect,
		Method:   domain.MethodLocalCash,
		Selected: true,
	})
	require.NoError(t, err)
	assert.True(t, view.Slots[0].Amount.Equal(dec("365")))
	assert.True(t, view.Totals.Remaining.IsZero())
}

func TestCheckoutService_Apply_MobileMetadata(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "10.00")

	view, err := d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:     ports.CommandSelect,
		Method:   domain.MethodLocalMobile,
		Selected: true,
	})
	require.NoError(t, err)
	assert.True(t, view.MobileMetadataRequired)

	view, err = d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:      ports.CommandMobile,
		Bank:      "0102",
		Reference: "REF-991",
	})
	require.NoError(t, err)
	assert.False(t, view.MobileMetadataRequired)
	assert.Equal(t, domain.MobileMetadata{Bank: "0102", Reference: "REF-991"}, view.Mobile)
}

func TestCheckoutService_Apply_RateUnavailableIsDiagnostic(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "10.00")
	d.rates.EXPECT().Current(gomock.Any()).Return(nil, apperror.ErrRateNetworkFailure(errors.New("dial tcp")))

	view, err := d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind: ports.CommandConversion,
		Mode: domain.ModePrimary,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModePrimary, view.Mode)
	assert.Equal(t, string(apperror.KindNetworkFailure), view.DiagnosticKind)
	assert.NotEmpty(t, view.Diagnostic)
}

func TestCheckoutService_UnknownSession(t *testing.T) {
	d := setupCheckoutService(t)
	id := uuid.New()

	_, err := d.svc.View(context.Background(), id)
	assert.True(t, apperror.Is(err, "SESSION_001"))
	_, err = d.svc.Apply(context.Background(), id, ports.Command{Kind: ports.CommandRefreshRate})
	assert.True(t, apperror.Is(err, "SESSION_001"))
	_, err = d.svc.Confirm(context.Background(), id, testOperator)
	assert.True(t, apperror.Is(err, "SESSION_001"))
	assert.True(t, apperror.Is(d.svc.Close(context.Background(), id), "SESSION_001"))
}

func TestCheckoutService_SessionExpires(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "10.00")

	d.advance(5 * time.Minute)
	_, err := d.svc.View(context.Background(), opened.SessionID)
	require.NoError(t, err)

	d.advance(11 * time.Minute)
	_, err = d.svc.View(context.Background(), opened.SessionID)
	assert.True(t, apperror.Is(err, "SESSION_001"))
}

func TestCheckoutService_Close(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "10.00")

	require.NoError(t, d.svc.Close(context.Background(), opened.SessionID))
	_, err := d.svc.View(context.Background(), opened.SessionID)
	assert.True(t, apperror.Is(err, "SESSION_001"))
}

// ==================== Confirm ====================

func TestCheckoutService_Confirm_Success(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	record := &domain.SettlementRecord{
		OrderID:       "order-1",
		TotalReceived: dec("25"),
		ConfirmedBy:   testOperator.ID,
		ConfirmedAt:   testNow,
	}
	gomock.InOrder(
		d.lock.EXPECT().Acquire(gomock.Any(), "order-1", 30*time.Second).Return(true, nil),
		d.settlement.EXPECT().Settle(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req ports.SettlementRequest) (*domain.SettlementRecord, error) {
				assert.Equal(t, "order-1", req.OrderID)
				assert.Equal(t, testOperator, req.Operator)
				assert.True(t, req.Ledger.Slot(domain.MethodForeignCash).Amount().Equal(dec("25")))
				return record, nil
			}),
		d.events.EXPECT().PublishPaymentConfirmed(gomock.Any(), ports.PaymentConfirmedEvent{
			OrderID:     "order-1",
			ConfirmedBy: testOperator.ID,
			ConfirmedAt: testNow,
		}).Return(nil),
		d.lock.EXPECT().Release(gomock.Any(), "order-1").Return(nil),
	)

	got, err := d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	require.NoError(t, err)
	assert.Equal(t, record, got)

	_, err = d.svc.View(context.Background(), opened.SessionID)
	assert.True(t, apperror.Is(err, "SESSION_001"), "session is closed after settlement")
}

func TestCheckoutService_Confirm_LockHeldElsewhere(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	d.lock.EXPECT().Acquire(gomock.Any(), "order-1", gomock.Any()).Return(false, nil)

	_, err := d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	assert.True(t, apperror.Is(err, "SETTLE_001"))

	view, err := d.svc.View(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.False(t, view.Confirming)
}

func TestCheckoutService_Confirm_LockBackendDown(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	d.lock.EXPECT().Acquire(gomock.Any(), "order-1", gomock.Any()).Return(false, errors.New("redis: connection refused"))
	d.settlement.EXPECT().Settle(gomock.Any(), gomock.Any()).Return(&domain.SettlementRecord{OrderID: "order-1"}, nil)
	d.events.EXPECT().PublishPaymentConfirmed(gomock.Any(), gomock.Any()).Return(errors.New("publish failed"))

	_, err := d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	require.NoError(t, err)
}

func TestCheckoutService_Confirm_RejectedKeepsSession(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	d.lock.EXPECT().Acquire(gomock.Any(), "order-1", gomock.Any()).Return(true, nil)
	d.settlement.EXPECT().Settle(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrTransactionConflict("order-1", errors.New("serialization failure")))
	d.lock.EXPECT().Release(gomock.Any(), "order-1").Return(nil)

	_, err := d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	assert.True(t, apperror.Is(err, "TX_001"))

	view, err := d.svc.View(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.False(t, view.Confirming)
	assert.True(t, view.Totals.TotalReceived.Equal(dec("25")), "ledger left intact for retry")
}

func TestCheckoutService_Confirm_InFlightGuard(t *testing.T) {
	d := setupCheckoutService(t)
	opened := d.open(t, "25.00")
	payInForeignCash(t, d, opened.SessionID)

	started := make(chan struct{})
	release := make(chan struct{})
	d.lock.EXPECT().Acquire(gomock.Any(), "order-1", gomock.Any()).Return(true, nil)
	d.settlement.EXPECT().Settle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ ports.SettlementRequest) (*domain.SettlementRecord, error) {
			close(started)
			<-release
			return &domain.SettlementRecord{OrderID: "order-1"}, nil
		})
	d.events.EXPECT().PublishPaymentConfirmed(gomock.Any(), gomock.Any()).Return(nil)
	d.lock.EXPECT().Release(gomock.Any(), "order-1").Return(nil)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	}()
	<-started

	_, err := d.svc.Confirm(context.Background(), opened.SessionID, testOperator)
	assert.True(t, apperror.Is(err, "SETTLE_001"))

	_, err = d.svc.Apply(context.Background(), opened.SessionID, ports.Command{
		Kind:   ports.CommandAmount,
		Method: domain.MethodForeignCash,
		Amount: dec("1"),
	})
	assert.True(t, apperror.Is(err, "SETTLE_001"), "edits are blocked while confirming")

	view, err := d.svc.View(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.True(t, view.Confirming)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
}
