package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"pos-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Exchange rates ---

// RateProvider fetches today's rate bundle from the external service.
// Failures are *apperror.AppError of kind RateUnavailable or NetworkFailure.
type RateProvider interface {
	Fetch(ctx context.Context) (*domain.RateState, error)
}

// RateCache is the shared fast path for the last accepted bundle.
type RateCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context) (*domain.RateState, error)
	Set(ctx context.Context, state *domain.RateState, ttl time.Duration) error
}

// RateSource is what the allocation engine consults for a service rate.
type RateSource interface {
	// Current returns a usable cached bundle or fetches a new one.
	Current(ctx context.Context) (*domain.RateState, error)
	// Refresh bypasses the cache.
	Refresh(ctx context.Context) (*domain.RateState, error)
}

// --- Checkout infrastructure ---

// SubmissionLock guards against duplicate confirmations of the same order.
type SubmissionLock interface {
	// Acquire returns false if the order is already being confirmed.
	Acquire(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, orderID string) error
}

// PaymentConfirmedEvent is published after a settlement commits.
type PaymentConfirmedEvent struct {
	OrderID     string    `json:"order_id"`
	ConfirmedBy string    `json:"confirmed_by"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// EventPublisher notifies the rest of the application about settlements.
type EventPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, event PaymentConfirmedEvent) error
}

// TokenService validates operator tokens issued by the identity provider.
type TokenService interface {
	Generate(op domain.Operator) (string, time.Time, error)
	Validate(tokenString string) (*domain.Operator, error)
}

// AuditService records checkout actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// HealthChecker checks external dependency health.
type HealthChecker interface {
	// Ping verifies connectivity. Returns nil if healthy.
	Ping(ctx context.Context) error
	// Name returns the dependency name (e.g., "postgresql", "redis").
	Name() string
}

// --- Service Ports (Business Logic) ---

// SettlementService validates and atomically commits a payment.
type SettlementService interface {
	Settle(ctx context.Context, req SettlementRequest) (*domain.SettlementRecord, error)
}

// SettlementRequest is the state of a payment session at confirmation.
type SettlementRequest struct {
	OrderID    string
	OrderTotal decimal.Decimal
	Ledger     *domain.Ledger
	Mode       domain.ConversionMode
	Rate       *domain.RateSnapshot // active rate at confirmation, nil if none
	Operator   *domain.Operator     // nil if unauthenticated
}

// CheckoutService manages payment sessions for the HTTP layer.
type CheckoutService interface {
	Open(ctx context.Context, orderID string, op domain.Operator) (*SessionView, error)
	Apply(ctx context.Context, sessionID uuid.UUID, cmd Command) (*SessionView, error)
	View(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)
	Confirm(ctx context.Context, sessionID uuid.UUID, op *domain.Operator) (*domain.SettlementRecord, error)
	Close(ctx context.Context, sessionID uuid.UUID) error
}

// CommandKind names one operator action on a payment session.
type CommandKind string

const (
	CommandSelect      CommandKind = "select"
	CommandAmount      CommandKind = "amount"
	CommandMobile      CommandKind = "mobile"
	CommandConversion  CommandKind = "conversion"
	CommandRefreshRate CommandKind = "refresh_rate"
)

// Command holds validated input for one session action.
type Command struct {
	Kind       CommandKind
	Method     domain.Method
	Selected   bool
	Amount     decimal.Decimal
	Bank       string
	Reference  string
	Mode       domain.ConversionMode
	ManualRate *decimal.Decimal
}

// SlotView is the read model of one instrument.
type SlotView struct {
	Method     domain.Method   `json:"method"`
	Currency   domain.Currency `json:"currency"`
	Selected   bool            `json:"selected"`
	Amount     decimal.Decimal `json:"amount"`
	UserEdited bool            `json:"user_edited"`
}

// SessionView is the read model of a payment session.
type SessionView struct {
	SessionID              uuid.UUID             `json:"session_id"`
	OrderID                string                `json:"order_id"`
	Slots                  []SlotView            `json:"slots"`
	Mobile                 domain.MobileMetadata `json:"mobile"`
	MobileMetadataRequired bool                  `json:"mobile_metadata_required"`
	Mode                   domain.ConversionMode `json:"conversion_mode"`
	ManualRate             decimal.Decimal       `json:"manual_rate"`
	Totals                 domain.Totals         `json:"totals"`
	Confirming             bool                  `json:"confirming"`
	// Diagnostic carries a recoverable problem from the last action
	// (rate unavailable, nothing to convert the remainder with).
	Diagnostic     string `json:"diagnostic,omitempty"`
	DiagnosticKind string `json:"diagnostic_kind,omitempty"`
}
