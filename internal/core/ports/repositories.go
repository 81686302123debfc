package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"errors"

	"pos-settlement/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ErrConcurrentUpdate is returned by guarded writes that matched no row
// because another transaction changed it first.
var ErrConcurrentUpdate = errors.New("concurrent update")

// OrderRepository defines persistence operations for orders.
// Methods accepting pgx.Tx are used inside the settlement transaction.
type OrderRepository interface {
	// GetByID returns nil, nil when the order does not exist.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// GetForUpdate locks the order row and loads its line items.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error)
	// MarkSettled writes paid + delivered and attaches the record.
	// Returns ErrConcurrentUpdate if the order was settled meanwhile.
	MarkSettled(ctx context.Context, tx pgx.Tx, id string, record *domain.SettlementRecord) error
}

// ProductRepository defines the inventory reads/writes done at settlement.
type ProductRepository interface {
	// GetForUpdate returns nil, nil when the product no longer exists.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error)
	UpdateInventory(ctx context.Context, tx pgx.Tx, product *domain.Product) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
