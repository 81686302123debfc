package postgres

import (
	"context"
	"errors"
	"fmt"

	"pos-settlement/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ProductRepo implements ports.ProductRepository.
type ProductRepo struct{}

// NewProductRepo creates a new ProductRepo. Every method runs inside the
// caller's transaction, so no pool is held.
func NewProductRepo() *ProductRepo {
	return &ProductRepo{}
}

// GetForUpdate locks a product row. Returns nil, nil if it no longer exists.
func (r *ProductRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error) {
	query := `SELECT id, stock, sales_count FROM products WHERE id = $1 FOR UPDATE`

	p := &domain.Product{}
	err := tx.QueryRow(ctx, query, id).Scan(&p.ID, &p.Stock, &p.SalesCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product for update: %w", err)
	}
	return p, nil
}

// UpdateInventory writes the stock and sales counters.
func (r *ProductRepo) UpdateInventory(ctx context.Context, tx pgx.Tx, p *domain.Product) error {
	query := `UPDATE products SET stock = $2, sales_count = $3, updated_at = NOW() WHERE id = $1`

	tag, err := tx.Exec(ctx, query, p.ID, p.Stock, p.SalesCount)
	if err != nil {
		return fmt.Errorf("update product inventory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product not found: %s", p.ID)
	}
	return nil
}
