package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, total::text, COALESCE(payment_status, ''), delivery_status, settlement`

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// GetByID fetches an order and its line items (non-locking read).
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return nil, err
	}
	if o.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return o, nil
}

// GetForUpdate locks the order row and loads its line items.
// This MUST be called within a transaction.
func (r *OrderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return nil, err
	}
	if o.Items, err = loadItems(ctx, tx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkSettled writes the settlement. The payment_status guard turns a lost
// race into ports.ErrConcurrentUpdate instead of a second settlement.
func (r *OrderRepo) MarkSettled(ctx context.Context, tx pgx.Tx, id string, record *domain.SettlementRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}

	query := `UPDATE orders
		SET payment_status = $2, delivery_status = $3, settlement = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $1 AND payment_status IS DISTINCT FROM $2`

	tag, err := tx.Exec(ctx, query,
		id, string(domain.PaymentStatusPaid), string(domain.DeliveryStatusDelivered),
		payload, record.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("mark order settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConcurrentUpdate
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		total      string
		payment    string
		delivery   string
		settlement []byte
	)
	if err := row.Scan(&o.ID, &total, &payment, &delivery, &settlement); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total %q: %w", total, err)
	}
	o.Total = amount
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.DeliveryStatus = domain.DeliveryStatus(delivery)

	if len(settlement) > 0 {
		o.Settlement = &domain.SettlementRecord{}
		if err := json.Unmarshal(settlement, o.Settlement); err != nil {
			return nil, fmt.Errorf("decode settlement: %w", err)
		}
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_id, quantity, description FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Description); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}
