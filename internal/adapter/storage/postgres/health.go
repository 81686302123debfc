package postgres

import (
	"context"
	"errors"
	"fmt"
)

// HealthCheck implements ports.HealthChecker. Besides connectivity it
// verifies that the settlement tables exist.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

const healthQuery = `SELECT to_regclass('orders') IS NOT NULL AND to_regclass('products') IS NOT NULL`

func (h *HealthCheck) Ping(ctx context.Context) error {
	var ready bool
	if err := h.pool.QueryRow(ctx, healthQuery).Scan(&ready); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if !ready {
		return errors.New("postgres schema missing: orders/products tables not found")
	}
	return nil
}

func (h *HealthCheck) Name() string { return "postgresql" }
