package integration

import (
	"context"
	"errors"
	"sync"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memStore is an in-memory stand-in for the orders and products tables.
// Transactions are serialized by txMu and their writes are staged until
// Commit, so a rolled-back settlement leaves no trace.
type memStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	orders   map[string]*domain.Order
	products map[string]*domain.Product
	audits   []*domain.AuditLog

	// Injected failures, read under mu.
	markSettledErr error
	commitErr      error
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[string]*domain.Order),
		products: make(map[string]*domain.Product),
	}
}

func (s *memStore) putOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) putProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memStore) failMarkSettled(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markSettledErr = err
}

func (s *memStore) failCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *memStore) injected() (markSettled, commit error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markSettledErr, s.commitErr
}

func (s *memStore) order(id string) *domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	return &cp
}

func (s *memStore) product(id string) *domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *memStore) auditActions() []domain.AuditAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditAction, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Action)
	}
	return out
}

// --- Transactor ---

func (s *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txMu.Lock()
	return &memTx{
		store:    s,
		orders:   make(map[string]*domain.Order),
		products: make(map[string]*domain.Product),
	}, nil
}

type memTx struct {
	store    *memStore
	orders   map[string]*domain.Order
	products map[string]*domain.Product
	done     bool
}

func (t *memTx) finish() {
	if !t.done {
		t.done = true
		t.store.txMu.Unlock()
	}
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if _, err := t.store.injected(); err != nil {
		t.finish()
		return err
	}
	t.store.mu.Lock()
	for id, o := range t.orders {
		t.store.orders[id] = o
	}
	for id, p := range t.products {
		t.store.products[id] = p
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *memTx) Conn() *pgx.Conn                                               { return nil }

func asMemTx(tx pgx.Tx) (*memTx, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.done {
		return nil, errors.New("no open in-memory transaction")
	}
	return mt, nil
}

// --- Repositories ---

type memOrderRepo struct{ store *memStore }

func (r memOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.store.order(id), nil
}

func (r memOrderRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, err
	}
	if o, ok := mt.orders[id]; ok {
		return o, nil
	}
	return r.store.order(id), nil
}

func (r memOrderRepo) MarkSettled(ctx context.Context, tx pgx.Tx, id string, record *domain.SettlementRecord) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	if err, _ := r.store.injected(); err != nil {
		return err
	}
	o, _ := r.GetForUpdate(ctx, tx, id)
	if o == nil || o.IsPaid() {
		return ports.ErrConcurrentUpdate
	}
	o.PaymentStatus = domain.PaymentStatusPaid
	o.DeliveryStatus = domain.DeliveryStatusDelivered
	o.Settlement = record
	mt.orders[id] = o
	return nil
}

type memProductRepo struct{ store *memStore }

func (r memProductRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error) {
	mt, err := asMemTx(tx)
	if err != nil {
		return nil, err
	}
	if p, ok := mt.products[id]; ok {
		return p, nil
	}
	return r.store.product(id), nil
}

func (r memProductRepo) UpdateInventory(ctx context.Context, tx pgx.Tx, product *domain.Product) error {
	mt, err := asMemTx(tx)
	if err != nil {
		return err
	}
	cp := *product
	mt.products[product.ID] = &cp
	return nil
}

type memAuditRepo struct{ store *memStore }

func (r memAuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audits = append(r.store.audits, log)
	return nil
}
