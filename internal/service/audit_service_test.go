package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pos-settlement/internal/core/domain"
	"pos-settlement/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, zerolog.Nop())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			if log.Action != domain.AuditActionPaymentConfirmed {
				t.Errorf("expected PAYMENT_CONFIRMED, got %s", log.Action)
			}
			close(done)
			return nil
		},
	)

	svc.Log(context.Background(), &domain.AuditLog{
		ID:         uuid.New(),
		OperatorID: "user-42",
		Action:     domain.AuditActionPaymentConfirmed,
		OrderID:    "o-1",
		IPAddress:  "127.0.0.1",
		CreatedAt:  time.Now(),
	})

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	sink := &syncBuffer{}
	svc := NewAuditService(nil, zerolog.New(sink))

	svc.Log(context.Background(), &domain.AuditLog{
		ID:        uuid.New(),
		Action:    domain.AuditActionSessionOpened,
		OrderID:   "o-1",
		IPAddress: "127.0.0.1",
		CreatedAt: time.Now(),
	})

	assert.Eventually(t, func() bool {
		return strings.Contains(sink.String(), `"action":"SESSION_OPENED"`)
	}, 2*time.Second, 10*time.Millisecond)
}
