package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSessionOpened    AuditAction = "SESSION_OPENED"
	AuditActionPaymentConfirmed AuditAction = "PAYMENT_CONFIRMED"
	AuditActionPaymentRejected  AuditAction = "PAYMENT_REJECTED"
	AuditActionSessionClosed    AuditAction = "SESSION_CLOSED"

	// Operator edits recorded by the HTTP layer.
	AuditActionSlotChanged       AuditAction = "SLOT_CHANGED"
	AuditActionMobileChanged     AuditAction = "MOBILE_CHANGED"
	AuditActionConversionChanged AuditAction = "CONVERSION_CHANGED"
	AuditActionRateRefreshed     AuditAction = "RATE_REFRESHED"
)

// AuditLog records a single audited checkout action.
type AuditLog struct {
	ID         uuid.UUID   `json:"id"`
	OperatorID string      `json:"operator_id,omitempty"`
	Action     AuditAction `json:"action"`
	OrderID    string      `json:"order_id,omitempty"`
	Details    string      `json:"details,omitempty"` // JSON string
	IPAddress  string      `json:"ip_address,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
