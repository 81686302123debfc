package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operator is the authenticated person confirming a payment.
type Operator struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// InstrumentEntry is the audit line for one selected instrument.
type InstrumentEntry struct {
	Method               Method          `json:"method"`
	Currency             Currency        `json:"currency"`
	RawAmount            decimal.Decimal `json:"raw_amount"`
	SettlementEquivalent decimal.Decimal `json:"settlement_equivalent"`
	// Rate is set only when the amount was converted.
	Rate *RateSnapshot `json:"rate,omitempty"`
	// FilledAtRate is the rate in effect when the engine auto-filled the slot.
	FilledAtRate *RateSnapshot `json:"filled_at_rate,omitempty"`
	Bank         string        `json:"bank,omitempty"`
	Reference    string        `json:"reference,omitempty"`
}

// SettlementRecord is written once per order at confirmation and never mutated.
type SettlementRecord struct {
	OrderID            string            `json:"order_id"`
	Instruments        []InstrumentEntry `json:"instruments"`
	OrderTotal         decimal.Decimal   `json:"order_total"`
	TotalReceived      decimal.Decimal   `json:"total_received"`
	TotalReceivedLocal decimal.Decimal   `json:"total_received_local"`
	Mode               ConversionMode    `json:"conversion_mode"`
	Rate               *RateSnapshot     `json:"rate,omitempty"`
	ConfirmedBy        string            `json:"confirmed_by"`
	ConfirmedByLabel   string            `json:"confirmed_by_label"`
	ConfirmedAt        time.Time         `json:"confirmed_at"`
}
