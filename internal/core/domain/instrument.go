package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency identifies which side of the conversion an instrument is denominated in.
type Currency string

const (
	// CurrencyLocal amounts need a rate before they count toward the order total.
	CurrencyLocal Currency = "LOCAL"
	// CurrencySettlement is the currency the order total is denominated in.
	CurrencySettlement Currency = "SETTLEMENT"
)

// Method is one supported payment instrument.
type Method string

const (
	MethodLocalCash     Method = "local_cash"
	MethodLocalMobile   Method = "local_mobile"
	MethodLocalOther    Method = "local_other"
	MethodForeignCash   Method = "foreign_cash"
	MethodForeignOnline Method = "foreign_online"
)

// Methods lists every instrument in ledger order.
var Methods = []Method{
	MethodLocalCash,
	MethodLocalMobile,
	MethodLocalOther,
	MethodForeignCash,
	MethodForeignOnline,
}

// ParseMethod converts a wire name into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment method %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of the supported instruments.
func (m Method) Valid() bool {
	switch m {
	case MethodLocalCash, MethodLocalMobile, MethodLocalOther, MethodForeignCash, MethodForeignOnline:
		return true
	}
	return false
}

// Currency returns the currency the instrument is denominated in.
func (m Method) Currency() Currency {
	switch m {
	case MethodForeignCash, MethodForeignOnline:
		return CurrencySettlement
	default:
		return CurrencyLocal
	}
}

// RequiresMetadata is true for instruments that need a bank and reference code.
func (m Method) RequiresMetadata() bool {
	return m == MethodLocalMobile
}

// MobileMetadata identifies a mobile transfer.
type MobileMetadata struct {
	Bank      string `json:"bank"`
	Reference string `json:"reference"`
}

// Slot is the operator-facing state of one instrument.
type Slot struct {
	Method     Method
	Selected   bool
	UserEdited bool
	// FilledAtRate is the rate the engine used the last time it auto-filled a
	// local-currency slot. Nil for manual entries and settlement-currency slots.
	FilledAtRate *RateSnapshot

	amount decimal.Decimal
}

// Amount returns the raw amount in the slot's own currency; zero when unselected.
func (s *Slot) Amount() decimal.Decimal {
	if !s.Selected {
		return decimal.Zero
	}
	return s.amount
}

// Currency is shorthand for s.Method.Currency().
func (s *Slot) Currency() Currency {
	return s.Method.Currency()
}

// Eligible reports whether auto-fill may write to the slot.
func (s *Slot) Eligible() bool {
	return s.Selected && !s.UserEdited && s.amount.IsZero()
}
