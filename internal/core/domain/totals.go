package domain

import (
	"github.com/shopspring/decimal"
)

// DiagNoRate is surfaced while local-currency amounts cannot be converted.
const DiagNoRate = "cannot convert local-currency amounts without a rate"

// Totals is the reconciliation of a ledger against an order total.
type Totals struct {
	OrderTotal      decimal.Decimal `json:"order_total"`
	TotalReceived   decimal.Decimal `json:"total_received"`
	Remaining       decimal.Decimal `json:"remaining"`
	LocalSum        decimal.Decimal `json:"local_sum"`
	ForeignSum      decimal.Decimal `json:"foreign_sum"`
	LocalEquivalent decimal.Decimal `json:"local_equivalent"`
	ActiveRate      *RateSnapshot   `json:"active_rate,omitempty"`
	// Unresolved replaces a NaN total: local amounts exist but no rate does.
	// TotalReceived is meaningless while it is set and Remaining reads zero.
	Unresolved bool           `json:"unresolved"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	Display    *TotalsDisplay `json:"display,omitempty"`
}

// TotalsDisplay is the operator-facing rendering of the order total in local currency.
type TotalsDisplay struct {
	OrderTotalLocal string     `json:"order_total_local,omitempty"`
	RateDate        string     `json:"rate_date,omitempty"`
	NextDay         bool       `json:"next_day"`
	Provenance      Provenance `json:"provenance,omitempty"`
}

// TotalsChanged is delivered to observers whenever received, remaining or the
// active rate changes.
type TotalsChanged struct {
	OrderID       string          `json:"order_id"`
	TotalReceived decimal.Decimal `json:"total_received"`
	Remaining     decimal.Decimal `json:"remaining"`
	ActiveRate    *RateSnapshot   `json:"active_rate,omitempty"`
	Unresolved    bool            `json:"unresolved"`
}

// Same reports whether two notifications carry identical values.
func (c TotalsChanged) Same(o TotalsChanged) bool {
	return c.TotalReceived.Equal(o.TotalReceived) &&
		c.Remaining.Equal(o.Remaining) &&
		c.Unresolved == o.Unresolved &&
		c.ActiveRate.Equal(o.ActiveRate)
}

// ComputeTotals sums the selected slots and converts the local side with rate.
func ComputeTotals(l *Ledger, orderTotal decimal.Decimal, rate *RateSnapshot) Totals {
	t := Totals{
		OrderTotal:      orderTotal,
		LocalSum:        decimal.Zero,
		ForeignSum:      decimal.Zero,
		LocalEquivalent: decimal.Zero,
		ActiveRate:      rate,
	}
	for _, s := range l.Selected() {
		switch s.Currency() {
		case CurrencyLocal:
			t.LocalSum = t.LocalSum.Add(s.Amount())
		case CurrencySettlement:
			t.ForeignSum = t.ForeignSum.Add(s.Amount())
		}
	}

	if t.LocalSum.IsPositive() {
		if rate == nil {
			t.Unresolved = true
			t.Diagnostic = DiagNoRate
			t.TotalReceived = t.ForeignSum
			t.Remaining = decimal.Zero
			return t
		}
		t.LocalEquivalent = t.LocalSum.Div(rate.Value)
	}

	t.TotalReceived = t.ForeignSum.Add(t.LocalEquivalent)
	t.Remaining = orderTotal.Sub(t.TotalReceived)
	return t
}

// SettlementEquivalent converts one slot's raw amount into the settlement
// currency. ok is false for a positive local amount without a rate.
func SettlementEquivalent(s *Slot, rate *RateSnapshot) (eq decimal.Decimal, ok bool) {
	amt := s.Amount()
	if s.Currency() == CurrencySettlement || amt.IsZero() {
		return amt, true
	}
	if rate == nil {
		return decimal.Zero, false
	}
	return amt.Div(rate.Value), true
}

// LocalEquivalentOf converts a settlement-currency amount into local currency.
func LocalEquivalentOf(amount decimal.Decimal, rate *RateSnapshot) (decimal.Decimal, bool) {
	if rate == nil {
		return decimal.Zero, false
	}
	return amount.Mul(rate.Value), true
}
