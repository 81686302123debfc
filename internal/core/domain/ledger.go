package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrSlotNotSelected = errors.New("payment method is not selected")
	ErrUnknownMethod   = errors.New("unknown payment method")
)

// Ledger holds one slot per supported method plus the mobile-transfer metadata.
type Ledger struct {
	slots  map[Method]*Slot
	Mobile MobileMetadata
}

// NewLedger returns a ledger with every slot unselected and zero.
func NewLedger() *Ledger {
	l := &Ledger{slots: make(map[Method]*Slot, len(Methods))}
	for _, m := range Methods {
		l.slots[m] = &Slot{Method: m, amount: decimal.Zero}
	}
	return l
}

// Slot returns the slot for m, or nil for an unknown method.
func (l *Ledger) Slot(m Method) *Slot {
	return l.slots[m]
}

// Slots returns all slots in ledger order.
func (l *Ledger) Slots() []*Slot {
	out := make([]*Slot, 0, len(Methods))
	for _, m := range Methods {
		out = append(out, l.slots[m])
	}
	return out
}

// Selected returns the selected slots in ledger order.
func (l *Ledger) Selected() []*Slot {
	var out []*Slot
	for _, s := range l.Slots() {
		if s.Selected {
			out = append(out, s)
		}
	}
	return out
}

// Select toggles a slot. Deselecting clears the amount and the edited flag so
// a later reselect starts out eligible for auto-fill.
func (l *Ledger) Select(m Method, selected bool) error {
	s := l.slots[m]
	if s == nil {
		return ErrUnknownMethod
	}
	s.Selected = selected
	if !selected {
		s.amount = decimal.Zero
		s.UserEdited = false
		s.FilledAtRate = nil
		if m.RequiresMetadata() {
			l.Mobile = MobileMetadata{}
		}
	}
	return nil
}

// Edit records an operator entry. The slot becomes sticky for auto-fill.
func (l *Ledger) Edit(m Method, amount decimal.Decimal) error {
	s := l.slots[m]
	if s == nil {
		return ErrUnknownMethod
	}
	if !s.Selected {
		return ErrSlotNotSelected
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	s.amount = amount
	s.UserEdited = true
	s.FilledAtRate = nil
	return nil
}

// Fill is the engine-side write: the slot stays auto-fillable.
func (l *Ledger) Fill(m Method, amount decimal.Decimal, rate *RateSnapshot) {
	s := l.slots[m]
	if s == nil {
		return
	}
	s.Selected = true
	s.UserEdited = false
	s.amount = amount
	s.FilledAtRate = rate
}

// MobileComplete reports whether bank and reference are both non-blank.
func (l *Ledger) MobileComplete() bool {
	return strings.TrimSpace(l.Mobile.Bank) != "" && strings.TrimSpace(l.Mobile.Reference) != ""
}

// HasPositive reports whether any selected slot holds an amount greater than zero.
func (l *Ledger) HasPositive() bool {
	for _, s := range l.Selected() {
		if s.Amount().IsPositive() {
			return true
		}
	}
	return false
}
