package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Provenance records where a conversion rate came from.
type Provenance string

const (
	ProvenanceService Provenance = "SERVICE"
	ProvenanceManual  Provenance = "MANUAL"
)

// RateState is the bundle returned by the rate service: local-currency units
// per unit of each foreign currency, valid for a single calendar date.
type RateState struct {
	Rates      map[string]decimal.Decimal `json:"rates"`
	Date       time.Time                  `json:"date"`
	Provenance Provenance                 `json:"provenance"`
	FetchedAt  time.Time                  `json:"fetched_at"`
}

// Freshness reports whether the bundle is usable at now and whether it is
// dated the following day. Only today and tomorrow (in now's location) pass.
func (r *RateState) Freshness(now time.Time) (usable, nextDay bool) {
	if r == nil {
		return false, false
	}
	return DateFreshness(r.Date, now)
}

// Snapshot returns the rate for currency as of now, or nil when the currency
// is missing, not positive, or the bundle is stale.
func (r *RateState) Snapshot(currency string, now time.Time) *RateSnapshot {
	usable, nextDay := r.Freshness(now)
	if !usable {
		return nil
	}
	v, ok := r.Rates[currency]
	if !ok || !v.IsPositive() {
		return nil
	}
	return &RateSnapshot{
		Currency:   currency,
		Value:      v,
		Date:       r.Date,
		NextDay:    nextDay,
		Provenance: r.Provenance,
	}
}

// RateSnapshot is the single rate value used for a conversion.
type RateSnapshot struct {
	Currency   string          `json:"currency,omitempty"`
	Value      decimal.Decimal `json:"value"`
	Date       time.Time       `json:"date"`
	NextDay    bool            `json:"next_day"`
	Provenance Provenance      `json:"provenance"`
}

// Equal compares value, date and provenance.
func (s *RateSnapshot) Equal(o *RateSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Value.Equal(o.Value) && s.Date.Equal(o.Date) && s.Provenance == o.Provenance
}

func (s *RateSnapshot) String() string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%s (%s, %s)", s.Value.String(), s.Date.Format(time.DateOnly), s.Provenance)
}

// CalendarDate returns t's calendar date as a UTC midnight.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateFreshness applies the rate freshness window: date must equal today or
// the next calendar day. date's calendar fields are taken as-is; today is
// now's calendar date in now's location.
func DateFreshness(date, now time.Time) (usable, nextDay bool) {
	day := CalendarDate(date)
	today := CalendarDate(now)
	switch {
	case day.Equal(today):
		return true, false
	case day.Equal(today.AddDate(0, 0, 1)):
		return true, true
	default:
		return false, false
	}
}

// ConversionMode selects which rate converts local-currency amounts.
type ConversionMode string

const (
	ModeNone      ConversionMode = "none"
	ModePrimary   ConversionMode = "rate-primary"
	ModeSecondary ConversionMode = "rate-secondary"
	ModeManual    ConversionMode = "manual"
)

// ParseConversionMode converts a wire name into a ConversionMode.
func ParseConversionMode(s string) (ConversionMode, error) {
	switch m := ConversionMode(s); m {
	case ModeNone, ModePrimary, ModeSecondary, ModeManual:
		return m, nil
	}
	return "", fmt.Errorf("unknown conversion mode %q", s)
}

// UsesService reports whether the mode reads a fetched rate.
func (m ConversionMode) UsesService() bool {
	return m == ModePrimary || m == ModeSecondary
}
