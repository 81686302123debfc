// Package money holds the decimal helpers shared by the allocation engine,
// the settlement record and the HTTP layer.
package money

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SettlementPrecision is the number of decimals shown for settlement-currency amounts.
const SettlementPrecision int32 = 2

// DefaultEpsilon is the reconciliation tolerance in settlement-currency units.
var DefaultEpsilon = decimal.RequireFromString("0.005")

// ParseAmount parses a non-negative decimal amount. Blank input reads as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative: %s", s)
	}
	return d, nil
}

// ParseEpsilon parses a tolerance, falling back to DefaultEpsilon on blank or invalid input.
func ParseEpsilon(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return DefaultEpsilon
	}
	return d
}

// WithinTolerance reports whether |a - b| <= eps.
func WithinTolerance(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Formatter renders amounts with locale-specific separators. Digits come
// from the decimal itself; the printer only supplies the separators.
type Formatter struct {
	precision int32
	symbol    string
	group     string
	point     string
}

// NewFormatter builds a formatter for a BCP 47 locale tag such as "es-VE".
// Unknown tags fall back to English formatting.
func NewFormatter(locale, symbol string, precision int32) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	group, point := separators(message.NewPrinter(tag))
	return &Formatter{
		precision: precision,
		symbol:    symbol,
		group:     group,
		point:     point,
	}
}

// separators reads the grouping and decimal marks off a sample rendering.
func separators(p *message.Printer) (group, point string) {
	sample := []rune(p.Sprintf("%.1f", 1234567.5))
	var marks []string
	var cur []rune
	for _, r := range sample {
		if unicode.IsDigit(r) {
			if len(cur) > 0 {
				marks = append(marks, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	switch len(marks) {
	case 0:
		return "", "."
	case 1:
		return "", marks[0]
	default:
		return marks[0], marks[len(marks)-1]
	}
}

// Format returns the amount rounded to the formatter's precision, with grouping.
func (f *Formatter) Format(d decimal.Decimal) string {
	fixed := d.StringFixed(f.precision)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(f.group)
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteString(f.point)
		b.WriteString(frac)
	}

	if f.symbol == "" {
		return b.String()
	}
	return f.symbol + " " + b.String()
}
