// Package money holds currency amounts as an integer count of minor units
// (paise, cents). Amounts are never stored as binary floats; fractional
// arithmetic such as tax rates goes through shopspring/decimal and is rounded
// once, half-up, back to an integer amount.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units in one major unit.
const MinorPerMajor = 100

const scale = 2

var (
	ErrInvalidAmount = errors.New("invalid money amount")
	ErrOverflow      = errors.New("money amount out of range")
)

// Money is an amount in minor currency units.
type Money int64

// Granularity selects the unit a computed amount is rounded to.
type Granularity int

const (
	// MinorUnit rounds to the nearest paisa/cent.
	MinorUnit Granularity = iota
	// MajorUnit rounds to the nearest whole rupee/dollar.
	MajorUnit
)

func (g Granularity) String() string {
	switch g {
	case MinorUnit:
		return "minor"
	case MajorUnit:
		return "major"
	default:
		return "unknown"
	}
}

// ParseGranularity accepts "minor" or "major".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor":
		return MinorUnit, nil
	case "major":
		return MajorUnit, nil
	default:
		return 0, fmt.Errorf("unknown rounding granularity %q", s)
	}
}

func FromMinor(v int64) Money { return Money(v) }

func FromMajor(v int64) Money { return Money(v * MinorPerMajor) }

// Parse reads a decimal string such as "100", "99.9" or "120.00".
// More than two fractional digits is rejected rather than rounded.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts a major-unit decimal into Money without rounding.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(scale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), scale)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return Money(minor.IntPart()), nil
}

func (m Money) Minor() int64 { return int64(m) }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -scale) }

func (m Money) String() string { return m.Decimal().StringFixed(scale) }

func (m Money) Add(o Money) Money { return m + o }

func (m Money) Sub(o Money) Money { return m - o }

// Mul multiplies by an integer quantity. Exact in minor units.
func (m Money) Mul(qty int) Money { return m * Money(qty) }

// CheckedAdd is Add that reports int64 overflow instead of wrapping.
func (m Money) CheckedAdd(o Money) (Money, error) {
	r := m + o
	if (o > 0 && r < m) || (o < 0 && r > m) {
		return 0, fmt.Errorf("%w: %s + %s", ErrOverflow, m, o)
	}
	return r, nil
}

// CheckedMul is Mul that reports int64 overflow instead of wrapping.
func (m Money) CheckedMul(qty int) (Money, error) {
	if m == 0 || qty == 0 {
		return 0, nil
	}
	q := Money(qty)
	r := m * q
	if r/q != m || (m == math.MinInt64 && q == -1) {
		return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, m, qty)
	}
	return r, nil
}

// MulRate multiplies by a fractional rate and rounds half-up at g.
func (m Money) MulRate(rate decimal.Decimal, g Granularity) Money {
	raw := decimal.NewFromInt(int64(m)).Mul(rate)
	if g == MajorUnit {
		// Round(-2) rounds to the nearest hundred minor units.
		return Money(raw.Round(-scale).IntPart())
	}
	return Money(raw.Round(0).IntPart())
}

func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool { return m == 0 }

func (m Money) IsNegative() bool { return m < 0 }

// Sum adds amounts in order.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total += a
	}
	return total
}

// MarshalJSON writes the amount as a decimal string, e.g. "100.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or a bare JSON number. Numbers are
// parsed as decimals, never through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		raw = string(data[1 : len(data)-1])
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
