package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-precision amount. Every monetary value in the system flows
// through this type; float64 never touches an amount between parsing and
// persistence.
type Money struct {
	dec decimal.Decimal
}

// Currency carries the rounding policy for a settlement currency.
// Integer currencies (RUB and friends) round to whole units.
type Currency struct {
	Code    string
	Integer bool
}

func Zero() Money { return Money{} }

func FromDecimal(d decimal.Decimal) Money { return Money{dec: d} }

func FromInt(n int64) Money { return Money{dec: decimal.NewFromInt(n)} }

// FromString parses a decimal string, e.g. "199.90".
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{dec: d}, nil
}

// MustFromString is for constants and tests.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.dec }
func (m Money) String() string           { return m.dec.String() }
func (m Money) IsZero() bool             { return m.dec.IsZero() }
func (m Money) IsNegative() bool         { return m.dec.IsNegative() }

func (m Money) Equal(o Money) bool    { return m.dec.Equal(o.dec) }
func (m Money) LessThan(o Money) bool { return m.dec.LessThan(o.dec) }

func (m Money) Add(o Money) Money { return Money{dec: m.dec.Add(o.dec)} }
func (m Money) Sub(o Money) Money { return Money{dec: m.dec.Sub(o.dec)} }

// MulInt scales by a quantity.
func (m Money) MulInt(n int) Money {
	return Money{dec: m.dec.Mul(decimal.NewFromInt(int64(n)))}
}

func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{dec: m.dec.Mul(factor)}
}

func (m Money) Div(divisor decimal.Decimal) Money {
	return Money{dec: m.dec.Div(divisor)}
}

// PercentOf returns percent% of m. Percent is clamped to [0,100] so a
// mistyped discount can never invert or inflate an amount.
func (m Money) PercentOf(percent decimal.Decimal) Money {
	p := clampPercent(percent)
	return Money{dec: m.dec.Mul(p).Div(decimal.NewFromInt(100))}
}

// ApplyDiscount subtracts percent% from m, with the same clamping.
func (m Money) ApplyDiscount(percent decimal.Decimal) Money {
	return m.Sub(m.PercentOf(percent))
}

func clampPercent(p decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// RoundFor applies the currency's display/settlement rounding: half-up to
// whole units for integer currencies, half-up to 2 decimals otherwise.
// Idempotent: rounding an already-rounded value returns it unchanged.
func (m Money) RoundFor(cur Currency) Money {
	if cur.Integer {
		return Money{dec: m.dec.Round(0)}
	}
	return Money{dec: m.dec.Round(2)}
}

// Convert multiplies by an exchange rate and rounds for the target currency.
func (m Money) Convert(rate decimal.Decimal, target Currency) Money {
	return Money{dec: m.dec.Mul(rate)}.RoundFor(target)
}

// Scan implements sql.Scanner so DECIMAL columns load directly into Money.
func (m *Money) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	m.dec = d
	return nil
}

// Value implements driver.Valuer; amounts are stored as decimal strings.
func (m Money) Value() (driver.Value, error) {
	return m.dec.Value()
}

// MarshalJSON renders the amount as a JSON string to keep clients away from
// binary floats.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.dec.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("money: unmarshal: %w", err)
	}
	m.dec = d
	return nil
}
