// Package core provides money parsing and handling utilities.
//
// Amounts are held as integer cents. Conversions to and from decimal text
// go through shopspring/decimal so no float arithmetic touches a balance.
package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents) of the single supported currency.
type Money struct {
	Cents int64
}

var maxCents = decimal.NewFromInt(1<<63 - 1)

// ParseDecimalToCents converts a decimal string to cents.
//
// Dot (12.34) and comma (12,34) separators are accepted and the third
// decimal place is rounded half-up. Signs, zero and malformed input are
// rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseDecimalToCents("12.34")  -> 1234, nil
//	ParseDecimalToCents("12,34")  -> 1234, nil
//	ParseDecimalToCents("12.344") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return decimalToCents(d)
}

// MoneyFromDecimal rounds d to whole cents.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents, err := decimalToCents(d)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

func decimalToCents(d decimal.Decimal) (int64, error) {
	c := d.Shift(2).Round(0)
	if !c.IsPositive() || c.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount
	}
	return c.IntPart(), nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// CheckedAdd is Add that reports ErrAmountOverflow instead of wrapping.
func (m Money) CheckedAdd(o Money) (Money, error) {
	sum := m.Cents + o.Cents
	if (o.Cents > 0 && sum < m.Cents) || (o.Cents < 0 && sum > m.Cents) {
		return Money{}, ErrAmountOverflow
	}
	return Money{Cents: sum}, nil
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two decimals, e.g. "12.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a JSON number in major units (300, 12.5).
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	c := d.Shift(2).Round(0)
	if c.Abs().GreaterThan(maxCents) {
		return fmt.Errorf("%w: %q out of range", ErrInvalidAmount, raw)
	}
	m.Cents = c.IntPart()
	return nil
}
