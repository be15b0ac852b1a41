// Package currency converts between boundary decimal amounts and the integer
// minor units every balance computation runs on.
package currency

import (
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/ruralpay/ledger/internal/apperror"
)

const DefaultCurrency = "USD"

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Codec is bound to one currency; its fraction digits define the minor unit.
type Codec struct {
	cur      *money.Currency
	exponent int32
}

func NewCodec(code string) (*Codec, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return nil, fmt.Errorf("unknown currency %q", code)
	}
	return &Codec{cur: cur, exponent: int32(cur.Fraction)}, nil
}

// MustCodec is NewCodec for package-level defaults and tests.
func MustCodec(code string) *Codec {
	c, err := NewCodec(code)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Currency() string { return c.cur.Code }

// ToMinorUnits parses a non-negative decimal amount. Values with more
// precision than the minor unit, negatives, and anything that is not a
// finite number fail with a validation error.
func (c *Codec) ToMinorUnits(value string) (int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, apperror.Validation("amount is required")
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, apperror.Validation("amount %q is not a decimal number", raw)
	}
	if d.IsNegative() {
		return 0, apperror.Validation("amount %q must not be negative", raw)
	}

	shifted := d.Shift(c.exponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, apperror.Validation("amount %q has more than %d fractional digits", raw, c.exponent)
	}
	if shifted.GreaterThan(maxMinor) {
		return 0, apperror.Validation("amount %q is out of range", raw)
	}

	return shifted.IntPart(), nil
}

// ParseAmount is ToMinorUnits for movement amounts, which must be positive.
func (c *Codec) ParseAmount(value string) (int64, error) {
	minor, err := c.ToMinorUnits(value)
	if err != nil {
		return 0, err
	}
	if minor == 0 {
		return 0, apperror.Validation("amount must be greater than zero")
	}
	return minor, nil
}

// FromMinorUnits renders minor units as a fixed-point decimal string, e.g. 15000 -> "150.00".
func (c *Codec) FromMinorUnits(minor int64) string {
	return c.Decimal(minor).StringFixed(c.exponent)
}

func (c *Codec) Decimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.exponent)
}

// Display formats minor units with the currency symbol, e.g. "$150.00".
func (c *Codec) Display(minor int64) string {
	return money.New(minor, c.cur.Code).Display()
}

// Add and Sub guard the int64 range so a balance can never wrap around.
func Add(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, apperror.Validation("resulting balance is out of range")
	}
	return a + b, nil
}

func Sub(a, b int64) (int64, error) {
	if b > a {
		return 0, apperror.InsufficientFunds()
	}
	return a - b, nil
}
