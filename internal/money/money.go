// Package money holds the fixed-point helpers used for every monetary field.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the precision used when amounts are rendered to users.
const DisplayPlaces = 2

// StoragePlaces is the scale of every money column.
const StoragePlaces = 4

var ErrInvalidAmount = errors.New("invalid_amount")

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse reads a decimal from its string form. Blank input parses to zero.
// Values finer than StoragePlaces are rejected.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Zero, nil
	}
	return parseStorable(raw)
}

func parseStorable(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil || !IsStorable(d) {
		return Zero, ErrInvalidAmount
	}
	return d, nil
}

// IsStorable reports whether d fits the column scale without rounding.
func IsStorable(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(StoragePlaces))
}

// IsValidCharge reports whether d is a positive amount the ledger can store.
func IsValidCharge(d decimal.Decimal) bool {
	return IsPositive(d) && IsStorable(d)
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// OrZero normalises a nullable column to a concrete value.
func OrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return Zero
	}
	return *d
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(DisplayPlaces)
}

// Format renders an amount for messages, e.g. "1,250.00".
func Format(d decimal.Decimal) string {
	s := d.StringFixed(DisplayPlaces)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Amount is a request-side decimal that accepts both JSON strings and JSON
// numbers without passing through float64.
type Amount struct {
	decimal.Decimal
	Set bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.Decimal = Zero
		a.Set = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAmount
		}
		d, err := parseStorable(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		a.Decimal = d
		a.Set = true
		return nil
	}
	d, err := parseStorable(string(data))
	if err != nil {
		return err
	}
	a.Decimal = d
	a.Set = true
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Set {
		return []byte("null"), nil
	}
	return json.Marshal(a.Decimal.String())
}
