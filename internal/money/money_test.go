package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse(" 1000.01 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1000.01")))

	d, err = Parse("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = Parse("12,00")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	d, err = Parse("1.50000")
	require.NoError(t, err)
	assert.Equal(t, "1.5", d.String())

	_, err = Parse("299.99999")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("0.00001")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestIsValidCharge(t *testing.T) {
	assert.True(t, IsValidCharge(MustParse("0.0001")))
	assert.False(t, IsValidCharge(decimal.RequireFromString("0.00005")))
	assert.False(t, IsValidCharge(Zero))
	assert.False(t, IsValidCharge(MustParse("-1")))
	assert.True(t, IsStorable(decimal.RequireFromString("12.340000")))
}

func TestSumAndMin(t *testing.T) {
	total := Sum(MustParse("0.1"), MustParse("0.2"), MustParse("0.3"))
	assert.Equal(t, "0.6", total.String())

	assert.Equal(t, "30", Min(MustParse("50"), MustParse("30")).String())
	assert.Equal(t, "0", ClampZero(MustParse("-4")).String())
	assert.True(t, OrZero(nil).IsZero())
}

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"0":           "0.00",
		"50":          "50.00",
		"1250.5":      "1,250.50",
		"1234567.891": "1,234,567.89",
		"-1000":       "-1,000.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, Format(MustParse(in)), in)
	}
}

func TestAmountUnmarshal(t *testing.T) {
	var payload struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a":"1000.01","b":0.1,"c":null}`), &payload)
	require.NoError(t, err)

	assert.True(t, payload.A.Set)
	assert.Equal(t, "1000.01", payload.A.String())
	assert.Equal(t, "0.1", payload.B.String())
	assert.False(t, payload.C.Set)

	err = json.Unmarshal([]byte(`{"a":"abc"}`), &payload)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"a":"299.99999"}`), &payload)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	err = json.Unmarshal([]byte(`{"a":0.00001}`), &payload)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
