package currency

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/apperror"
)

func TestCodec_ToMinorUnits(t *testing.T) {
	codec := MustCodec("USD")

	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"whole amount", "100", 10000},
		{"two decimals", "150.00", 15000},
		{"one decimal", "0.1", 10},
		{"cents", "0.07", 7},
		{"trailing zeros", "12.340", 1234},
		{"surrounding spaces", " 30.00 ", 3000},
		{"zero", "0", 0},
		{"float trap", "0.29", 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.ToMinorUnits(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_ToMinorUnits_Rejects(t *testing.T) {
	codec := MustCodec("USD")

	for _, input := range []string{"", "abc", "-1.00", "1.001", "NaN", "Infinity", "1e400"} {
		t.Run(input, func(t *testing.T) {
			_, err := codec.ToMinorUnits(input)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation), "got %v", err)
		})
	}
}

func TestCodec_ParseAmount_RejectsZero(t *testing.T) {
	codec := MustCodec("USD")

	_, err := codec.ParseAmount("0.00")
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	minor, err := codec.ParseAmount("50.00")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), minor)
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := MustCodec("USD")

	for _, v := range []string{"0.00", "0.01", "0.10", "0.29", "1.15", "19.99", "150.00", "123456789.99", "92233720368547758.07"} {
		minor, err := codec.ToMinorUnits(v)
		require.NoError(t, err)
		assert.Equal(t, v, codec.FromMinorUnits(minor))
	}
}

func TestCodec_NoDriftOnRepeatedAddition(t *testing.T) {
	codec := MustCodec("USD")

	step, err := codec.ParseAmount("0.10")
	require.NoError(t, err)

	var balance int64
	for i := 0; i < 1000; i++ {
		balance, err = Add(balance, step)
		require.NoError(t, err)
	}

	assert.Equal(t, "100.00", codec.FromMinorUnits(balance))
}

func TestCodec_Display(t *testing.T) {
	codec := MustCodec("usd")
	assert.Equal(t, "USD", codec.Currency())
	assert.Equal(t, "$150.00", codec.Display(15000))
}

func TestNewCodec_UnknownCurrency(t *testing.T) {
	_, err := NewCodec("XXXX")
	assert.Error(t, err)
}

func TestAddSub(t *testing.T) {
	_, err := Add(math.MaxInt64, 1)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = Sub(100, 101)
	assert.True(t, apperror.IsKind(err, apperror.KindInsufficientFunds))

	got, err := Sub(15000, 15000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}
