package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNotionalRoundsHalfUp(t *testing.T) {
	p := NewPolicy(dec("0.001"))

	tests := []struct {
		name     string
		quantity string
		price    string
		want     string
	}{
		{"exact", "10", "100", "1000"},
		{"half rounds up", "5", "100.1", "501"}, // 500.5
		{"below half rounds down", "3", "100.1", "300"}, // 300.3
		{"fractional quantity", "2.5", "99", "248"}, // 247.5
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Notional(dec(tt.quantity), dec(tt.price))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestFee(t *testing.T) {
	p := NewPolicy(dec("0.001"))

	assert.True(t, p.Fee(dec("1200")).Equal(dec("1")))  // 1.2
	assert.True(t, p.Fee(dec("495")).Equal(dec("0")))   // 0.495
	assert.True(t, p.Fee(dec("500")).Equal(dec("1")))   // 0.5 exactly, half up
	assert.True(t, p.Fee(dec("12000")).Equal(dec("12")))
}

func TestReserveIncludesWorstCaseFee(t *testing.T) {
	p := NewPolicy(dec("0.001"))

	// 12 @ 100: notional 1200, fee 1.2 -> 1
	assert.True(t, p.Reserve(dec("12"), dec("100")).Equal(dec("1201")))
	// 5 @ 100: notional 500, fee 0.5 -> 1
	assert.True(t, p.Reserve(dec("5"), dec("100")).Equal(dec("501")))
}

func TestRefundOnPriceImprovement(t *testing.T) {
	p := NewPolicy(dec("0.001"))

	// limit 100, exec 99, qty 5: diff notional 5, fee on it 0
	assert.True(t, p.Refund(dec("5"), dec("100"), dec("99")).Equal(dec("5")))
	// limit 110, exec 100, qty 100: diff notional 1000, fee 1
	assert.True(t, p.Refund(dec("100"), dec("110"), dec("100")).Equal(dec("1001")))
	// no improvement
	assert.True(t, p.Refund(dec("5"), dec("100"), dec("100")).Equal(decimal.Zero))
}

func TestZeroFeeRate(t *testing.T) {
	p := NewPolicy(decimal.Zero)
	assert.True(t, p.Reserve(dec("10"), dec("100")).Equal(dec("1000")))
	assert.True(t, p.Fee(dec("1000")).Equal(decimal.Zero))
}
