package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rub = Currency{Code: "RUB", Integer: true}
	usd = Currency{Code: "USD", Integer: false}
)

func TestRoundForHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		cur  Currency
		want string
	}{
		{"10.005", usd, "10.01"},
		{"10.004", usd, "10"},
		{"10.5", rub, "11"},
		{"10.49", rub, "10"},
		{"-10.005", usd, "-10.01"},
	}
	for _, tc := range cases {
		got := MustFromString(tc.in).RoundFor(tc.cur)
		assert.True(t, got.Equal(MustFromString(tc.want)),
			"RoundFor(%s, %s) = %s, want %s", tc.in, tc.cur.Code, got, tc.want)
	}
}

func TestRoundForIdempotent(t *testing.T) {
	for _, cur := range []Currency{rub, usd} {
		once := MustFromString("123.456").RoundFor(cur)
		twice := once.RoundFor(cur)
		assert.True(t, once.Equal(twice), "double rounding drifted for %s", cur.Code)
	}
}

func TestPercentOfClamps(t *testing.T) {
	amount := MustFromString("200")

	assert.Equal(t, "20", amount.PercentOf(decimal.NewFromInt(10)).String())
	// Out-of-range percents clamp instead of exploding the amount.
	assert.Equal(t, "200", amount.PercentOf(decimal.NewFromInt(150)).String())
	assert.Equal(t, "0", amount.PercentOf(decimal.NewFromInt(-5)).String())
}

func TestApplyDiscount(t *testing.T) {
	price := MustFromString("100")
	assert.Equal(t, "90", price.ApplyDiscount(decimal.NewFromInt(10)).String())
	assert.Equal(t, "100", price.ApplyDiscount(decimal.NewFromInt(-10)).String())
	assert.Equal(t, "0", price.ApplyDiscount(decimal.NewFromInt(999)).String())
}

func TestConvert(t *testing.T) {
	total := MustFromString("180")
	rate := decimal.RequireFromString("92.5")

	got := total.Convert(rate, rub)
	assert.Equal(t, "16650", got.String())

	gotUSD := MustFromString("10.333").Convert(decimal.NewFromInt(1), usd)
	assert.Equal(t, "10.33", gotUSD.String())
}

// The sum of per-line rounded amounts must stay within one minor unit of the
// rounded order total.
func TestLineSumStability(t *testing.T) {
	unit := MustFromString("33.335")
	lines := 3

	sumRounded := Zero()
	for i := 0; i < lines; i++ {
		sumRounded = sumRounded.Add(unit.RoundFor(usd))
	}
	totalRounded := unit.MulInt(lines).RoundFor(usd)

	diff := sumRounded.Sub(totalRounded).Decimal().Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
		"line sum %s diverged from total %s", sumRounded, totalRounded)
}

func TestScanValueRoundTrip(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan([]byte("49.90")))
	assert.Equal(t, "49.9", m.String())

	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "49.9", v)
}

func TestArithmeticNeverFloats(t *testing.T) {
	// 0.1 + 0.2 is the canonical binary-float trap.
	got := MustFromString("0.1").Add(MustFromString("0.2"))
	assert.Equal(t, "0.3", got.String())
}
