package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *scriptedProvider) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.rate, nil
}

func TestCachedProviderServesFreshValue(t *testing.T) {
	inner := &scriptedProvider{rate: decimal.RequireFromString("92.5")}
	p := NewCachedProvider(inner, time.Minute, decimal.NewFromInt(1))

	got, err := p.Rate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.Equal(t, "92.5", got.String())

	// Second call within TTL hits the cache.
	_, err = p.Rate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProviderFallsBackToStale(t *testing.T) {
	inner := &scriptedProvider{rate: decimal.RequireFromString("92.5")}
	p := NewCachedProvider(inner, 0, decimal.NewFromInt(1)) // zero TTL: always refetch

	_, err := p.Rate(context.Background(), "RUB")
	require.NoError(t, err)

	inner.err = errors.New("rate service down")
	got, err := p.Rate(context.Background(), "RUB")
	require.NoError(t, err, "stale fallback must not surface the fetch error")
	assert.Equal(t, "92.5", got.String())
}

func TestCachedProviderFallsBackToDefault(t *testing.T) {
	inner := &scriptedProvider{err: errors.New("rate service down")}
	p := NewCachedProvider(inner, time.Minute, decimal.RequireFromString("90"))

	got, err := p.Rate(context.Background(), "RUB")
	require.NoError(t, err)
	assert.Equal(t, "90", got.String())
}
