package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Provider converts one unit of the base currency into the target currency.
type Provider interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// HTTPProvider fetches rates from the (external) rate service as a JSON map
// of currency code to decimal string.
type HTTPProvider struct {
	url    string
	client *http.Client
}

func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rates: unexpected status %d", resp.StatusCode)
	}

	var table map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return decimal.Zero, fmt.Errorf("rates: decode: %w", err)
	}
	rate, ok := table[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: no rate for %s", currency)
	}
	return rate, nil
}

// CachedProvider wraps another provider and fails soft: a fetch error falls
// back to the last good value within its TTL, then to the configured default.
// Order totals keep computing even when the rate service is down.
type CachedProvider struct {
	inner       Provider
	ttl         time.Duration
	defaultRate decimal.Decimal

	mu    sync.Mutex
	cache map[string]cachedRate
}

type cachedRate struct {
	rate    decimal.Decimal
	fetched time.Time
}

func NewCachedProvider(inner Provider, ttl time.Duration, defaultRate decimal.Decimal) *CachedProvider {
	return &CachedProvider{
		inner:       inner,
		ttl:         ttl,
		defaultRate: defaultRate,
		cache:       make(map[string]cachedRate),
	}
}

func (c *CachedProvider) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	c.mu.Lock()
	entry, found := c.cache[currency]
	c.mu.Unlock()

	if found && time.Since(entry.fetched) < c.ttl {
		return entry.rate, nil
	}

	rate, err := c.inner.Rate(ctx, currency)
	if err == nil {
		c.mu.Lock()
		c.cache[currency] = cachedRate{rate: rate, fetched: time.Now()}
		c.mu.Unlock()
		return rate, nil
	}

	if found {
		log.Warn().Err(err).Str("currency", currency).
			Msg("Rate fetch failed, serving stale cached rate")
		return entry.rate, nil
	}

	log.Warn().Err(err).Str("currency", currency).
		Msg("Rate fetch failed with empty cache, serving default rate")
	return c.defaultRate, nil
}
