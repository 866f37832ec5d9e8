package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const assetPlaceholder = "{asset}"

type HTTPPriceOptions struct {
	URLTemplate       string // e.g. https://prices.example/v1/{asset}
	PathTemplate      string // gjson path, e.g. data.{asset}.usd
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Timeout           time.Duration
}

type cachedPrice struct {
	price   decimal.Decimal
	expires time.Time
}

// HTTPPriceSource fetches USD prices from a JSON endpoint. Requests are rate
// limited, cached and guarded by a circuit breaker.
type HTTPPriceSource struct {
	client  *http.Client
	opts    HTTPPriceOptions
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

func NewHTTPPriceSource(opts HTTPPriceOptions, breaker *gobreaker.CircuitBreaker) *HTTPPriceSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PathTemplate == "" {
		opts.PathTemplate = "price"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if breaker == nil {
		breaker = ledger.NewBreaker(ledger.BreakerSettings{Name: "price-http"})
	}
	return &HTTPPriceSource{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
		now:     time.Now,
		cache:   make(map[string]cachedPrice),
	}
}

func (s *HTTPPriceSource) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := strings.ToLower(asset)
	if p, ok := s.cached(key); ok {
		return p, nil
	}
	if s.opts.URLTemplate == "" {
		return decimal.Zero, fmt.Errorf("no price source configured for %s", asset)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	price, err := ledger.Guard(s.breaker, "httpPrice", func() (decimal.Decimal, error) {
		return s.fetch(ctx, asset)
	})
	if err != nil {
		return decimal.Zero, err
	}

	if s.opts.CacheTTL > 0 {
		s.mu.Lock()
		s.cache[key] = cachedPrice{price: price, expires: s.now().Add(s.opts.CacheTTL)}
		s.mu.Unlock()
	}
	return price, nil
}

func (s *HTTPPriceSource) cached(key string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return decimal.Zero, false
	}
	if s.now().After(entry.expires) {
		delete(s.cache, key)
		return decimal.Zero, false
	}
	return entry.price, true
}

func (s *HTTPPriceSource) fetch(ctx context.Context, asset string) (decimal.Decimal, error) {
	url := strings.ReplaceAll(s.opts.URLTemplate, assetPlaceholder, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request for %s: %w", asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price request for %s: status %d", asset, resp.StatusCode)
	}

	path := strings.ReplaceAll(s.opts.PathTemplate, assetPlaceholder, gjsonEscape(asset))
	value := gjson.GetBytes(body, path)
	if !value.Exists() {
		return decimal.Zero, fmt.Errorf("price for %s not found at %q", asset, path)
	}
	price, err := decimal.NewFromString(value.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price for %s: %w", asset, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s", asset)
	}
	return price, nil
}

// gjsonEscape escapes path syntax characters so asset ids can be used as keys.
func gjsonEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
