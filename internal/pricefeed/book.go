package pricefeed

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest USD price of one asset.
type Quote struct {
	Asset     string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// PriceBook keeps the latest USD price per asset. Asset ids are case-insensitive.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time
}

func NewPriceBook() *PriceBook {
	return &PriceBook{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// Update stores price for asset. Non-positive prices are ignored.
func (b *PriceBook) Update(asset string, price decimal.Decimal) {
	if asset == "" || !price.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(asset)
	b.quotes[key] = Quote{Asset: asset, Price: price, UpdatedAt: b.now()}
}

// Price returns the price for asset if it is younger than maxAge.
func (b *PriceBook) Price(asset string, maxAge time.Duration) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[strings.ToLower(asset)]
	if !ok {
		return decimal.Zero, false
	}
	if maxAge > 0 && b.now().Sub(q.UpdatedAt) > maxAge {
		return decimal.Zero, false
	}
	return q.Price, true
}

func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}
