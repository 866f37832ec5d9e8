package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pkg/metrics"
	"github.com/GoPolymarket/autopilot/internal/pricefeed"
	"github.com/shopspring/decimal"
)

// BalanceReader is the on-chain half of the oracle.
type BalanceReader interface {
	BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error)
	Decimals(ctx context.Context, asset string) (int, error)
}

// PriceSource returns a USD price per whole unit of asset.
type PriceSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Oracle answers balance, decimals and USD questions for the engines.
// Prices come from the stream when fresh, otherwise from the fallback source.
type Oracle struct {
	tokens     BalanceReader
	stream     pricefeed.Provider
	fallback   PriceSource
	staleAfter time.Duration
}

// New builds an oracle. stream and fallback may each be nil, but not both.
func New(tokens BalanceReader, stream pricefeed.Provider, fallback PriceSource, staleAfter time.Duration) (*Oracle, error) {
	if tokens == nil {
		return nil, errors.New("oracle needs a balance reader")
	}
	if stream == nil && fallback == nil {
		return nil, errors.New("oracle needs a price stream or a fallback source")
	}
	return &Oracle{tokens: tokens, stream: stream, fallback: fallback, staleAfter: staleAfter}, nil
}

// Watch subscribes the stream to assets ahead of their first use.
func (o *Oracle) Watch(assets ...string) {
	if o.stream != nil {
		o.stream.Subscribe(assets)
	}
}

func (o *Oracle) GetBalances(ctx context.Context, assets []string, owner string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(assets))
	for _, asset := range assets {
		balance, err := o.tokens.BalanceOf(ctx, asset, owner)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", asset, err)
		}
		out[asset] = balance
	}
	return out, nil
}

func (o *Oracle) GetDecimals(ctx context.Context, asset string) (int, error) {
	return o.tokens.Decimals(ctx, asset)
}

// GetUsdValue prices amount base units of asset.
func (o *Oracle) GetUsdValue(ctx context.Context, asset string, amount *big.Int) (float64, error) {
	value, err := o.usdValue(ctx, asset, amount)
	if err != nil {
		return 0, err
	}
	f, _ := value.Float64()
	return f, nil
}

// Quote converts amount of from into to through their USD prices.
func (o *Oracle) Quote(ctx context.Context, from, to string, amount *big.Int) (*big.Int, error) {
	usd, err := o.usdValue(ctx, from, amount)
	if err != nil {
		return nil, err
	}
	toPrice, err := o.price(ctx, to)
	if err != nil {
		return nil, err
	}
	toDecimals, err := o.tokens.Decimals(ctx, to)
	if err != nil {
		return nil, err
	}
	out := usd.DivRound(toPrice, int32(toDecimals)+8).Shift(int32(toDecimals)).Floor()
	return out.BigInt(), nil
}

func (o *Oracle) usdValue(ctx context.Context, asset string, amount *big.Int) (decimal.Decimal, error) {
	if amount == nil || amount.Sign() == 0 {
		return decimal.Zero, nil
	}
	decimals, err := o.tokens.Decimals(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := o.price(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).Mul(price), nil
}

func (o *Oracle) price(ctx context.Context, asset string) (decimal.Decimal, error) {
	if o.stream != nil {
		if p, ok := o.stream.Price(asset, o.staleAfter); ok {
			metrics.PriceSource.WithLabelValues("stream").Inc()
			return p, nil
		}
		o.stream.Subscribe([]string{asset})
	}
	if o.fallback == nil {
		return decimal.Zero, fmt.Errorf("no fresh price for %s", asset)
	}
	p, err := o.fallback.Price(ctx, asset)
	if err != nil {
		logger.Warn("price lookup failed", "asset", asset, "error", err)
		return decimal.Zero, fmt.Errorf("price of %s: %w", asset, err)
	}
	metrics.PriceSource.WithLabelValues("http").Inc()
	return p, nil
}
