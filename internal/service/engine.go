package service

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// EngineConfig holds the fixed execution parameters shared by both engines.
type EngineConfig struct {
	Slippage          decimal.Decimal // 0.05 = 5%
	InterItemDelay    time.Duration
	RebalanceCooldown time.Duration
	ReferenceAmount   *big.Int // advisory amount for rebalance permission checks
	NoiseFloor        float64  // percentage points
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Slippage:          decimal.NewFromFloat(0.05),
		InterItemDelay:    2 * time.Second,
		RebalanceCooldown: time.Hour,
		ReferenceAmount:   big.NewInt(1_000_000),
		NoiseFloor:        0.1,
	}
}

// PermissionValidator is satisfied by AllowanceValidator.
type PermissionValidator interface {
	Validate(ctx context.Context, check AllowanceCheck) Verdict
}

// Engine is one unit of work driven by the scheduler.
type Engine interface {
	Name() string
	ProcessAll(ctx context.Context) ([]model.Result, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(*model.ExecutionLog) {}

// applySlippage returns floor(expected * (1 - slippage)).
func applySlippage(expected *big.Int, slippage decimal.Decimal) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return new(big.Int)
	}
	factor := decimal.NewFromInt(1).Sub(slippage)
	if factor.IsNegative() {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(expected, 0).Mul(factor).Floor().BigInt()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finish must be deferred directly. It converts a panic inside a single item
// into a failure result, then stamps and counts the result.
func finish(kind model.ExecutionType, itemID string, res *model.Result, now func() time.Time) {
	if r := recover(); r != nil {
		logger.Error("item processing panicked", "kind", kind, "item_id", itemID, "panic", r, "stack", string(debug.Stack()))
		*res = model.Failure(kind, itemID, fmt.Errorf("panic: %v", r))
	}
	res.At = now().UTC()
	observe(*res)
}

func observe(res model.Result) {
	metrics.ExecutionsTotal.WithLabelValues(string(res.Kind), string(res.Outcome)).Inc()
	if res.Outcome == model.OutcomeSkipped {
		metrics.SkipsTotal.WithLabelValues(string(res.Kind), res.Reason).Inc()
	}
}

func addInt(a, b *big.Int) *big.Int {
	out := new(big.Int)
	if a != nil {
		out.Set(a)
	}
	if b != nil {
		out.Add(out, b)
	}
	return out
}
