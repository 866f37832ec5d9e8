package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
)

// RebalanceEngine detects drift from target weights and submits corrective trades.
type RebalanceEngine struct {
	store     RebalancerStore
	validator PermissionValidator
	ledger    LedgerExecutor
	oracle    Oracle
	analytics ExecutionPublisher
	cfg       EngineConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRebalanceEngine(store RebalancerStore, validator PermissionValidator, ledger LedgerExecutor, oracle Oracle, analytics ExecutionPublisher, cfg EngineConfig) *RebalanceEngine {
	if analytics == nil {
		analytics = nopPublisher{}
	}
	return &RebalanceEngine{
		store:     store,
		validator: validator,
		ledger:    ledger,
		oracle:    oracle,
		analytics: analytics,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func (e *RebalanceEngine) Name() string { return string(model.ExecutionRebalance) }

// ProcessAll runs every active config strictly one after another.
func (e *RebalanceEngine) ProcessAll(ctx context.Context) ([]model.Result, error) {
	configs, err := e.store.ActiveRebalancers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rebalancers: %w", err)
	}

	results := make([]model.Result, 0, len(configs))
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := e.ProcessOne(ctx, cfg)
		results = append(results, res)
		if res.Outcome == model.OutcomeSuccess {
			if err := e.sleep(ctx, e.cfg.InterItemDelay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// ProcessOne evaluates a single config: cooldown, permission, snapshot,
// recommendations, threshold, then execution.
func (e *RebalanceEngine) ProcessOne(ctx context.Context, cfg *model.RebalancerConfig) (res model.Result) {
	defer finish(model.ExecutionRebalance, cfg.ID, &res, e.now)

	kind := model.ExecutionRebalance
	log := logger.With("config_id", cfg.ID, "owner", cfg.Owner)
	now := e.now()

	if !cfg.Active {
		return model.Skip(kind, cfg.ID, model.ReasonInactive)
	}

	// 1. Cooldown
	if !cfg.LastRebalanceTime.IsZero() && now.Sub(cfg.LastRebalanceTime) < e.cfg.RebalanceCooldown {
		return model.Skip(kind, cfg.ID, model.ReasonTooSoon)
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid rebalancer config", "error", err)
		return model.Failure(kind, cfg.ID, fmt.Errorf("invalid config: %w", err))
	}

	// 2. Permission, advisory
	verdict := e.validator.Validate(ctx, AllowanceCheck{
		PermissionID: cfg.PermissionID,
		Owner:        cfg.Owner,
		Amount:       e.cfg.ReferenceAmount,
		Advisory:     true,
	})
	if !verdict.Valid {
		skip := model.Skip(kind, cfg.ID, model.ReasonPermissionInvalid)
		skip.Detail = verdict.Reason
		return skip
	}

	// 3. Snapshot
	snap, err := e.snapshot(ctx, cfg)
	if err != nil {
		log.Warn("portfolio snapshot failed", "error", err)
		return model.Failure(kind, cfg.ID, fmt.Errorf("snapshot: %w", err))
	}

	// 4. Recommendations
	proposals := Recommend(cfg.Assets, snap, e.cfg.NoiseFloor)

	// 5. Trigger
	maxDev := MaxDeviation(cfg.Assets, snap)
	if maxDev < cfg.ThresholdPercent {
		skip := model.Skip(kind, cfg.ID, model.ReasonBelowThreshold)
		skip.Detail = fmt.Sprintf("max deviation %.2f < threshold %.2f", maxDev, cfg.ThresholdPercent)
		skip.Proposals = proposals
		return skip
	}
	recs := model.Recommendations(proposals)
	if len(recs) == 0 {
		skip := model.Skip(kind, cfg.ID, model.ReasonNoRecommendations)
		skip.Proposals = proposals
		return skip
	}

	// 6. The config may have been paused or stopped since the cycle began.
	current, err := e.store.GetRebalancer(ctx, cfg.ID)
	if err != nil {
		return model.Failure(kind, cfg.ID, fmt.Errorf("reload config: %w", err))
	}
	if !current.Active || current.DeletedAt != nil {
		log.Info("config deactivated mid-cycle")
		skip := model.Skip(kind, cfg.ID, model.ReasonInactive)
		skip.Proposals = proposals
		return skip
	}

	// 7. Execute
	order := model.RebalanceOrder{PermissionID: cfg.PermissionID}
	for _, rec := range recs {
		expected, err := e.oracle.Quote(ctx, rec.AssetFrom, rec.AssetTo, rec.AmountFrom)
		if err != nil {
			failed := model.Failure(kind, cfg.ID, fmt.Errorf("quote %s->%s: %w", rec.AssetFrom, rec.AssetTo, err))
			failed.Proposals = proposals
			return failed
		}
		order.AssetsFrom = append(order.AssetsFrom, rec.AssetFrom)
		order.AssetsTo = append(order.AssetsTo, rec.AssetTo)
		order.Amounts = append(order.Amounts, rec.AmountFrom)
		order.MinOuts = append(order.MinOuts, applySlippage(expected, e.cfg.Slippage))
	}

	entry := model.NewExecutionLog(kind, cfg.ID, cfg.Owner, cfg.PermissionID, now)
	entry.Legs = make([]model.TradeLeg, len(recs))
	for i := range recs {
		entry.Legs[i] = model.TradeLeg{
			AssetFrom: order.AssetsFrom[i],
			AssetTo:   order.AssetsTo[i],
			AmountIn:  order.Amounts[i],
			MinOut:    order.MinOuts[i],
		}
	}

	receipt, err := e.ledger.ExecuteRebalance(ctx, order)
	if err != nil {
		entry.Status = model.StatusFailed
		entry.Error = err.Error()
		if appendErr := e.store.AppendLog(ctx, entry); appendErr != nil {
			logger.LogError(ctx, appendErr, "append failed execution log", "config_id", cfg.ID)
		}
		e.analytics.Publish(entry)
		log.Warn("rebalance execution failed", "error", err)
		failed := model.Failure(kind, cfg.ID, err)
		failed.Proposals = proposals
		return failed
	}

	entry.Status = model.StatusSuccess
	entry.TxRef = receipt.TxRef
	entry.GasUsed = receipt.GasUsed
	for i := range entry.Legs {
		if i < len(receipt.AmountsOut) {
			entry.Legs[i].AmountOut = receipt.AmountsOut[i]
		}
	}

	if err := e.store.RecordRebalance(ctx, cfg.ID, now, entry); err != nil {
		logger.LogError(ctx, err, "record rebalance", "config_id", cfg.ID, "tx", receipt.TxRef)
		e.analytics.Publish(entry)
		failed := model.Failure(kind, cfg.ID, fmt.Errorf("executed %s but failed to record: %w", receipt.TxRef, err))
		failed.Proposals = proposals
		return failed
	}
	cfg.LastRebalanceTime = now
	cfg.TotalRebalances++

	e.analytics.Publish(entry)
	log.Info("rebalance executed", "tx", receipt.TxRef, "trades", len(recs), "max_deviation", maxDev)

	res = model.Success(kind, cfg.ID, receipt.TxRef)
	res.AmountsOut = receipt.AmountsOut
	res.Proposals = proposals
	return res
}

func (e *RebalanceEngine) snapshot(ctx context.Context, cfg *model.RebalancerConfig) (Snapshot, error) {
	ids := cfg.AssetIDs()
	balances, err := e.oracle.GetBalances(ctx, ids, cfg.Owner)
	if err != nil {
		return Snapshot{}, fmt.Errorf("balances: %w", err)
	}

	holdings := make([]Holding, 0, len(ids))
	for _, id := range ids {
		balance := balances[id]
		if balance == nil {
			balance = new(big.Int)
		}
		decimals, err := e.oracle.GetDecimals(ctx, id)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decimals %s: %w", id, err)
		}
		usd := 0.0
		if balance.Sign() > 0 {
			usd, err = e.oracle.GetUsdValue(ctx, id, balance)
			if err != nil {
				return Snapshot{}, fmt.Errorf("usd value %s: %w", id, err)
			}
		}
		holdings = append(holdings, Holding{AssetID: id, Balance: balance, Decimals: decimals, USDValue: usd})
	}
	return NewSnapshot(holdings), nil
}
