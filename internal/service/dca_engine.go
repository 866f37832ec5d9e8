package service

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
)

// DCAEngine executes at most one recurring purchase per due plan per cycle.
type DCAEngine struct {
	store     PlanStore
	validator PermissionValidator
	ledger    LedgerExecutor
	oracle    Oracle
	analytics ExecutionPublisher
	cfg       EngineConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDCAEngine(store PlanStore, validator PermissionValidator, ledger LedgerExecutor, oracle Oracle, analytics ExecutionPublisher, cfg EngineConfig) *DCAEngine {
	if analytics == nil {
		analytics = nopPublisher{}
	}
	return &DCAEngine{
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

func (e *DCAEngine) Name() string { return string(model.ExecutionDCA) }

// ProcessAll runs every active plan strictly one after another.
func (e *DCAEngine) ProcessAll(ctx context.Context) ([]model.Result, error) {
	plans, err := e.store.ActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}

	results := make([]model.Result, 0, len(plans))
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := e.ProcessOne(ctx, plan)
		results = append(results, res)
		if res.Outcome == model.OutcomeSuccess {
			if err := e.sleep(ctx, e.cfg.InterItemDelay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// ProcessOne evaluates a single plan: expiry, cadence, permission, then execution.
func (e *DCAEngine) ProcessOne(ctx context.Context, plan *model.Plan) (res model.Result) {
	defer finish(model.ExecutionDCA, plan.ID, &res, e.now)

	log := logger.With("plan_id", plan.ID, "owner", plan.Owner)
	now := e.now()

	if !plan.Active {
		return model.Skip(model.ExecutionDCA, plan.ID, model.ReasonInactive)
	}

	// 1. Expiry
	if plan.Expired(now) {
		inactive := false
		if _, err := e.store.UpdatePlan(ctx, plan.ID, model.PlanPatch{Active: &inactive}); err != nil {
			return model.Failure(model.ExecutionDCA, plan.ID, fmt.Errorf("deactivate expired plan: %w", err))
		}
		plan.Active = false
		log.Info("plan expired, deactivated", "end_time", plan.EndTime())
		return model.Skip(model.ExecutionDCA, plan.ID, model.ReasonExpired)
	}

	// 2. Cadence
	period, err := plan.Period.Length()
	if err != nil {
		return model.Failure(model.ExecutionDCA, plan.ID, err)
	}
	if !plan.LastExecutionTime.IsZero() && now.Sub(plan.LastExecutionTime) < period {
		return model.Skip(model.ExecutionDCA, plan.ID, model.ReasonNotDue)
	}

	// 3. Permission
	verdict := e.validator.Validate(ctx, AllowanceCheck{
		PermissionID: plan.PermissionID,
		Owner:        plan.Owner,
		Amount:       plan.AmountPerPeriod,
	})
	if !verdict.Valid {
		skip := model.Skip(model.ExecutionDCA, plan.ID, model.ReasonPermissionInvalid)
		skip.Detail = verdict.Reason
		return skip
	}

	// 4. The plan may have been paused or stopped since the cycle began.
	current, err := e.store.GetPlan(ctx, plan.ID)
	if err != nil {
		return model.Failure(model.ExecutionDCA, plan.ID, fmt.Errorf("reload plan: %w", err))
	}
	if !current.Active || current.DeletedAt != nil {
		log.Info("plan deactivated mid-cycle")
		return model.Skip(model.ExecutionDCA, plan.ID, model.ReasonInactive)
	}

	// 5. Execute
	expected, err := e.oracle.Quote(ctx, plan.AssetFrom, plan.AssetTo, plan.AmountPerPeriod)
	if err != nil {
		log.Warn("quote failed", "error", err)
		return model.Failure(model.ExecutionDCA, plan.ID, fmt.Errorf("quote: %w", err))
	}
	order := model.DCAOrder{
		PermissionID: plan.PermissionID,
		AssetFrom:    plan.AssetFrom,
		AssetTo:      plan.AssetTo,
		Amount:       plan.AmountPerPeriod,
		MinOut:       applySlippage(expected, e.cfg.Slippage),
	}

	entry := model.NewExecutionLog(model.ExecutionDCA, plan.ID, plan.Owner, plan.PermissionID, now)
	entry.Legs = []model.TradeLeg{{
		AssetFrom: order.AssetFrom,
		AssetTo:   order.AssetTo,
		AmountIn:  order.Amount,
		MinOut:    order.MinOut,
	}}

	receipt, err := e.ledger.ExecuteDCA(ctx, order)
	if err != nil {
		entry.Status = model.StatusFailed
		entry.Error = err.Error()
		if appendErr := e.store.AppendLog(ctx, entry); appendErr != nil {
			logger.LogError(ctx, appendErr, "append failed execution log", "plan_id", plan.ID)
		}
		e.analytics.Publish(entry)
		log.Warn("dca execution failed", "error", err)
		return model.Failure(model.ExecutionDCA, plan.ID, err)
	}

	entry.Status = model.StatusSuccess
	entry.TxRef = receipt.TxRef
	entry.GasUsed = receipt.GasUsed
	entry.Legs[0].AmountOut = receipt.AmountOut

	if err := e.store.RecordPlanExecution(ctx, plan.ID, now, plan.AmountPerPeriod, entry); err != nil {
		// The trade is on the ledger; only the bookkeeping is missing.
		logger.LogError(ctx, err, "record plan execution", "plan_id", plan.ID, "tx", receipt.TxRef)
		e.analytics.Publish(entry)
		return model.Failure(model.ExecutionDCA, plan.ID, fmt.Errorf("executed %s but failed to record: %w", receipt.TxRef, err))
	}
	plan.LastExecutionTime = now
	plan.TotalExecutions++
	plan.TotalAmountSpent = addInt(plan.TotalAmountSpent, plan.AmountPerPeriod)

	e.analytics.Publish(entry)
	log.Info("dca executed", "tx", receipt.TxRef, "amount_in", plan.AmountPerPeriod.String(), "amount_out", receipt.AmountOut.String())

	res = model.Success(model.ExecutionDCA, plan.ID, receipt.TxRef)
	res.AmountOut = receipt.AmountOut
	return res
}
