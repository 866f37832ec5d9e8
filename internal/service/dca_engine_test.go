package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dcaFixture struct {
	store  *MemoryStore
	ledger *fakeLedger
	oracle *fakeOracle
	pub    *recordingPublisher
	engine *DCAEngine
	now    time.Time
}

func newDCAFixture(t *testing.T) *dcaFixture {
	t.Helper()
	f := &dcaFixture{
		store:  NewMemoryStore(),
		ledger: newFakeLedger(),
		oracle: &fakeOracle{},
		pub:    &recordingPublisher{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	validator := NewAllowanceValidator(f.ledger, f.store, true)
	f.engine = NewDCAEngine(f.store, validator, f.ledger, f.oracle, f.pub, DefaultEngineConfig())
	f.engine.now = func() time.Time { return f.now }
	f.engine.sleep = noSleep
	return f
}

func (f *dcaFixture) addPlan(t *testing.T, id string) *model.Plan {
	t.Helper()
	plan := &model.Plan{
		ID:               id,
		Owner:            testOwner,
		PermissionID:     testPermission,
		AssetFrom:        "0xusdc",
		AssetTo:          "0xweth",
		AmountPerPeriod:  big.NewInt(100),
		Period:           model.PeriodDaily,
		DurationSeconds:  int64((30 * 24 * time.Hour).Seconds()),
		StartTime:        f.now.Add(-time.Hour),
		TotalAmountSpent: new(big.Int),
		Active:           true,
		CreatedAt:        f.now.Add(-time.Hour),
	}
	require.NoError(t, f.store.CreatePlan(context.Background(), plan))
	return plan
}

func (f *dcaFixture) plan(t *testing.T, id string) *model.Plan {
	t.Helper()
	p, err := f.store.GetPlan(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestDCAFirstExecution(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")

	res := f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	require.Equal(t, model.OutcomeSuccess, res.Outcome, res.Error)
	assert.Equal(t, "0xtx", res.TxRef)
	assert.Equal(t, int64(95), res.AmountOut.Int64())

	stored := f.plan(t, "plan-1")
	assert.Equal(t, int64(1), stored.TotalExecutions)
	assert.Equal(t, int64(100), stored.TotalAmountSpent.Int64())
	assert.True(t, stored.LastExecutionTime.Equal(f.now))

	require.Len(t, f.ledger.dcaOrders, 1)
	order := f.ledger.dcaOrders[0]
	assert.Equal(t, int64(100), order.Amount.Int64())
	assert.Equal(t, int64(95), order.MinOut.Int64(), "5% slippage on a quote of 100")

	logs, err := f.store.ListLogs(ctx, model.LogFilter{ItemID: "plan-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusSuccess, logs[0].Status)
	assert.Equal(t, uint64(21000), logs[0].GasUsed)
	assert.Equal(t, 1, f.pub.count())
}

func TestDCANotDueWithinPeriod(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")

	require.Equal(t, model.OutcomeSuccess, f.engine.ProcessOne(ctx, f.plan(t, "plan-1")).Outcome)
	before := f.plan(t, "plan-1")

	f.now = f.now.Add(time.Hour)
	res := f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.ReasonNotDue, res.Reason)
	assert.Equal(t, before, f.plan(t, "plan-1"))
	assert.Equal(t, 1, f.ledger.dcaCalls())

	f.now = f.now.Add(23 * time.Hour)
	res = f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	require.Equal(t, model.OutcomeSuccess, res.Outcome)
	after := f.plan(t, "plan-1")
	assert.Equal(t, int64(2), after.TotalExecutions)
	assert.Equal(t, int64(200), after.TotalAmountSpent.Int64())
	assert.False(t, after.LastExecutionTime.Before(before.LastExecutionTime))
}

func TestDCAExpiredPlanDeactivatedOnce(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")
	// An invalid permission does not mask expiry.
	f.ledger.info = map[string]*model.PermissionInfo{}

	f.now = f.now.Add(31 * 24 * time.Hour)
	res := f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.ReasonExpired, res.Reason)
	assert.False(t, f.plan(t, "plan-1").Active)

	results, err := f.engine.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	res = f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	assert.Equal(t, model.ReasonInactive, res.Reason)
	assert.Zero(t, f.ledger.dcaCalls())
}

func TestDCAPermissionInvalidIsNoOp(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")
	f.ledger.info[testPermission].Spent = big.NewInt(999_999_950)
	before := f.plan(t, "plan-1")

	res := f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.ReasonPermissionInvalid, res.Reason)
	assert.Equal(t, VerdictInsufficient, res.Detail)
	assert.Equal(t, before, f.plan(t, "plan-1"))
	assert.Zero(t, f.ledger.dcaCalls())

	logs, _ := f.store.ListLogs(ctx, model.LogFilter{})
	assert.Empty(t, logs)
}

func TestDCALedgerFailureLeavesPlanUntouched(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")
	f.ledger.execErr = errors.New("execution reverted")
	before := f.plan(t, "plan-1")

	res := f.engine.ProcessOne(ctx, f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "execution reverted")
	assert.Equal(t, before, f.plan(t, "plan-1"))

	logs, _ := f.store.ListLogs(ctx, model.LogFilter{})
	require.Len(t, logs, 1)
	assert.Equal(t, model.StatusFailed, logs[0].Status)
	assert.Equal(t, 1, f.pub.count())
}

func TestDCAQuoteFailureSkipsLedger(t *testing.T) {
	f := newDCAFixture(t)
	f.addPlan(t, "plan-1")
	f.oracle.quoteErr = errors.New("oracle unreachable")

	res := f.engine.ProcessOne(context.Background(), f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Zero(t, f.ledger.dcaCalls())
}

type panickingLedger struct{ *fakeLedger }

func (panickingLedger) ExecuteDCA(context.Context, model.DCAOrder) (*model.DCAReceipt, error) {
	panic("boom")
}

func TestDCAPanicContainedAtItemBoundary(t *testing.T) {
	f := newDCAFixture(t)
	f.addPlan(t, "plan-1")
	f.engine.ledger = panickingLedger{f.ledger}

	res := f.engine.ProcessOne(context.Background(), f.plan(t, "plan-1"))
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "panic: boom")
	assert.False(t, res.At.IsZero())
}

func TestDCAProcessAllIsIdempotent(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")
	f.addPlan(t, "plan-2")

	sleeps := 0
	f.engine.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	first, err := f.engine.ProcessAll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for _, r := range first {
		assert.Equal(t, model.OutcomeSuccess, r.Outcome)
	}
	assert.Equal(t, 2, sleeps)

	second, err := f.engine.ProcessAll(ctx)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for _, r := range second {
		assert.Equal(t, model.OutcomeSkipped, r.Outcome)
		assert.Equal(t, model.ReasonNotDue, r.Reason)
	}
	assert.Equal(t, 2, sleeps, "no delay after skips")
	assert.Equal(t, 2, f.ledger.dcaCalls())
}

func TestApplySlippage(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, int64(950), applySlippage(big.NewInt(1000), cfg.Slippage).Int64())
	assert.Equal(t, int64(94), applySlippage(big.NewInt(99), cfg.Slippage).Int64())
	assert.Zero(t, applySlippage(nil, cfg.Slippage).Sign())

	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	want, _ := new(big.Int).SetString("117283949561728394956172839495", 10)
	assert.Equal(t, want, applySlippage(huge, cfg.Slippage))
}

func TestDCASkipsPlanPausedMidCycle(t *testing.T) {
	f := newDCAFixture(t)
	ctx := context.Background()
	f.addPlan(t, "plan-1")
	listed := f.plan(t, "plan-1")

	inactive := false
	_, err := f.store.UpdatePlan(ctx, "plan-1", model.PlanPatch{Active: &inactive})
	require.NoError(t, err)

	res := f.engine.ProcessOne(ctx, listed)
	assert.Equal(t, model.OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.ReasonInactive, res.Reason)
	assert.Zero(t, f.ledger.dcaCalls())
	assert.Zero(t, f.plan(t, "plan-1").TotalExecutions)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), 0))
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
