package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePlans(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreatePlan(ctx, &model.Plan{ID: "b", Owner: "0xAbC", AmountPerPeriod: big.NewInt(5), Active: true, CreatedAt: base}))
	require.NoError(t, store.CreatePlan(ctx, &model.Plan{ID: "a", Owner: "0xdef", AmountPerPeriod: big.NewInt(5), Active: true, CreatedAt: base.Add(time.Hour)}))
	assert.Error(t, store.CreatePlan(ctx, &model.Plan{ID: "a"}))

	active, err := store.ActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b", active[0].ID, "ordered by creation time")

	owned, _ := store.ListPlans(ctx, "0xabc")
	require.Len(t, owned, 1)
	assert.Equal(t, "b", owned[0].ID)

	// Mutating a returned copy never leaks into the store.
	active[0].AmountPerPeriod.SetInt64(999)
	got, err := store.GetPlan(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.AmountPerPeriod.Int64())

	at := base.Add(2 * time.Hour)
	require.NoError(t, store.RecordPlanExecution(ctx, "b", at, big.NewInt(5), testLog("b")))
	require.NoError(t, store.RecordPlanExecution(ctx, "b", at.Add(-time.Hour), big.NewInt(5), nil))
	got, _ = store.GetPlan(ctx, "b")
	assert.Equal(t, int64(2), got.TotalExecutions)
	assert.Equal(t, int64(10), got.TotalAmountSpent.Int64())
	assert.True(t, got.LastExecutionTime.Equal(at), "last execution time never moves backwards")

	deleted, err := store.UpdatePlan(ctx, "a", model.PlanPatch{Deleted: true})
	require.NoError(t, err)
	assert.False(t, deleted.Active)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = store.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = store.UpdatePlan(ctx, "missing", model.PlanPatch{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStoreRebalancers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cfg := &model.RebalancerConfig{
		ID:     "r1",
		Owner:  testOwner,
		Assets: []model.AssetWeight{{AssetID: "A", TargetWeightPercent: 50}, {AssetID: "B", TargetWeightPercent: 50}},
		Active: true,
	}
	require.NoError(t, store.CreateRebalancer(ctx, cfg))
	cfg.Assets[0].AssetID = "mutated"

	got, err := store.GetRebalancer(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Assets[0].AssetID)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRebalance(ctx, "r1", at, nil))
	got, _ = store.GetRebalancer(ctx, "r1")
	assert.Equal(t, int64(1), got.TotalRebalances)
	assert.True(t, got.LastRebalanceTime.Equal(at))

	paused := false
	_, err = store.UpdateRebalancer(ctx, "r1", model.RebalancerPatch{Active: &paused})
	require.NoError(t, err)
	active, _ := store.ActiveRebalancers(ctx)
	assert.Empty(t, active)

	assert.ErrorIs(t, store.RecordRebalance(ctx, "missing", at, nil), model.ErrNotFound)
}

func TestMemoryStorePermissions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetPermission(ctx, "p")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, store.UpsertPermission(ctx, &model.Permission{ID: "p", Owner: testOwner, Allowance: big.NewInt(100), Active: true}))
	perm, err := store.GetPermission(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(100), perm.Remaining().Int64())
	assert.False(t, perm.UpdatedAt.IsZero())

	require.NoError(t, store.RevokePermission(ctx, "p"))
	perm, _ = store.GetPermission(ctx, "p")
	assert.False(t, perm.Active)
	assert.ErrorIs(t, store.RevokePermission(ctx, "missing"), model.ErrNotFound)
}

func TestMemoryStoreLogs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"p1", "p2", "p1"} {
		require.NoError(t, store.AppendLog(ctx, testLog(id)))
	}
	reb := model.NewExecutionLog(model.ExecutionRebalance, "r1", testOwner, testPermission, time.Now())
	require.NoError(t, store.AppendLog(ctx, reb))

	all, err := store.ListLogs(ctx, model.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "r1", all[0].ItemID, "newest first")

	p1, _ := store.ListLogs(ctx, model.LogFilter{ItemID: "p1"})
	assert.Len(t, p1, 2)

	dca, _ := store.ListLogs(ctx, model.LogFilter{Type: model.ExecutionDCA, Limit: 2})
	assert.Len(t, dca, 2)
}
