package service

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/autopilot/internal/config"
	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCreatePlan(t *testing.T) {
	store := NewMemoryStore()
	svc := NewCatalogService(store)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, model.CreatePlanRequest{
		Owner:           "0xOwner",
		PermissionID:    "perm-1",
		AssetFrom:       "0x01",
		AssetTo:         "0x02",
		AmountPerPeriod: "1000000",
		Period:          model.PeriodWeekly,
		DurationSeconds: 3600,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.True(t, plan.Active)
	assert.Zero(t, plan.TotalAmountSpent.Sign())
	assert.True(t, plan.LastExecutionTime.IsZero())

	stored, err := svc.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000000", stored.AmountPerPeriod.String())

	paused, err := svc.SetPlanActive(ctx, plan.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	deleted, err := svc.DeletePlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
	assert.False(t, deleted.Active)

	_, err = svc.SetPlanActive(ctx, plan.ID, true)
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestCatalogCreatePlanRejects(t *testing.T) {
	svc := NewCatalogService(NewMemoryStore())
	base := model.CreatePlanRequest{
		Owner: "o", PermissionID: "p", AssetFrom: "0x01", AssetTo: "0x02",
		AmountPerPeriod: "10", Period: model.PeriodDaily, DurationSeconds: 60,
	}
	tests := []struct {
		name   string
		mutate func(*model.CreatePlanRequest)
	}{
		{"zero amount", func(r *model.CreatePlanRequest) { r.AmountPerPeriod = "0" }},
		{"bad amount", func(r *model.CreatePlanRequest) { r.AmountPerPeriod = "1e6" }},
		{"bad period", func(r *model.CreatePlanRequest) { r.Period = "yearly" }},
		{"same asset", func(r *model.CreatePlanRequest) { r.AssetTo = "0X01" }},
		{"no duration", func(r *model.CreatePlanRequest) { r.DurationSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := svc.CreatePlan(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCatalogRebalancerAndPermission(t *testing.T) {
	svc := NewCatalogService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreateRebalancer(ctx, model.CreateRebalancerRequest{
		Owner: "o", PermissionID: "p", ThresholdPercent: 5,
		Assets: []model.AssetWeight{{AssetID: "A", TargetWeightPercent: 50}, {AssetID: "B", TargetWeightPercent: 40}},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	cfg, err := svc.CreateRebalancer(ctx, model.CreateRebalancerRequest{
		Owner: "o", PermissionID: "p", ThresholdPercent: 5,
		Assets: []model.AssetWeight{{AssetID: "A", TargetWeightPercent: 50}, {AssetID: "B", TargetWeightPercent: 50}},
	})
	require.NoError(t, err)
	list, err := svc.ListRebalancers(ctx, "O")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = svc.DeleteRebalancer(ctx, cfg.ID)
	require.NoError(t, err)
	_, err = svc.SetRebalancerActive(ctx, cfg.ID, true)
	assert.ErrorIs(t, err, ErrDeleted)

	reset := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	perm, err := svc.UpsertPermission(ctx, model.UpsertPermissionRequest{
		ID: "p", Owner: "o", Allowance: "500", Spent: "100", ResetWindowSeconds: 86400, NextResetTime: &reset,
	})
	require.NoError(t, err)
	assert.Equal(t, "400", perm.Remaining().String())
	assert.True(t, perm.Active)

	revoked, err := svc.RevokePermission(ctx, "p")
	require.NoError(t, err)
	assert.False(t, revoked.Active)

	_, err = svc.RevokePermission(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSettingsFromConfig(t *testing.T) {
	sched := SchedulerConfigFrom(config.SchedulerConfig{
		IntervalMinutes: 5, WarmupSeconds: 2, MaxHealthyErrors: 3, MaxBackoffSeconds: 30,
	})
	assert.Equal(t, 5*time.Minute, sched.Interval)
	assert.Equal(t, 2*time.Second, sched.Warmup)
	assert.Equal(t, 30*time.Second, sched.MaxBackoff)
	assert.Equal(t, 3, sched.MaxErrors)
	require.NoError(t, sched.Validate())

	eng, err := EngineConfigFrom(config.ExecutionConfig{
		Slippage: 0.01, InterItemDelayMs: 10, RebalanceCooldownMinutes: 15, RebalanceReferenceAmount: "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.01", eng.Slippage.String())
	assert.Equal(t, 10*time.Millisecond, eng.InterItemDelay)
	assert.Equal(t, 15*time.Minute, eng.RebalanceCooldown)
	assert.Equal(t, int64(42), eng.ReferenceAmount.Int64())

	_, err = EngineConfigFrom(config.ExecutionConfig{RebalanceReferenceAmount: "-1"})
	assert.Error(t, err)

	next, err := ReconfiguredInterval(sched, 10)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, next.Interval)
	_, err = ReconfiguredInterval(sched, 0)
	assert.ErrorIs(t, err, ErrInvalid)
}
