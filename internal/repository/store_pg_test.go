package repository

import (
	"context"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	store := NewPostgresStore(sqlx.NewDb(db, "sqlmock"))
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

var planCols = []string{
	"id", "owner", "permission_id", "asset_from", "asset_to", "amount_per_period",
	"period", "duration_seconds", "start_time", "last_execution_time", "total_executions",
	"total_amount_spent", "active", "created_at", "updated_at", "deleted_at",
}

func TestPostgresStoreGetPlan(t *testing.T) {
	store, mock := newMockStore(t)
	start := fixedNow.Add(-48 * time.Hour)
	rows := sqlmock.NewRows(planCols).AddRow(
		"plan-1", "0xOwner", "perm-1", "0x01", "0x02", "123456789012345678901234567890",
		"daily", int64(86400*30), start, nil, int64(2),
		"500", true, start, start, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id = $1")).
		WithArgs("plan-1").
		WillReturnRows(rows)

	plan, err := store.GetPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", plan.AmountPerPeriod.String())
	assert.Equal(t, model.PeriodDaily, plan.Period)
	assert.True(t, plan.LastExecutionTime.IsZero())
	assert.Equal(t, int64(2), plan.TotalExecutions)
	assert.Nil(t, plan.DeletedAt)
}

func TestPostgresStoreGetPlanNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(planCols))

	_, err := store.GetPlan(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostgresStoreRecordPlanExecution(t *testing.T) {
	store, mock := newMockStore(t)
	at := fixedNow.Add(-time.Minute)
	entry := model.NewExecutionLog(model.ExecutionDCA, "plan-1", "0xOwner", "perm-1", at)
	entry.Status = model.StatusSuccess

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plans SET")).
		WithArgs("plan-1", at, "250", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO execution_logs")).
		WithArgs(entry.ID, "dca", "plan-1", "0xOwner", "perm-1", "", int64(0), sqlmock.AnyArg(), "success", "", entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordPlanExecution(context.Background(), "plan-1", at, big.NewInt(250), entry))
}

func TestPostgresStoreRecordPlanExecutionMissingRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plans SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	entry := model.NewExecutionLog(model.ExecutionDCA, "gone", "0xOwner", "perm-1", fixedNow)
	err := store.RecordPlanExecution(context.Background(), "gone", fixedNow, big.NewInt(1), entry)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostgresStoreUpdatePlanDelete(t *testing.T) {
	store, mock := newMockStore(t)
	deleted := fixedNow
	rows := sqlmock.NewRows(planCols).AddRow(
		"plan-1", "0xOwner", "perm-1", "0x01", "0x02", "10",
		"weekly", int64(3600), fixedNow, fixedNow, int64(1),
		"10", false, fixedNow, fixedNow, deleted,
	)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE plans SET")).
		WithArgs("plan-1", sqlmock.AnyArg(), true, fixedNow).
		WillReturnRows(rows)

	plan, err := store.UpdatePlan(context.Background(), "plan-1", model.PlanPatch{Deleted: true})
	require.NoError(t, err)
	assert.False(t, plan.Active)
	require.NotNil(t, plan.DeletedAt)
}

func TestPostgresStoreGetRebalancer(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "owner", "permission_id", "assets", "threshold_percent", "last_rebalance_time",
		"total_rebalances", "active", "created_at", "updated_at", "deleted_at"}
	assets := []byte(`[{"asset_id":"0x01","target_weight_percent":60},{"asset_id":"0x02","target_weight_percent":40}]`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM rebalancers WHERE id = $1")).
		WithArgs("rb-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"rb-1", "0xOwner", "perm-1", assets, 5.0, fixedNow, int64(3), true, fixedNow, fixedNow, nil,
		))

	cfg, err := store.GetRebalancer(context.Background(), "rb-1")
	require.NoError(t, err)
	require.Len(t, cfg.Assets, 2)
	assert.Equal(t, 60.0, cfg.Assets[0].TargetWeightPercent)
	assert.Equal(t, fixedNow, cfg.LastRebalanceTime)
	assert.Equal(t, int64(3), cfg.TotalRebalances)
}

func TestPostgresStoreUpsertPermission(t *testing.T) {
	store, mock := newMockStore(t)
	perm := &model.Permission{
		ID:                 "perm-1",
		Owner:              "0xOwner",
		Allowance:          big.NewInt(1000),
		ResetWindowSeconds: 86400,
		Active:             true,
	}
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET")).
		WithArgs("perm-1", "0xOwner", "", "1000", "0", int64(86400), sqlmock.AnyArg(), true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpsertPermission(context.Background(), perm))
}

func TestPostgresStoreRevokeMissingPermission(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE permissions SET active = false")).
		WithArgs("perm-x", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.RevokePermission(context.Background(), "perm-x"), model.ErrNotFound)
}

func TestPostgresStoreListLogsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "type", "item_id", "owner", "permission_id", "tx_ref", "gas_used", "legs", "status", "error", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM execution_logs WHERE type = $1 AND item_id = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs("dca", "plan-1", 100).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"log-1", "dca", "plan-1", "0xOwner", "perm-1", "0xtx", int64(21000),
			[]byte(`[{"asset_from":"0x01","asset_to":"0x02","amount_in":5}]`), "success", "", fixedNow,
		))

	logs, err := store.ListLogs(context.Background(), model.LogFilter{Type: model.ExecutionDCA, ItemID: "plan-1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(21000), logs[0].GasUsed)
	require.Len(t, logs[0].Legs, 1)
	assert.Equal(t, "5", logs[0].Legs[0].AmountIn.String())
}

func TestPostgresStoreDeactivateAll(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plans SET active = false")).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rebalancers SET active = false")).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	plans, configs, err := store.DeactivateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, plans)
	assert.Equal(t, 2, configs)
}

func TestParseNumeric(t *testing.T) {
	v, err := parseNumeric("42.0")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	v, err = parseNumeric("")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	_, err = parseNumeric("abc")
	assert.Error(t, err)
}
