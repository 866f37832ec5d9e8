package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoPolymarket/autopilot/internal/middleware"
	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "admin-secret"

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) ProcessAll(ctx context.Context) ([]model.Result, error) {
	return []model.Result{model.Success(model.ExecutionDCA, "plan-x", "0xtx")}, nil
}

type fixture struct {
	router    *gin.Engine
	store     *service.MemoryStore
	scheduler *service.Scheduler
}

func newFixture(t *testing.T, readOnly bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := service.NewMemoryStore()
	analytics, err := service.NewAnalyticsService(service.AnalyticsOptions{QueueSize: 16, Reader: store})
	require.NoError(t, err)
	t.Cleanup(analytics.Close)

	sched := service.NewScheduler(service.SchedulerConfig{
		Interval:    time.Minute,
		Warmup:      time.Hour,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxErrors:   10,
	}, store, analytics, stubEngine{})
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	router := NewRouter(RouterOptions{
		AdminKey:    testAdminKey,
		ReadOnly:    readOnly,
		Idempotency: middleware.NewInMemIdempotencyStore(time.Hour),
	}, service.NewCatalogService(store), sched, analytics)
	return &fixture{router: router, store: store, scheduler: sched}
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAdminKey, testAdminKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func planBody() map[string]any {
	return map[string]any{
		"owner":             "0xOwner",
		"permission_id":     "perm-1",
		"asset_from":        "0x01",
		"asset_to":          "0x02",
		"amount_per_period": "1000000",
		"period":            "daily",
		"duration_seconds":  86400,
	}
}

func TestAdminKeyRequired(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodGet, "/v1/plans", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlanLifecycle(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/v1/plans", planBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["id"].(string)
	assert.Equal(t, true, created["active"])

	rec = f.do(http.MethodGet, "/v1/plans/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/v1/plans/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = f.do(http.MethodGet, "/v1/plans?owner=0xowner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["plans"], 1)

	rec = f.do(http.MethodDelete, "/v1/plans/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["deleted_at"])

	rec = f.do(http.MethodPost, "/v1/plans/"+id+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePlanValidation(t *testing.T) {
	f := newFixture(t, false)

	body := planBody()
	body["period"] = "hourly"
	rec := f.do(http.MethodPost, "/v1/plans", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, rec)["code"])

	body = planBody()
	body["amount_per_period"] = "0"
	rec = f.do(http.MethodPost, "/v1/plans", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/v1/plans/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestCreatePlanIdempotent(t *testing.T) {
	f := newFixture(t, false)
	first := f.do(http.MethodPost, "/v1/plans", planBody(), middleware.HeaderIdempotencyKey, "k1")
	second := f.do(http.MethodPost, "/v1/plans", planBody(), middleware.HeaderIdempotencyKey, "k1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	plans, err := f.store.ListPlans(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestRebalancerRoutes(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodPost, "/v1/rebalancers", map[string]any{
		"owner":             "0xOwner",
		"permission_id":     "perm-1",
		"threshold_percent": 5,
		"assets": []map[string]any{
			{"asset_id": "0x01", "target_weight_percent": 70},
			{"asset_id": "0x02", "target_weight_percent": 20},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "weights must sum to 100")

	rec = f.do(http.MethodPost, "/v1/rebalancers", map[string]any{
		"owner":             "0xOwner",
		"permission_id":     "perm-1",
		"threshold_percent": 5,
		"assets": []map[string]any{
			{"asset_id": "0x01", "target_weight_percent": 70},
			{"asset_id": "0x02", "target_weight_percent": 30},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["id"].(string)

	rec = f.do(http.MethodPost, "/v1/rebalancers/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])
}

func TestPermissionRoutes(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(http.MethodPost, "/v1/permissions", map[string]any{
		"id":        "perm-1",
		"owner":     "0xOwner",
		"allowance": "1000",
		"spent":     "250",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/permissions/perm-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "750", decode(t, rec)["remaining"])

	rec = f.do(http.MethodPost, "/v1/permissions/perm-1/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = f.do(http.MethodPost, "/v1/permissions/missing/revoke", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionsListing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, kind := range []model.ExecutionType{model.ExecutionDCA, model.ExecutionRebalance} {
		entry := model.NewExecutionLog(kind, "item-"+string(kind), "0xOwner", "perm-1", time.Now())
		entry.Status = model.StatusSuccess
		require.NoError(t, f.store.AppendLog(ctx, entry))
	}

	rec := f.do(http.MethodGet, "/v1/executions?type=dca", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	execs := decode(t, rec)["executions"].([]any)
	require.Len(t, execs, 1)
	assert.Equal(t, "item-dca", execs[0].(map[string]any)["item_id"])

	rec = f.do(http.MethodGet, "/v1/executions?type=swap", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/v1/executions?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerRoutes(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(http.MethodPost, "/v1/scheduler/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "not running")

	rec = f.do(http.MethodPost, "/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["running"])

	rec = f.do(http.MethodPost, "/v1/scheduler/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/v1/scheduler/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/v1/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["executed"])

	rec = f.do(http.MethodPost, "/v1/scheduler/reconfigure", map[string]any{"interval_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/scheduler/reconfigure", map[string]any{"interval_minutes": 15})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, float64(15*time.Minute), decode(t, rec)["interval_ns"])

	rec = f.do(http.MethodPost, "/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["running"])
}

func TestEmergencyStopAllowedInReadOnly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.CreatePlan(ctx, &model.Plan{ID: "p1", Active: true, Period: model.PeriodDaily}))
	require.NoError(t, f.scheduler.Start(ctx))

	rec := f.do(http.MethodPost, "/v1/plans", planBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/scheduler/emergency-stop", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = f.do(http.MethodPost, "/v1/scheduler/emergency-stop", map[string]any{"reason": "drill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["plans_deactivated"])
	assert.Equal(t, "drill", body["reason"])

	plan, err := f.store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, plan.Active)
	assert.Equal(t, service.StateStopped, f.scheduler.Stats().State)
}
