package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/google/uuid"
)

var (
	// ErrInvalid marks a request the catalog refuses to store.
	ErrInvalid = errors.New("invalid request")
	ErrDeleted = errors.New("item is deleted")
)

// CatalogService manages plans, rebalancer configs and the permission mirror
// on behalf of the admin API.
type CatalogService struct {
	store Store
	now   func() time.Time
}

func NewCatalogService(store Store) *CatalogService {
	return &CatalogService{store: store, now: time.Now}
}

func (s *CatalogService) ListPlans(ctx context.Context, owner string) ([]*model.Plan, error) {
	return s.store.ListPlans(ctx, owner)
}

func (s *CatalogService) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	return s.store.GetPlan(ctx, id)
}

func (s *CatalogService) CreatePlan(ctx context.Context, req model.CreatePlanRequest) (*model.Plan, error) {
	amount, err := model.ParseAmount(req.AmountPerPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount_per_period must be positive", ErrInvalid)
	}
	if _, err := req.Period.Length(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if req.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: duration_seconds must be positive", ErrInvalid)
	}
	if strings.EqualFold(strings.TrimSpace(req.AssetFrom), strings.TrimSpace(req.AssetTo)) {
		return nil, fmt.Errorf("%w: asset_from and asset_to must differ", ErrInvalid)
	}

	now := s.now().UTC()
	start := now
	if req.StartTime != nil {
		start = req.StartTime.UTC()
	}
	plan := &model.Plan{
		ID:               uuid.NewString(),
		Owner:            req.Owner,
		PermissionID:     req.PermissionID,
		AssetFrom:        req.AssetFrom,
		AssetTo:          req.AssetTo,
		AmountPerPeriod:  amount,
		Period:           req.Period,
		DurationSeconds:  req.DurationSeconds,
		StartTime:        start,
		TotalAmountSpent: new(big.Int),
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	logger.Info("plan created", "plan_id", plan.ID, "owner", plan.Owner, "period", plan.Period)
	return plan, nil
}

func (s *CatalogService) SetPlanActive(ctx context.Context, id string, active bool) (*model.Plan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.DeletedAt != nil {
		return nil, fmt.Errorf("plan %s: %w", id, ErrDeleted)
	}
	return s.store.UpdatePlan(ctx, id, model.PlanPatch{Active: &active})
}

// DeletePlan soft-deletes; the plan is also deactivated.
func (s *CatalogService) DeletePlan(ctx context.Context, id string) (*model.Plan, error) {
	return s.store.UpdatePlan(ctx, id, model.PlanPatch{Deleted: true})
}

func (s *CatalogService) ListRebalancers(ctx context.Context, owner string) ([]*model.RebalancerConfig, error) {
	return s.store.ListRebalancers(ctx, owner)
}

func (s *CatalogService) GetRebalancer(ctx context.Context, id string) (*model.RebalancerConfig, error) {
	return s.store.GetRebalancer(ctx, id)
}

func (s *CatalogService) CreateRebalancer(ctx context.Context, req model.CreateRebalancerRequest) (*model.RebalancerConfig, error) {
	now := s.now().UTC()
	cfg := &model.RebalancerConfig{
		ID:               uuid.NewString(),
		Owner:            req.Owner,
		PermissionID:     req.PermissionID,
		Assets:           append([]model.AssetWeight(nil), req.Assets...),
		ThresholdPercent: req.ThresholdPercent,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.store.CreateRebalancer(ctx, cfg); err != nil {
		return nil, err
	}
	logger.Info("rebalancer created", "config_id", cfg.ID, "owner", cfg.Owner, "assets", len(cfg.Assets))
	return cfg, nil
}

func (s *CatalogService) SetRebalancerActive(ctx context.Context, id string, active bool) (*model.RebalancerConfig, error) {
	cfg, err := s.store.GetRebalancer(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.DeletedAt != nil {
		return nil, fmt.Errorf("rebalancer %s: %w", id, ErrDeleted)
	}
	return s.store.UpdateRebalancer(ctx, id, model.RebalancerPatch{Active: &active})
}

func (s *CatalogService) DeleteRebalancer(ctx context.Context, id string) (*model.RebalancerConfig, error) {
	return s.store.UpdateRebalancer(ctx, id, model.RebalancerPatch{Deleted: true})
}

func (s *CatalogService) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	return s.store.GetPermission(ctx, id)
}

// UpsertPermission replaces the local mirror of a ledger permission.
func (s *CatalogService) UpsertPermission(ctx context.Context, req model.UpsertPermissionRequest) (*model.Permission, error) {
	allowance, err := model.ParseAmount(req.Allowance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	spent, err := model.ParseAmount(req.Spent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if req.ResetWindowSeconds < 0 {
		return nil, fmt.Errorf("%w: reset_window_seconds must not be negative", ErrInvalid)
	}
	perm := &model.Permission{
		ID:                 req.ID,
		Owner:              req.Owner,
		Delegatee:          req.Delegatee,
		Allowance:          allowance,
		Spent:              spent,
		ResetWindowSeconds: req.ResetWindowSeconds,
		Active:             true,
		UpdatedAt:          s.now().UTC(),
	}
	if req.NextResetTime != nil {
		perm.NextResetTime = req.NextResetTime.UTC()
	}
	if err := s.store.UpsertPermission(ctx, perm); err != nil {
		return nil, err
	}
	return s.store.GetPermission(ctx, perm.ID)
}

func (s *CatalogService) RevokePermission(ctx context.Context, id string) (*model.Permission, error) {
	if err := s.store.RevokePermission(ctx, id); err != nil {
		return nil, err
	}
	logger.Warn("permission revoked", "permission_id", id)
	return s.store.GetPermission(ctx, id)
}
