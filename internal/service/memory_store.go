package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[string]*model.Plan
	rebalancers map[string]*model.RebalancerConfig
	permissions map[string]*model.Permission
	logs        []*model.ExecutionLog
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[string]*model.Plan),
		rebalancers: make(map[string]*model.RebalancerConfig),
		permissions: make(map[string]*model.Permission),
		now:         time.Now,
	}
}

func (s *MemoryStore) ActivePlans(ctx context.Context) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Active {
			out = append(out, p.Clone())
		}
	}
	sortPlans(out)
	return out, nil
}

func (s *MemoryStore) ListPlans(ctx context.Context, owner string) ([]*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if owner == "" || sameIdentity(p.Owner, owner) {
			out = append(out, p.Clone())
		}
	}
	sortPlans(out)
	return out, nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CreatePlan(ctx context.Context, plan *model.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.ID]; exists {
		return fmt.Errorf("plan %s already exists", plan.ID)
	}
	cp := plan.Clone()
	if cp.TotalAmountSpent == nil {
		cp.TotalAmountSpent = new(big.Int)
	}
	s.plans[plan.ID] = cp
	return nil
}

func (s *MemoryStore) UpdatePlan(ctx context.Context, id string, patch model.PlanPatch) (*model.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	now := s.now().UTC()
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if patch.Deleted {
		p.Active = false
		p.DeletedAt = &now
	}
	p.UpdatedAt = now
	return p.Clone(), nil
}

func (s *MemoryStore) RecordPlanExecution(ctx context.Context, id string, at time.Time, amount *big.Int, entry *model.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	if at.After(p.LastExecutionTime) {
		p.LastExecutionTime = at
	}
	p.TotalExecutions++
	p.TotalAmountSpent = addInt(p.TotalAmountSpent, amount)
	p.UpdatedAt = s.now().UTC()
	if entry != nil {
		s.logs = append(s.logs, entry)
	}
	return nil
}

func (s *MemoryStore) ActiveRebalancers(ctx context.Context) ([]*model.RebalancerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RebalancerConfig, 0, len(s.rebalancers))
	for _, c := range s.rebalancers {
		if c.Active {
			out = append(out, c.Clone())
		}
	}
	sortConfigs(out)
	return out, nil
}

func (s *MemoryStore) ListRebalancers(ctx context.Context, owner string) ([]*model.RebalancerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RebalancerConfig, 0, len(s.rebalancers))
	for _, c := range s.rebalancers {
		if owner == "" || sameIdentity(c.Owner, owner) {
			out = append(out, c.Clone())
		}
	}
	sortConfigs(out)
	return out, nil
}

func (s *MemoryStore) GetRebalancer(ctx context.Context, id string) (*model.RebalancerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.rebalancers[id]
	if !ok {
		return nil, fmt.Errorf("rebalancer %s: %w", id, model.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) CreateRebalancer(ctx context.Context, cfg *model.RebalancerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rebalancers[cfg.ID]; exists {
		return fmt.Errorf("rebalancer %s already exists", cfg.ID)
	}
	s.rebalancers[cfg.ID] = cfg.Clone()
	return nil
}

func (s *MemoryStore) UpdateRebalancer(ctx context.Context, id string, patch model.RebalancerPatch) (*model.RebalancerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rebalancers[id]
	if !ok {
		return nil, fmt.Errorf("rebalancer %s: %w", id, model.ErrNotFound)
	}
	now := s.now().UTC()
	if patch.Active != nil {
		c.Active = *patch.Active
	}
	if patch.Deleted {
		c.Active = false
		c.DeletedAt = &now
	}
	c.UpdatedAt = now
	return c.Clone(), nil
}

func (s *MemoryStore) RecordRebalance(ctx context.Context, id string, at time.Time, entry *model.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rebalancers[id]
	if !ok {
		return fmt.Errorf("rebalancer %s: %w", id, model.ErrNotFound)
	}
	if at.After(c.LastRebalanceTime) {
		c.LastRebalanceTime = at
	}
	c.TotalRebalances++
	c.UpdatedAt = s.now().UTC()
	if entry != nil {
		s.logs = append(s.logs, entry)
	}
	return nil
}

func (s *MemoryStore) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpsertPermission(ctx context.Context, perm *model.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := perm.Clone()
	cp.UpdatedAt = s.now().UTC()
	s.permissions[perm.ID] = cp
	return nil
}

func (s *MemoryStore) RevokePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok {
		return fmt.Errorf("permission %s: %w", id, model.ErrNotFound)
	}
	p.Active = false
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry *model.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// ListLogs returns newest first.
func (s *MemoryStore) ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out := make([]*model.ExecutionLog, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if matchesLog(s.logs[i], filter) {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) DeactivateAll(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	plans, configs := 0, 0
	for _, p := range s.plans {
		if p.Active {
			p.Active = false
			p.UpdatedAt = now
			plans++
		}
	}
	for _, c := range s.rebalancers {
		if c.Active {
			c.Active = false
			c.UpdatedAt = now
			configs++
		}
	}
	return plans, configs, nil
}

func sortPlans(plans []*model.Plan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
}

func sortConfigs(configs []*model.RebalancerConfig) {
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].CreatedAt.Equal(configs[j].CreatedAt) {
			return configs[i].ID < configs[j].ID
		}
		return configs[i].CreatedAt.Before(configs[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
