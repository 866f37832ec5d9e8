package service

import (
	"context"
	"math/big"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
)

// PlanStore is the persistence needed by the DCA engine.
type PlanStore interface {
	ActivePlans(ctx context.Context) ([]*model.Plan, error)
	GetPlan(ctx context.Context, id string) (*model.Plan, error)
	UpdatePlan(ctx context.Context, id string, patch model.PlanPatch) (*model.Plan, error)
	// RecordPlanExecution bumps the execution counters and appends entry atomically.
	RecordPlanExecution(ctx context.Context, id string, at time.Time, amount *big.Int, entry *model.ExecutionLog) error
	AppendLog(ctx context.Context, entry *model.ExecutionLog) error
}

// RebalancerStore is the persistence needed by the rebalance engine.
type RebalancerStore interface {
	ActiveRebalancers(ctx context.Context) ([]*model.RebalancerConfig, error)
	GetRebalancer(ctx context.Context, id string) (*model.RebalancerConfig, error)
	UpdateRebalancer(ctx context.Context, id string, patch model.RebalancerPatch) (*model.RebalancerConfig, error)
	RecordRebalance(ctx context.Context, id string, at time.Time, entry *model.ExecutionLog) error
	AppendLog(ctx context.Context, entry *model.ExecutionLog) error
}

// PermissionStore reads the local permission mirror.
type PermissionStore interface {
	GetPermission(ctx context.Context, id string) (*model.Permission, error)
}

// Store is the full persistence port.
type Store interface {
	PlanStore
	RebalancerStore
	PermissionStore

	ListPlans(ctx context.Context, owner string) ([]*model.Plan, error)
	CreatePlan(ctx context.Context, plan *model.Plan) error
	ListRebalancers(ctx context.Context, owner string) ([]*model.RebalancerConfig, error)
	CreateRebalancer(ctx context.Context, cfg *model.RebalancerConfig) error
	UpsertPermission(ctx context.Context, perm *model.Permission) error
	RevokePermission(ctx context.Context, id string) error
	ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error)
	// DeactivateAll clears the active flag on every plan and config.
	DeactivateAll(ctx context.Context) (plans int, configs int, err error)
}

type LedgerQuery interface {
	// GetPermissionInfo returns nil, nil when the ledger has no such permission.
	GetPermissionInfo(ctx context.Context, permissionID string) (*model.PermissionInfo, error)
	CheckAllowance(ctx context.Context, permissionID string, amount *big.Int) (bool, error)
}

type LedgerExecutor interface {
	ExecuteDCA(ctx context.Context, order model.DCAOrder) (*model.DCAReceipt, error)
	ExecuteRebalance(ctx context.Context, order model.RebalanceOrder) (*model.RebalanceReceipt, error)
}

type Oracle interface {
	GetBalances(ctx context.Context, assets []string, owner string) (map[string]*big.Int, error)
	GetUsdValue(ctx context.Context, asset string, amount *big.Int) (float64, error)
	GetDecimals(ctx context.Context, asset string) (int, error)
	// Quote estimates the output of swapping amount of from into to.
	Quote(ctx context.Context, from, to string, amount *big.Int) (*big.Int, error)
}

// ExecutionPublisher hands execution logs to the analytics pipeline. It must not block.
type ExecutionPublisher interface {
	Publish(entry *model.ExecutionLog)
}
