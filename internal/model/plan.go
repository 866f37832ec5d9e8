package model

import (
	"fmt"
	"math/big"
	"time"
)

// Period is the cadence of a recurring purchase.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Length returns the fixed period length. Months are 30 days.
func (p Period) Length() (time.Duration, error) {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour, nil
	case PeriodWeekly:
		return 7 * 24 * time.Hour, nil
	case PeriodMonthly:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period %q", p)
	}
}

// Plan is a recurring purchase (DCA) configuration.
type Plan struct {
	ID                string     `json:"id"`
	Owner             string     `json:"owner"`
	PermissionID      string     `json:"permission_id"`
	AssetFrom         string     `json:"asset_from"`
	AssetTo           string     `json:"asset_to"`
	AmountPerPeriod   *big.Int   `json:"amount_per_period"` // base units
	Period            Period     `json:"period"`
	DurationSeconds   int64      `json:"duration_seconds"`
	StartTime         time.Time  `json:"start_time"`
	LastExecutionTime time.Time  `json:"last_execution_time"` // zero until the first run
	TotalExecutions   int64      `json:"total_executions"`
	TotalAmountSpent  *big.Int   `json:"total_amount_spent"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// EndTime is the instant after which the plan is expired.
func (p *Plan) EndTime() time.Time {
	return p.StartTime.Add(time.Duration(p.DurationSeconds) * time.Second)
}

// Expired reports whether now is past the plan's active window.
func (p *Plan) Expired(now time.Time) bool {
	return now.After(p.EndTime())
}

// Clone returns a deep copy so callers never share big.Int values with a store.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.AmountPerPeriod = cloneInt(p.AmountPerPeriod)
	cp.TotalAmountSpent = cloneInt(p.TotalAmountSpent)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// PlanPatch carries the externally mutable plan fields.
type PlanPatch struct {
	Active  *bool
	Deleted bool
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
