package model

import (
	"fmt"
	"math/big"
	"time"
)

// CreatePlanRequest represents the incoming JSON body for a new plan
type CreatePlanRequest struct {
	Owner           string     `json:"owner" binding:"required"`
	PermissionID    string     `json:"permission_id" binding:"required"`
	AssetFrom       string     `json:"asset_from" binding:"required"`
	AssetTo         string     `json:"asset_to" binding:"required,nefield=AssetFrom"`
	AmountPerPeriod string     `json:"amount_per_period" binding:"required,numeric"` // base units, decimal string
	Period          Period     `json:"period" binding:"required,oneof=daily weekly monthly"`
	DurationSeconds int64      `json:"duration_seconds" binding:"required,gt=0"`
	StartTime       *time.Time `json:"start_time,omitempty"`
}

// CreateRebalancerRequest represents the incoming JSON body for a new rebalancer config
type CreateRebalancerRequest struct {
	Owner            string        `json:"owner" binding:"required"`
	PermissionID     string        `json:"permission_id" binding:"required"`
	Assets           []AssetWeight `json:"assets" binding:"required,min=2"`
	ThresholdPercent float64       `json:"threshold_percent" binding:"required,gt=0"`
}

// UpsertPermissionRequest mirrors a ledger permission locally
type UpsertPermissionRequest struct {
	ID                 string     `json:"id" binding:"required"`
	Owner              string     `json:"owner" binding:"required"`
	Delegatee          string     `json:"delegatee"`
	Allowance          string     `json:"allowance" binding:"required,numeric"`
	Spent              string     `json:"spent" binding:"omitempty,numeric"`
	ResetWindowSeconds int64      `json:"reset_window_seconds"`
	NextResetTime      *time.Time `json:"next_reset_time,omitempty"`
}

type EmergencyStopRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ReconfigureRequest struct {
	IntervalMinutes int `json:"interval_minutes" binding:"required,min=1"`
}

// ParseAmount parses a non-negative base-unit integer.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative: %s", s)
	}
	return v, nil
}
