package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// WeightTolerance is the accepted drift of the weight sum from 100.
const WeightTolerance = 0.01

// AssetWeight is one target allocation entry.
type AssetWeight struct {
	AssetID             string  `json:"asset_id"`
	TargetWeightPercent float64 `json:"target_weight_percent"`
}

// RebalancerConfig is a target-weight portfolio configuration.
type RebalancerConfig struct {
	ID                string        `json:"id"`
	Owner             string        `json:"owner"`
	PermissionID      string        `json:"permission_id"`
	Assets            []AssetWeight `json:"assets"`
	ThresholdPercent  float64       `json:"threshold_percent"`
	LastRebalanceTime time.Time     `json:"last_rebalance_time"` // zero until the first rebalance
	TotalRebalances   int64         `json:"total_rebalances"`
	Active            bool          `json:"active"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
}

// Validate checks the weight and asset invariants.
func (c *RebalancerConfig) Validate() error {
	if len(c.Assets) < 2 {
		return errors.New("at least two assets are required")
	}
	if c.ThresholdPercent <= 0 {
		return errors.New("threshold percent must be positive")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	sum := 0.0
	for _, a := range c.Assets {
		if a.AssetID == "" {
			return errors.New("asset id is required")
		}
		key := strings.ToLower(a.AssetID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate asset %s", a.AssetID)
		}
		seen[key] = struct{}{}
		if a.TargetWeightPercent <= 0 || a.TargetWeightPercent > 100 {
			return fmt.Errorf("weight for %s out of range: %v", a.AssetID, a.TargetWeightPercent)
		}
		sum += a.TargetWeightPercent
	}
	if math.Abs(sum-100) > WeightTolerance {
		return fmt.Errorf("target weights sum to %v, want 100", sum)
	}
	return nil
}

// AssetIDs returns the configured assets in declaration order.
func (c *RebalancerConfig) AssetIDs() []string {
	ids := make([]string, len(c.Assets))
	for i, a := range c.Assets {
		ids[i] = a.AssetID
	}
	return ids
}

func (c *RebalancerConfig) Clone() *RebalancerConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Assets = append([]AssetWeight(nil), c.Assets...)
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// RebalancerPatch carries the externally mutable config fields.
type RebalancerPatch struct {
	Active  *bool
	Deleted bool
}
