package model

import (
	"math/big"
	"time"
)

// Permission is the local mirror of a ledger allowance grant.
type Permission struct {
	ID                 string    `json:"id"`
	Owner              string    `json:"owner"`
	Delegatee          string    `json:"delegatee"` // execution agent
	Allowance          *big.Int  `json:"allowance"`
	Spent              *big.Int  `json:"spent"`
	ResetWindowSeconds int64     `json:"reset_window_seconds"`
	NextResetTime      time.Time `json:"next_reset_time"`
	Active             bool      `json:"active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Remaining is allowance minus spent, floored at zero.
func (p *Permission) Remaining() *big.Int {
	return Remaining(p.Allowance, p.Spent)
}

func (p *Permission) Clone() *Permission {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Allowance = cloneInt(p.Allowance)
	cp.Spent = cloneInt(p.Spent)
	return &cp
}

// PermissionInfo is what the ledger reports for a permission id.
type PermissionInfo struct {
	Owner      string
	Delegatee  string
	Allowance  *big.Int
	Spent      *big.Int
	ResetTime  time.Time
	TimeWindow time.Duration
	Active     bool
}

// Remaining computes allowance - spent with nil treated as zero.
func Remaining(allowance, spent *big.Int) *big.Int {
	out := new(big.Int)
	if allowance != nil {
		out.Set(allowance)
	}
	if spent != nil {
		out.Sub(out, spent)
	}
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}
