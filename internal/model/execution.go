package model

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ExecutionType distinguishes the two kinds of automated operations.
type ExecutionType string

const (
	ExecutionDCA       ExecutionType = "dca"
	ExecutionRebalance ExecutionType = "rebalance"
)

// ExecutionStatus is the terminal status of an attempt that reached the ledger.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// TradeLeg is one from/to swap inside an execution. DCA has exactly one leg.
type TradeLeg struct {
	AssetFrom string   `json:"asset_from"`
	AssetTo   string   `json:"asset_to"`
	AmountIn  *big.Int `json:"amount_in"`
	MinOut    *big.Int `json:"min_out,omitempty"`
	AmountOut *big.Int `json:"amount_out,omitempty"`
}

// ExecutionLog is the immutable record of one execution attempt.
type ExecutionLog struct {
	ID           string          `json:"id"`
	Type         ExecutionType   `json:"type"`
	ItemID       string          `json:"item_id"` // plan or rebalancer config id
	Owner        string          `json:"owner"`
	PermissionID string          `json:"permission_id"`
	TxRef        string          `json:"tx_ref,omitempty"`
	GasUsed      uint64          `json:"gas_used"`
	Legs         []TradeLeg      `json:"legs"`
	Status       ExecutionStatus `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewExecutionLog stamps a fresh log with an id and creation time.
func NewExecutionLog(kind ExecutionType, itemID, owner, permissionID string, at time.Time) *ExecutionLog {
	return &ExecutionLog{
		ID:           uuid.NewString(),
		Type:         kind,
		ItemID:       itemID,
		Owner:        owner,
		PermissionID: permissionID,
		CreatedAt:    at.UTC(),
	}
}

// LogFilter narrows an execution log listing.
type LogFilter struct {
	Type   ExecutionType
	ItemID string
	Owner  string
	Limit  int
}
