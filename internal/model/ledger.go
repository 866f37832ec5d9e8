package model

import (
	"errors"
	"math/big"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DCAOrder is a single slippage-protected swap request.
type DCAOrder struct {
	PermissionID string
	AssetFrom    string
	AssetTo      string
	Amount       *big.Int
	MinOut       *big.Int
}

type DCAReceipt struct {
	TxRef     string
	AmountOut *big.Int
	GasUsed   uint64
}

// RebalanceOrder is a batched trade request with parallel slices.
type RebalanceOrder struct {
	PermissionID string
	AssetsFrom   []string
	AssetsTo     []string
	Amounts      []*big.Int
	MinOuts      []*big.Int
}

type RebalanceReceipt struct {
	TxRef      string
	AmountsOut []*big.Int
	GasUsed    uint64
}
