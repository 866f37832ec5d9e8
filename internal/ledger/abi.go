package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const permissionManagerABI = `[
{"type":"function","name":"getPermission","stateMutability":"view",
 "inputs":[{"name":"permissionId","type":"bytes32"}],
 "outputs":[{"name":"owner","type":"address"},{"name":"delegatee","type":"address"},{"name":"allowance","type":"uint256"},{"name":"spent","type":"uint256"},{"name":"resetTime","type":"uint64"},{"name":"timeWindow","type":"uint64"},{"name":"active","type":"bool"}]},
{"type":"function","name":"checkAllowance","stateMutability":"view",
 "inputs":[{"name":"permissionId","type":"bytes32"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"ok","type":"bool"}]},
{"type":"function","name":"executeDCA","stateMutability":"nonpayable",
 "inputs":[{"name":"permissionId","type":"bytes32"},{"name":"assetFrom","type":"address"},{"name":"assetTo","type":"address"},{"name":"amount","type":"uint256"},{"name":"minOut","type":"uint256"}],
 "outputs":[{"name":"amountOut","type":"uint256"}]},
{"type":"function","name":"executeRebalance","stateMutability":"nonpayable",
 "inputs":[{"name":"permissionId","type":"bytes32"},{"name":"assetsFrom","type":"address[]"},{"name":"assetsTo","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"minOuts","type":"uint256[]"}],
 "outputs":[{"name":"amountsOut","type":"uint256[]"}]},
{"type":"event","name":"DCAExecuted","anonymous":false,
 "inputs":[{"name":"permissionId","type":"bytes32","indexed":true},{"name":"assetFrom","type":"address","indexed":true},{"name":"assetTo","type":"address","indexed":true},{"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false}]},
{"type":"event","name":"RebalanceExecuted","anonymous":false,
 "inputs":[{"name":"permissionId","type":"bytes32","indexed":true},{"name":"assetsFrom","type":"address[]","indexed":false},{"name":"assetsTo","type":"address[]","indexed":false},{"name":"amountsIn","type":"uint256[]","indexed":false},{"name":"amountsOut","type":"uint256[]","indexed":false}]}
]`

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	PermissionManagerABI = mustParseABI(permissionManagerABI)
	ERC20ABI             = mustParseABI(erc20ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: invalid abi: " + err.Error())
	}
	return parsed
}

// permissionTuple mirrors the getPermission outputs.
type permissionTuple struct {
	Owner      common.Address
	Delegatee  common.Address
	Allowance  *big.Int
	Spent      *big.Int
	ResetTime  uint64
	TimeWindow uint64
	Active     bool
}

type dcaExecutedEvent struct {
	AmountIn  *big.Int
	AmountOut *big.Int
}

type rebalanceExecutedEvent struct {
	AssetsFrom []common.Address
	AssetsTo   []common.Address
	AmountsIn  []*big.Int
	AmountsOut []*big.Int
}
