package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/autopilot/internal/manager"
	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sony/gobreaker"
)

// Backend is the subset of ethclient.Client the ledger and oracle use.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Options struct {
	Contract           common.Address
	CallTimeout        time.Duration
	ReceiptTimeout     time.Duration
	ReceiptPoll        time.Duration
	GasLimitMultiplier float64
}

func (o *Options) setDefaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = 2 * time.Second
	}
	if o.GasLimitMultiplier < 1 {
		o.GasLimitMultiplier = 1.2
	}
}

// Client talks to the permission-manager contract. Queries work without a
// signer; executions require one.
type Client struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
	signer  *signer.Signer
	nonces  *manager.NonceManager
	opts    Options
}

func NewClient(backend Backend, s *signer.Signer, breaker *gobreaker.CircuitBreaker, opts Options) *Client {
	opts.setDefaults()
	if breaker == nil {
		breaker = NewBreaker(BreakerSettings{Name: "ledger"})
	}
	return &Client{
		backend: backend,
		breaker: breaker,
		signer:  s,
		nonces:  manager.NewNonceManager(backend),
		opts:    opts,
	}
}

// PermissionKey maps a permission id onto its bytes32 key. Hex ids up to 32
// bytes are used as-is, anything else is hashed.
func PermissionKey(id string) (common.Hash, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return common.Hash{}, errors.New("empty permission id")
	}
	if b, err := hexutil.Decode(id); err == nil && len(b) <= common.HashLength {
		return common.BytesToHash(b), nil
	}
	return crypto.Keccak256Hash([]byte(id)), nil
}

// AssetAddress parses an asset id, which must be a token address.
func AssetAddress(id string) (common.Address, error) {
	if !common.IsHexAddress(id) {
		return common.Address{}, fmt.Errorf("asset %q is not a token address", id)
	}
	return common.HexToAddress(id), nil
}

func (c *Client) GetPermissionInfo(ctx context.Context, permissionID string) (*model.PermissionInfo, error) {
	key, err := PermissionKey(permissionID)
	if err != nil {
		return nil, err
	}
	data, err := PermissionManagerABI.Pack("getPermission", key)
	if err != nil {
		return nil, fmt.Errorf("pack getPermission: %w", err)
	}
	out, err := c.call(ctx, "getPermission", data)
	if err != nil {
		return nil, err
	}

	var tuple permissionTuple
	if err := PermissionManagerABI.UnpackIntoInterface(&tuple, "getPermission", out); err != nil {
		return nil, fmt.Errorf("unpack getPermission: %w", err)
	}
	if tuple.Owner == (common.Address{}) {
		return nil, nil
	}
	return &model.PermissionInfo{
		Owner:      tuple.Owner.Hex(),
		Delegatee:  tuple.Delegatee.Hex(),
		Allowance:  tuple.Allowance,
		Spent:      tuple.Spent,
		ResetTime:  time.Unix(int64(tuple.ResetTime), 0).UTC(),
		TimeWindow: time.Duration(tuple.TimeWindow) * time.Second,
		Active:     tuple.Active,
	}, nil
}

func (c *Client) CheckAllowance(ctx context.Context, permissionID string, amount *big.Int) (bool, error) {
	key, err := PermissionKey(permissionID)
	if err != nil {
		return false, err
	}
	data, err := PermissionManagerABI.Pack("checkAllowance", key, amount)
	if err != nil {
		return false, fmt.Errorf("pack checkAllowance: %w", err)
	}
	out, err := c.call(ctx, "checkAllowance", data)
	if err != nil {
		return false, err
	}
	values, err := PermissionManagerABI.Unpack("checkAllowance", out)
	if err != nil || len(values) != 1 {
		return false, fmt.Errorf("unpack checkAllowance: %v", err)
	}
	ok, _ := values[0].(bool)
	return ok, nil
}

func (c *Client) ExecuteDCA(ctx context.Context, order model.DCAOrder) (*model.DCAReceipt, error) {
	key, err := PermissionKey(order.PermissionID)
	if err != nil {
		return nil, err
	}
	from, err := AssetAddress(order.AssetFrom)
	if err != nil {
		return nil, err
	}
	to, err := AssetAddress(order.AssetTo)
	if err != nil {
		return nil, err
	}
	data, err := PermissionManagerABI.Pack("executeDCA", key, from, to, order.Amount, order.MinOut)
	if err != nil {
		return nil, fmt.Errorf("pack executeDCA: %w", err)
	}

	receipt, err := c.transact(ctx, "executeDCA", data)
	if err != nil {
		return nil, err
	}
	out := &model.DCAReceipt{TxRef: receipt.TxHash.Hex(), GasUsed: receipt.GasUsed}

	var ev dcaExecutedEvent
	found, err := c.decodeEvent(receipt, "DCAExecuted", &ev)
	switch {
	case err != nil:
		logger.Warn("failed to decode DCAExecuted", "tx", out.TxRef, "error", err)
	case !found:
		logger.Warn("no DCAExecuted event in receipt", "tx", out.TxRef)
	default:
		out.AmountOut = ev.AmountOut
	}
	return out, nil
}

func (c *Client) ExecuteRebalance(ctx context.Context, order model.RebalanceOrder) (*model.RebalanceReceipt, error) {
	key, err := PermissionKey(order.PermissionID)
	if err != nil {
		return nil, err
	}
	n := len(order.AssetsFrom)
	if n == 0 || len(order.AssetsTo) != n || len(order.Amounts) != n || len(order.MinOuts) != n {
		return nil, errors.New("rebalance order legs are empty or mismatched")
	}
	froms := make([]common.Address, n)
	tos := make([]common.Address, n)
	for i := 0; i < n; i++ {
		if froms[i], err = AssetAddress(order.AssetsFrom[i]); err != nil {
			return nil, err
		}
		if tos[i], err = AssetAddress(order.AssetsTo[i]); err != nil {
			return nil, err
		}
	}
	data, err := PermissionManagerABI.Pack("executeRebalance", key, froms, tos, order.Amounts, order.MinOuts)
	if err != nil {
		return nil, fmt.Errorf("pack executeRebalance: %w", err)
	}

	receipt, err := c.transact(ctx, "executeRebalance", data)
	if err != nil {
		return nil, err
	}
	out := &model.RebalanceReceipt{TxRef: receipt.TxHash.Hex(), GasUsed: receipt.GasUsed}

	var ev rebalanceExecutedEvent
	found, err := c.decodeEvent(receipt, "RebalanceExecuted", &ev)
	switch {
	case err != nil:
		logger.Warn("failed to decode RebalanceExecuted", "tx", out.TxRef, "error", err)
	case !found:
		logger.Warn("no RebalanceExecuted event in receipt", "tx", out.TxRef)
	default:
		out.AmountsOut = ev.AmountsOut
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	to := c.opts.Contract
	out, err := Guard(c.breaker, method, func() ([]byte, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	return out, nil
}

// transact signs and broadcasts a legacy transaction, then waits for a
// successful receipt.
func (c *Client) transact(ctx context.Context, method string, data []byte) (*types.Receipt, error) {
	if c.signer == nil {
		return nil, errors.New("no executor key configured")
	}
	from := c.signer.Address()
	to := c.opts.Contract

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	nonce, err := c.nonces.Next(callCtx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := Guard(c.breaker, "suggestGasPrice", func() (*big.Int, error) {
		return c.backend.SuggestGasPrice(callCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := Guard(c.breaker, "estimateGas", func() (uint64, error) {
		return c.backend.EstimateGas(callCtx, ethereum.CallMsg{From: from, To: &to, Data: data})
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", method, err)
	}
	gas = uint64(math.Ceil(float64(gas) * c.opts.GasLimitMultiplier))

	tx, err := c.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	}))
	if err != nil {
		return nil, err
	}

	_, err = Guard(c.breaker, method, func() (struct{}, error) {
		return struct{}{}, c.backend.SendTransaction(callCtx, tx)
	})
	if err != nil {
		if isNonceError(err) {
			c.nonces.Reset(from)
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	c.nonces.Commit(from, nonce)
	logger.Info("ledger tx sent", "method", method, "tx", tx.Hash().Hex(), "nonce", nonce, "gas", gas)

	receipt, err := c.waitReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s reverted in tx %s", method, tx.Hash().Hex())
	}
	if receipt.TxHash == (common.Hash{}) {
		receipt.TxHash = tx.Hash()
	}
	return receipt, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := Guard(c.breaker, "getReceipt", func() (*types.Receipt, error) {
			return c.backend.TransactionReceipt(ctx, hash)
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) decodeEvent(receipt *types.Receipt, name string, out interface{}) (bool, error) {
	event, ok := PermissionManagerABI.Events[name]
	if !ok {
		return false, fmt.Errorf("unknown event %s", name)
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.opts.Contract || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		if err := PermissionManagerABI.UnpackIntoInterface(out, name, l.Data); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce") || strings.Contains(msg, "replacement transaction underpriced")
}
