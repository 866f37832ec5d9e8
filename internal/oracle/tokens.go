package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/GoPolymarket/autopilot/internal/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker"
)

// NativeDecimals is the precision of the chain's native asset.
const NativeDecimals = 18

// TokenReader reads ERC-20 balances and decimals. The zero address stands
// for the native asset.
type TokenReader struct {
	backend ledger.Backend
	breaker *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	decimals map[common.Address]int
}

func NewTokenReader(backend ledger.Backend, breaker *gobreaker.CircuitBreaker) *TokenReader {
	if breaker == nil {
		breaker = ledger.NewBreaker(ledger.BreakerSettings{Name: "tokens"})
	}
	return &TokenReader{
		backend:  backend,
		breaker:  breaker,
		decimals: make(map[common.Address]int),
	}
}

func (r *TokenReader) BalanceOf(ctx context.Context, asset, owner string) (*big.Int, error) {
	token, err := ledger.AssetAddress(asset)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("owner %q is not an address", owner)
	}
	holder := common.HexToAddress(owner)

	if token == (common.Address{}) {
		return ledger.Guard(r.breaker, "balanceAt", func() (*big.Int, error) {
			return r.backend.BalanceAt(ctx, holder, nil)
		})
	}

	data, err := ledger.ERC20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := r.call(ctx, "balanceOf", token, data)
	if err != nil {
		return nil, err
	}
	values, err := ledger.ERC20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("unpack balanceOf %s: %v", asset, err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output for %s", asset)
	}
	return balance, nil
}

// Decimals is cached per token for the life of the process.
func (r *TokenReader) Decimals(ctx context.Context, asset string) (int, error) {
	token, err := ledger.AssetAddress(asset)
	if err != nil {
		return 0, err
	}
	if token == (common.Address{}) {
		return NativeDecimals, nil
	}

	r.mu.RLock()
	d, ok := r.decimals[token]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	data, err := ledger.ERC20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := r.call(ctx, "decimals", token, data)
	if err != nil {
		return 0, err
	}
	values, err := ledger.ERC20ABI.Unpack("decimals", out)
	if err != nil || len(values) != 1 {
		return 0, fmt.Errorf("unpack decimals %s: %v", asset, err)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals output for %s", asset)
	}

	r.mu.Lock()
	r.decimals[token] = int(v)
	r.mu.Unlock()
	return int(v), nil
}

func (r *TokenReader) call(ctx context.Context, method string, token common.Address, data []byte) ([]byte, error) {
	out, err := ledger.Guard(r.breaker, method, func() ([]byte, error) {
		return r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", method, strings.ToLower(token.Hex()), err)
	}
	return out, nil
}
