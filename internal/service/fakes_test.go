package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/autopilot/internal/model"
)

const (
	testOwner      = "0xAbC0000000000000000000000000000000000001"
	testPermission = "0x01"
	testDelegatee  = "0x00000000000000000000000000000000000000d1"
)

type fakeLedger struct {
	mu          sync.Mutex
	info        map[string]*model.PermissionInfo
	infoErr     error
	allowanceOK bool
	execErr     error
	amountOut   *big.Int
	dcaOrders   []model.DCAOrder
	rebOrders   []model.RebalanceOrder
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		info: map[string]*model.PermissionInfo{
			testPermission: {
				Owner:     strings.ToLower(testOwner),
				Delegatee: testDelegatee,
				Allowance: big.NewInt(1_000_000_000),
				Spent:     big.NewInt(0),
				Active:    true,
			},
		},
		allowanceOK: true,
		amountOut:   big.NewInt(95),
	}
}

func (f *fakeLedger) GetPermissionInfo(ctx context.Context, id string) (*model.PermissionInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info[id], nil
}

func (f *fakeLedger) CheckAllowance(ctx context.Context, id string, amount *big.Int) (bool, error) {
	return f.allowanceOK, nil
}

func (f *fakeLedger) ExecuteDCA(ctx context.Context, order model.DCAOrder) (*model.DCAReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dcaOrders = append(f.dcaOrders, order)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return &model.DCAReceipt{TxRef: "0xtx", AmountOut: f.amountOut, GasUsed: 21000}, nil
}

func (f *fakeLedger) ExecuteRebalance(ctx context.Context, order model.RebalanceOrder) (*model.RebalanceReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebOrders = append(f.rebOrders, order)
	if f.execErr != nil {
		return nil, f.execErr
	}
	outs := make([]*big.Int, len(order.Amounts))
	for i, a := range order.Amounts {
		outs[i] = new(big.Int).Set(a)
	}
	return &model.RebalanceReceipt{TxRef: "0xreb", AmountsOut: outs, GasUsed: 90000}, nil
}

func (f *fakeLedger) dcaCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dcaOrders)
}

func (f *fakeLedger) rebalanceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rebOrders)
}

// fakeOracle prices every asset at one USD per base unit.
type fakeOracle struct {
	balances map[string]*big.Int
	decimals map[string]int
	quoteErr error
	usdErr   error
}

func (o *fakeOracle) GetBalances(ctx context.Context, assets []string, owner string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(assets))
	for _, a := range assets {
		if b, ok := o.balances[a]; ok {
			out[a] = new(big.Int).Set(b)
		}
	}
	return out, nil
}

func (o *fakeOracle) GetUsdValue(ctx context.Context, asset string, amount *big.Int) (float64, error) {
	if o.usdErr != nil {
		return 0, o.usdErr
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f, nil
}

func (o *fakeOracle) GetDecimals(ctx context.Context, asset string) (int, error) {
	return o.decimals[asset], nil
}

func (o *fakeOracle) Quote(ctx context.Context, from, to string, amount *big.Int) (*big.Int, error) {
	if o.quoteErr != nil {
		return nil, o.quoteErr
	}
	return new(big.Int).Set(amount), nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []*model.ExecutionLog
}

func (p *recordingPublisher) Publish(entry *model.ExecutionLog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

type failingSink struct {
	calls int
}

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) LogExecution(ctx context.Context, entry *model.ExecutionLog) error {
	s.calls++
	return errors.New("sink down")
}

type collectingSink struct {
	mu      sync.Mutex
	entries []*model.ExecutionLog
}

func (s *collectingSink) Name() string { return "collect" }

func (s *collectingSink) LogExecution(ctx context.Context, entry *model.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func noSleep(context.Context, time.Duration) error { return nil }
