package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceReader is the chain call the nonce manager syncs from.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out transaction nonces optimistically per sender.
type NonceManager struct {
	client PendingNonceReader

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewNonceManager(client PendingNonceReader) *NonceManager {
	return &NonceManager{
		client: client,
		nonces: make(map[common.Address]uint64),
	}
}

// Next returns the nonce to use for the next transaction from addr.
// If it's the first time, it fetches the pending nonce from chain.
func (m *NonceManager) Next(ctx context.Context, addr common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonce, ok := m.nonces[addr]
	if ok {
		return nonce, nil
	}

	fetched, err := m.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	m.nonces[addr] = fetched
	return fetched, nil
}

// Commit advances the local nonce. Call this AFTER a successful broadcast.
func (m *NonceManager) Commit(addr common.Address, used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.nonces[addr]; ok && current == used {
		m.nonces[addr] = used + 1
	}
}

// Reset drops the cached nonce so the next call re-syncs from chain.
// Call this on "nonce too low" or "replacement transaction underpriced".
func (m *NonceManager) Reset(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nonces, addr)
	logger.Info("reset tx nonce", "address", addr.Hex())
}
