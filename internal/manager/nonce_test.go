package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNonceReader struct {
	nonce uint64
	calls int
	err   error
}

func (s *stubNonceReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.calls++
	return s.nonce, s.err
}

func TestNonceManager(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x01")
	chain := &stubNonceReader{nonce: 5}
	m := NewNonceManager(chain)

	n, err := m.Next(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	m.Commit(addr, n)
	n, err = m.Next(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
	assert.Equal(t, 1, chain.calls, "cached after the first fetch")

	// A stale commit is ignored.
	m.Commit(addr, 5)
	n, _ = m.Next(ctx, addr)
	assert.Equal(t, uint64(6), n)

	chain.nonce = 9
	m.Reset(addr)
	n, err = m.Next(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
	assert.Equal(t, 2, chain.calls)
}

func TestNonceManagerFetchError(t *testing.T) {
	m := NewNonceManager(&stubNonceReader{err: errors.New("rpc down")})
	_, err := m.Next(context.Background(), common.HexToAddress("0x01"))
	assert.Error(t, err)
}
