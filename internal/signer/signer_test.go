package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTx() *types.Transaction {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(30_000_000_000),
		Data:     []byte{0xde, 0xad},
	})
}

func TestSigner_SignTx(t *testing.T) {
	// Generate a random key for testing
	key, _ := crypto.GenerateKey()
	keyHex := hexutil.Encode(crypto.FromECDSA(key))

	s, err := NewSigner(keyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	assert.Equal(t, int64(137), s.ChainID().Int64())

	signed, err := s.SignTx(newTestTx())
	require.NoError(t, err)
	assert.Equal(t, int64(137), signed.ChainId().Int64())

	from, err := s.Sender(signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)

	// A signer for another chain must not recover the same sender.
	other, err := NewSigner(keyHex, 1)
	require.NoError(t, err)
	_, err = other.Sender(signed)
	assert.Error(t, err)
}

func TestNewSignerRejectsBadInput(t *testing.T) {
	_, err := NewSigner("", 137)
	assert.Error(t, err)
	_, err = NewSigner("not-hex", 137)
	assert.Error(t, err)

	key, _ := crypto.GenerateKey()
	_, err = NewSigner(hexutil.Encode(crypto.FromECDSA(key))[2:], 0)
	assert.Error(t, err)
}

func BenchmarkSignTx(b *testing.B) {
	key, _ := crypto.GenerateKey()
	s, _ := NewSigner(hexutil.Encode(crypto.FromECDSA(key))[2:], 137)
	tx := newTestTx()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.SignTx(tx)
	}
}
