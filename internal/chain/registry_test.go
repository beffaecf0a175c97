package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/aa"
	"github.com/Checker-Finance/relay-adapter/internal/rate"
)

// fakeBackend answers contract calls by 4-byte selector.
type fakeBackend struct {
	nonce   uint64
	code    map[common.Address][]byte
	results map[string][]byte // selector hex -> abi-encoded output
	calls   []ethereum.CallMsg
	closed  bool
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return f.code[account], nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	out, ok := f.results[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) Close() { f.closed = true }

func uintResult(t *testing.T, v int64) []byte {
	t.Helper()
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func newTestRegistry(t *testing.T, fb *fakeBackend) *Registry {
	t.Helper()
	return NewRegistry(zap.NewNop(), map[uint64]Backend{8453: fb}, rate.NewManager(rate.Config{RequestsPerSecond: 1000, Burst: 100}))
}

var (
	account     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	caliburImpl = common.HexToAddress("0x000000009B1D0aF20D8C6d0A44e162d11F9b8f00")
	entryPoint  = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	safeAddr    = common.HexToAddress("0x4f3edf983ac636a65a842ce7c78d9aa706d3b113")
	usdc        = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

func TestRegistry_NonceAndCode(t *testing.T) {
	fb := &fakeBackend{nonce: 12, code: map[common.Address][]byte{account: {0x01}}}
	r := newTestRegistry(t, fb)

	n, err := r.NonceAt(context.Background(), 8453, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)

	code, err := r.CodeAt(context.Background(), 8453, account)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, code)

	_, err = r.NonceAt(context.Background(), 1, account)
	assert.ErrorContains(t, err, "no rpc configured for chain 1")
}

func TestRegistry_CaliburNonce(t *testing.T) {
	fb := &fakeBackend{
		code: map[common.Address][]byte{},
		results: map[string][]byte{
			common.Bytes2Hex(aa.CaliburABI.Methods["getSeq"].ID): uintResult(t, 5),
		},
	}
	r := newTestRegistry(t, fb)

	// not delegated yet: no call is made
	n, err := r.CaliburNonce(context.Background(), 8453, account)
	require.NoError(t, err)
	assert.Zero(t, n.Sign())
	assert.Empty(t, fb.calls)

	fb.code[account] = append([]byte{0xef, 0x01, 0x00}, caliburImpl.Bytes()...)
	n, err = r.CaliburNonce(context.Background(), 8453, account)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n.Int64())
	require.Len(t, fb.calls, 1)
	assert.Equal(t, account, *fb.calls[0].To)
}

func TestRegistry_SafeReads(t *testing.T) {
	fb := &fakeBackend{results: map[string][]byte{
		common.Bytes2Hex(aa.SafeABI.Methods["nonce"].ID):        uintResult(t, 9),
		common.Bytes2Hex(aa.SafeABI.Methods["getThreshold"].ID): uintResult(t, 2),
	}}
	r := newTestRegistry(t, fb)

	n, err := r.SafeNonce(context.Background(), 8453, safeAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n.Int64())

	th, err := r.SafeThreshold(context.Background(), 8453, safeAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), th)
}

func TestRegistry_EntryPointAndTokenNonce(t *testing.T) {
	fb := &fakeBackend{results: map[string][]byte{
		common.Bytes2Hex(aa.EntryPointABI.Methods["getNonce"].ID): uintResult(t, 3),
		common.Bytes2Hex(aa.ERC20PermitABI.Methods["nonces"].ID):  uintResult(t, 1),
	}}
	r := newTestRegistry(t, fb)

	n, err := r.EntryPointNonce(context.Background(), 8453, entryPoint, account)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.Int64())
	require.Len(t, fb.calls, 1)
	assert.True(t, bytes.Contains(fb.calls[0].Data, account.Bytes()), "sender is encoded in the call")

	n, err = r.TokenNonce(context.Background(), 8453, usdc, account)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())
}

func TestRegistry_CallReverted(t *testing.T) {
	r := newTestRegistry(t, &fakeBackend{results: map[string][]byte{}})
	_, err := r.SafeNonce(context.Background(), 8453, safeAddr)
	assert.ErrorContains(t, err, "execution reverted")
}

func TestRegistry_ChainIDsAndClose(t *testing.T) {
	a, b := &fakeBackend{}, &fakeBackend{}
	r := NewRegistry(zap.NewNop(), map[uint64]Backend{10: a, 8453: b}, nil)
	assert.Equal(t, []uint64{10, 8453}, r.ChainIDs())
	assert.True(t, r.Supports(10))
	assert.False(t, r.Supports(1))

	r.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
