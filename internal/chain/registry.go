// Package chain reads account and contract state from the origin chains.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/aa"
	"github.com/Checker-Finance/relay-adapter/internal/rate"
	"github.com/Checker-Finance/relay-adapter/pkg/utils"
)

// Backend is the subset of ethclient.Client the registry uses.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Reader is what the bridge flows need from the chain.
type Reader interface {
	NonceAt(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, chainID uint64, account common.Address) ([]byte, error)
	CaliburNonce(ctx context.Context, chainID uint64, account common.Address) (*big.Int, error)
	SafeNonce(ctx context.Context, chainID uint64, safe common.Address) (*big.Int, error)
	SafeThreshold(ctx context.Context, chainID uint64, safe common.Address) (uint64, error)
	EntryPointNonce(ctx context.Context, chainID uint64, entryPoint, sender common.Address) (*big.Int, error)
	TokenNonce(ctx context.Context, chainID uint64, token, owner common.Address) (*big.Int, error)
}

// Registry holds one JSON-RPC backend per configured chain id.
type Registry struct {
	logger   *zap.Logger
	backends map[uint64]Backend
	rateMgr  *rate.Manager
}

// Dial connects to every configured RPC endpoint.
func Dial(ctx context.Context, logger *zap.Logger, rpcURLs map[uint64]string, rateMgr *rate.Manager) (*Registry, error) {
	backends := make(map[uint64]Backend, len(rpcURLs))
	for id, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, b := range backends {
				b.Close()
			}
			return nil, fmt.Errorf("dial chain %d: %w", id, err)
		}
		backends[id] = client
		logger.Info("chain.rpc_connected",
			zap.Uint64("chain_id", id),
			zap.String("rpc", utils.MaskURL(url)))
	}
	return NewRegistry(logger, backends, rateMgr), nil
}

// NewRegistry wraps already-constructed backends.
func NewRegistry(logger *zap.Logger, backends map[uint64]Backend, rateMgr *rate.Manager) *Registry {
	return &Registry{logger: logger, backends: backends, rateMgr: rateMgr}
}

// ChainIDs lists the configured chains in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Supports reports whether an RPC endpoint is configured for chainID.
func (r *Registry) Supports(chainID uint64) bool {
	_, ok := r.backends[chainID]
	return ok
}

// Close releases every backend.
func (r *Registry) Close() {
	for _, b := range r.backends {
		b.Close()
	}
}

func (r *Registry) backend(ctx context.Context, chainID uint64) (Backend, error) {
	b, ok := r.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc configured for chain %d", chainID)
	}
	if r.rateMgr != nil {
		if err := r.rateMgr.Wait(ctx, fmt.Sprintf("rpc:%d", chainID)); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return b, nil
}

// NonceAt returns the pending transaction count of an EOA.
func (r *Registry) NonceAt(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	b, err := r.backend(ctx, chainID)
	if err != nil {
		return 0, err
	}
	n, err := b.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("nonce of %s on chain %d: %w", account.Hex(), chainID, err)
	}
	return n, nil
}

// CodeAt returns the latest code at account.
func (r *Registry) CodeAt(ctx context.Context, chainID uint64, account common.Address) ([]byte, error) {
	b, err := r.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	code, err := b.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("code of %s on chain %d: %w", account.Hex(), chainID, err)
	}
	return code, nil
}

// CaliburNonce reads getSeq(0) from a delegated EOA. Undelegated accounts start at zero.
func (r *Registry) CaliburNonce(ctx context.Context, chainID uint64, account common.Address) (*big.Int, error) {
	code, err := r.CodeAt(ctx, chainID, account)
	if err != nil {
		return nil, err
	}
	if _, ok := aa.DelegationTarget(code); !ok {
		return new(big.Int), nil
	}
	return r.callUint(ctx, chainID, account, aa.CaliburABI, "getSeq", big.NewInt(0))
}

// SafeNonce reads nonce() from a Safe.
func (r *Registry) SafeNonce(ctx context.Context, chainID uint64, safe common.Address) (*big.Int, error) {
	return r.callUint(ctx, chainID, safe, aa.SafeABI, "nonce")
}

// SafeThreshold reads getThreshold() from a Safe.
func (r *Registry) SafeThreshold(ctx context.Context, chainID uint64, safe common.Address) (uint64, error) {
	v, err := r.callUint(ctx, chainID, safe, aa.SafeABI, "getThreshold")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// EntryPointNonce reads getNonce(sender, 0) from the EntryPoint.
func (r *Registry) EntryPointNonce(ctx context.Context, chainID uint64, entryPoint, sender common.Address) (*big.Int, error) {
	return r.callUint(ctx, chainID, entryPoint, aa.EntryPointABI, "getNonce", sender, big.NewInt(0))
}

// TokenNonce reads the EIP-2612 nonces(owner) of token.
func (r *Registry) TokenNonce(ctx context.Context, chainID uint64, token, owner common.Address) (*big.Int, error) {
	return r.callUint(ctx, chainID, token, aa.ERC20PermitABI, "nonces", owner)
}

func (r *Registry) callUint(ctx context.Context, chainID uint64, to common.Address, contract abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := r.call(ctx, chainID, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s on %s: empty result", method, to.Hex())
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s on %s: unexpected result type %T", method, to.Hex(), out[0])
	}
	return v, nil
}

func (r *Registry) call(ctx context.Context, chainID uint64, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	b, err := r.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		r.logger.Debug("chain.call_failed",
			zap.Uint64("chain_id", chainID),
			zap.String("to", to.Hex()),
			zap.String("method", method),
			zap.Error(err))
		return nil, fmt.Errorf("call %s on %s (chain %d): %w", method, to.Hex(), chainID, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
