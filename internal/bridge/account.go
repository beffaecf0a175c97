package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/aa"
	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/internal/wallet"
)

// calls quotes for the flow's account and collects the transaction items.
func (s *Service) calls(ctx context.Context, fc *flowContext) (*relay.QuoteResponse, []aa.Call, error) {
	if err := s.requireChain(); err != nil {
		return nil, nil, err
	}
	quote, err := s.quote(ctx, fc)
	if err != nil {
		return nil, nil, err
	}
	calls, err := aa.CallsFromSteps(quote.Steps, fc.req.OriginChainID)
	if err != nil {
		return nil, nil, err
	}
	if len(calls) == 0 {
		return nil, nil, errors.New("quote has no transaction items")
	}
	return quote, calls, nil
}

// submitEIP7702 batches the quote's calls into a Calibur execute on the EOA.
// An EOA without code also signs an authorization delegating to Calibur.
func (s *Service) submitEIP7702(ctx context.Context, fc *flowContext) (string, error) {
	quote, calls, err := s.calls(ctx, fc)
	if err != nil {
		return "", err
	}
	chainID := new(big.Int).SetUint64(fc.req.OriginChainID)
	impl := s.cfg.CaliburImplementation

	code, err := s.chain.CodeAt(ctx, fc.req.OriginChainID, fc.account)
	if err != nil {
		return "", err
	}

	var (
		nonce *big.Int
		auths []relay.Authorization
	)
	switch {
	case aa.IsDelegatedTo(code, impl):
		nonce, err = s.chain.CaliburNonce(ctx, fc.req.OriginChainID, fc.account)
		if err != nil {
			return "", err
		}
	case len(code) == 0:
		eoaNonce, err := s.chain.NonceAt(ctx, fc.req.OriginChainID, fc.account)
		if err != nil {
			return "", err
		}
		auth, err := fc.signer.SignAuthorization(fc.req.OriginChainID, impl, eoaNonce)
		if err != nil {
			return "", err
		}
		auths = []relay.Authorization{wallet.AuthorizationJSON(auth)}
		nonce = big.NewInt(0)
	default:
		if target, ok := aa.DelegationTarget(code); ok {
			return "", fmt.Errorf("account %s is delegated to %s, not %s", fc.account.Hex(), target.Hex(), impl.Hex())
		}
		return "", fmt.Errorf("account %s is a contract, not an EOA", fc.account.Hex())
	}

	signed := aa.SignedBatchedCall{
		BatchedCall: aa.BatchedCall{Calls: calls, RevertOnFailure: true},
		Nonce:       nonce,
		Deadline:    big.NewInt(s.now().Add(s.cfg.SignatureDeadline).Unix()),
	}
	hash, err := aa.CaliburHash(signed, chainID, fc.account, impl)
	if err != nil {
		return "", err
	}
	sig, err := fc.signer.SignHash(hash)
	if err != nil {
		return "", err
	}
	wrapped, err := aa.WrapCaliburSignature(sig, nil)
	if err != nil {
		return "", err
	}
	data, err := aa.EncodeCaliburExecute(signed, wrapped)
	if err != nil {
		return "", err
	}

	s.logger.Debug("bridge.eip7702_batch",
		zap.String("account", fc.account.Hex()),
		zap.Int("calls", len(calls)),
		zap.Bool("authorization", len(auths) > 0),
		zap.String("nonce", nonce.String()))

	return s.execute(ctx, fc, fc.account, data, auths, quote.RequestID())
}

// submitSafe has threshold owners sign a SafeTx over the quote's calls and
// submits execTransaction to the Safe.
func (s *Service) submitSafe(ctx context.Context, fc *flowContext) (string, error) {
	quote, calls, err := s.calls(ctx, fc)
	if err != nil {
		return "", err
	}
	safe := fc.account
	chainID := new(big.Int).SetUint64(fc.req.OriginChainID)

	nonce, err := s.chain.SafeNonce(ctx, fc.req.OriginChainID, safe)
	if err != nil {
		return "", err
	}
	threshold, err := s.chain.SafeThreshold(ctx, fc.req.OriginChainID, safe)
	if err != nil {
		return "", err
	}
	if threshold == 0 {
		return "", fmt.Errorf("safe %s reports threshold 0", safe.Hex())
	}
	owners, err := fc.settings.SafeOwners()
	if err != nil {
		return "", err
	}
	if uint64(len(owners)) < threshold {
		return "", fmt.Errorf("safe %s needs %d owner signatures, %d keys configured", safe.Hex(), threshold, len(owners))
	}

	tx, err := aa.BuildSafeTx(calls, s.cfg.MultiSendCallOnly, nonce)
	if err != nil {
		return "", err
	}
	hash, err := aa.SafeTxHash(tx, chainID, safe)
	if err != nil {
		return "", err
	}

	sigs := make([]aa.OwnerSignature, 0, threshold)
	for _, owner := range owners[:threshold] {
		sig, err := owner.SignHash(hash)
		if err != nil {
			return "", err
		}
		sigs = append(sigs, aa.OwnerSignature{Owner: owner.Address(), Signature: sig})
	}
	joined, err := aa.JoinSignatures(sigs)
	if err != nil {
		return "", err
	}
	data, err := aa.EncodeExecTransaction(tx, joined)
	if err != nil {
		return "", err
	}

	s.logger.Debug("bridge.safe_tx",
		zap.String("safe", safe.Hex()),
		zap.Int("calls", len(calls)),
		zap.Uint64("threshold", threshold),
		zap.String("nonce", nonce.String()),
		zap.Uint8("operation", tx.Operation))

	return s.execute(ctx, fc, safe, data, nil, quote.RequestID())
}

// submitERC4337 wraps the quote's calls in a zero-fee user operation and
// submits handleOps to the EntryPoint.
func (s *Service) submitERC4337(ctx context.Context, fc *flowContext) (string, error) {
	quote, calls, err := s.calls(ctx, fc)
	if err != nil {
		return "", err
	}
	sender := fc.account
	entryPoint := s.cfg.EntryPoint
	chainID := new(big.Int).SetUint64(fc.req.OriginChainID)

	callData, err := aa.EncodeExecuteBatch(calls)
	if err != nil {
		return "", err
	}
	nonce, err := s.chain.EntryPointNonce(ctx, fc.req.OriginChainID, entryPoint, sender)
	if err != nil {
		return "", err
	}

	op := aa.NewUserOperation(sender, nonce, callData)
	hash, err := aa.UserOpHash(op, entryPoint, chainID)
	if err != nil {
		return "", err
	}
	sig, err := fc.signer.SignPersonal(hash.Bytes())
	if err != nil {
		return "", err
	}
	op.Signature = sig

	beneficiary := s.cfg.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = fc.signer.Address()
	}
	data, err := aa.EncodeHandleOps([]aa.PackedUserOperation{op}, beneficiary)
	if err != nil {
		return "", err
	}

	s.logger.Debug("bridge.user_operation",
		zap.String("sender", sender.Hex()),
		zap.String("user_op_hash", hash.Hex()),
		zap.Int("calls", len(calls)),
		zap.String("nonce", nonce.String()))

	return s.execute(ctx, fc, entryPoint, data, nil, quote.RequestID())
}
