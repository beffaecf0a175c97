package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/internal/wallet"
	"github.com/Checker-Finance/relay-adapter/pkg/units"
)

const (
	permitPrimaryType = "Permit"
	itemComplete      = "complete"
)

// submitPermit signs every signature item of a permit quote and posts it back.
// Quotes that still need an on-chain transaction cannot be completed gaslessly.
func (s *Service) submitPermit(ctx context.Context, fc *flowContext) (string, error) {
	quote, err := s.quote(ctx, fc)
	if err != nil {
		return "", err
	}

	var requestID string
	signed := 0
	for _, step := range quote.Steps {
		switch step.Kind {
		case relay.StepKindTransaction:
			return "", fmt.Errorf("quote step %q requires an on-chain transaction; use the eip7702, safe or erc4337 flow", step.ID)
		case relay.StepKindSignature:
		default:
			return "", fmt.Errorf("quote step %q has unsupported kind %q", step.ID, step.Kind)
		}

		for i, item := range step.Items {
			if item.Status == itemComplete {
				continue
			}
			sd, err := item.SignatureData()
			if err != nil {
				return "", fmt.Errorf("step %q item %d: %w", step.ID, i, err)
			}
			if sd.Sign.PrimaryType == permitPrimaryType {
				if err := s.verifyPermit(ctx, fc, sd.Sign); err != nil {
					return "", fmt.Errorf("step %q item %d: %w", step.ID, i, err)
				}
			}

			sig, err := fc.signer.SignStep(sd.Sign)
			if err != nil {
				return "", fmt.Errorf("step %q item %d: %w", step.ID, i, err)
			}
			resp, err := s.relay.PostSignature(ctx, &fc.settings.Relay, sd.Post, hexutil.Encode(sig))
			if err != nil {
				return "", fmt.Errorf("post signature for step %q: %w", step.ID, err)
			}
			signed++
			requestID = firstNonEmpty(step.RequestID, resp.RequestID, requestID)

			s.logger.Debug("bridge.permit_signed",
				zap.String("client", fc.req.ClientID),
				zap.String("step", step.ID),
				zap.String("kind", sd.Sign.SignatureKind),
				zap.String("primary_type", sd.Sign.PrimaryType))
		}
	}

	if signed == 0 {
		return "", errors.New("quote has no signature items to sign")
	}
	requestID = firstNonEmpty(requestID, quote.RequestID())
	if requestID == "" {
		return "", errors.New("relay returned no request id")
	}
	return requestID, nil
}

// verifyPermit checks an EIP-2612 permit before it is signed: the owner is
// the signer, the value does not exceed the bridged amount and the payload
// hashes exactly like a canonical Permit. The token nonce is compared against
// the chain when a reader is available.
func (s *Service) verifyPermit(ctx context.Context, fc *flowContext, sign *relay.StepSign) error {
	td, err := wallet.TypedDataFromStep(sign)
	if err != nil {
		return err
	}

	owner, err := messageAddress(td.Message, "owner")
	if err != nil {
		return err
	}
	if owner != fc.signer.Address() {
		return fmt.Errorf("permit owner %s is not the signer %s", owner.Hex(), fc.signer.Address().Hex())
	}
	spender, err := messageAddress(td.Message, "spender")
	if err != nil {
		return err
	}
	value, err := messageInt(td.Message, "value")
	if err != nil {
		return err
	}
	if value.Cmp(fc.amount) > 0 {
		return fmt.Errorf("permit value %s exceeds bridged amount %s", value, fc.amount)
	}
	nonce, err := messageInt(td.Message, "nonce")
	if err != nil {
		return err
	}
	deadline, err := messageInt(td.Message, "deadline")
	if err != nil {
		return err
	}
	if !common.IsHexAddress(td.Domain.VerifyingContract) {
		return fmt.Errorf("permit domain has no verifying contract")
	}
	token := common.HexToAddress(td.Domain.VerifyingContract)

	var chainID *big.Int
	if td.Domain.ChainId != nil {
		chainID = (*big.Int)(td.Domain.ChainId)
	} else {
		chainID = new(big.Int).SetUint64(fc.req.OriginChainID)
	}

	canonical := wallet.PermitTypedData(td.Domain.Name, td.Domain.Version, chainID, token, owner, spender, value, nonce, deadline)
	want, err := wallet.HashTypedData(canonical)
	if err != nil {
		return err
	}
	got, err := wallet.HashTypedData(td)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return errors.New("permit payload does not match the EIP-2612 layout")
	}

	if s.chain == nil {
		return nil
	}
	onchain, err := s.chain.TokenNonce(ctx, fc.req.OriginChainID, token, owner)
	if err != nil {
		s.logger.Debug("bridge.permit_nonce_unavailable",
			zap.String("token", token.Hex()),
			zap.Error(err))
		return nil
	}
	if onchain.Cmp(nonce) != 0 {
		return fmt.Errorf("permit nonce %s does not match on-chain nonce %s", nonce, onchain)
	}
	return nil
}

func messageAddress(msg map[string]any, key string) (common.Address, error) {
	v, ok := msg[key].(string)
	if !ok || !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("permit %s must be an address, got %v", key, msg[key])
	}
	return common.HexToAddress(v), nil
}

func messageInt(msg map[string]any, key string) (*big.Int, error) {
	raw, ok := msg[key]
	if !ok {
		return nil, fmt.Errorf("permit %s is missing", key)
	}
	v, err := units.ParseBaseUnits(fmt.Sprint(raw))
	if err != nil {
		return nil, fmt.Errorf("permit %s: %w", key, err)
	}
	return v, nil
}
