package aa

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Checker-Finance/relay-adapter/internal/wallet"
)

const (
	caliburDomainName    = "Calibur"
	caliburDomainVersion = "1.0.0"
)

// DelegationPrefix is the EIP-7702 delegation designator prefix.
var DelegationPrefix = []byte{0xef, 0x01, 0x00}

// BatchedCall is a list of calls executed atomically unless RevertOnFailure is false.
type BatchedCall struct {
	Calls           []Call
	RevertOnFailure bool
}

// SignedBatchedCall is the payload the EOA owner signs for Calibur.execute.
// KeyHash zero selects the root key (the EOA itself); Executor zero lets anyone submit.
type SignedBatchedCall struct {
	BatchedCall BatchedCall
	Nonce       *big.Int
	KeyHash     [32]byte
	Executor    common.Address
	Deadline    *big.Int
}

// CaliburTypedData builds the EIP-712 payload for a signed batch. The domain's
// verifying contract is the delegated EOA and the salt is the implementation
// address left-padded to 32 bytes.
func CaliburTypedData(signed SignedBatchedCall, chainID *big.Int, account, implementation common.Address) apitypes.TypedData {
	calls := make([]interface{}, 0, len(signed.BatchedCall.Calls))
	for _, c := range signed.BatchedCall.Calls {
		calls = append(calls, map[string]interface{}{
			"to":    c.To.Hex(),
			"value": valueOrZero(c.Value),
			"data":  bytesOrEmpty(c.Data),
		})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
				{Name: "salt", Type: "bytes32"},
			},
			"SignedBatchedCall": []apitypes.Type{
				{Name: "batchedCall", Type: "BatchedCall"},
				{Name: "nonce", Type: "uint256"},
				{Name: "keyHash", Type: "bytes32"},
				{Name: "executor", Type: "address"},
				{Name: "deadline", Type: "uint256"},
			},
			"BatchedCall": []apitypes.Type{
				{Name: "calls", Type: "Call[]"},
				{Name: "revertOnFailure", Type: "bool"},
			},
			"Call": []apitypes.Type{
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "data", Type: "bytes"},
			},
		},
		PrimaryType: "SignedBatchedCall",
		Domain: apitypes.TypedDataDomain{
			Name:              caliburDomainName,
			Version:           caliburDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: account.Hex(),
			Salt:              hexutil.Encode(common.LeftPadBytes(implementation.Bytes(), 32)),
		},
		Message: apitypes.TypedDataMessage{
			"batchedCall": map[string]interface{}{
				"calls":           calls,
				"revertOnFailure": signed.BatchedCall.RevertOnFailure,
			},
			"nonce":    valueOrZero(signed.Nonce),
			"keyHash":  signed.KeyHash[:],
			"executor": signed.Executor.Hex(),
			"deadline": valueOrZero(signed.Deadline),
		},
	}
}

// CaliburHash returns the EIP-712 digest the EOA owner signs.
func CaliburHash(signed SignedBatchedCall, chainID *big.Int, account, implementation common.Address) ([]byte, error) {
	return wallet.HashTypedData(CaliburTypedData(signed, chainID, account, implementation))
}

// WrapCaliburSignature encodes abi.encode(signature, hookData) as Calibur expects.
func WrapCaliburSignature(signature, hookData []byte) ([]byte, error) {
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: bytesTy}, {Type: bytesTy}}
	return args.Pack(bytesOrEmpty(signature), bytesOrEmpty(hookData))
}

// EncodeCaliburExecute ABI-encodes execute(SignedBatchedCall,bytes).
func EncodeCaliburExecute(signed SignedBatchedCall, wrappedSignature []byte) ([]byte, error) {
	type abiCall struct {
		To    common.Address
		Value *big.Int
		Data  []byte
	}
	type abiBatchedCall struct {
		Calls           []abiCall
		RevertOnFailure bool
	}
	type abiSignedBatchedCall struct {
		BatchedCall abiBatchedCall
		Nonce       *big.Int
		KeyHash     [32]byte
		Executor    common.Address
		Deadline    *big.Int
	}

	calls := make([]abiCall, 0, len(signed.BatchedCall.Calls))
	for _, c := range signed.BatchedCall.Calls {
		calls = append(calls, abiCall{To: c.To, Value: valueOrZero(c.Value), Data: bytesOrEmpty(c.Data)})
	}
	payload := abiSignedBatchedCall{
		BatchedCall: abiBatchedCall{Calls: calls, RevertOnFailure: signed.BatchedCall.RevertOnFailure},
		Nonce:       valueOrZero(signed.Nonce),
		KeyHash:     signed.KeyHash,
		Executor:    signed.Executor,
		Deadline:    valueOrZero(signed.Deadline),
	}

	data, err := CaliburABI.Pack("execute", payload, bytesOrEmpty(wrappedSignature))
	if err != nil {
		return nil, fmt.Errorf("encode calibur execute: %w", err)
	}
	return data, nil
}

// IsDelegatedTo reports whether code is the EIP-7702 designator pointing at implementation.
func IsDelegatedTo(code []byte, implementation common.Address) bool {
	if len(code) != len(DelegationPrefix)+common.AddressLength {
		return false
	}
	return bytes.Equal(code[:3], DelegationPrefix) && common.BytesToAddress(code[3:]) == implementation
}

// DelegationTarget returns the delegate of an EIP-7702 account, if any.
func DelegationTarget(code []byte) (common.Address, bool) {
	if len(code) != len(DelegationPrefix)+common.AddressLength || !bytes.Equal(code[:3], DelegationPrefix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[3:]), true
}
