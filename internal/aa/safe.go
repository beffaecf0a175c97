package aa

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Checker-Finance/relay-adapter/internal/wallet"
)

// Safe operations.
const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

// SafeTx is the Gnosis Safe transaction owners sign. Gas fields stay zero
// because the relayer pays for execution.
type SafeTx struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// SafeTypedData builds the EIP-712 payload of tx for safe on chainID.
func SafeTypedData(tx SafeTx, chainID *big.Int, safe common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"SafeTx": []apitypes.Type{
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "data", Type: "bytes"},
				{Name: "operation", Type: "uint8"},
				{Name: "safeTxGas", Type: "uint256"},
				{Name: "baseGas", Type: "uint256"},
				{Name: "gasPrice", Type: "uint256"},
				{Name: "gasToken", Type: "address"},
				{Name: "refundReceiver", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: safe.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          valueOrZero(tx.Value),
			"data":           bytesOrEmpty(tx.Data),
			"operation":      big.NewInt(int64(tx.Operation)),
			"safeTxGas":      valueOrZero(tx.SafeTxGas),
			"baseGas":        valueOrZero(tx.BaseGas),
			"gasPrice":       valueOrZero(tx.GasPrice),
			"gasToken":       tx.GasToken.Hex(),
			"refundReceiver": tx.RefundReceiver.Hex(),
			"nonce":          valueOrZero(tx.Nonce),
		},
	}
}

// SafeTxHash returns the digest owners sign.
func SafeTxHash(tx SafeTx, chainID *big.Int, safe common.Address) ([]byte, error) {
	return wallet.HashTypedData(SafeTypedData(tx, chainID, safe))
}

// BuildSafeTx wraps calls into a single Safe transaction. One call is sent
// directly; several are batched through MultiSendCallOnly with a delegatecall.
func BuildSafeTx(calls []Call, multiSend common.Address, nonce *big.Int) (SafeTx, error) {
	switch len(calls) {
	case 0:
		return SafeTx{}, fmt.Errorf("safe transaction needs at least one call")
	case 1:
		return SafeTx{
			To:        calls[0].To,
			Value:     valueOrZero(calls[0].Value),
			Data:      bytesOrEmpty(calls[0].Data),
			Operation: OperationCall,
			Nonce:     nonce,
		}, nil
	default:
		data, err := EncodeMultiSend(calls)
		if err != nil {
			return SafeTx{}, err
		}
		return SafeTx{
			To:        multiSend,
			Value:     new(big.Int),
			Data:      data,
			Operation: OperationDelegateCall,
			Nonce:     nonce,
		}, nil
	}
}

// PackMultiSend packs calls as operation(1) || to(20) || value(32) || len(32) || data.
func PackMultiSend(calls []Call) []byte {
	var buf bytes.Buffer
	for _, c := range calls {
		buf.WriteByte(OperationCall)
		buf.Write(c.To.Bytes())
		buf.Write(common.LeftPadBytes(valueOrZero(c.Value).Bytes(), 32))
		buf.Write(common.LeftPadBytes(big.NewInt(int64(len(c.Data))).Bytes(), 32))
		buf.Write(c.Data)
	}
	return buf.Bytes()
}

// EncodeMultiSend ABI-encodes multiSend(bytes) over the packed calls.
func EncodeMultiSend(calls []Call) ([]byte, error) {
	data, err := MultiSendABI.Pack("multiSend", PackMultiSend(calls))
	if err != nil {
		return nil, fmt.Errorf("encode multisend: %w", err)
	}
	return data, nil
}

// OwnerSignature is one owner's ECDSA signature over a SafeTx hash.
type OwnerSignature struct {
	Owner     common.Address
	Signature []byte
}

// JoinSignatures concatenates owner signatures sorted by owner address ascending,
// the order Safe.checkNSignatures requires.
func JoinSignatures(sigs []OwnerSignature) ([]byte, error) {
	sorted := make([]OwnerSignature, len(sigs))
	copy(sorted, sigs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Owner.Bytes(), sorted[j].Owner.Bytes()) < 0
	})

	out := make([]byte, 0, 65*len(sorted))
	for i, s := range sorted {
		if len(s.Signature) != 65 {
			return nil, fmt.Errorf("signature for %s must be 65 bytes, got %d", s.Owner.Hex(), len(s.Signature))
		}
		if i > 0 && sorted[i-1].Owner == s.Owner {
			return nil, fmt.Errorf("duplicate signature for owner %s", s.Owner.Hex())
		}
		out = append(out, s.Signature...)
	}
	return out, nil
}

// EncodeExecTransaction ABI-encodes execTransaction for tx with joined signatures.
func EncodeExecTransaction(tx SafeTx, signatures []byte) ([]byte, error) {
	data, err := SafeABI.Pack("execTransaction",
		tx.To,
		valueOrZero(tx.Value),
		bytesOrEmpty(tx.Data),
		tx.Operation,
		valueOrZero(tx.SafeTxGas),
		valueOrZero(tx.BaseGas),
		valueOrZero(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		signatures,
	)
	if err != nil {
		return nil, fmt.Errorf("encode execTransaction: %w", err)
	}
	return data, nil
}
