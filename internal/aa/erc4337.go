package aa

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Gas limits for relayer-submitted user operations. Fees are zero: the
// relayer calls handleOps directly and pays the gas itself.
var (
	DefaultVerificationGasLimit = big.NewInt(150_000)
	DefaultCallGasLimit         = big.NewInt(500_000)
	DefaultPreVerificationGas   = big.NewInt(50_000)
)

// PackedUserOperation is the EntryPoint v0.7 user operation.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte // verificationGasLimit << 128 | callGasLimit
	PreVerificationGas *big.Int
	GasFees            [32]byte // maxPriorityFeePerGas << 128 | maxFeePerGas
	PaymasterAndData   []byte
	Signature          []byte
}

// PackUints places hi in the upper and lo in the lower 16 bytes of a word.
func PackUints(hi, lo *big.Int) [32]byte {
	var out [32]byte
	copy(out[0:16], common.LeftPadBytes(valueOrZero(hi).Bytes(), 16))
	copy(out[16:32], common.LeftPadBytes(valueOrZero(lo).Bytes(), 16))
	return out
}

// UnpackUints is the inverse of PackUints.
func UnpackUints(word [32]byte) (hi, lo *big.Int) {
	return new(big.Int).SetBytes(word[0:16]), new(big.Int).SetBytes(word[16:32])
}

// NewUserOperation builds a zero-fee operation for sender with the default gas limits.
func NewUserOperation(sender common.Address, nonce *big.Int, callData []byte) PackedUserOperation {
	return PackedUserOperation{
		Sender:             sender,
		Nonce:              valueOrZero(nonce),
		InitCode:           []byte{},
		CallData:           callData,
		AccountGasLimits:   PackUints(DefaultVerificationGasLimit, DefaultCallGasLimit),
		PreVerificationGas: new(big.Int).Set(DefaultPreVerificationGas),
		GasFees:            PackUints(big.NewInt(0), big.NewInt(0)),
		PaymasterAndData:   []byte{},
		Signature:          []byte{},
	}
}

var (
	addressTy = mustType("address")
	uint256Ty = mustType("uint256")
	bytes32Ty = mustType("bytes32")
)

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("aa: invalid abi type " + t + ": " + err.Error())
	}
	return ty
}

// UserOpHash returns keccak256(abi.encode(keccak256(packed op), entryPoint, chainId)).
// The signature field is not covered.
func UserOpHash(op PackedUserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	inner := abi.Arguments{
		{Type: addressTy}, {Type: uint256Ty}, {Type: bytes32Ty}, {Type: bytes32Ty},
		{Type: bytes32Ty}, {Type: uint256Ty}, {Type: bytes32Ty}, {Type: bytes32Ty},
	}
	packed, err := inner.Pack(
		op.Sender,
		valueOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.AccountGasLimits,
		valueOrZero(op.PreVerificationGas),
		op.GasFees,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}

	outer := abi.Arguments{{Type: bytes32Ty}, {Type: addressTy}, {Type: uint256Ty}}
	enc, err := outer.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// EncodeExecuteBatch ABI-encodes SimpleAccount.executeBatch(address[],uint256[],bytes[]).
func EncodeExecuteBatch(calls []Call) ([]byte, error) {
	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	funcs := make([][]byte, len(calls))
	for i, c := range calls {
		dest[i] = c.To
		values[i] = valueOrZero(c.Value)
		funcs[i] = bytesOrEmpty(c.Data)
	}
	data, err := SimpleAccountABI.Pack("executeBatch", dest, values, funcs)
	if err != nil {
		return nil, fmt.Errorf("encode executeBatch: %w", err)
	}
	return data, nil
}

// EncodeHandleOps ABI-encodes EntryPoint.handleOps(PackedUserOperation[],address).
func EncodeHandleOps(ops []PackedUserOperation, beneficiary common.Address) ([]byte, error) {
	for i := range ops {
		ops[i].Nonce = valueOrZero(ops[i].Nonce)
		ops[i].PreVerificationGas = valueOrZero(ops[i].PreVerificationGas)
		ops[i].InitCode = bytesOrEmpty(ops[i].InitCode)
		ops[i].PaymasterAndData = bytesOrEmpty(ops[i].PaymasterAndData)
		ops[i].Signature = bytesOrEmpty(ops[i].Signature)
	}
	data, err := EntryPointABI.Pack("handleOps", ops, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("encode handleOps: %w", err)
	}
	return data, nil
}
