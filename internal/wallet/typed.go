package wallet

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
)

const domainType = "EIP712Domain"

// HashTypedData returns the EIP-712 digest keccak256("\x19\x01" || domainSeparator || structHash).
func HashTypedData(td apitypes.TypedData) ([]byte, error) {
	ensureDomainType(&td)
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}

// SignTypedData signs EIP-712 typed data.
func (s *Signer) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	hash, err := HashTypedData(td)
	if err != nil {
		return nil, err
	}
	return s.SignHash(hash)
}

// SignStep signs the payload of a relay signature step according to its kind.
func (s *Signer) SignStep(sign *relay.StepSign) ([]byte, error) {
	switch sign.SignatureKind {
	case relay.SignatureKindEIP191:
		return s.SignPersonalString(sign.Message)
	case relay.SignatureKindEIP712, "":
		td, err := TypedDataFromStep(sign)
		if err != nil {
			return nil, err
		}
		return s.SignTypedData(td)
	default:
		return nil, fmt.Errorf("unsupported signature kind %q", sign.SignatureKind)
	}
}

// TypedDataFromStep converts the eip712 payload of a relay step into go-ethereum typed data.
func TypedDataFromStep(sign *relay.StepSign) (apitypes.TypedData, error) {
	if sign == nil || sign.PrimaryType == "" {
		return apitypes.TypedData{}, fmt.Errorf("typed data: missing primary type")
	}

	types := apitypes.Types{}
	for name, fields := range sign.Types {
		converted := make([]apitypes.Type, 0, len(fields))
		for _, f := range fields {
			converted = append(converted, apitypes.Type{Name: f.Name, Type: f.Type})
		}
		types[name] = converted
	}
	if _, ok := types[sign.PrimaryType]; !ok {
		return apitypes.TypedData{}, fmt.Errorf("typed data: primary type %q not declared", sign.PrimaryType)
	}

	domain, err := domainFromMap(sign.Domain)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	msg, ok := normalizeValue(sign.Value).(map[string]any)
	if !ok {
		msg = map[string]any{}
	}

	td := apitypes.TypedData{
		Types:       types,
		PrimaryType: sign.PrimaryType,
		Domain:      domain,
		Message:     msg,
	}
	ensureDomainType(&td)
	return td, nil
}

// PermitTypedData builds an EIP-2612 Permit for token.
func PermitTypedData(
	tokenName, tokenVersion string,
	chainID *big.Int,
	token, owner, spender common.Address,
	value, nonce, deadline *big.Int,
) apitypes.TypedData {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    owner.Hex(),
			"spender":  spender.Hex(),
			"value":    value.String(),
			"nonce":    nonce.String(),
			"deadline": deadline.String(),
		},
	}
	ensureDomainType(&td)
	return td
}

// ensureDomainType declares EIP712Domain from the populated domain fields
// when the payload did not declare it.
func ensureDomainType(td *apitypes.TypedData) {
	if _, ok := td.Types[domainType]; ok {
		return
	}
	if td.Types == nil {
		td.Types = apitypes.Types{}
	}
	var fields []apitypes.Type
	if td.Domain.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if td.Domain.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if td.Domain.ChainId != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if td.Domain.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if td.Domain.Salt != "" {
		fields = append(fields, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	td.Types[domainType] = fields
}

func domainFromMap(m map[string]any) (apitypes.TypedDataDomain, error) {
	var d apitypes.TypedDataDomain
	if v, ok := m["name"].(string); ok {
		d.Name = v
	}
	if v, ok := m["version"].(string); ok {
		d.Version = v
	}
	if raw, ok := m["chainId"]; ok && raw != nil {
		id, err := toBigInt(raw)
		if err != nil {
			return d, fmt.Errorf("typed data: domain chainId: %w", err)
		}
		d.ChainId = (*math.HexOrDecimal256)(id)
	}
	if v, ok := m["verifyingContract"].(string); ok && v != "" {
		if !common.IsHexAddress(v) {
			return d, fmt.Errorf("typed data: invalid verifyingContract %q", v)
		}
		d.VerifyingContract = v
	}
	if v, ok := m["salt"].(string); ok {
		d.Salt = v
	}
	return d, nil
}

// normalizeValue rewrites JSON-decoded numbers as decimal strings so the
// EIP-712 encoder parses them exactly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return v
	}
}

func toBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case float64:
		return new(big.Int).SetUint64(uint64(t)), nil
	case json.Number:
		return parseBig(t.String())
	case string:
		return parseBig(t)
	case *big.Int:
		return t, nil
	case int:
		return big.NewInt(int64(t)), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	default:
		return nil, fmt.Errorf("unsupported number type %T", v)
	}
}

func parseBig(s string) (*big.Int, error) {
	n, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// TypedDataSigner recovers the address that signed td.
func TypedDataSigner(td apitypes.TypedData, sig []byte) (common.Address, error) {
	hash, err := HashTypedData(td)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, sig)
}
