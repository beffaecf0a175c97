package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
)

// SignAuthorization signs an EIP-7702 authorization delegating the signer's
// account code to delegate. nonce must be the account's current nonce since
// the transaction carrying it is sent by the relayer, not the account.
func (s *Signer) SignAuthorization(chainID uint64, delegate common.Address, nonce uint64) (types.SetCodeAuthorization, error) {
	auth := types.SetCodeAuthorization{
		ChainID: *uint256.NewInt(chainID),
		Address: delegate,
		Nonce:   nonce,
	}
	signed, err := types.SignSetCode(s.privateKey, auth)
	if err != nil {
		return types.SetCodeAuthorization{}, fmt.Errorf("sign authorization: %w", err)
	}
	return signed, nil
}

// AuthorizationJSON renders a signed authorization in the relay's wire shape.
func AuthorizationJSON(a types.SetCodeAuthorization) relay.Authorization {
	return relay.Authorization{
		ChainID: a.ChainID.Uint64(),
		Address: a.Address.Hex(),
		Nonce:   a.Nonce,
		YParity: a.V,
		R:       a.R.Hex(),
		S:       a.S.Hex(),
	}
}
