// Package aa encodes account-abstraction payloads: Calibur signed batches
// for EIP-7702 accounts, Gnosis Safe transactions and ERC-4337 user operations.
package aa

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
)

// Call is one contract call inside a batch.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// CallsFromSteps collects every transaction item of the quote's transaction
// steps, in order. Items on a different chain than chainID are rejected.
func CallsFromSteps(steps []relay.Step, chainID uint64) ([]Call, error) {
	var calls []Call
	for _, step := range steps {
		if step.Kind != relay.StepKindTransaction {
			continue
		}
		for i, item := range step.Items {
			tx, err := item.TransactionData()
			if err != nil {
				return nil, fmt.Errorf("step %s item %d: %w", step.ID, i, err)
			}
			call, err := callFromTx(tx)
			if err != nil {
				return nil, fmt.Errorf("step %s item %d: %w", step.ID, i, err)
			}
			if tx.ChainID != 0 && tx.ChainID != chainID {
				return nil, fmt.Errorf("step %s item %d targets chain %d, expected %d", step.ID, i, tx.ChainID, chainID)
			}
			calls = append(calls, call)
		}
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("quote has no transaction steps")
	}
	return calls, nil
}

func callFromTx(tx *relay.TransactionData) (Call, error) {
	if !common.IsHexAddress(tx.To) {
		return Call{}, fmt.Errorf("invalid call target %q", tx.To)
	}
	value := new(big.Int)
	if tx.Value != "" {
		v, ok := new(big.Int).SetString(tx.Value, 0)
		if !ok {
			return Call{}, fmt.Errorf("invalid call value %q", tx.Value)
		}
		value = v
	}
	var data []byte
	if tx.Data != "" && tx.Data != "0x" {
		b, err := hexutil.Decode(tx.Data)
		if err != nil {
			return Call{}, fmt.Errorf("invalid call data: %w", err)
		}
		data = b
	}
	return Call{To: common.HexToAddress(tx.To), Value: value, Data: data}, nil
}

// TotalValue sums the native value of calls.
func TotalValue(calls []Call) *big.Int {
	total := new(big.Int)
	for _, c := range calls {
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	return total
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bytesOrEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
