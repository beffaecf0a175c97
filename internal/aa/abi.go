package aa

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// caliburJSON covers the Calibur batch executor entry points we call.
const caliburJSON = `[
	{
		"type": "function",
		"name": "execute",
		"stateMutability": "payable",
		"inputs": [
			{
				"name": "signedBatchedCall",
				"type": "tuple",
				"components": [
					{
						"name": "batchedCall",
						"type": "tuple",
						"components": [
							{
								"name": "calls",
								"type": "tuple[]",
								"components": [
									{"name": "to", "type": "address"},
									{"name": "value", "type": "uint256"},
									{"name": "data", "type": "bytes"}
								]
							},
							{"name": "revertOnFailure", "type": "bool"}
						]
					},
					{"name": "nonce", "type": "uint256"},
					{"name": "keyHash", "type": "bytes32"},
					{"name": "executor", "type": "address"},
					{"name": "deadline", "type": "uint256"}
				]
			},
			{"name": "wrappedSignature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getSeq",
		"stateMutability": "view",
		"inputs": [{"name": "key", "type": "uint256"}],
		"outputs": [{"name": "seq", "type": "uint256"}]
	}
]`

// safeJSON covers the Gnosis Safe functions used by the multisig flow.
const safeJSON = `[
	{
		"type": "function",
		"name": "execTransaction",
		"stateMutability": "payable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"},
			{"name": "operation", "type": "uint8"},
			{"name": "safeTxGas", "type": "uint256"},
			{"name": "baseGas", "type": "uint256"},
			{"name": "gasPrice", "type": "uint256"},
			{"name": "gasToken", "type": "address"},
			{"name": "refundReceiver", "type": "address"},
			{"name": "signatures", "type": "bytes"}
		],
		"outputs": [{"name": "success", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "nonce",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getThreshold",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getOwners",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address[]"}]
	}
]`

// multiSendJSON is the MultiSendCallOnly entry point.
const multiSendJSON = `[
	{
		"type": "function",
		"name": "multiSend",
		"stateMutability": "payable",
		"inputs": [{"name": "transactions", "type": "bytes"}],
		"outputs": []
	}
]`

// entryPointJSON covers EntryPoint v0.7 handleOps and getNonce.
const entryPointJSON = `[
	{
		"type": "function",
		"name": "handleOps",
		"stateMutability": "nonpayable",
		"inputs": [
			{
				"name": "ops",
				"type": "tuple[]",
				"components": [
					{"name": "sender", "type": "address"},
					{"name": "nonce", "type": "uint256"},
					{"name": "initCode", "type": "bytes"},
					{"name": "callData", "type": "bytes"},
					{"name": "accountGasLimits", "type": "bytes32"},
					{"name": "preVerificationGas", "type": "uint256"},
					{"name": "gasFees", "type": "bytes32"},
					{"name": "paymasterAndData", "type": "bytes"},
					{"name": "signature", "type": "bytes"}
				]
			},
			{"name": "beneficiary", "type": "address"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getNonce",
		"stateMutability": "view",
		"inputs": [
			{"name": "sender", "type": "address"},
			{"name": "key", "type": "uint192"}
		],
		"outputs": [{"name": "nonce", "type": "uint256"}]
	}
]`

// simpleAccountJSON is the SimpleAccount batch entry point.
const simpleAccountJSON = `[
	{
		"type": "function",
		"name": "executeBatch",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "dest", "type": "address[]"},
			{"name": "value", "type": "uint256[]"},
			{"name": "func", "type": "bytes[]"}
		],
		"outputs": []
	}
]`

// erc20PermitJSON is the subset of EIP-2612 tokens read before signing a permit.
const erc20PermitJSON = `[
	{
		"type": "function",
		"name": "nonces",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "name",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "string"}]
	}
]`

// Parsed contract ABIs.
var (
	CaliburABI       = mustParse(caliburJSON)
	SafeABI          = mustParse(safeJSON)
	MultiSendABI     = mustParse(multiSendJSON)
	EntryPointABI    = mustParse(entryPointJSON)
	SimpleAccountABI = mustParse(simpleAccountJSON)
	ERC20PermitABI   = mustParse(erc20PermitJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("aa: invalid abi: " + err.Error())
	}
	return parsed
}
