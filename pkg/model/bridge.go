package model

import (
	"strings"
	"time"
)

// Flow selects how the origin-chain transaction gets authorised and paid for.
type Flow string

const (
	FlowPermit  Flow = "permit"  // ERC-20 permit / relay signature steps
	FlowEIP7702 Flow = "eip7702" // EOA delegated to a batch executor
	FlowSafe    Flow = "safe"    // Gnosis Safe multisig
	FlowERC4337 Flow = "erc4337" // ERC-4337 smart account via EntryPoint
)

// ParseFlow normalises a user supplied flow name.
func ParseFlow(s string) (Flow, bool) {
	switch f := Flow(strings.ToLower(strings.TrimSpace(s))); f {
	case FlowPermit, FlowEIP7702, FlowSafe, FlowERC4337:
		return f, true
	case "7702":
		return FlowEIP7702, true
	case "4337", "smart-account":
		return FlowERC4337, true
	default:
		return "", false
	}
}

// SmartAccount reports whether the flow executes through a contract account.
func (f Flow) SmartAccount() bool {
	return f == FlowSafe || f == FlowERC4337
}

// Canonical bridge statuses, as reported by the relay status endpoint.
const (
	StatusWaiting   = "waiting"
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusDelayed   = "delayed"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusRefund    = "refund"
	StatusRefunded  = "refunded"
)

// BridgeRequest is the canonical request to move tokens across chains.
type BridgeRequest struct {
	ClientID            string `json:"clientId"`
	Flow                Flow   `json:"flow"`
	User                string `json:"user"`      // EOA, Safe or smart account address
	Recipient           string `json:"recipient"` // defaults to User
	OriginChainID       uint64 `json:"originChainId"`
	DestinationChainID  uint64 `json:"destinationChainId"`
	OriginCurrency      string `json:"originCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Amount              string `json:"amount"` // human readable, e.g. "12.5"
	Decimals            int32  `json:"decimals"`
}

// QuoteSummary is the trimmed view of a relay quote returned to API callers.
type QuoteSummary struct {
	RequestID       string       `json:"requestId"`
	Steps           []StepDigest `json:"steps"`
	AmountIn        string       `json:"amountIn"`
	AmountOut       string       `json:"amountOut"`
	AmountOutFormat string       `json:"amountOutFormatted,omitempty"`
	FeesUSD         string       `json:"feesUsd,omitempty"`
	TimeEstimateSec int64        `json:"timeEstimateSec,omitempty"`
}

// StepDigest describes one relay step without its raw payload.
type StepDigest struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Items int    `json:"items"`
}

// BridgeRecord is the persisted state of one submitted bridge.
type BridgeRecord struct {
	RequestID           string    `json:"requestId"`
	ClientID            string    `json:"clientId"`
	Flow                Flow      `json:"flow"`
	User                string    `json:"user"`
	Recipient           string    `json:"recipient"`
	OriginChainID       uint64    `json:"originChainId"`
	DestinationChainID  uint64    `json:"destinationChainId"`
	OriginCurrency      string    `json:"originCurrency"`
	DestinationCurrency string    `json:"destinationCurrency"`
	AmountBaseUnits     string    `json:"amount"`
	Status              string    `json:"status"`
	InTxHashes          []string  `json:"inTxHashes,omitempty"`
	TxHashes            []string  `json:"txHashes,omitempty"`
	Final               bool      `json:"final"`
	TimedOut            bool      `json:"timedOut,omitempty"` // polling budget exhausted before a terminal status
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}
