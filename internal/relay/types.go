package relay

import (
	"encoding/json"
	"fmt"
)

// ClientConfig holds the per-client relay API settings.
// A single Client serves many clients; the config travels with each call.
type ClientConfig struct {
	ClientID string
	BaseURL  string
	APIKey   string
	Referrer string
}

func (c *ClientConfig) rateLimitKey() string {
	return "relay:" + c.ClientID
}

// Step kinds.
const (
	StepKindTransaction = "transaction"
	StepKindSignature   = "signature"
)

// Signature kinds inside a signature step.
const (
	SignatureKindEIP191 = "eip191"
	SignatureKindEIP712 = "eip712"
)

// QuoteRequest is the body of POST /quote.
type QuoteRequest struct {
	User                string `json:"user"`
	Recipient           string `json:"recipient,omitempty"`
	OriginChainID       uint64 `json:"originChainId"`
	DestinationChainID  uint64 `json:"destinationChainId"`
	OriginCurrency      string `json:"originCurrency"`
	DestinationCurrency string `json:"destinationCurrency"`
	Amount              string `json:"amount"`
	TradeType           string `json:"tradeType"`
	UsePermit           bool   `json:"usePermit,omitempty"`
	Referrer            string `json:"referrer,omitempty"`
}

// QuoteResponse is the response of POST /quote.
type QuoteResponse struct {
	Steps   []Step       `json:"steps"`
	Fees    Fees         `json:"fees"`
	Details QuoteDetails `json:"details"`
}

// RequestID returns the first request id carried by any step.
func (q *QuoteResponse) RequestID() string {
	for _, s := range q.Steps {
		if s.RequestID != "" {
			return s.RequestID
		}
	}
	return ""
}

// Step is one action the user must take to complete a quote.
type Step struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	Description string     `json:"description"`
	Kind        string     `json:"kind"`
	RequestID   string     `json:"requestId"`
	Items       []StepItem `json:"items"`
}

// StepItem is a single transaction or signature within a step.
type StepItem struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Check  *StepCheck      `json:"check,omitempty"`
}

// StepCheck points at a status endpoint for the item.
type StepCheck struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

// TransactionData decodes the item as a transaction payload.
func (i StepItem) TransactionData() (*TransactionData, error) {
	var tx TransactionData
	if err := json.Unmarshal(i.Data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction item: %w", err)
	}
	return &tx, nil
}

// SignatureData decodes the item as a signature payload.
func (i StepItem) SignatureData() (*SignatureData, error) {
	var sd SignatureData
	if err := json.Unmarshal(i.Data, &sd); err != nil {
		return nil, fmt.Errorf("decode signature item: %w", err)
	}
	if sd.Sign == nil || sd.Post == nil {
		return nil, fmt.Errorf("signature item missing sign or post")
	}
	return &sd, nil
}

// TransactionData is the data of a transaction step item.
type TransactionData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Data    string `json:"data"`
	Value   string `json:"value"`
	ChainID uint64 `json:"chainId"`
}

// SignatureData is the data of a signature step item.
type SignatureData struct {
	Sign *StepSign `json:"sign"`
	Post *StepPost `json:"post"`
}

// StepSign describes what to sign. For eip712 Domain/Types/PrimaryType/Value
// are set; for eip191 Message holds the text or 0x-prefixed bytes.
type StepSign struct {
	SignatureKind string                       `json:"signatureKind"`
	Domain        map[string]any               `json:"domain,omitempty"`
	Types         map[string][]TypedDataField `json:"types,omitempty"`
	PrimaryType   string                       `json:"primaryType,omitempty"`
	Value         map[string]any               `json:"value,omitempty"`
	Message       string                       `json:"message,omitempty"`
}

// TypedDataField is one member of an EIP-712 struct type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// StepPost is where a produced signature must be submitted.
type StepPost struct {
	Endpoint string         `json:"endpoint"`
	Method   string         `json:"method"`
	Body     map[string]any `json:"body"`
}

// Fees summarises the quoted fees.
type Fees struct {
	Gas     *Amount `json:"gas,omitempty"`
	Relayer *Amount `json:"relayer,omitempty"`
	App     *Amount `json:"app,omitempty"`
}

// Amount is a relay-formatted currency amount.
type Amount struct {
	Currency        *Currency `json:"currency,omitempty"`
	Amount          string    `json:"amount"`
	AmountFormatted string    `json:"amountFormatted"`
	AmountUSD       string    `json:"amountUsd"`
}

// Currency identifies a token on a chain.
type Currency struct {
	ChainID  uint64 `json:"chainId"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// QuoteDetails carries the in/out amounts of a quote.
type QuoteDetails struct {
	Operation    string  `json:"operation"`
	TimeEstimate int64   `json:"timeEstimate"`
	CurrencyIn   *Amount `json:"currencyIn,omitempty"`
	CurrencyOut  *Amount `json:"currencyOut,omitempty"`
}

// ExecuteRequest is the body of POST /execute (gasless raw calls).
type ExecuteRequest struct {
	ExecutionKind    string           `json:"executionKind"`
	Data             ExecuteData      `json:"data"`
	ExecutionOptions ExecutionOptions `json:"executionOptions"`
	RequestID        string           `json:"requestId,omitempty"`
}

// ExecuteData is the single call the relayer submits on the origin chain.
type ExecuteData struct {
	ChainID           uint64          `json:"chainId"`
	To                string          `json:"to"`
	Data              string          `json:"data"`
	Value             string          `json:"value"`
	AuthorizationList []Authorization `json:"authorizationList,omitempty"`
}

// Authorization is the JSON form of a signed EIP-7702 authorization.
type Authorization struct {
	ChainID uint64 `json:"chainId"`
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	YParity uint8  `json:"yParity"`
	R       string `json:"r"`
	S       string `json:"s"`
}

// ExecutionOptions controls relayer behaviour for /execute.
type ExecutionOptions struct {
	Referrer      string `json:"referrer,omitempty"`
	SubsidizeFees bool   `json:"subsidizeFees"`
}

// ExecuteResponse is returned by /execute and by signature post endpoints.
type ExecuteResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// StatusResponse is returned by GET /intents/status/v2.
type StatusResponse struct {
	Status             string   `json:"status"`
	Details            string   `json:"details,omitempty"`
	InTxHashes         []string `json:"inTxHashes,omitempty"`
	TxHashes           []string `json:"txHashes,omitempty"`
	UpdatedAt          int64    `json:"updatedAt,omitempty"`
	OriginChainID      uint64   `json:"originChainId,omitempty"`
	DestinationChainID uint64   `json:"destinationChainId,omitempty"`
}

// ChainsResponse is returned by GET /chains.
type ChainsResponse struct {
	Chains []Chain `json:"chains"`
}

// Chain is one chain supported by the relay.
type Chain struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Disabled    bool   `json:"disabled"`
}

// ErrorResponse is the relay error body.
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}
