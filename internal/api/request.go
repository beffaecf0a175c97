package api

import (
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// BridgeCreateRequest is the payload of POST /api/v1/bridges and POST /api/v1/quotes.
type BridgeCreateRequest struct {
	ClientID            string `json:"clientId" example:"client-demo-01"`
	Flow                string `json:"flow" example:"permit"`
	User                string `json:"user,omitempty"`
	Recipient           string `json:"recipient,omitempty"`
	OriginChainID       uint64 `json:"originChainId" example:"8453"`
	DestinationChainID  uint64 `json:"destinationChainId" example:"42161"`
	OriginCurrency      string `json:"originCurrency" example:"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"`
	DestinationCurrency string `json:"destinationCurrency" example:"0xaf88d065e77c8cC2239327C5EDb3A432268e5831"`
	Amount              string `json:"amount" example:"25.5"`
	Decimals            int32  `json:"decimals" example:"6"`
}

// BridgeResponse is returned by POST /api/v1/bridges.
type BridgeResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Status    string `json:"status,omitempty"`
	ErrorMsg  string `json:"error,omitempty"`
}

// toBridgeRequest converts an API request to a canonical BridgeRequest.
func toBridgeRequest(req BridgeCreateRequest) model.BridgeRequest {
	return model.BridgeRequest{
		ClientID:            req.ClientID,
		Flow:                model.Flow(req.Flow),
		User:                req.User,
		Recipient:           req.Recipient,
		OriginChainID:       req.OriginChainID,
		DestinationChainID:  req.DestinationChainID,
		OriginCurrency:      req.OriginCurrency,
		DestinationCurrency: req.DestinationCurrency,
		Amount:              req.Amount,
		Decimals:            req.Decimals,
	}
}
