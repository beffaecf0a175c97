package bridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// NormalizeRequest validates req and fills the defaults. An empty flow means permit.
func NormalizeRequest(req model.BridgeRequest) (model.BridgeRequest, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		return req, errors.New("clientId is required")
	}

	if req.Flow == "" {
		req.Flow = model.FlowPermit
	}
	flow, ok := model.ParseFlow(string(req.Flow))
	if !ok {
		return req, fmt.Errorf("unsupported flow %q", req.Flow)
	}
	req.Flow = flow

	if req.OriginChainID == 0 {
		return req, errors.New("originChainId is required")
	}
	if req.DestinationChainID == 0 {
		return req, errors.New("destinationChainId is required")
	}
	if !common.IsHexAddress(req.OriginCurrency) {
		return req, fmt.Errorf("originCurrency must be a token address, got %q", req.OriginCurrency)
	}
	if !common.IsHexAddress(req.DestinationCurrency) {
		return req, fmt.Errorf("destinationCurrency must be a token address, got %q", req.DestinationCurrency)
	}
	if strings.TrimSpace(req.Amount) == "" {
		return req, errors.New("amount is required")
	}
	if req.Recipient != "" && !common.IsHexAddress(req.Recipient) {
		return req, fmt.Errorf("invalid recipient %q", req.Recipient)
	}

	switch {
	case req.User != "" && !common.IsHexAddress(req.User):
		return req, fmt.Errorf("invalid user %q", req.User)
	case req.User == "" && flow.SmartAccount():
		return req, fmt.Errorf("user (the %s account address) is required for the %s flow", flow, flow)
	}
	return req, nil
}

// Summarize trims a relay quote for API callers. FeesUSD sums every fee with a USD value.
func Summarize(q *relay.QuoteResponse) *model.QuoteSummary {
	out := &model.QuoteSummary{
		RequestID:       q.RequestID(),
		Steps:           make([]model.StepDigest, 0, len(q.Steps)),
		TimeEstimateSec: q.Details.TimeEstimate,
	}
	for _, st := range q.Steps {
		out.Steps = append(out.Steps, model.StepDigest{ID: st.ID, Kind: st.Kind, Items: len(st.Items)})
	}
	if in := q.Details.CurrencyIn; in != nil {
		out.AmountIn = in.Amount
	}
	if o := q.Details.CurrencyOut; o != nil {
		out.AmountOut = o.Amount
		out.AmountOutFormat = o.AmountFormatted
	}

	total := decimal.Zero
	seen := false
	for _, fee := range []*relay.Amount{q.Fees.Gas, q.Fees.Relayer, q.Fees.App} {
		if fee == nil || fee.AmountUSD == "" {
			continue
		}
		d, err := decimal.NewFromString(fee.AmountUSD)
		if err != nil {
			continue
		}
		total = total.Add(d)
		seen = true
	}
	if seen {
		out.FeesUSD = total.StringFixed(2)
	}
	return out
}
