package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeJSON is a test helper that encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *ClientConfig) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(zap.NewNop(), nil, 5*time.Second, 0)
	return client, &ClientConfig{
		ClientID: "client-001",
		BaseURL:  server.URL,
		APIKey:   "test-api-key",
		Referrer: "relay-adapter",
	}
}

const quoteJSON = `{
  "steps": [
    {
      "id": "authorize",
      "action": "Sign authorization",
      "kind": "signature",
      "requestId": "0xreq1",
      "items": [{
        "status": "incomplete",
        "data": {
          "sign": {
            "signatureKind": "eip712",
            "domain": {"name": "USD Coin", "version": "2", "chainId": 8453, "verifyingContract": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
            "types": {"Permit": [{"name": "owner", "type": "address"}]},
            "primaryType": "Permit",
            "value": {"owner": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}
          },
          "post": {"endpoint": "/execute/permits", "method": "POST", "body": {"kind": "request", "requestId": "0xreq1"}}
        }
      }]
    },
    {
      "id": "deposit",
      "kind": "transaction",
      "requestId": "0xreq1",
      "items": [{
        "status": "incomplete",
        "data": {"from": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "to": "0xa5f565650890fba1824ee0f21ebbbf660a179934", "data": "0x1234", "value": "0", "chainId": 8453}
      }]
    }
  ],
  "fees": {"relayer": {"amount": "1000", "amountFormatted": "0.001", "amountUsd": "0.001"}},
  "details": {"operation": "bridge", "timeEstimate": 12, "currencyOut": {"amount": "999000", "amountFormatted": "0.999"}}
}`

func TestClient_GetQuote(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req QuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, TradeTypeExactInput, req.TradeType)
		assert.Equal(t, "relay-adapter", req.Referrer)
		assert.Equal(t, uint64(8453), req.OriginChainID)
		assert.True(t, req.UsePermit)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(quoteJSON))
	})

	resp, err := client.GetQuote(context.Background(), cfg, &QuoteRequest{
		User:                "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		OriginChainID:       8453,
		DestinationChainID:  10,
		OriginCurrency:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		DestinationCurrency: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		Amount:              "1000000",
		UsePermit:           true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, "0xreq1", resp.RequestID())
	assert.Equal(t, StepKindSignature, resp.Steps[0].Kind)
	assert.Equal(t, "999000", resp.Details.CurrencyOut.Amount)

	sig, err := resp.Steps[0].Items[0].SignatureData()
	require.NoError(t, err)
	assert.Equal(t, SignatureKindEIP712, sig.Sign.SignatureKind)
	assert.Equal(t, "Permit", sig.Sign.PrimaryType)
	assert.Equal(t, "/execute/permits", sig.Post.Endpoint)

	tx, err := resp.Steps[1].Items[0].TransactionData()
	require.NoError(t, err)
	assert.Equal(t, "0x1234", tx.Data)
	assert.Equal(t, uint64(8453), tx.ChainID)
}

func TestClient_GetQuote_NoSteps(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"steps": []any{}})
	})

	_, err := client.GetQuote(context.Background(), cfg, &QuoteRequest{})
	assert.ErrorContains(t, err, "no steps")
}

func TestClient_ErrorMessage(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]string{"message": "Amount too low", "errorCode": "AMOUNT_TOO_LOW"})
	})

	_, err := client.GetQuote(context.Background(), cfg, &QuoteRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay returned 400: Amount too low")
}

func TestClient_ErrorFallsBackToBody(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	})

	_, err := client.GetStatus(context.Background(), cfg, "0xreq1")
	assert.ErrorContains(t, err, "relay returned 401: unauthorized")
}

func TestClient_ServerErrorAfterRetries(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		writeJSON(w, map[string]string{"message": "upstream unavailable"})
	})

	_, err := client.GetStatus(context.Background(), cfg, "0xreq1")
	assert.ErrorContains(t, err, "relay returned 502: upstream unavailable")
	assert.ErrorContains(t, err, "after 1 attempts")
}

func TestClient_Execute(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)

		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ExecutionKindRawCalls, req.ExecutionKind)
		assert.Equal(t, "relay-adapter", req.ExecutionOptions.Referrer)
		assert.True(t, req.ExecutionOptions.SubsidizeFees)
		require.Len(t, req.Data.AuthorizationList, 1)
		assert.Equal(t, uint8(1), req.Data.AuthorizationList[0].YParity)

		writeJSON(w, ExecuteResponse{Message: "Transaction submitted"})
	})

	resp, err := client.Execute(context.Background(), cfg, &ExecuteRequest{
		Data: ExecuteData{
			ChainID: 8453,
			To:      "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Data:    "0xdead",
			Value:   "0",
			AuthorizationList: []Authorization{{
				ChainID: 8453, Address: "0x000000009B1D0aF20D8C6d0A44e162d11F9b8f00", Nonce: 3, YParity: 1, R: "0x01", S: "0x02",
			}},
		},
		ExecutionOptions: ExecutionOptions{SubsidizeFees: true},
		RequestID:        "0xreq7",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xreq7", resp.RequestID, "request id falls back to the one sent")
}

func TestClient_PostSignature(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute/permits", r.URL.Path)
		assert.Equal(t, "0xabcdef", r.URL.Query().Get("signature"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xreq1", body["requestId"])

		writeJSON(w, ExecuteResponse{Message: "ok", RequestID: "0xreq1"})
	})

	resp, err := client.PostSignature(context.Background(), cfg, &StepPost{
		Endpoint: "/execute/permits",
		Body:     map[string]any{"requestId": "0xreq1"},
	}, "0xabcdef")
	require.NoError(t, err)
	assert.Equal(t, "0xreq1", resp.RequestID)
}

func TestClient_PostSignature_MissingEndpoint(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.PostSignature(context.Background(), cfg, &StepPost{}, "0x")
	assert.ErrorContains(t, err, "missing endpoint")
}

func TestClient_GetStatus(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/intents/status/v2", r.URL.Path)
		assert.Equal(t, "0xreq1", r.URL.Query().Get("requestId"))
		writeJSON(w, StatusResponse{Status: "success", TxHashes: []string{"0xdest"}})
	})

	resp, err := client.GetStatus(context.Background(), cfg, "0xreq1")
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, []string{"0xdest"}, resp.TxHashes)
}

func TestClient_GetChains_NoAPIKey(t *testing.T) {
	client, cfg := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chains", r.URL.Path)
		assert.Empty(t, r.Header.Get("x-api-key"))
		writeJSON(w, ChainsResponse{Chains: []Chain{{ID: 8453, Name: "base"}, {ID: 10, Name: "optimism"}}})
	})
	cfg.APIKey = ""

	resp, err := client.GetChains(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, resp.Chains, 2)
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{"success", "failure", "refund", "refunded", " SUCCESS "} {
		assert.True(t, IsTerminalStatus(s), s)
	}
	for _, s := range []string{"waiting", "pending", "submitted", "delayed", "", "unknown"} {
		assert.False(t, IsTerminalStatus(s), s)
	}
	assert.True(t, IsKnownStatus("delayed"))
	assert.False(t, IsKnownStatus("bogus"))
}
