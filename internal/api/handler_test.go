package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/bridge"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// --- Mock Service ---

type mockService struct {
	quoteFn  func(ctx context.Context, req model.BridgeRequest) (*model.QuoteSummary, error)
	submitFn func(ctx context.Context, req model.BridgeRequest) (*model.BridgeRecord, error)
	statusFn func(ctx context.Context, clientID, requestID string) (*model.BridgeRecord, error)
}

func (m *mockService) Quote(ctx context.Context, req model.BridgeRequest) (*model.QuoteSummary, error) {
	if m.quoteFn != nil {
		return m.quoteFn(ctx, req)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) Submit(ctx context.Context, req model.BridgeRequest) (*model.BridgeRecord, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) Status(ctx context.Context, clientID, requestID string) (*model.BridgeRecord, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, clientID, requestID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockValidator struct {
	known map[string]bool
}

func (m *mockValidator) IsKnownClient(_ context.Context, clientID string) bool {
	return m.known[clientID]
}

// --- Test Helpers ---

func newTestApp(svc BridgeService, validator ClientValidator) *fiber.App {
	app := fiber.New()
	handler := NewBridgeHandler(zap.NewNop(), svc, validator)
	v1 := app.Group("/api/v1")
	v1.Post("/quotes", handler.CreateQuoteHandler)
	v1.Post("/bridges", handler.CreateBridgeHandler)
	v1.Get("/bridges/:requestId", handler.GetBridgeHandler)
	return app
}

const validBody = `{
	"clientId": "acme",
	"flow": "eip7702",
	"originChainId": 8453,
	"destinationChainId": 42161,
	"originCurrency": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"destinationCurrency": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	"amount": "25.5",
	"decimals": 6
}`

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

// --- CreateBridgeHandler Tests ---

func TestCreateBridgeHandler_Accepted(t *testing.T) {
	var got model.BridgeRequest
	svc := &mockService{
		submitFn: func(_ context.Context, req model.BridgeRequest) (*model.BridgeRecord, error) {
			got = req
			return &model.BridgeRecord{RequestID: "0xreq", Status: model.StatusPending}, nil
		},
	}
	app := newTestApp(svc, nil)

	code, body := do(t, app, http.MethodPost, "/api/v1/bridges", validBody)
	assert.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, "0xreq", body["requestId"])
	assert.Equal(t, "pending", body["status"])

	assert.Equal(t, model.FlowEIP7702, got.Flow)
	assert.Equal(t, "25.5", got.Amount)
	assert.Equal(t, int32(6), got.Decimals)
}

func TestCreateBridgeHandler_ValidationErrors(t *testing.T) {
	app := newTestApp(&mockService{}, nil)

	cases := map[string]string{
		"clientId is required":   strings.Replace(validBody, `"acme"`, `""`, 1),
		"unsupported flow":       strings.Replace(validBody, `"eip7702"`, `"teleport"`, 1),
		"originCurrency must be": strings.Replace(validBody, `"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"`, `"USDC"`, 1),
		"more than 6 decimal":    strings.Replace(validBody, `"25.5"`, `"0.0000001"`, 1),
		"greater than 0":         strings.Replace(validBody, `"25.5"`, `"0"`, 1),
		"is required for the":    strings.Replace(validBody, `"eip7702"`, `"safe"`, 1),
	}
	for want, body := range cases {
		code, resp := do(t, app, http.MethodPost, "/api/v1/bridges", body)
		assert.Equal(t, fiber.StatusBadRequest, code, want)
		assert.Contains(t, resp["error"], want)
	}
}

func TestCreateBridgeHandler_InvalidJSON(t *testing.T) {
	app := newTestApp(&mockService{}, nil)
	code, resp := do(t, app, http.MethodPost, "/api/v1/bridges", `{"clientId":`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.NotEmpty(t, resp["error"])
}

func TestCreateBridgeHandler_UnknownClient(t *testing.T) {
	app := newTestApp(&mockService{}, &mockValidator{known: map[string]bool{"globex": true}})
	code, resp := do(t, app, http.MethodPost, "/api/v1/bridges", validBody)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "unknown or unauthorized clientId", resp["error"])
}

func TestCreateBridgeHandler_ServiceError(t *testing.T) {
	svc := &mockService{
		submitFn: func(context.Context, model.BridgeRequest) (*model.BridgeRecord, error) {
			return nil, errors.New("eip7702 bridge failed: quote: relay returned 400: amount too low")
		},
	}
	app := newTestApp(svc, &mockValidator{known: map[string]bool{"acme": true}})

	code, resp := do(t, app, http.MethodPost, "/api/v1/bridges", validBody)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "amount too low")
}

// --- CreateQuoteHandler Tests ---

func TestCreateQuoteHandler_Success(t *testing.T) {
	svc := &mockService{
		quoteFn: func(_ context.Context, req model.BridgeRequest) (*model.QuoteSummary, error) {
			return &model.QuoteSummary{
				RequestID: "0xquote",
				AmountIn:  "25500000",
				AmountOut: "25480000",
				FeesUSD:   "0.02",
				Steps:     []model.StepDigest{{ID: "deposit", Kind: "transaction", Items: 1}},
			}, nil
		},
	}
	app := newTestApp(svc, nil)

	code, body := do(t, app, http.MethodPost, "/api/v1/quotes", validBody)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "0xquote", body["requestId"])
	assert.Equal(t, "25480000", body["amountOut"])
	assert.Len(t, body["steps"], 1)
}

func TestCreateQuoteHandler_Rejections(t *testing.T) {
	called := false
	svc := &mockService{
		quoteFn: func(context.Context, model.BridgeRequest) (*model.QuoteSummary, error) {
			called = true
			return &model.QuoteSummary{}, nil
		},
	}
	app := newTestApp(svc, &mockValidator{known: map[string]bool{"globex": true}})

	code, resp := do(t, app, http.MethodPost, "/api/v1/quotes", `{"clientId":`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.NotEmpty(t, resp["error"])

	code, resp = do(t, app, http.MethodPost, "/api/v1/quotes", `{"clientId":"globex","flow":"teleport"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "unsupported flow")

	code, resp = do(t, app, http.MethodPost, "/api/v1/quotes", validBody)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.Equal(t, "unknown or unauthorized clientId", resp["error"])

	assert.False(t, called)
}

func TestCreateQuoteHandler_ServiceError(t *testing.T) {
	svc := &mockService{
		quoteFn: func(context.Context, model.BridgeRequest) (*model.QuoteSummary, error) {
			return nil, errors.New("quote: relay returned 400: no routes")
		},
	}
	app := newTestApp(svc, nil)

	code, resp := do(t, app, http.MethodPost, "/api/v1/quotes", validBody)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "no routes")
}

// --- GetBridgeHandler Tests ---

func TestGetBridgeHandler_Found(t *testing.T) {
	svc := &mockService{
		statusFn: func(_ context.Context, clientID, requestID string) (*model.BridgeRecord, error) {
			assert.Equal(t, "acme", clientID)
			return &model.BridgeRecord{RequestID: requestID, ClientID: clientID, Status: "success", Final: true}, nil
		},
	}
	app := newTestApp(svc, nil)

	code, body := do(t, app, http.MethodGet, "/api/v1/bridges/0xabc?clientId=acme", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "0xabc", body["requestId"])
	assert.Equal(t, true, body["final"])
}

func TestGetBridgeHandler_Errors(t *testing.T) {
	svc := &mockService{
		statusFn: func(_ context.Context, _, requestID string) (*model.BridgeRecord, error) {
			if requestID == "0xmissing" {
				return nil, bridge.ErrNotFound
			}
			return nil, errors.New("relay returned 500: boom")
		},
	}
	app := newTestApp(svc, &mockValidator{known: map[string]bool{"acme": true}})

	code, _ := do(t, app, http.MethodGet, "/api/v1/bridges/0xabc", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/bridges/0xabc?clientId=globex", "")
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/bridges/0xmissing?clientId=acme", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = do(t, app, http.MethodGet, "/api/v1/bridges/0xabc?clientId=acme", "")
	assert.Equal(t, fiber.StatusBadGateway, code)
}
