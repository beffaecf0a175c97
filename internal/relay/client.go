package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/httpclient"
	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/internal/rate"
)

const (
	// TradeTypeExactInput quotes a fixed input amount.
	TradeTypeExactInput = "EXACT_INPUT"
	// ExecutionKindRawCalls asks the relayer to submit a prepared call.
	ExecutionKindRawCalls = "rawCalls"
)

// Client wraps HTTP communication with the relay API.
// Configuration (base URL, API key) is supplied per-call via ClientConfig
// so that a single Client instance can serve multiple tenants.
type Client struct {
	logger *zap.Logger
	exec   *httpclient.Executor
}

// NewClient constructs a relay client. retryMax bounds transport and 5xx retries.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, rateMgr, httpClient, retryMax, "relay", func(status int, body []byte) error {
		var errResp ErrorResponse
		_ = json.Unmarshal(body, &errResp)

		logger.Warn("relay.client_error",
			zap.Int("status", status),
			zap.String("error_code", errResp.ErrorCode),
			zap.String("message", errResp.Message))

		errMsg := errResp.Message
		if errMsg == "" {
			errMsg = errResp.Error
		}
		if errMsg == "" {
			errMsg = string(body)
		}
		return fmt.Errorf("relay returned %d: %s", status, errMsg)
	}).WithObserver(metrics.ObserveRelayRequest)
	return &Client{
		logger: logger,
		exec:   exec,
	}
}

// GetQuote requests a quote.
// POST /quote
func (c *Client) GetQuote(ctx context.Context, cfg *ClientConfig, req *QuoteRequest) (*QuoteResponse, error) {
	if req.TradeType == "" {
		req.TradeType = TradeTypeExactInput
	}
	if req.Referrer == "" {
		req.Referrer = cfg.Referrer
	}
	var resp QuoteResponse
	if err := c.postJSON(ctx, cfg, "/quote", req, &resp); err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if len(resp.Steps) == 0 {
		return nil, fmt.Errorf("get quote: relay returned no steps")
	}
	return &resp, nil
}

// Execute submits prepared calldata for gasless execution.
// POST /execute
func (c *Client) Execute(ctx context.Context, cfg *ClientConfig, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.ExecutionKind == "" {
		req.ExecutionKind = ExecutionKindRawCalls
	}
	if req.ExecutionOptions.Referrer == "" {
		req.ExecutionOptions.Referrer = cfg.Referrer
	}
	var resp ExecuteResponse
	if err := c.postJSON(ctx, cfg, "/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if resp.RequestID == "" {
		resp.RequestID = req.RequestID
	}
	return &resp, nil
}

// PostSignature submits a signed step to the endpoint named by the step.
// POST {post.endpoint}?signature=0x...
func (c *Client) PostSignature(ctx context.Context, cfg *ClientConfig, post *StepPost, signature string) (*ExecuteResponse, error) {
	if post == nil || post.Endpoint == "" {
		return nil, fmt.Errorf("post signature: missing endpoint")
	}
	method := strings.ToUpper(post.Method)
	if method == "" {
		method = http.MethodPost
	}
	path := post.Endpoint + "?signature=" + url.QueryEscape(signature)

	var body any
	if post.Body != nil {
		body = post.Body
	}
	var resp ExecuteResponse
	if err := c.doJSON(ctx, cfg, method, path, body, &resp); err != nil {
		return nil, fmt.Errorf("post signature: %w", err)
	}
	return &resp, nil
}

// GetStatus fetches the status of an intent.
// GET /intents/status/v2?requestId=
func (c *Client) GetStatus(ctx context.Context, cfg *ClientConfig, requestID string) (*StatusResponse, error) {
	var resp StatusResponse
	path := "/intents/status/v2?requestId=" + url.QueryEscape(requestID)
	if err := c.doJSON(ctx, cfg, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &resp, nil
}

// GetChains lists the chains supported by the relay.
// GET /chains
func (c *Client) GetChains(ctx context.Context, cfg *ClientConfig) (*ChainsResponse, error) {
	var resp ChainsResponse
	if err := c.doJSON(ctx, cfg, http.MethodGet, "/chains", nil, &resp); err != nil {
		return nil, fmt.Errorf("get chains: %w", err)
	}
	return &resp, nil
}

// postJSON performs an authenticated POST request with a JSON body.
func (c *Client) postJSON(ctx context.Context, cfg *ClientConfig, path string, body any, out any) error {
	return c.doJSON(ctx, cfg, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, cfg *ClientConfig, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	u := strings.TrimRight(cfg.BaseURL, "/") + path
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return err
	}
	setHeaders(req, cfg.APIKey)

	return c.exec.DoJSON(ctx, req, cfg.rateLimitKey(), out)
}

// setHeaders sets the headers for relay API requests. The API key is optional.
func setHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}
