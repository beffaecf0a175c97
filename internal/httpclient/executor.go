package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Observer is notified after every attempt. status is 0 on transport errors.
type Observer func(method, path string, status int, elapsed time.Duration)

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	tag          string
	errorHandler func(status int, body []byte) error
	observer     Observer
}

// New creates an Executor. errorHandler turns a 4xx response, or the last 5xx
// once retries are exhausted, into an upstream-specific error. If nil, an
// *HTTPError is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// WithObserver attaches a per-attempt observer (metrics) and returns e.
func (e *Executor) WithObserver(o Observer) *Executor {
	e.observer = o
	return e
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the
// response into out. rateLimitKey scopes the limiter per client.
// 5xx and transport errors are retried; 4xx are returned immediately.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	// Buffer the body once so every attempt sends it in full.
	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, Backoff(attempt-1)); err != nil {
				return err
			}
		}

		attemptReq := req.Clone(ctx)
		if payload != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(payload))
			attemptReq.ContentLength = int64(len(payload))
		}

		status, body, elapsed, err := e.roundTrip(attemptReq)
		e.observe(req, status, elapsed)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			e.logger.Warn(e.tag+".http_failed",
				zap.String("path", req.URL.Path),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}

		if status >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", status),
				zap.String("path", req.URL.Path),
				zap.Duration("latency", elapsed),
				zap.Int("attempt", attempt))
			lastErr = e.statusError(status, body)
			continue
		}

		if status >= 400 {
			return e.statusError(status, body)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.tag+".decode_failed",
					zap.Error(err),
					zap.String("path", req.URL.Path),
					zap.Int("body_len", len(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.tag, e.retryMax+1, lastErr)
}

func (e *Executor) statusError(status int, body []byte) error {
	if e.errorHandler != nil {
		return e.errorHandler(status, body)
	}
	return &HTTPError{Status: status, Body: body}
}

func (e *Executor) roundTrip(req *http.Request) (int, []byte, time.Duration, error) {
	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return resp.StatusCode, nil, elapsed, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, elapsed, nil
}

func (e *Executor) observe(req *http.Request, status int, elapsed time.Duration) {
	if e.observer != nil {
		e.observer(req.Method, req.URL.Path, status, elapsed)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPError is returned for non-2xx responses when no errorHandler claims them.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("http %d", e.Status)
	}
	b := e.Body
	if len(b) > 256 {
		b = b[:256]
	}
	return fmt.Sprintf("http %d: %s", e.Status, b)
}
