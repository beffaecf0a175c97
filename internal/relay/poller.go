package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// ErrPollTimeout is returned when the attempt budget is spent before a terminal status.
var ErrPollTimeout = errors.New("status polling timed out")

const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 3 * time.Second
	// Safe and ERC-4337 executions settle slower.
	SmartAccountMaxAttempts = 100
	SmartAccountInterval    = 5 * time.Second
)

// ProgressFunc is invoked after every status fetch, terminal or not.
type ProgressFunc func(attempt int, status *StatusResponse)

// StatusFetcher loads the current status of a request for a client.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, clientID, requestID string) (*StatusResponse, error)
}

// EventSink receives status events from background tracking.
type EventSink interface {
	Publish(ctx context.Context, evt model.StatusEvent)
}

type pollSettings struct {
	maxAttempts int
	interval    time.Duration
}

// PollOption overrides the poller defaults for one wait.
type PollOption func(*pollSettings)

func WithMaxAttempts(n int) PollOption {
	return func(s *pollSettings) { s.maxAttempts = n }
}

func WithInterval(d time.Duration) PollOption {
	return func(s *pollSettings) { s.interval = d }
}

// FlowOptions returns the attempt budget for a flow.
func (p *Poller) FlowOptions(flow model.Flow) []PollOption {
	if flow.SmartAccount() {
		return []PollOption{WithMaxAttempts(p.smart.maxAttempts), WithInterval(p.smart.interval)}
	}
	return []PollOption{WithMaxAttempts(p.defaults.maxAttempts), WithInterval(p.defaults.interval)}
}

// PollerConfig sets the attempt budgets. Zero values fall back to the package defaults.
type PollerConfig struct {
	MaxAttempts             int
	Interval                time.Duration
	SmartAccountMaxAttempts int
	SmartAccountInterval    time.Duration
}

// Poller waits for relay requests to settle, either blocking (Wait)
// or in the background (Track).
type Poller struct {
	logger   *zap.Logger
	fetcher  StatusFetcher
	sink     EventSink
	defaults pollSettings
	smart    pollSettings

	active   sync.Map // requestID -> context.CancelFunc
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller constructs a poller. sink may be nil when only Wait is used.
func NewPoller(logger *zap.Logger, fetcher StatusFetcher, sink EventSink, cfg PollerConfig) *Poller {
	p := &Poller{
		logger:   logger,
		fetcher:  fetcher,
		sink:     sink,
		defaults: pollSettings{maxAttempts: cfg.MaxAttempts, interval: cfg.Interval},
		smart:    pollSettings{maxAttempts: cfg.SmartAccountMaxAttempts, interval: cfg.SmartAccountInterval},
		stopCh:   make(chan struct{}),
	}
	if p.defaults.maxAttempts <= 0 {
		p.defaults.maxAttempts = DefaultMaxAttempts
	}
	if p.defaults.interval <= 0 {
		p.defaults.interval = DefaultInterval
	}
	if p.smart.maxAttempts <= 0 {
		p.smart.maxAttempts = SmartAccountMaxAttempts
	}
	if p.smart.interval <= 0 {
		p.smart.interval = SmartAccountInterval
	}
	return p
}

// Wait fetches the status of requestID until it is terminal or the attempt
// budget is spent. onProgress sees every fetched status, including the
// terminal one. There is no sleep after the last attempt.
// On timeout the last observed status is returned with an ErrPollTimeout error.
// A fetch error ends the wait immediately.
func (p *Poller) Wait(
	ctx context.Context,
	clientID,
	requestID string,
	onProgress ProgressFunc,
	opts ...PollOption,
) (*StatusResponse, error) {
	s := p.defaults
	for _, o := range opts {
		o(&s)
	}
	if s.maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", s.maxAttempts)
	}

	var last *StatusResponse
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		status, err := p.fetcher.FetchStatus(ctx, clientID, requestID)
		if err != nil {
			return last, fmt.Errorf("poll attempt %d: %w", attempt, err)
		}
		last = status

		if onProgress != nil {
			onProgress(attempt, status)
		}

		if IsTerminalStatus(status.Status) {
			return status, nil
		}

		if attempt == s.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, s.interval); err != nil {
			return last, err
		}
	}

	return last, fmt.Errorf("%w after %d attempts", ErrPollTimeout, s.maxAttempts)
}

// Track starts a background wait for requestID. It returns false when the
// request is already tracked or the poller is stopped.
func (p *Poller) Track(parentCtx context.Context, clientID string, flow model.Flow, requestID string) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	ctx, cancel := context.WithCancel(parentCtx)
	if _, loaded := p.active.LoadOrStore(requestID, cancel); loaded {
		cancel()
		p.logger.Debug("relay.poll_already_active",
			zap.String("request_id", requestID),
			zap.String("client", clientID))
		return false
	}

	metrics.TrackedRequests.Inc()
	p.wg.Add(1)
	go func() {
		defer func() {
			p.active.Delete(requestID)
			cancel()
			metrics.TrackedRequests.Dec()
			p.wg.Done()
		}()

		go func() {
			select {
			case <-p.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		p.track(ctx, clientID, flow, requestID)
	}()
	return true
}

func (p *Poller) track(ctx context.Context, clientID string, flow model.Flow, requestID string) {
	var lastStatus string

	onProgress := func(attempt int, st *StatusResponse) {
		metrics.IncPollAttempt(string(flow))
		status := NormalizeStatus(st.Status)
		terminal := IsTerminalStatus(status)

		p.logger.Debug("relay.poll_attempt",
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.String("status", status))

		// Emit status change only when it actually changes
		if status == lastStatus && !terminal {
			return
		}
		lastStatus = status

		p.logger.Info("relay.status_changed",
			zap.String("request_id", requestID),
			zap.String("client", clientID),
			zap.String("flow", string(flow)),
			zap.String("status", status),
			zap.Int("attempt", attempt))

		p.emit(ctx, model.StatusEvent{
			RequestID:  requestID,
			ClientID:   clientID,
			Flow:       flow,
			Status:     status,
			Changed:    true,
			Attempt:    attempt,
			InTxHashes: st.InTxHashes,
			TxHashes:   st.TxHashes,
			Final:      terminal,
			Timestamp:  time.Now().UTC(),
		})
	}

	final, err := p.Wait(ctx, clientID, requestID, onProgress, p.FlowOptions(flow)...)
	switch {
	case err == nil:
		metrics.IncOutcome(string(flow), NormalizeStatus(final.Status))
		metrics.SetLastPoll("poller", time.Now())
		p.logger.Info("relay.poll_complete",
			zap.String("request_id", requestID),
			zap.String("client", clientID),
			zap.String("final_status", NormalizeStatus(final.Status)))

	case errors.Is(err, context.Canceled):
		p.logger.Info("relay.poll_stopped",
			zap.String("request_id", requestID),
			zap.String("client", clientID),
			zap.String("last_status", lastStatus))

	default:
		reason := "fetch_error"
		timedOut := errors.Is(err, ErrPollTimeout)
		if timedOut {
			reason = "timeout"
			metrics.IncOutcome(string(flow), "timeout")
		}
		metrics.IncError("poller", reason)
		p.logger.Warn("relay.poll_failed",
			zap.String("request_id", requestID),
			zap.String("client", clientID),
			zap.String("last_status", lastStatus),
			zap.Error(err))

		p.emit(context.WithoutCancel(ctx), model.StatusEvent{
			RequestID: requestID,
			ClientID:  clientID,
			Flow:      flow,
			Status:    lastStatus,
			Error:     err.Error(),
			TimedOut:  timedOut,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (p *Poller) emit(ctx context.Context, evt model.StatusEvent) {
	if p.sink != nil {
		p.sink.Publish(ctx, evt)
	}
}

// IsTracking returns true if requestID has an active background wait.
func (p *Poller) IsTracking(requestID string) bool {
	_, ok := p.active.Load(requestID)
	return ok
}

// CancelTracking stops the background wait for requestID, if any.
func (p *Poller) CancelTracking(requestID string) {
	if cancel, ok := p.active.Load(requestID); ok {
		p.logger.Info("relay.poll_cancelled", zap.String("request_id", requestID))
		cancel.(context.CancelFunc)()
	}
}

// Stop cancels every background wait and blocks until they return.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
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
