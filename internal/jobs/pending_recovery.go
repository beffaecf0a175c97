package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// PendingLister returns the bridge records that have not reached a terminal status.
type PendingLister interface {
	ListPending(ctx context.Context) ([]model.BridgeRecord, error)
}

// Tracker is the part of relay.Poller the job drives.
type Tracker interface {
	Track(ctx context.Context, clientID string, flow model.Flow, requestID string) bool
	IsTracking(requestID string) bool
}

// PendingRecovery periodically re-attaches background tracking to non-final
// requests, so bridges submitted before a restart still settle.
type PendingRecovery struct {
	logger   *zap.Logger
	store    PendingLister
	tracker  Tracker
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPendingRecovery constructs the job. It runs once on Start, then every interval.
func NewPendingRecovery(logger *zap.Logger, store PendingLister, tracker Tracker, interval time.Duration) *PendingRecovery {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingRecovery{
		logger:   logger,
		store:    store,
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the recovery loop until ctx is done or Stop is called.
func (r *PendingRecovery) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("pending_recovery.started", zap.Duration("interval", r.interval))
	r.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("pending_recovery.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("pending_recovery.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (r *PendingRecovery) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one recovery cycle and returns how many requests were re-attached.
func (r *PendingRecovery) RunOnce(ctx context.Context) int {
	start := time.Now()

	pending, err := r.store.ListPending(ctx)
	if err != nil {
		metrics.IncError("pending_recovery", "list_failed")
		r.logger.Error("pending_recovery.list_failed", zap.Error(err))
		return 0
	}

	resumed := 0
	for _, rec := range pending {
		if rec.Final || rec.TimedOut || r.tracker.IsTracking(rec.RequestID) {
			continue
		}
		if r.tracker.Track(context.WithoutCancel(ctx), rec.ClientID, rec.Flow, rec.RequestID) {
			resumed++
			r.logger.Info("pending_recovery.resumed",
				zap.String("request_id", rec.RequestID),
				zap.String("client", rec.ClientID),
				zap.String("flow", string(rec.Flow)),
				zap.String("last_status", rec.Status))
		}
	}

	metrics.SetLastPoll("pending_recovery", time.Now())
	r.logger.Debug("pending_recovery.cycle",
		zap.Int("pending", len(pending)),
		zap.Int("resumed", resumed),
		zap.Duration("duration", time.Since(start)))
	return resumed
}
