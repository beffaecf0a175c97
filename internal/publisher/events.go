package publisher

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/pkg/eventbus"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// Event types carried in the envelope.
const (
	EventStatusChanged = "bridge.status_changed"
	EventPollFailed    = "bridge.poll_failed"
)

// Subjects returns the subjects a status event is published on:
// "<prefix>.status_changed.v1" for every change plus "<prefix>.<status>.v1"
// once the request is final. Error events go to "<prefix>.poll_failed.v1".
func Subjects(prefix string, evt model.StatusEvent) []string {
	prefix = strings.TrimSuffix(prefix, ".")
	if evt.Error != "" {
		return []string{prefix + ".poll_failed.v1"}
	}
	subjects := []string{prefix + ".status_changed.v1"}
	if evt.Final && evt.Status != "" {
		subjects = append(subjects, fmt.Sprintf("%s.%s.v1", prefix, evt.Status))
	}
	return subjects
}

// StatusHandler turns status events into envelopes on pub. Failures are
// logged; the poller never blocks on the message bus.
func StatusHandler(pub EnvelopePublisher, prefix string, logger *zap.Logger) eventbus.Handler[model.StatusEvent] {
	return func(ctx context.Context, evt model.StatusEvent) {
		eventType := EventStatusChanged
		if evt.Error != "" {
			eventType = EventPollFailed
		}
		for _, subject := range Subjects(prefix, evt) {
			env, err := model.NewEnvelope(subject, eventType, evt.ClientID, evt)
			if err != nil {
				logger.Error("publisher.envelope_failed",
					zap.String("request_id", evt.RequestID),
					zap.Error(err))
				return
			}
			if err := pub.PublishEnvelope(ctx, subject, env); err != nil {
				logger.Warn("publisher.status_event_dropped",
					zap.String("request_id", evt.RequestID),
					zap.String("subject", subject),
					zap.Error(err))
			}
		}
	}
}
