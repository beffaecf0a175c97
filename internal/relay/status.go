package relay

import (
	"strings"

	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// NormalizeStatus lowercases and trims a relay status.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsTerminalStatus reports whether no further polling is needed.
func IsTerminalStatus(s string) bool {
	switch NormalizeStatus(s) {
	case model.StatusSuccess, model.StatusFailure, model.StatusRefund, model.StatusRefunded:
		return true
	default:
		return false
	}
}

// IsKnownStatus reports whether s is one of the statuses the relay documents.
func IsKnownStatus(s string) bool {
	switch NormalizeStatus(s) {
	case model.StatusWaiting, model.StatusPending, model.StatusSubmitted, model.StatusDelayed:
		return true
	default:
		return IsTerminalStatus(s)
	}
}
