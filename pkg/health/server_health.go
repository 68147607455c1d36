package health

import (
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

// ServerHealthTracker derives a five-state Server Health Sample from a
// stream of heartbeat probe outcomes, the way Status tracks a container's
// binary healthy/unhealthy state above but generalized to the fleet's
// HEALTHY/DEGRADED/UNHEALTHY/UNREACHABLE/UNKNOWN model (SPEC_FULL.md §4.2).
type ServerHealthTracker struct {
	ServerID            string
	ConsecutiveFailures int
	LastSuccessTS       time.Time
	LastError           string
	LastMetrics         types.HeartbeatMetrics
	started             bool
}

// NewServerHealthTracker creates a tracker in the UNKNOWN state, before any
// probe has completed.
func NewServerHealthTracker(serverID string) *ServerHealthTracker {
	return &ServerHealthTracker{ServerID: serverID}
}

// RecordSuccess records a successful heartbeat probe. A single success is
// enough to recover from DEGRADED or UNHEALTHY (P6).
func (t *ServerHealthTracker) RecordSuccess(at time.Time, metrics types.HeartbeatMetrics) {
	t.ConsecutiveFailures = 0
	t.LastSuccessTS = at
	t.LastError = ""
	t.LastMetrics = metrics
	t.started = true
}

// RecordFailure records a failed heartbeat probe.
func (t *ServerHealthTracker) RecordFailure(at time.Time, errMsg string) {
	t.ConsecutiveFailures++
	t.LastError = errMsg
	t.started = true
}

// Sample derives the current ServerHealthSample given the failure threshold
// and stale threshold from configuration.
func (t *ServerHealthTracker) Sample(failureThreshold int, staleThreshold time.Duration, now time.Time) types.ServerHealthSample {
	status := t.classify(failureThreshold, staleThreshold, now)
	return types.ServerHealthSample{
		ServerID:            t.ServerID,
		Status:              status,
		LastSuccessTS:       t.LastSuccessTS,
		ConsecutiveFailures: t.ConsecutiveFailures,
		LastError:           t.LastError,
		Metrics:             t.LastMetrics,
	}
}

func (t *ServerHealthTracker) classify(failureThreshold int, staleThreshold time.Duration, now time.Time) types.HealthState {
	if !t.started {
		return types.HealthUnknown
	}
	if !t.LastSuccessTS.IsZero() && now.Sub(t.LastSuccessTS) >= staleThreshold {
		return types.HealthUnreachable
	}
	switch {
	case t.ConsecutiveFailures == 0:
		return types.HealthHealthy
	case t.ConsecutiveFailures < failureThreshold:
		return types.HealthDegraded
	default:
		return types.HealthUnhealthy
	}
}
