package health

import (
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

func TestServerHealthTracker_UnknownBeforeFirstProbe(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	sample := tr.Sample(3, 120*time.Second, time.Now())
	if sample.Status != types.HealthUnknown {
		t.Errorf("expected UNKNOWN before any probe, got %s", sample.Status)
	}
}

func TestServerHealthTracker_HealthyAfterSuccess(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	now := time.Now()
	tr.RecordSuccess(now, types.HeartbeatMetrics{UsedCPU: 1.5})
	sample := tr.Sample(3, 120*time.Second, now)
	if sample.Status != types.HealthHealthy {
		t.Errorf("expected HEALTHY, got %s", sample.Status)
	}
}

func TestServerHealthTracker_DegradedBelowThreshold(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	now := time.Now()
	tr.RecordSuccess(now, types.HeartbeatMetrics{})
	tr.RecordFailure(now.Add(time.Second), "dial timeout")
	sample := tr.Sample(3, 120*time.Second, now.Add(time.Second))
	if sample.Status != types.HealthDegraded {
		t.Errorf("expected DEGRADED with 1 of 3 failures, got %s", sample.Status)
	}
}

func TestServerHealthTracker_UnhealthyAtThreshold(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	now := time.Now()
	tr.RecordSuccess(now, types.HeartbeatMetrics{})
	for i := 0; i < 3; i++ {
		tr.RecordFailure(now.Add(time.Duration(i+1)*time.Second), "dial timeout")
	}
	sample := tr.Sample(3, 120*time.Second, now.Add(4*time.Second))
	if sample.Status != types.HealthUnhealthy {
		t.Errorf("expected UNHEALTHY at failure threshold, got %s", sample.Status)
	}
}

func TestServerHealthTracker_UnreachableAfterStaleWindow(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	now := time.Now()
	tr.RecordSuccess(now, types.HeartbeatMetrics{})
	later := now.Add(200 * time.Second)
	sample := tr.Sample(3, 120*time.Second, later)
	if sample.Status != types.HealthUnreachable {
		t.Errorf("expected UNREACHABLE past stale threshold, got %s", sample.Status)
	}
}

func TestServerHealthTracker_RecoversOnSingleSuccess(t *testing.T) {
	tr := NewServerHealthTracker("srv-1")
	now := time.Now()
	tr.RecordSuccess(now, types.HeartbeatMetrics{})
	for i := 0; i < 5; i++ {
		tr.RecordFailure(now.Add(time.Duration(i+1)*time.Second), "timeout")
	}
	recoverAt := now.Add(10 * time.Second)
	tr.RecordSuccess(recoverAt, types.HeartbeatMetrics{})
	sample := tr.Sample(3, 120*time.Second, recoverAt)
	if sample.Status != types.HealthHealthy {
		t.Errorf("expected single success to recover to HEALTHY, got %s", sample.Status)
	}
}
