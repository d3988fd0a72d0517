package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"finmux/internal/classify"
)

func TestRecordSuccessResetsConsecutiveFailures(t *testing.T) {
	m := New()
	m.RecordFailure("p1", classify.NetworkError)
	m.RecordFailure("p1", classify.NetworkError)
	m.RecordSuccess("p1", 10*time.Millisecond)

	status := m.Status("p1")
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset, got %d", status.ConsecutiveFailures)
	}
	if !status.IsHealthy {
		t.Fatalf("expected healthy after success")
	}
}

func TestUnhealthyAtThreshold(t *testing.T) {
	m := New()
	if !m.IsHealthy("p1") {
		t.Fatalf("unknown provider should default healthy")
	}
	for i := 0; i < unhealthyThreshold; i++ {
		m.RecordFailure("p1", classify.ServiceError)
	}
	if m.IsHealthy("p1") {
		t.Fatalf("expected unhealthy at threshold")
	}
}

func TestStatusErrorRateAndLatency(t *testing.T) {
	m := New()
	m.RecordSuccess("p1", 100*time.Millisecond)
	m.RecordSuccess("p1", 200*time.Millisecond)
	m.RecordFailure("p1", classify.Timeout)

	status := m.Status("p1")
	if status.TotalObserved != 3 {
		t.Fatalf("expected 3 observations, got %d", status.TotalObserved)
	}
	if status.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", status.Failures)
	}
	want := 1.0 / 3.0
	if diff := status.ErrorRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected error rate %v, got %v", want, status.ErrorRate)
	}
	if status.AverageLatency != 150*time.Millisecond {
		t.Fatalf("expected average latency over successes only, got %v", status.AverageLatency)
	}
	if status.ErrorKinds[classify.Timeout] != 1 {
		t.Fatalf("expected timeout histogram entry, got %+v", status.ErrorKinds)
	}
}

func TestPruningRespectsCapAndRetention(t *testing.T) {
	m := New()
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < defaultCap+10; i++ {
		m.RecordSuccess("p1", time.Millisecond)
	}
	status := m.Status("p1")
	if status.TotalObserved != defaultCap {
		t.Fatalf("expected window capped at %d, got %d", defaultCap, status.TotalObserved)
	}

	m.now = func() time.Time { return base.Add(retentionHorizon + time.Second) }
	status = m.Status("p1")
	if status.TotalObserved != 0 {
		t.Fatalf("expected all entries pruned by retention horizon, got %d", status.TotalObserved)
	}
}

func TestWatchdogClearsUnhealthyWithoutTouchingWindow(t *testing.T) {
	m := New()
	for i := 0; i < unhealthyThreshold; i++ {
		m.RecordFailure("p1", classify.ServiceError)
	}
	if m.IsHealthy("p1") {
		t.Fatalf("expected unhealthy before probe")
	}
	beforeTotal := m.Status("p1").TotalObserved

	w := NewWatchdog(m, func(ctx context.Context, id string) error { return nil }, time.Millisecond)
	w.probeAll(context.Background(), []string{"p1"})

	if !m.IsHealthy("p1") {
		t.Fatalf("expected passing probe to clear unhealthy flag")
	}
	if got := m.Status("p1").TotalObserved; got != beforeTotal {
		t.Fatalf("probe must not touch rolling window, before=%d after=%d", beforeTotal, got)
	}
}

func TestWatchdogRecordsFailureOnProbeError(t *testing.T) {
	m := New()
	w := NewWatchdog(m, func(ctx context.Context, id string) error { return errors.New("down") }, time.Millisecond)
	w.probeAll(context.Background(), []string{"p1"})

	status := m.Status("p1")
	if status.Failures != 1 {
		t.Fatalf("expected failing probe to record a failure, got %+v", status)
	}
	if status.ErrorKinds[classify.ServiceError] != 1 {
		t.Fatalf("expected ServiceError kind, got %+v", status.ErrorKinds)
	}
}
