package health

import (
	"testing"
	"time"

	"zapgoals/internal/types"
)

func TestUnobservedRelayDefaults(t *testing.T) {
	m := NewMonitor()

	metrics := m.Metrics()
	if len(metrics) != 0 {
		t.Fatalf("expected no metrics, got %d", len(metrics))
	}

	// First observation creates the entry with a perfect rate
	m.RecordSuccess("wss://a", 100*time.Millisecond)
	got := m.Metrics()["wss://a"]
	if got.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", got.SuccessRate)
	}
	if got.AvgLatency != 100 {
		t.Errorf("avg latency = %v, want 100", got.AvgLatency)
	}
}

func TestSuccessRateCalculation(t *testing.T) {
	m := NewMonitor()

	// 3 successes, 1 error -> 0.75
	m.RecordSuccess("wss://a", 50*time.Millisecond)
	m.RecordSuccess("wss://a", 60*time.Millisecond)
	m.RecordSuccess("wss://a", 70*time.Millisecond)
	m.RecordError("wss://a")

	got := m.Metrics()["wss://a"]
	if got.SuccessRate != 0.75 {
		t.Errorf("success rate = %v, want 0.75", got.SuccessRate)
	}
	if got.AvgLatency != 60 {
		t.Errorf("avg latency = %v, want 60", got.AvgLatency)
	}
}

func TestLatencyRingEviction(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 15; i++ {
		m.RecordSuccess("wss://a", time.Duration(i)*time.Millisecond)
	}

	m.mu.RLock()
	h := m.relays["wss://a"]
	m.mu.RUnlock()

	if len(h.latency) != maxLatencySamples {
		t.Fatalf("ring length = %d, want %d", len(h.latency), maxLatencySamples)
	}
	// Oldest samples (0..4) evicted, ring holds 5..14
	if h.latency[0] != 5 || h.latency[9] != 14 {
		t.Errorf("ring = %v, want 5..14", h.latency)
	}
}

func TestHealthyRelaysFilterAndOrder(t *testing.T) {
	m := NewMonitor()

	// good: rate 1.0, latency 50
	m.RecordSuccess("wss://good", 50*time.Millisecond)
	// slow: rate 1.0, latency 500 (ties with good on rate, loses on latency)
	m.RecordSuccess("wss://slow", 500*time.Millisecond)
	// flaky: 3/4 = 0.75, above threshold
	m.RecordSuccess("wss://flaky", 10*time.Millisecond)
	m.RecordSuccess("wss://flaky", 10*time.Millisecond)
	m.RecordSuccess("wss://flaky", 10*time.Millisecond)
	m.RecordError("wss://flaky")
	// bad: 1/2 = 0.5, below threshold
	m.RecordSuccess("wss://bad", 10*time.Millisecond)
	m.RecordError("wss://bad")

	healthy := m.HealthyRelays()
	want := []string{"wss://good", "wss://slow", "wss://flaky"}
	if len(healthy) != len(want) {
		t.Fatalf("healthy = %v, want %v", healthy, want)
	}
	for i := range want {
		if healthy[i] != want[i] {
			t.Errorf("healthy[%d] = %q, want %q", i, healthy[i], want[i])
		}
	}
}

func TestStaleRelayExcluded(t *testing.T) {
	m := NewMonitor()
	now := time.Now()
	m.nowFunc = func() time.Time { return now }

	m.RecordSuccess("wss://a", 50*time.Millisecond)

	if got := m.HealthyRelays(); len(got) != 1 {
		t.Fatalf("expected 1 healthy relay, got %v", got)
	}

	// Advance past the stale threshold
	m.nowFunc = func() time.Time { return now.Add(staleThreshold + time.Second) }

	if got := m.HealthyRelays(); len(got) != 0 {
		t.Errorf("expected stale relay excluded, got %v", got)
	}
}

func TestInitializeMetrics(t *testing.T) {
	m := NewMonitor()

	m.InitializeMetrics("wss://perfect", types.RelayMetrics{SuccessRate: 1.0, AvgLatency: 80})
	m.InitializeMetrics("wss://flaky", types.RelayMetrics{SuccessRate: 0.8, AvgLatency: 120})

	metrics := m.Metrics()
	if got := metrics["wss://perfect"]; got.SuccessRate != 1.0 || got.AvgLatency != 80 {
		t.Errorf("perfect = %+v", got)
	}
	if got := metrics["wss://flaky"]; got.SuccessRate != 0.8 || got.AvgLatency != 120 {
		t.Errorf("flaky = %+v", got)
	}

	// Seeded synthetic error: one more success over 1 sample + 1 error -> 2/3
	m.RecordSuccess("wss://flaky", 100*time.Millisecond)
	got := m.Metrics()["wss://flaky"]
	if diff := got.SuccessRate - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("post-seed rate = %v, want 2/3", got.SuccessRate)
	}
}

func TestStatsAndDetails(t *testing.T) {
	m := NewMonitor()

	m.RecordSuccess("wss://a", 40*time.Millisecond)
	m.RecordSuccess("wss://b", 10*time.Millisecond)
	m.RecordError("wss://b")
	m.RecordError("wss://b")

	healthy, unhealthy, avg := m.Stats()
	if healthy != 1 || unhealthy != 1 {
		t.Errorf("healthy=%d unhealthy=%d, want 1/1", healthy, unhealthy)
	}
	if avg != 25 {
		t.Errorf("avg latency = %v, want 25", avg)
	}

	details := m.Details()
	if len(details) != 2 {
		t.Fatalf("details = %d entries, want 2", len(details))
	}
	if details[0].URL != "wss://a" || !details[0].Healthy {
		t.Errorf("details[0] = %+v", details[0])
	}
	if details[1].URL != "wss://b" || details[1].Healthy || details[1].Errors != 2 {
		t.Errorf("details[1] = %+v", details[1])
	}
}
