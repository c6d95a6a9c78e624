// Package health tracks per-relay reliability and latency and derives the
// healthy relay subset used for query routing.
package health

import (
	"sort"
	"sync"
	"time"

	"zapgoals/internal/types"
)

const (
	maxLatencySamples = 10
	healthThreshold   = 0.7             // minimum success rate
	staleThreshold    = 5 * time.Minute // relays unseen longer than this are not healthy
)

type relayHealth struct {
	latency     []float64 // recent samples in ms, oldest first
	errors      int
	lastSeen    time.Time
	successRate float64
}

func (h *relayHealth) avgLatency() float64 {
	if len(h.latency) == 0 {
		return 0
	}
	var sum float64
	for _, l := range h.latency {
		sum += l
	}
	return sum / float64(len(h.latency))
}

// Monitor keeps rolling per-relay statistics. All methods are safe for
// concurrent use; entries are never deleted.
type Monitor struct {
	mu     sync.RWMutex
	relays map[string]*relayHealth

	nowFunc func() time.Time
}

// NewMonitor creates an empty relay health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		relays:  make(map[string]*relayHealth),
		nowFunc: time.Now,
	}
}

// InitializeMetrics seeds a relay's state from a persisted snapshot. The
// sample history is not persisted, so it is approximated: the average
// latency becomes the only sample and, when the success rate was below 1,
// one synthetic error keeps the rate trajectory plausible after restart.
func (m *Monitor) InitializeMetrics(relay string, metrics types.RelayMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	errors := 0
	if metrics.SuccessRate < 1 {
		errors = 1
	}
	m.relays[relay] = &relayHealth{
		latency:     []float64{metrics.AvgLatency},
		errors:      errors,
		lastSeen:    m.nowFunc(),
		successRate: metrics.SuccessRate,
	}
}

// RecordSuccess appends a latency sample for the relay, evicting the oldest
// sample beyond the retention cap, and refreshes lastSeen.
func (m *Monitor) RecordSuccess(relay string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.getOrCreate(relay)
	h.latency = append(h.latency, float64(latency.Milliseconds()))
	if len(h.latency) > maxLatencySamples {
		h.latency = h.latency[1:]
	}
	h.lastSeen = m.nowFunc()
	h.updateSuccessRate()
}

// RecordError increments the relay's error counter
func (m *Monitor) RecordError(relay string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.getOrCreate(relay)
	h.errors++
	h.updateSuccessRate()
}

func (m *Monitor) getOrCreate(relay string) *relayHealth {
	h := m.relays[relay]
	if h == nil {
		h = &relayHealth{
			lastSeen:    m.nowFunc(),
			successRate: 1.0,
		}
		m.relays[relay] = h
	}
	return h
}

func (h *relayHealth) updateSuccessRate() {
	total := len(h.latency) + h.errors
	if total > 0 {
		h.successRate = float64(len(h.latency)) / float64(total)
	} else {
		h.successRate = 1.0
	}
}

// HealthyRelays returns relays with a success rate of at least 0.7 that were
// seen within the last five minutes, ordered by success rate descending with
// ties broken by ascending mean latency.
func (m *Monitor) HealthyRelays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFunc()

	type scored struct {
		url         string
		successRate float64
		avgLatency  float64
	}

	var healthy []scored
	for url, h := range m.relays {
		if h.successRate >= healthThreshold && now.Sub(h.lastSeen) < staleThreshold {
			healthy = append(healthy, scored{url, h.successRate, h.avgLatency()})
		}
	}

	sort.Slice(healthy, func(i, j int) bool {
		if healthy[i].successRate != healthy[j].successRate {
			return healthy[i].successRate > healthy[j].successRate
		}
		return healthy[i].avgLatency < healthy[j].avgLatency
	})

	urls := make([]string, len(healthy))
	for i, s := range healthy {
		urls[i] = s.url
	}
	return urls
}

// Metrics returns a persistable snapshot of every observed relay
func (m *Monitor) Metrics() map[string]types.RelayMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]types.RelayMetrics, len(m.relays))
	for url, h := range m.relays {
		metrics[url] = types.RelayMetrics{
			SuccessRate: h.successRate,
			AvgLatency:  h.avgLatency(),
		}
	}
	return metrics
}

// Stats returns an aggregate summary for the metrics endpoint
func (m *Monitor) Stats() (healthy int, unhealthy int, avgLatencyMs float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFunc()
	var totalLatency float64
	var sampled int

	for _, h := range m.relays {
		if h.successRate >= healthThreshold && now.Sub(h.lastSeen) < staleThreshold {
			healthy++
		} else {
			unhealthy++
		}
		if len(h.latency) > 0 {
			totalLatency += h.avgLatency()
			sampled++
		}
	}

	if sampled > 0 {
		avgLatencyMs = totalLatency / float64(sampled)
	}
	return healthy, unhealthy, avgLatencyMs
}

// Detail holds per-relay health information for the metrics endpoint
type Detail struct {
	URL         string
	Healthy     bool
	SuccessRate float64
	AvgLatency  float64
	Errors      int
}

// Details returns per-relay health information for every observed relay
func (m *Monitor) Details() []Detail {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFunc()
	details := make([]Detail, 0, len(m.relays))
	for url, h := range m.relays {
		details = append(details, Detail{
			URL:         url,
			Healthy:     h.successRate >= healthThreshold && now.Sub(h.lastSeen) < staleThreshold,
			SuccessRate: h.successRate,
			AvgLatency:  h.avgLatency(),
			Errors:      h.errors,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].URL < details[j].URL })
	return details
}
