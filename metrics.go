package main

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// HTTP metrics
var (
	httpRequestsTotal atomic.Int64
	httpErrorsTotal   atomic.Int64
)

// Scheduler metrics, bumped by the notification consumer
var (
	zapsSentTotal           atomic.Int64
	zapsFailedTotal         atomic.Int64
	zapsInsufficientBalance atomic.Int64
)

var serverStartTime = time.Now()

// metricsHandler serves Prometheus-compatible metrics
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Build info metric
	fmt.Fprintf(w, "# HELP zapgoals_build_info Build and configuration information\n")
	fmt.Fprintf(w, "# TYPE zapgoals_build_info gauge\n")
	fmt.Fprintf(w, "zapgoals_build_info{go_version=%q} 1\n\n", runtime.Version())

	// Process metrics
	fmt.Fprintf(w, "# HELP process_start_time_seconds Unix timestamp of process start\n")
	fmt.Fprintf(w, "# TYPE process_start_time_seconds gauge\n")
	fmt.Fprintf(w, "process_start_time_seconds %d\n\n", serverStartTime.Unix())

	fmt.Fprintf(w, "# HELP process_uptime_seconds Time since process started\n")
	fmt.Fprintf(w, "# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(w, "process_uptime_seconds %.0f\n\n", time.Since(serverStartTime).Seconds())

	// Go runtime metrics
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	fmt.Fprintf(w, "# HELP go_goroutines Number of active goroutines\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Currently allocated memory in bytes\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n\n", memStats.Alloc)

	fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total memory obtained from the OS\n")
	fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_sys_bytes %d\n\n", memStats.Sys)

	fmt.Fprintf(w, "# HELP go_gc_cycles_total Number of completed GC cycles\n")
	fmt.Fprintf(w, "# TYPE go_gc_cycles_total counter\n")
	fmt.Fprintf(w, "go_gc_cycles_total %d\n\n", memStats.NumGC)

	// HTTP metrics
	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", httpRequestsTotal.Load())

	fmt.Fprintf(w, "# HELP http_errors_total Total number of HTTP 5xx errors\n")
	fmt.Fprintf(w, "# TYPE http_errors_total counter\n")
	fmt.Fprintf(w, "http_errors_total %d\n\n", httpErrorsTotal.Load())

	// Connection pool metrics
	fmt.Fprintf(w, "# HELP nostr_relay_connections_active Number of active relay connections\n")
	fmt.Fprintf(w, "# TYPE nostr_relay_connections_active gauge\n")
	fmt.Fprintf(w, "nostr_relay_connections_active %d\n\n", relayPool.ActiveConnections())

	// Relay health summary
	healthy, unhealthy, avgMs := healthMonitor.Stats()
	fmt.Fprintf(w, "# HELP nostr_relays_healthy Number of healthy relays\n")
	fmt.Fprintf(w, "# TYPE nostr_relays_healthy gauge\n")
	fmt.Fprintf(w, "nostr_relays_healthy %d\n\n", healthy)

	fmt.Fprintf(w, "# HELP nostr_relays_unhealthy Number of unhealthy relays\n")
	fmt.Fprintf(w, "# TYPE nostr_relays_unhealthy gauge\n")
	fmt.Fprintf(w, "nostr_relays_unhealthy %d\n\n", unhealthy)

	fmt.Fprintf(w, "# HELP nostr_relay_avg_response_ms Average relay response time in milliseconds\n")
	fmt.Fprintf(w, "# TYPE nostr_relay_avg_response_ms gauge\n")
	fmt.Fprintf(w, "nostr_relay_avg_response_ms %.0f\n\n", avgMs)

	// Per-relay metrics with labels
	details := healthMonitor.Details()
	if len(details) > 0 {
		fmt.Fprintf(w, "# HELP nostr_relay_response_ms Response time per relay in milliseconds\n")
		fmt.Fprintf(w, "# TYPE nostr_relay_response_ms gauge\n")
		for _, d := range details {
			fmt.Fprintf(w, "nostr_relay_response_ms{relay=%q} %.0f\n", d.URL, d.AvgLatency)
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "# HELP nostr_relay_success_rate Success rate per relay (0-1)\n")
		fmt.Fprintf(w, "# TYPE nostr_relay_success_rate gauge\n")
		for _, d := range details {
			fmt.Fprintf(w, "nostr_relay_success_rate{relay=%q} %.4f\n", d.URL, d.SuccessRate)
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "# HELP nostr_relay_healthy Whether relay is healthy (1) or not (0)\n")
		fmt.Fprintf(w, "# TYPE nostr_relay_healthy gauge\n")
		for _, d := range details {
			healthyVal := 0
			if d.Healthy {
				healthyVal = 1
			}
			fmt.Fprintf(w, "nostr_relay_healthy{relay=%q} %d\n", d.URL, healthyVal)
		}
		fmt.Fprintf(w, "\n")
	}

	// Scheduler metrics
	fmt.Fprintf(w, "# HELP zaps_sent_total Recurring zaps paid successfully\n")
	fmt.Fprintf(w, "# TYPE zaps_sent_total counter\n")
	fmt.Fprintf(w, "zaps_sent_total %d\n\n", zapsSentTotal.Load())

	fmt.Fprintf(w, "# HELP zaps_failed_total Recurring zaps that failed to pay or sign\n")
	fmt.Fprintf(w, "# TYPE zaps_failed_total counter\n")
	fmt.Fprintf(w, "zaps_failed_total %d\n\n", zapsFailedTotal.Load())

	fmt.Fprintf(w, "# HELP zaps_insufficient_balance_total Zaps skipped due to low wallet balance\n")
	fmt.Fprintf(w, "# TYPE zaps_insufficient_balance_total counter\n")
	fmt.Fprintf(w, "zaps_insufficient_balance_total %d\n", zapsInsufficientBalance.Load())
}
