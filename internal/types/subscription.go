package types

import "time"

// Zap subscription frequencies
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// ZapSubscription is a recurring payment intent against a zap goal.
// NextZap is a unix millisecond timestamp; Amount is in satoshis.
type ZapSubscription struct {
	ID        string `json:"id"`
	GoalID    string `json:"goalId"`
	GoalName  string `json:"goalName"`
	Amount    int64  `json:"amount"`
	Frequency string `json:"frequency"`
	NextZap   int64  `json:"nextZap"`
	Paused    bool   `json:"paused"`
}

// Interval returns the fixed duration between zaps for the subscription's
// frequency. Monthly is a fixed 30 days, not calendar-month aware.
func (s *ZapSubscription) Interval() time.Duration {
	switch s.Frequency {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// RelayMetrics is the persisted per-relay health snapshot. Only the derived
// values survive a restart; the latency sample history does not.
type RelayMetrics struct {
	SuccessRate float64 `json:"successRate"`
	AvgLatency  float64 `json:"avgLatency"`
}
