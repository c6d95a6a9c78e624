// Package zaps holds the pure aggregation logic for zap receipts: amount
// extraction, cross-relay deduplication, and goal progress math.
package zaps

import (
	"encoding/json"
	"fmt"
	"strconv"

	"zapgoals/internal/types"
)

// DeduplicateByID removes duplicate events, keeping the first occurrence of
// each id. Relays may return divergent copies under the same id; the first
// one seen wins.
func DeduplicateByID(events []*types.Event) []*types.Event {
	seen := make(map[string]bool, len(events))
	result := make([]*types.Event, 0, len(events))
	for _, e := range events {
		if e == nil || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		result = append(result, e)
	}
	return result
}

// ExtractAmount returns the zap amount in millisats from a zap receipt.
// A direct "amount" tag takes precedence; otherwise the amount is pulled
// from the embedded zap request inside the "description" tag. Events with
// no recoverable amount count as zero, never as errors.
func ExtractAmount(event *types.Event) int64 {
	if event == nil {
		return 0
	}

	if v := event.TagValue("amount"); v != "" {
		if amount, err := strconv.ParseInt(v, 10, 64); err == nil {
			return amount
		}
	}

	// The receipt's description tag carries the original zap request JSON
	desc := event.TagValue("description")
	if desc == "" {
		return 0
	}

	var request struct {
		Tags [][]string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(desc), &request); err != nil {
		return 0
	}

	for _, tag := range request.Tags {
		if len(tag) >= 2 && tag[0] == "amount" {
			if amount, err := strconv.ParseInt(tag[1], 10, 64); err == nil {
				return amount
			}
			return 0
		}
	}
	return 0
}

// Progress summarizes zap totals against a goal target
type Progress struct {
	TotalMsats  int64
	Percent     string // 3 decimal places, clamped to [0, 100]
	BalanceSats int64  // sats still needed, never negative
}

// GoalProgress aggregates zap receipts against a target in sats
func GoalProgress(targetSats int64, zapEvents []*types.Event) Progress {
	var total int64
	for _, e := range DeduplicateByID(zapEvents) {
		total += ExtractAmount(e)
	}

	if targetSats <= 0 {
		return Progress{TotalMsats: total, Percent: "0.000", BalanceSats: 0}
	}

	totalSats := total / 1000
	percent := float64(total) / float64(targetSats*1000) * 100
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	balance := targetSats - totalSats
	if balance < 0 {
		balance = 0
	}

	return Progress{
		TotalMsats:  total,
		Percent:     fmt.Sprintf("%.3f", percent),
		BalanceSats: balance,
	}
}

// GoalTarget resolves the target amount from a goal event: the "amount"
// tag first, then a "goal" or "target" field in the content JSON.
// Unresolvable targets are zero, which disables progress computation.
func GoalTarget(goal *types.Event) int64 {
	if goal == nil {
		return 0
	}

	if v := goal.TagValue("amount"); v != "" {
		if target, err := strconv.ParseInt(v, 10, 64); err == nil {
			return target
		}
	}

	var content struct {
		Goal   json.Number `json:"goal"`
		Target json.Number `json:"target"`
	}
	if err := json.Unmarshal([]byte(goal.Content), &content); err != nil {
		return 0
	}
	if v, err := content.Goal.Int64(); err == nil && v > 0 {
		return v
	}
	if v, err := content.Target.Int64(); err == nil && v > 0 {
		return v
	}
	return 0
}
