package main

import (
	"log/slog"

	"zapgoals/internal/scheduler"
)

// consumeNotifications drains scheduler outcomes into logs and counters.
// Runs until the channel's scheduler stops producing and the daemon exits.
func consumeNotifications(ch <-chan scheduler.Notification, done <-chan struct{}) {
	for {
		select {
		case n := <-ch:
			handleNotification(n)
		case <-done:
			return
		}
	}
}

func handleNotification(n scheduler.Notification) {
	switch n.Kind {
	case scheduler.NotifZapSent:
		zapsSentTotal.Add(1)
		slog.Info("zap sent",
			"subscription", n.SubscriptionID,
			"goal", n.GoalName,
			"amount_sats", n.AmountSats)
	case scheduler.NotifInsufficientBalance:
		zapsInsufficientBalance.Add(1)
		slog.Warn("zap skipped, insufficient balance",
			"subscription", n.SubscriptionID,
			"goal", n.GoalName,
			"amount_sats", n.AmountSats)
	case scheduler.NotifSignFailed:
		zapsFailedTotal.Add(1)
		slog.Error("zap request signing failed",
			"subscription", n.SubscriptionID,
			"goal", n.GoalName,
			"error", n.Err)
	case scheduler.NotifPaymentFailed:
		zapsFailedTotal.Add(1)
		slog.Error("zap payment failed",
			"subscription", n.SubscriptionID,
			"goal", n.GoalName,
			"error", n.Err)
	}
}
