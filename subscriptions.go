package main

import (
	"encoding/json"
	"net/http"
	"time"

	"zapgoals/internal/scheduler"
	"zapgoals/internal/types"
)

type createSubscriptionRequest struct {
	GoalID    string `json:"goalId"`
	GoalName  string `json:"goalName"`
	Amount    int64  `json:"amount"`
	Frequency string `json:"frequency"`
}

// subscriptionsHandler manages the recurring-zap subscription snapshot
// GET lists, POST creates, DELETE ?id=<uuid> removes
func subscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		subs, err := appStore.LoadSubscriptions(ctx)
		if err != nil {
			http.Error(w, "loading subscriptions failed", http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []types.ZapSubscription{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(subs)

	case http.MethodPost:
		var req createSubscriptionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32*1024)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.GoalID) != 64 || req.Amount <= 0 {
			http.Error(w, "goalId and positive amount required", http.StatusBadRequest)
			return
		}
		switch req.Frequency {
		case types.FrequencyDaily, types.FrequencyWeekly, types.FrequencyMonthly:
		default:
			http.Error(w, "frequency must be daily, weekly, or monthly", http.StatusBadRequest)
			return
		}

		subs, err := appStore.LoadSubscriptions(ctx)
		if err != nil {
			http.Error(w, "loading subscriptions failed", http.StatusInternalServerError)
			return
		}
		sub := scheduler.NewSubscription(req.GoalID, req.GoalName, req.Amount, req.Frequency, time.Now())
		subs = append(subs, sub)
		if err := appStore.SaveSubscriptions(ctx, subs); err != nil {
			http.Error(w, "saving subscriptions failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sub)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		subs, err := appStore.LoadSubscriptions(ctx)
		if err != nil {
			http.Error(w, "loading subscriptions failed", http.StatusInternalServerError)
			return
		}
		kept := subs[:0]
		found := false
		for _, s := range subs {
			if s.ID == id {
				found = true
				continue
			}
			kept = append(kept, s)
		}
		if !found {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		if err := appStore.SaveSubscriptions(ctx, kept); err != nil {
			http.Error(w, "saving subscriptions failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
