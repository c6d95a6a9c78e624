package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"zapgoals/internal/services"
	"zapgoals/internal/types"
	"zapgoals/internal/zaps"
)

const handlerTimeout = 15 * time.Second

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// goalProgressHandler reports funding progress for a zap goal as JSON
// GET /goal/progress?goal=<event id>
func goalProgressHandler(w http.ResponseWriter, r *http.Request) {
	goalID := r.URL.Query().Get("goal")
	if len(goalID) != 64 {
		http.Error(w, "missing or invalid goal id", http.StatusBadRequest)
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	goal := relayClient.FetchEventByID(ctx, goalID)
	if goal == nil {
		http.Error(w, "goal not found", http.StatusNotFound)
		return
	}

	receipts := relayClient.FetchEventsByKindAndTag(ctx, types.KindZapReceipt, "e", goalID, 500)
	progress := zaps.GoalProgress(zaps.GoalTarget(goal), receipts)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"goal":        goalID,
		"target_sats": zaps.GoalTarget(goal),
		"total_msats": progress.TotalMsats,
		"percent":     progress.Percent,
		"remaining":   progress.BalanceSats,
		"zap_count":   len(zaps.DeduplicateByID(receipts)),
	})
}

// zapInvoiceHandler produces a QR-encoded BOLT11 invoice for zapping a goal
// without a connected wallet
// GET /zap/invoice?goal=<event id>&amount=<sats>[&size=<px>]
func zapInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	goalID := r.URL.Query().Get("goal")
	if len(goalID) != 64 {
		http.Error(w, "missing or invalid goal id", http.StatusBadRequest)
		return
	}

	amountSats, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amountSats <= 0 {
		http.Error(w, "missing or invalid amount", http.StatusBadRequest)
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	goal := relayClient.FetchEventByID(ctx, goalID)
	if goal == nil {
		http.Error(w, "goal not found", http.StatusNotFound)
		return
	}

	profile := relayClient.FetchProfile(ctx, goal.PubKey)
	if profile == nil {
		http.Error(w, "goal author profile not found", http.StatusNotFound)
		return
	}

	var info *services.LNURLPayInfo
	switch {
	case profile.Lud16 != "":
		info, err = services.ResolveLud16(profile.Lud16)
	case profile.Lud06 != "":
		info, err = services.ResolveLud06(profile.Lud06)
	default:
		http.Error(w, "goal author has no lightning address", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("lnurl resolution failed: %v", err), http.StatusBadGateway)
		return
	}

	amountMsats := amountSats * 1000

	zapRequestJSON := ""
	if eventSigner != nil && info.AllowsNostr {
		request := &types.Event{
			CreatedAt: time.Now().Unix(),
			Kind:      types.KindZapRequest,
			Tags: [][]string{
				{"p", goal.PubKey},
				{"amount", strconv.FormatInt(amountMsats, 10)},
				append([]string{"relays"}, relayClient.Relays()...),
				{"e", goal.ID},
			},
		}
		if signErr := eventSigner.SignEvent(request); signErr == nil {
			if raw, marshalErr := json.Marshal(request); marshalErr == nil {
				zapRequestJSON = string(raw)
			}
		}
	}

	invoice, err := services.RequestInvoice(info, amountMsats, zapRequestJSON, "")
	if err != nil {
		http.Error(w, fmt.Sprintf("invoice request failed: %v", err), http.StatusBadGateway)
		return
	}

	png, err := services.InvoiceQR(invoice, size)
	if err != nil {
		http.Error(w, "qr encoding failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Invoice", invoice)
	w.Write(png)
}

func contextWithTimeout(r *http.Request) (ctx context.Context, cancel func()) {
	return context.WithTimeout(r.Context(), handlerTimeout)
}
