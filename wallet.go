package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"zapgoals/internal/nwc"
)

// walletTransactionsHandler lists recent transactions from the connected
// wallet. The client is built per request from the stored descriptor; the
// scheduler keeps its own long-lived connection.
// GET /wallet/transactions?limit=<n>
func walletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	descriptor, err := appStore.LoadWalletDescriptor(ctx)
	if err != nil {
		http.Error(w, "loading wallet descriptor failed", http.StatusInternalServerError)
		return
	}
	if descriptor == "" {
		http.Error(w, "no wallet connected", http.StatusNotFound)
		return
	}

	cfg, err := nwc.ParseWalletConnectURL(descriptor)
	if err != nil {
		http.Error(w, "stored wallet descriptor is malformed", http.StatusInternalServerError)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	client := nwc.NewClient(cfg)
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		http.Error(w, "wallet connection failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	txs, err := client.ListTransactions(ctx, limit)
	if err != nil {
		http.Error(w, "listing transactions failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if txs == nil {
		txs = []nwc.Transaction{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}
