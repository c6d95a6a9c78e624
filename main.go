package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zapgoals/internal/health"
	"zapgoals/internal/nwc"
	"zapgoals/internal/relay"
	"zapgoals/internal/scheduler"
	"zapgoals/internal/signer"
	"zapgoals/internal/store"
)

// Shared daemon state, wired once in main
var (
	relayPool     *relay.Pool
	healthMonitor *health.Monitor
	relayClient   *relay.Client
	eventSigner   signer.Signer
	appStore      *store.Store
)

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	InitLogger()
	cfg := LoadConfig()

	appStore = store.Open()
	defer appStore.Close()

	relays := resolveRelays(context.Background(), cfg, appStore)

	healthMonitor = health.NewMonitor()
	relayPool = relay.NewPool()
	relayClient = relay.NewClient(relayPool, healthMonitor, appStore, relays)

	// Dedicated key first, wallet secret as a fallback identity
	walletSecret := ""
	if cfg.WalletURL != "" {
		if walletCfg, err := nwc.ParseWalletConnectURL(cfg.WalletURL); err == nil {
			walletSecret = hex.EncodeToString(walletCfg.Secret)
		}
	}
	eventSigner = signer.Discover(
		signer.KeyProbe(cfg.SignerKey),
		signer.KeyProbe(walletSecret),
	)
	if eventSigner == nil {
		slog.Warn("no signer configured, zap requests will be unsigned")
	}

	// A descriptor from the environment seeds the store; an already-stored
	// one is left alone otherwise
	if cfg.WalletURL != "" {
		if err := appStore.SaveWalletDescriptor(context.Background(), cfg.WalletURL); err != nil {
			slog.Error("saving wallet descriptor failed", "error", err)
		}
	}

	zapScheduler := scheduler.New(appStore, relayClient, eventSigner)
	zapScheduler.Start()

	daemonDone := make(chan struct{})
	go consumeNotifications(zapScheduler.Notifications(), daemonDone)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/goal/progress", goalProgressHandler)
	mux.HandleFunc("/zap/invoice", zapInvoiceHandler)
	mux.HandleFunc("/subscriptions", subscriptionsHandler)
	mux.HandleFunc("/wallet/transactions", walletTransactionsHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           RequestLoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port, "relays", len(relays))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}

	zapScheduler.Stop()
	close(daemonDone)
	relayClient.Close()
	relayPool.Close()

	slog.Info("shutdown complete")
}
