package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"zapgoals/internal/store"
)

// Config holds the daemon's environment-driven settings
type Config struct {
	Port          string
	Relays        []string
	RelaysFromEnv bool // RELAYS was set; takes precedence over the stored list
	WalletURL     string // nostr+walletconnect:// descriptor, seeds the store
	SignerKey     string // hex private key for signing zap requests
}

// defaultRelays is the fallback relay set when RELAYS is unset
var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://relay.primal.net",
	"wss://nos.lol",
	"wss://nostr.mom",
}

// LoadConfig reads configuration from the environment
func LoadConfig() Config {
	cfg := Config{
		Port:      os.Getenv("PORT"),
		WalletURL: os.Getenv("NWC_URL"),
		SignerKey: os.Getenv("SIGNER_KEY"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if raw := os.Getenv("RELAYS"); raw != "" {
		for _, r := range strings.Split(raw, ",") {
			r = strings.TrimSpace(r)
			if r == "" {
				continue
			}
			if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
				r = "wss://" + r
			}
			cfg.Relays = append(cfg.Relays, r)
		}
	}
	cfg.RelaysFromEnv = len(cfg.Relays) > 0
	if len(cfg.Relays) == 0 {
		cfg.Relays = defaultRelays
	}

	return cfg
}

// resolveRelays applies relay-list precedence: the environment wins over the
// persisted snapshot, which wins over the built-in defaults. An env-provided
// list is persisted so it survives the variable going away.
func resolveRelays(ctx context.Context, cfg Config, st *store.Store) []string {
	if cfg.RelaysFromEnv {
		if err := st.SaveRelays(ctx, cfg.Relays); err != nil {
			slog.Error("saving relay list failed", "error", err)
		}
		return cfg.Relays
	}
	stored, err := st.LoadRelays(ctx)
	if err != nil {
		slog.Warn("loading relay list failed", "error", err)
	}
	if len(stored) > 0 {
		return stored
	}
	return cfg.Relays
}
