package main

import (
	"context"
	"testing"

	"zapgoals/internal/store"
)

func TestLoadConfigRelays(t *testing.T) {
	t.Setenv("RELAYS", "relay.damus.io, wss://nos.lol,,ws://localhost:7777")
	cfg := LoadConfig()

	want := []string{"wss://relay.damus.io", "wss://nos.lol", "ws://localhost:7777"}
	if len(cfg.Relays) != len(want) {
		t.Fatalf("relays = %v, want %v", cfg.Relays, want)
	}
	for i, r := range want {
		if cfg.Relays[i] != r {
			t.Errorf("relay[%d] = %q, want %q", i, cfg.Relays[i], r)
		}
	}
	if !cfg.RelaysFromEnv {
		t.Error("RelaysFromEnv should be set when RELAYS is present")
	}

	t.Setenv("RELAYS", "")
	cfg = LoadConfig()
	if cfg.RelaysFromEnv {
		t.Error("RelaysFromEnv should be false without RELAYS")
	}
	if len(cfg.Relays) == 0 {
		t.Error("expected the default relay set")
	}
}

func TestResolveRelaysPrecedence(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryBackend())

	// No env, nothing stored: defaults pass through
	cfg := Config{Relays: defaultRelays}
	if got := resolveRelays(ctx, cfg, st); len(got) != len(defaultRelays) {
		t.Errorf("relays = %v, want defaults", got)
	}

	// Stored list beats defaults
	stored := []string{"wss://stored.example"}
	if err := st.SaveRelays(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if got := resolveRelays(ctx, cfg, st); len(got) != 1 || got[0] != "wss://stored.example" {
		t.Errorf("relays = %v, want stored list", got)
	}

	// Env beats stored, and is persisted
	envCfg := Config{Relays: []string{"wss://env.example"}, RelaysFromEnv: true}
	if got := resolveRelays(ctx, envCfg, st); len(got) != 1 || got[0] != "wss://env.example" {
		t.Errorf("relays = %v, want env list", got)
	}
	persisted, err := st.LoadRelays(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0] != "wss://env.example" {
		t.Errorf("persisted = %v, want env list saved", persisted)
	}
}
