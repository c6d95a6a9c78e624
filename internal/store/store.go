// Package store persists application snapshots (relay list, relay metrics,
// wallet descriptor, zap subscriptions) as whole-value key-value documents.
// Backends: in-memory, single JSON file, and Redis.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"zapgoals/internal/types"
)

// Snapshot keys. Values are always written whole; there are no partial updates.
const (
	keyRelays        = "zap-goals-relays"
	keyRelayMetrics  = "zap-goals-relay-metrics"
	keyWallet        = "zap-goals-nwc-descriptor"
	keySubscriptions = "zap-goals-subscriptions"
)

// Backend is a minimal key-value facade the typed store sits on
type Backend interface {
	// Get retrieves a value. Returns (value, found, error).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value, overwriting any previous one
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Close releases backend resources
	Close() error
}

// Store exposes typed snapshot load/save operations over a Backend
type Store struct {
	backend Backend
}

// New wraps a backend in the typed store
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open selects a backend from the environment: STORE_BACKEND=redis requires
// REDIS_URL, STORE_BACKEND=file uses STORE_FILE (default zapgoals.json),
// anything else gets the in-memory backend. A failed Redis connection falls
// back to memory with a warning rather than refusing to start.
func Open() *Store {
	switch os.Getenv("STORE_BACKEND") {
	case "redis":
		redisURL := os.Getenv("REDIS_URL")
		backend, err := NewRedisBackend(redisURL, "zapgoals:")
		if err != nil {
			slog.Warn("redis store unavailable, using memory store", "error", err)
			return New(NewMemoryBackend())
		}
		slog.Info("using redis store")
		return New(backend)
	case "file":
		path := os.Getenv("STORE_FILE")
		if path == "" {
			path = "zapgoals.json"
		}
		backend, err := NewFileBackend(path)
		if err != nil {
			slog.Warn("file store unavailable, using memory store", "path", path, "error", err)
			return New(NewMemoryBackend())
		}
		slog.Info("using file store", "path", path)
		return New(backend)
	default:
		return New(NewMemoryBackend())
	}
}

func (s *Store) loadJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) saveJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// LoadRelays returns the persisted relay list, or nil when none was saved
func (s *Store) LoadRelays(ctx context.Context) ([]string, error) {
	var relays []string
	found, err := s.loadJSON(ctx, keyRelays, &relays)
	if err != nil || !found {
		return nil, err
	}
	return relays, nil
}

// SaveRelays overwrites the persisted relay list
func (s *Store) SaveRelays(ctx context.Context, relays []string) error {
	return s.saveJSON(ctx, keyRelays, relays)
}

// LoadRelayMetrics returns the persisted relay health snapshot
func (s *Store) LoadRelayMetrics(ctx context.Context) (map[string]types.RelayMetrics, error) {
	var metrics map[string]types.RelayMetrics
	found, err := s.loadJSON(ctx, keyRelayMetrics, &metrics)
	if err != nil || !found {
		return nil, err
	}
	return metrics, nil
}

// SaveRelayMetrics overwrites the persisted relay health snapshot
func (s *Store) SaveRelayMetrics(ctx context.Context, metrics map[string]types.RelayMetrics) error {
	return s.saveJSON(ctx, keyRelayMetrics, metrics)
}

// LoadWalletDescriptor returns the persisted wallet-connect descriptor URI,
// or "" when none was saved
func (s *Store) LoadWalletDescriptor(ctx context.Context) (string, error) {
	var descriptor string
	found, err := s.loadJSON(ctx, keyWallet, &descriptor)
	if err != nil || !found {
		return "", err
	}
	return descriptor, nil
}

// SaveWalletDescriptor overwrites the persisted wallet-connect descriptor
func (s *Store) SaveWalletDescriptor(ctx context.Context, descriptor string) error {
	return s.saveJSON(ctx, keyWallet, descriptor)
}

// DeleteWalletDescriptor removes the persisted wallet-connect descriptor
func (s *Store) DeleteWalletDescriptor(ctx context.Context) error {
	return s.backend.Delete(ctx, keyWallet)
}

// LoadSubscriptions returns the persisted zap subscription snapshot
func (s *Store) LoadSubscriptions(ctx context.Context) ([]types.ZapSubscription, error) {
	var subs []types.ZapSubscription
	found, err := s.loadJSON(ctx, keySubscriptions, &subs)
	if err != nil || !found {
		return nil, err
	}
	return subs, nil
}

// SaveSubscriptions overwrites the persisted zap subscription snapshot
func (s *Store) SaveSubscriptions(ctx context.Context, subs []types.ZapSubscription) error {
	return s.saveJSON(ctx, keySubscriptions, subs)
}

// Close releases the underlying backend
func (s *Store) Close() error {
	return s.backend.Close()
}
