package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zapgoals/internal/health"
	"zapgoals/internal/nostr"
	"zapgoals/internal/store"
	"zapgoals/internal/types"
	"zapgoals/internal/zaps"
)

const (
	defaultFetchTimeout    = 5 * time.Second
	minHealthyRelays       = 3
	metricsPersistInterval = 30 * time.Second
)

// Client fans queries out across multiple relays, records per-relay health,
// and merges results with first-seen-wins deduplication.
type Client struct {
	pool    *Pool
	monitor *health.Monitor
	store   *store.Store
	relays  []string

	// FetchTimeout bounds each relay's collect-until-EOSE window
	FetchTimeout time.Duration

	group singleflight.Group

	mu       sync.Mutex
	liveSubs map[string]func()

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a client over the configured relay set. Persisted relay
// metrics seed the health monitor, and a background loop snapshots the
// monitor back into the store every 30 seconds.
func NewClient(pool *Pool, monitor *health.Monitor, st *store.Store, relays []string) *Client {
	c := &Client{
		pool:         pool,
		monitor:      monitor,
		store:        st,
		relays:       relays,
		FetchTimeout: defaultFetchTimeout,
		liveSubs:     make(map[string]func()),
		done:         make(chan struct{}),
	}

	if st != nil {
		if metrics, err := st.LoadRelayMetrics(context.Background()); err != nil {
			slog.Warn("loading relay metrics failed", "error", err)
		} else {
			for relay, m := range metrics {
				monitor.InitializeMetrics(relay, m)
			}
		}
		go c.persistMetricsLoop()
	}

	return c
}

// Relays returns the configured relay set
func (c *Client) Relays() []string {
	return c.relays
}

func (c *Client) persistMetricsLoop() {
	ticker := time.NewTicker(metricsPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.persistMetrics()
		case <-c.done:
			return
		}
	}
}

func (c *Client) persistMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveRelayMetrics(ctx, c.monitor.Metrics()); err != nil {
		slog.Warn("persisting relay metrics failed", "error", err)
	}
}

// FetchByFilter queries the given relays in parallel, collecting events
// until each relay signals EOSE or its timeout expires. Failing relays are
// recorded in the health monitor and excluded; their absence is not an
// error. Duplicate ids across relays keep the first copy seen.
func (c *Client) FetchByFilter(ctx context.Context, relays []string, filter types.Filter) []*types.Event {
	if len(relays) == 0 {
		return nil
	}

	eventChan := make(chan types.Event, 256)
	var wg sync.WaitGroup

	for _, relayURL := range relays {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			c.fetchFromRelay(ctx, relayURL, filter, eventChan)
		}(relayURL)
	}

	go func() {
		wg.Wait()
		close(eventChan)
	}()

	var events []*types.Event
	seen := make(map[string]bool)
	for evt := range eventChan {
		if seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true
		e := evt
		events = append(events, &e)
	}
	return events
}

// fetchFromRelay collects one relay's events until EOSE. Success latency is
// measured at EOSE; timeout without EOSE counts as an error.
func (c *Client) fetchFromRelay(ctx context.Context, relayURL string, filter types.Filter, out chan<- types.Event) {
	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	subID := nostr.RandomSubID("fetch")

	sub, err := c.pool.Subscribe(fetchCtx, relayURL, subID, filter.ToWire())
	if err != nil {
		slog.Debug("relay subscribe failed", "relay", relayURL, "error", err)
		c.monitor.RecordError(relayURL)
		return
	}
	defer c.pool.Unsubscribe(relayURL, sub)

	for {
		select {
		case evt := <-sub.EventChan:
			out <- evt
		case <-sub.EOSEChan:
			// The read loop enqueues all stored events before it signals
			// EOSE, so whatever is still buffered belongs to this result
			drainEvents(sub, out)
			c.monitor.RecordSuccess(relayURL, time.Since(start))
			return
		case <-sub.Done:
			// Relay closed the subscription before EOSE
			drainEvents(sub, out)
			c.monitor.RecordError(relayURL)
			return
		case <-fetchCtx.Done():
			drainEvents(sub, out)
			c.monitor.RecordError(relayURL)
			return
		}
	}
}

// drainEvents forwards events still buffered on a subscription channel
func drainEvents(sub *Subscription, out chan<- types.Event) {
	for {
		select {
		case evt := <-sub.EventChan:
			out <- evt
		default:
			return
		}
	}
}

// HealthySelection returns the healthy relay subset when it is large enough
// to be representative, otherwise the requested set unchanged.
func (c *Client) HealthySelection(requested []string) []string {
	healthy := c.monitor.HealthyRelays()
	if len(healthy) >= minHealthyRelays {
		return healthy
	}
	return requested
}

// FetchProfile fetches and parses a pubkey's kind 0 metadata from the
// healthy relay selection, preferring the newest event. Returns nil when
// no profile is found or the content does not parse; concurrent fetches
// for the same pubkey are coalesced.
func (c *Client) FetchProfile(ctx context.Context, pubkey string) *types.Profile {
	v, _, _ := c.group.Do("profile:"+pubkey, func() (interface{}, error) {
		relays := c.HealthySelection(c.relays)
		events := c.FetchByFilter(ctx, relays, types.Filter{
			Authors: []string{pubkey},
			Kinds:   []int{types.KindProfile},
			Limit:   1,
		})

		var newest *types.Event
		for _, e := range events {
			if newest == nil || e.CreatedAt > newest.CreatedAt {
				newest = e
			}
		}
		if newest == nil {
			return (*types.Profile)(nil), nil
		}

		var profile types.Profile
		if err := json.Unmarshal([]byte(newest.Content), &profile); err != nil {
			slog.Debug("profile content not parseable", "pubkey", nostr.ShortID(pubkey), "error", err)
			return (*types.Profile)(nil), nil
		}
		return &profile, nil
	})
	profile, _ := v.(*types.Profile)
	return profile
}

// FetchEventsByKindAndTag fetches events of a kind referencing a tag value,
// e.g. kind 9735 with #e for a goal's zap receipts
func (c *Client) FetchEventsByKindAndTag(ctx context.Context, kind int, tagName, tagValue string, limit int) []*types.Event {
	filter := types.Filter{
		Kinds: []int{kind},
		Limit: limit,
		Tags:  map[string][]string{tagName: {tagValue}},
	}
	return c.FetchByFilter(ctx, c.HealthySelection(c.relays), filter)
}

// FetchZapTotal sums zap receipt amounts (millisats) referencing the event.
// Receipts are gathered from every configured relay, not just healthy ones:
// a missing receipt understates the total, which is worse than a slow query.
// Concurrent calls for the same event are coalesced.
func (c *Client) FetchZapTotal(ctx context.Context, eventID string) int64 {
	v, _, _ := c.group.Do("zaptotal:"+eventID, func() (interface{}, error) {
		events := c.FetchByFilter(ctx, c.relays, types.Filter{
			Kinds: []int{types.KindZapReceipt},
			ETags: []string{eventID},
		})

		var total int64
		for _, e := range zaps.DeduplicateByID(events) {
			total += zaps.ExtractAmount(e)
		}
		return total, nil
	})
	total, _ := v.(int64)
	return total
}

// FetchEventByID fetches a single event by id, nil when no relay has it
func (c *Client) FetchEventByID(ctx context.Context, id string) *types.Event {
	events := c.FetchByFilter(ctx, c.HealthySelection(c.relays), types.Filter{
		IDs:   []string{id},
		Limit: 1,
	})
	if len(events) == 0 {
		return nil
	}
	return events[0]
}

// SubscribeLive opens a standing subscription on the given relays and
// invokes onEvent for every event as it arrives, with no cross-relay
// ordering or deduplication against snapshot fetches. A second call with
// the same key is a no-op. The returned cancel function tears the
// subscription down and is safe to call repeatedly.
func (c *Client) SubscribeLive(key string, relays []string, filter types.Filter, onEvent func(types.Event)) func() {
	c.mu.Lock()
	if cancel, exists := c.liveSubs[key]; exists {
		c.mu.Unlock()
		return cancel
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			c.mu.Lock()
			delete(c.liveSubs, key)
			c.mu.Unlock()
		})
	}
	c.liveSubs[key] = cancel
	c.mu.Unlock()

	for _, relayURL := range relays {
		go func(relayURL string) {
			subID := nostr.RandomSubID("live")
			ctx, ctxCancel := context.WithTimeout(context.Background(), 10*time.Second)
			sub, err := c.pool.Subscribe(ctx, relayURL, subID, filter.ToWire())
			ctxCancel()
			if err != nil {
				slog.Debug("live subscribe failed", "relay", relayURL, "error", err)
				c.monitor.RecordError(relayURL)
				return
			}
			defer c.pool.Unsubscribe(relayURL, sub)

			for {
				select {
				case evt := <-sub.EventChan:
					onEvent(evt)
				case <-sub.EOSEChan:
					// Live subs outlast EOSE
				case <-sub.Done:
					return
				case <-done:
					return
				case <-c.done:
					return
				}
			}
		}(relayURL)
	}

	return cancel
}

// Publish sends a signed event to the given relays in parallel. It succeeds
// when at least one relay accepts the event; per-relay failures only feed
// the health monitor.
func (c *Client) Publish(ctx context.Context, relays []string, event *types.Event) error {
	if len(relays) == 0 {
		return errors.New("no relays to publish to")
	}

	results := make(chan error, len(relays))
	for _, relayURL := range relays {
		go func(relayURL string) {
			start := time.Now()
			err := c.pool.PublishEvent(ctx, relayURL, event)
			if err != nil {
				c.monitor.RecordError(relayURL)
			} else {
				c.monitor.RecordSuccess(relayURL, time.Since(start))
			}
			results <- err
		}(relayURL)
	}

	var lastErr error
	for range relays {
		if err := <-results; err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return errors.New("no relay accepted event: " + lastErr.Error())
}

// Close tears down live subscriptions, persists a final metrics snapshot,
// and closes the pool. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		cancels := make([]func(), 0, len(c.liveSubs))
		for _, cancel := range c.liveSubs {
			cancels = append(cancels, cancel)
		}
		c.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}

		if c.store != nil {
			c.persistMetrics()
		}
		c.pool.Close()
	})
}
