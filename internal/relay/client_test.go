package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zapgoals/internal/health"
	"zapgoals/internal/store"
	"zapgoals/internal/types"
)

// fakeRelay is an in-process websocket relay: REQ returns its canned events
// then EOSE, EVENT stores the event and replies OK, and broadcast pushes an
// event to every open subscription.
type fakeRelay struct {
	mu       sync.Mutex
	events   []types.Event
	received []types.Event
	rejects  bool
	conns    map[*relayConn]bool

	server *httptest.Server
}

type relayConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]bool
}

func (rc *relayConn) send(msg []interface{}) {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.ws.WriteJSON(msg)
}

func newFakeRelay(t *testing.T, events ...types.Event) *fakeRelay {
	f := &fakeRelay{
		events: events,
		conns:  make(map[*relayConn]bool),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rc := &relayConn{ws: ws, subs: make(map[string]bool)}
		f.mu.Lock()
		f.conns[rc] = true
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.conns, rc)
			f.mu.Unlock()
			ws.Close()
		}()
		f.serve(rc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelay) serve(rc *relayConn) {
	for {
		var msg []interface{}
		if err := rc.ws.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		msgType, _ := msg[0].(string)

		switch msgType {
		case "REQ":
			subID, _ := msg[1].(string)
			f.mu.Lock()
			rc.subs[subID] = true
			canned := make([]types.Event, len(f.events))
			copy(canned, f.events)
			f.mu.Unlock()
			for _, evt := range canned {
				rc.send([]interface{}{"EVENT", subID, evt})
			}
			rc.send([]interface{}{"EOSE", subID})

		case "CLOSE":
			subID, _ := msg[1].(string)
			f.mu.Lock()
			delete(rc.subs, subID)
			f.mu.Unlock()

		case "EVENT":
			raw, _ := msg[1].(map[string]interface{})
			id, _ := raw["id"].(string)
			f.mu.Lock()
			rejects := f.rejects
			if !rejects {
				evt := types.Event{ID: id}
				if content, ok := raw["content"].(string); ok {
					evt.Content = content
				}
				f.received = append(f.received, evt)
			}
			f.mu.Unlock()
			if rejects {
				rc.send([]interface{}{"OK", id, false, "blocked: test"})
			} else {
				rc.send([]interface{}{"OK", id, true, ""})
			}
		}
	}
}

// broadcast pushes an event to every open subscription on every connection
func (f *fakeRelay) broadcast(evt types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rc := range f.conns {
		for subID := range rc.subs {
			rc.send([]interface{}{"EVENT", subID, evt})
		}
	}
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRelay) receivedEvents() []types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Event, len(f.received))
	copy(out, f.received)
	return out
}

func testEvent(id, content string, kind int, tags [][]string) types.Event {
	return types.Event{
		ID:        id,
		PubKey:    strings.Repeat("ab", 32),
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
}

func newTestClient(t *testing.T, relays ...string) *Client {
	pool := NewPool()
	t.Cleanup(pool.Close)
	monitor := health.NewMonitor()
	st := store.New(store.NewMemoryBackend())
	c := NewClient(pool, monitor, st, relays)
	t.Cleanup(c.Close)
	return c
}

func TestFetchByFilterCollectsUntilEOSE(t *testing.T) {
	relay := newFakeRelay(t,
		testEvent("e1", "one", types.KindNote, nil),
		testEvent("e2", "two", types.KindNote, nil),
	)
	c := newTestClient(t, relay.url())

	events := c.FetchByFilter(context.Background(), []string{relay.url()}, types.Filter{Kinds: []int{types.KindNote}})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	// EOSE counts as a success sample
	metrics := c.monitor.Metrics()
	if m, ok := metrics[relay.url()]; !ok || m.SuccessRate != 1.0 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestFetchByFilterBurstBeforeEOSE(t *testing.T) {
	// A relay can flush its whole stored set plus EOSE before the consumer
	// wakes, making both channels ready at once. Every event enqueued ahead
	// of the EOSE signal must still appear in the result. The burst exceeds
	// the subscription buffer to cover the backpressure path too.
	const n = 150
	events := make([]types.Event, n)
	for i := range events {
		events[i] = testEvent(fmt.Sprintf("burst%03d", i), "x", types.KindNote, nil)
	}
	relay := newFakeRelay(t, events...)
	c := newTestClient(t, relay.url())

	for round := 0; round < 3; round++ {
		got := c.FetchByFilter(context.Background(), []string{relay.url()}, types.Filter{Kinds: []int{types.KindNote}})
		if len(got) != n {
			t.Fatalf("round %d: got %d events, want %d", round, len(got), n)
		}
	}
}

func TestFetchByFilterDedupAcrossRelays(t *testing.T) {
	shared := testEvent("dup", "same id", types.KindNote, nil)
	relayA := newFakeRelay(t, shared, testEvent("a-only", "a", types.KindNote, nil))
	relayB := newFakeRelay(t, shared)
	c := newTestClient(t, relayA.url(), relayB.url())

	events := c.FetchByFilter(context.Background(), []string{relayA.url(), relayB.url()}, types.Filter{Kinds: []int{types.KindNote}})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 after dedup", len(events))
	}
	seen := map[string]int{}
	for _, e := range events {
		seen[e.ID]++
	}
	if seen["dup"] != 1 {
		t.Errorf("duplicate id appeared %d times", seen["dup"])
	}
}

func TestFetchByFilterUnreachableRelayExcluded(t *testing.T) {
	relay := newFakeRelay(t, testEvent("e1", "one", types.KindNote, nil))
	dead := "ws://127.0.0.1:1"
	c := newTestClient(t, relay.url(), dead)
	c.FetchTimeout = 2 * time.Second

	events := c.FetchByFilter(context.Background(), []string{relay.url(), dead}, types.Filter{Kinds: []int{types.KindNote}})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 from the live relay", len(events))
	}

	metrics := c.monitor.Metrics()
	if m := metrics[dead]; m.SuccessRate != 0 {
		t.Errorf("dead relay success rate = %v, want 0", m.SuccessRate)
	}
}

func TestHealthySelectionFallback(t *testing.T) {
	c := newTestClient(t)
	requested := []string{"wss://a", "wss://b"}

	// Fewer than three healthy relays: requested set unchanged
	c.monitor.RecordSuccess("wss://x", 10*time.Millisecond)
	got := c.HealthySelection(requested)
	if len(got) != 2 || got[0] != "wss://a" {
		t.Errorf("selection = %v, want requested set", got)
	}

	c.monitor.RecordSuccess("wss://y", 10*time.Millisecond)
	c.monitor.RecordSuccess("wss://z", 10*time.Millisecond)
	got = c.HealthySelection(requested)
	if len(got) != 3 {
		t.Errorf("selection = %v, want 3 healthy relays", got)
	}
}

func TestFetchZapTotal(t *testing.T) {
	goalID := "goal1"
	zapTags := func(amount string) [][]string {
		return [][]string{{"e", goalID}, {"amount", amount}}
	}
	relayA := newFakeRelay(t,
		testEvent("z1", "", types.KindZapReceipt, zapTags("1000")),
		testEvent("z2", "", types.KindZapReceipt, zapTags("2500")),
	)
	relayB := newFakeRelay(t,
		testEvent("z1", "", types.KindZapReceipt, zapTags("1000")), // duplicate
		testEvent("z3", "", types.KindZapReceipt, zapTags("500")),
	)
	c := newTestClient(t, relayA.url(), relayB.url())

	if got := c.FetchZapTotal(context.Background(), goalID); got != 4000 {
		t.Errorf("zap total = %d, want 4000", got)
	}
}

func TestFetchProfile(t *testing.T) {
	pubkey := strings.Repeat("ab", 32)
	older := testEvent("p1", `{"name":"old","lud16":"old@ln.example"}`, types.KindProfile, nil)
	older.CreatedAt = 100
	newer := testEvent("p2", `{"name":"new","lud16":"new@ln.example"}`, types.KindProfile, nil)
	newer.CreatedAt = 200

	relay := newFakeRelay(t, older, newer)
	c := newTestClient(t, relay.url())

	profile := c.FetchProfile(context.Background(), pubkey)
	if profile == nil || profile.Name != "new" || profile.Lud16 != "new@ln.example" {
		t.Errorf("profile = %+v, want newest", profile)
	}
}

func TestFetchProfileMalformedContent(t *testing.T) {
	relay := newFakeRelay(t, testEvent("p1", "{not json", types.KindProfile, nil))
	c := newTestClient(t, relay.url())

	if profile := c.FetchProfile(context.Background(), strings.Repeat("ab", 32)); profile != nil {
		t.Errorf("profile = %+v, want nil for malformed content", profile)
	}
}

func TestFetchEventByID(t *testing.T) {
	relay := newFakeRelay(t, testEvent("goal1", `{"goal":5000}`, types.KindZapGoal, nil))
	c := newTestClient(t, relay.url())

	evt := c.FetchEventByID(context.Background(), "goal1")
	if evt == nil || evt.ID != "goal1" {
		t.Fatalf("got %+v", evt)
	}

	empty := newFakeRelay(t)
	c2 := newTestClient(t, empty.url())
	if evt := c2.FetchEventByID(context.Background(), "absent"); evt != nil {
		t.Errorf("got %+v, want nil", evt)
	}
}

func TestPublishSucceedsWithOneOK(t *testing.T) {
	good := newFakeRelay(t)
	dead := "ws://127.0.0.1:1"
	c := newTestClient(t, good.url(), dead)

	evt := testEvent("pub1", "hello", types.KindNote, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Publish(ctx, []string{good.url(), dead}, &evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	received := good.receivedEvents()
	if len(received) != 1 || received[0].ID != "pub1" {
		t.Errorf("relay received %+v", received)
	}
}

func TestPublishAllReject(t *testing.T) {
	bad := newFakeRelay(t)
	bad.mu.Lock()
	bad.rejects = true
	bad.mu.Unlock()
	c := newTestClient(t, bad.url())

	evt := testEvent("pub2", "hello", types.KindNote, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Publish(ctx, []string{bad.url()}, &evt); err == nil {
		t.Fatal("expected publish error when every relay rejects")
	}
}

func TestSubscribeLiveIdempotentAndCancel(t *testing.T) {
	relay := newFakeRelay(t)
	c := newTestClient(t, relay.url())

	var mu sync.Mutex
	var got []string
	onEvent := func(e types.Event) {
		mu.Lock()
		got = append(got, e.ID)
		mu.Unlock()
	}

	filter := types.Filter{Kinds: []int{types.KindZapReceipt}, ETags: []string{"goal1"}}
	cancel1 := c.SubscribeLive("zaps:goal1", []string{relay.url()}, filter, onEvent)
	cancel2 := c.SubscribeLive("zaps:goal1", []string{relay.url()}, filter, onEvent)

	// Give the subscription time to register, then push a live event
	time.Sleep(200 * time.Millisecond)
	relay.broadcast(testEvent("live1", "", types.KindZapReceipt, [][]string{{"e", "goal1"}}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	if len(got) != 1 || got[0] != "live1" {
		t.Errorf("live events = %v, want exactly [live1] despite double subscribe", got)
	}
	mu.Unlock()

	// Both handles point at the same subscription; cancelling twice is safe
	cancel1()
	cancel2()
}

func TestMetricsPersistedOnClose(t *testing.T) {
	pool := NewPool()
	monitor := health.NewMonitor()
	st := store.New(store.NewMemoryBackend())
	c := NewClient(pool, monitor, st, nil)

	monitor.RecordSuccess("wss://a", 42*time.Millisecond)
	c.Close()

	metrics, err := st.LoadRelayMetrics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m := metrics["wss://a"]; m.AvgLatency != 42 {
		t.Errorf("persisted metrics = %+v", metrics)
	}
}
