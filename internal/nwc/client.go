package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"zapgoals/internal/nips"
	"zapgoals/internal/nostr"
	"zapgoals/internal/types"
)

// Connection states
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosed
)

const (
	defaultPublishTimeout = 30 * time.Second
	defaultPayTimeout     = 300 * time.Second // payments can be slow to settle
	defaultBalanceTimeout = 120 * time.Second
	defaultReplyTimeout   = 60 * time.Second
	defaultAuthTimeout    = 10 * time.Second
)

// Request is a NIP-47 JSON-RPC request to the wallet
type Request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Response is a NIP-47 JSON-RPC response from the wallet
type Response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PayInvoiceResult is the result of a successful pay_invoice
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
}

// balanceResult is the raw get_balance result, in millisats
type balanceResult struct {
	Balance int64 `json:"balance"`
}

// Transaction is a single entry from list_transactions
type Transaction struct {
	Type        string `json:"type"` // "incoming" or "outgoing"
	Invoice     string `json:"invoice,omitempty"`
	Description string `json:"description,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
	Amount      int64  `json:"amount"` // millisats
	FeesPaid    int64  `json:"fees_paid,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	SettledAt   int64  `json:"settled_at,omitempty"`
}

type listTransactionsResult struct {
	Transactions []Transaction `json:"transactions"`
}

type requestResult struct {
	resp *Response
	err  error
}

type pendingRequest struct {
	method string
	ch     chan requestResult
}

// Client speaks NIP-47 to a single wallet over its relay. Requests are
// encrypted kind 23194 events; responses arrive as kind 23195 events
// e-tagged with the request id. The client never reconnects on its own.
type Client struct {
	config *Config

	// Timeouts are fields so tests can compress them
	PublishTimeout time.Duration
	PayTimeout     time.Duration
	BalanceTimeout time.Duration
	ReplyTimeout   time.Duration
	AuthTimeout    time.Duration

	mu          sync.Mutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	state       State
	connectWait chan struct{}
	connectErr  error
	subID       string

	caps       []string
	encryption string // "nip04" or "nip44_v2"

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	okMu      sync.Mutex
	okWaiters map[string]chan bool

	infoCh chan types.Event

	counter atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a client from a parsed descriptor. Connect must be
// called before any wallet operation.
func NewClient(config *Config) *Client {
	return &Client{
		config:         config,
		PublishTimeout: defaultPublishTimeout,
		PayTimeout:     defaultPayTimeout,
		BalanceTimeout: defaultBalanceTimeout,
		ReplyTimeout:   defaultReplyTimeout,
		AuthTimeout:    defaultAuthTimeout,
		state:          StateDisconnected,
		pending:        make(map[string]*pendingRequest),
		okWaiters:      make(map[string]chan bool),
		infoCh:         make(chan types.Event, 1),
		done:           make(chan struct{}),
	}
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the methods the wallet advertised
func (c *Client) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.caps))
	copy(out, c.caps)
	return out
}

// Lud16 returns the lightning address from the descriptor, if any
func (c *Client) Lud16() string {
	return c.config.Lud16
}

// Connect dials the wallet relay and authenticates against the wallet's
// kind 13194 capability advertisement. Concurrent and repeated calls share
// one attempt; a Ready client returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateClosed:
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.connectWait != nil {
		wait := c.connectWait
		c.mu.Unlock()
		select {
		case <-wait:
			c.mu.Lock()
			err := c.connectErr
			c.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	wait := make(chan struct{})
	c.connectWait = wait
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.connect(ctx)

	c.mu.Lock()
	c.connectErr = err
	c.connectWait = nil
	if err == nil {
		c.state = StateReady
	} else if c.state != StateClosed {
		// Dial and subscribe failures may be retried on the same
		// instance; authentication failures arrive here already Closed
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	close(wait)
	return err
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Relay, nil)
	if err != nil {
		return fmt.Errorf("connecting to wallet relay %s: %w", c.config.Relay, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateAuthenticating
	c.subID = fmt.Sprintf("nwc-%d", time.Now().UnixNano()%1000000)
	subID := c.subID
	c.mu.Unlock()

	go c.readLoop(conn)

	// Standing subscription for wallet responses
	respFilter := map[string]interface{}{
		"kinds":   []int{types.KindWalletResponse},
		"authors": []string{c.config.WalletPubKeyHex()},
		"#p":      []string{c.config.ClientPubKeyHex()},
	}
	if err := c.writeJSON([]interface{}{"REQ", subID, respFilter}); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to wallet responses: %w", err)
	}

	if err := c.authenticate(ctx); err != nil {
		// Authentication failure is fatal to the instance; the caller
		// must construct a new client
		c.Close()
		return err
	}
	return nil
}

// authenticate fetches the wallet's kind 13194 info event and records its
// space-separated capability list and advertised encryption schemes.
// A wallet that does not answer within the auth window is unusable.
func (c *Client) authenticate(ctx context.Context) error {
	infoSubID := fmt.Sprintf("nwc-info-%d", time.Now().UnixNano()%1000000)
	infoFilter := map[string]interface{}{
		"kinds":   []int{types.KindWalletInfo},
		"authors": []string{c.config.WalletPubKeyHex()},
		"limit":   1,
	}
	if err := c.writeJSON([]interface{}{"REQ", infoSubID, infoFilter}); err != nil {
		return fmt.Errorf("requesting wallet info: %w", err)
	}
	defer c.writeJSON([]interface{}{"CLOSE", infoSubID})

	select {
	case info := <-c.infoCh:
		caps := strings.Fields(info.Content)
		if len(caps) == 0 {
			return errors.New("wallet info event advertises no capabilities")
		}

		encryption := "nip04"
		if schemes := info.TagValue("encryption"); strings.Contains(schemes, "nip44_v2") {
			encryption = "nip44_v2"
		}

		c.mu.Lock()
		c.caps = caps
		c.encryption = encryption
		c.mu.Unlock()

		slog.Info("wallet authenticated",
			"capabilities", len(caps),
			"encryption", encryption)
		return nil
	case <-time.After(c.AuthTimeout):
		return errors.New("wallet info event not received: authentication timed out")
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	// gorilla connections allow a single concurrent writer
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(v)
}

// readLoop processes frames from the wallet relay until the connection dies
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateDisconnected
		}
		conn.Close()
		c.mu.Unlock()
		c.failPending(ErrConnectionClosed)
	}()

	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				slog.Debug("wallet relay read error", "error", err)
			}
			return
		}

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			switch evt.Kind {
			case types.KindWalletInfo:
				select {
				case c.infoCh <- evt:
				default:
				}
			case types.KindWalletResponse:
				c.handleResponse(evt)
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			c.okMu.Lock()
			waiter := c.okWaiters[eventID]
			c.okMu.Unlock()
			if waiter != nil {
				select {
				case waiter <- accepted:
				default:
				}
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Debug("wallet relay NOTICE", "notice", notice)
		}
	}
}

// handleResponse decrypts a kind 23195 event and settles the pending
// request its e tag points at. Responses for requests that already settled
// (timeout won the race) are dropped.
func (c *Client) handleResponse(evt types.Event) {
	if evt.PubKey != c.config.WalletPubKeyHex() {
		slog.Debug("wallet response from unexpected pubkey", "pubkey", nostr.ShortID(evt.PubKey))
		return
	}

	requestID := evt.TagValue("e")
	if requestID == "" {
		slog.Debug("wallet response missing e tag")
		return
	}

	c.pendingMu.Lock()
	pending := c.pending[requestID]
	if pending != nil {
		delete(c.pending, requestID)
	}
	c.pendingMu.Unlock()
	if pending == nil {
		return
	}

	plaintext, err := c.decrypt(evt.Content)
	if err != nil {
		pending.ch <- requestResult{err: &DecryptionError{Err: err}}
		return
	}

	var resp Response
	if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
		pending.ch <- requestResult{err: fmt.Errorf("unparseable wallet response: %w", err)}
		return
	}
	pending.ch <- requestResult{resp: &resp}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.pendingMu.Unlock()
	for _, p := range pending {
		select {
		case p.ch <- requestResult{err: err}:
		default:
		}
	}
}

func (c *Client) encrypt(plaintext string) (string, error) {
	if c.encryption == "nip44_v2" {
		return nips.Nip44Encrypt(plaintext, c.config.ConversationKey)
	}
	return nips.Nip04Encrypt(plaintext, c.config.Nip04SharedKey)
}

func (c *Client) decrypt(payload string) (string, error) {
	if c.encryption == "nip44_v2" {
		return nips.Nip44Decrypt(payload, c.config.ConversationKey)
	}
	return nips.Nip04Decrypt(payload, c.config.Nip04SharedKey)
}

// replyTimeoutFor selects the reply wait per method: payments settle slowly,
// balance queries moderately, everything else quickly
func (c *Client) replyTimeoutFor(method string) time.Duration {
	switch {
	case strings.HasPrefix(method, "pay_") || strings.HasPrefix(method, "multi_pay_"):
		return c.PayTimeout
	case method == "get_balance":
		return c.BalanceTimeout
	default:
		return c.ReplyTimeout
	}
}

// SendRequest encrypts and publishes a wallet request, then waits for the
// wallet's response. The method must be in the wallet's advertised
// capability set, checked before any network traffic. Two timers govern
// the wait: the publish timer until the relay acknowledges the request
// event, and the reply timer until the wallet answers.
func (c *Client) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	caps := c.caps
	c.mu.Unlock()

	supported := false
	for _, capability := range caps {
		if capability == method {
			supported = true
			break
		}
	}
	if !supported {
		return nil, &UnsupportedCapabilityError{Method: method, Available: caps}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	requestJSON, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding wallet request: %w", err)
	}
	encrypted, err := c.encrypt(string(requestJSON))
	if err != nil {
		return nil, fmt.Errorf("encrypting wallet request: %w", err)
	}

	event, err := c.createRequestEvent(encrypted)
	if err != nil {
		return nil, err
	}

	pending := &pendingRequest{method: method, ch: make(chan requestResult, 1)}
	c.pendingMu.Lock()
	c.pending[event.ID] = pending
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, event.ID)
		c.pendingMu.Unlock()
	}()

	okCh := make(chan bool, 1)
	c.okMu.Lock()
	c.okWaiters[event.ID] = okCh
	c.okMu.Unlock()
	defer func() {
		c.okMu.Lock()
		delete(c.okWaiters, event.ID)
		c.okMu.Unlock()
	}()

	// Some wallet relays only deliver responses to subscriptions naming
	// the request id, so subscribe before publishing
	seq := c.counter.Add(1)
	subID := fmt.Sprintf("nwc-req-%d", seq)
	respFilter := map[string]interface{}{
		"kinds":   []int{types.KindWalletResponse},
		"authors": []string{c.config.WalletPubKeyHex()},
		"#e":      []string{event.ID},
		"limit":   1,
	}
	if err := c.writeJSON([]interface{}{"REQ", subID, respFilter}); err != nil {
		return nil, fmt.Errorf("subscribing for wallet response: %w", err)
	}
	defer c.writeJSON([]interface{}{"CLOSE", subID})

	if err := c.writeJSON([]interface{}{"EVENT", event}); err != nil {
		return nil, fmt.Errorf("publishing wallet request: %w", err)
	}

	publishTimer := time.NewTimer(c.PublishTimeout)
	defer publishTimer.Stop()
	replyTimer := time.NewTimer(c.replyTimeoutFor(method))
	defer replyTimer.Stop()

	publishPending := publishTimer.C
	for {
		select {
		case accepted := <-okCh:
			if !accepted {
				return nil, errors.New("wallet relay rejected request event")
			}
			// Relay took the event; only the reply timer matters now
			publishPending = nil

		case <-publishPending:
			return nil, &TimeoutError{Stage: "publish", Method: method}

		case <-replyTimer.C:
			return nil, &TimeoutError{Stage: "reply", Method: method}

		case result := <-pending.ch:
			if result.err != nil {
				return nil, result.err
			}
			if result.resp.Error != nil {
				return nil, &ResponseError{
					Code:    result.resp.Error.Code,
					Message: result.resp.Error.Message,
				}
			}
			return result.resp, nil

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-c.done:
			return nil, ErrConnectionClosed
		}
	}
}

// createRequestEvent builds and signs a kind 23194 request event
func (c *Client) createRequestEvent(encryptedContent string) (*types.Event, error) {
	tags := [][]string{{"p", c.config.WalletPubKeyHex()}}
	if c.encryption == "nip44_v2" {
		tags = append(tags, []string{"encryption", "nip44_v2"})
	}

	event := &types.Event{
		PubKey:    c.config.ClientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindWalletRequest,
		Tags:      tags,
		Content:   encryptedContent,
	}
	if err := nostr.SignEvent(c.config.Secret, event); err != nil {
		return nil, fmt.Errorf("signing wallet request: %w", err)
	}
	return event, nil
}

// GetBalance queries the wallet balance and converts it to whole sats
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	resp, err := c.SendRequest(ctx, "get_balance", nil)
	if err != nil {
		return 0, err
	}
	if resp.ResultType != "get_balance" {
		return 0, fmt.Errorf("unexpected result type: %s", resp.ResultType)
	}
	var result balanceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("parsing balance result: %w", err)
	}
	return result.Balance / 1000, nil
}

// PayInvoice pays a BOLT11 invoice. amountMsats overrides the invoice
// amount when positive (required for zero-amount invoices).
func (c *Client) PayInvoice(ctx context.Context, invoice string, amountMsats int64) (*PayInvoiceResult, error) {
	params := map[string]interface{}{"invoice": invoice}
	if amountMsats > 0 {
		params["amount"] = amountMsats
	}
	resp, err := c.SendRequest(ctx, "pay_invoice", params)
	if err != nil {
		return nil, err
	}
	if resp.ResultType != "pay_invoice" {
		return nil, fmt.Errorf("unexpected result type: %s", resp.ResultType)
	}
	var result PayInvoiceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parsing payment result: %w", err)
	}
	return &result, nil
}

// ListTransactions retrieves recent wallet transactions
func (c *Client) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	params := map[string]interface{}{}
	if limit > 0 {
		params["limit"] = limit
	}
	resp, err := c.SendRequest(ctx, "list_transactions", params)
	if err != nil {
		return nil, err
	}
	if resp.ResultType != "list_transactions" {
		return nil, fmt.Errorf("unexpected result type: %s", resp.ResultType)
	}
	var result listTransactionsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parsing transactions result: %w", err)
	}
	return result.Transactions, nil
}

// Close tears the connection down and rejects every pending request.
// Safe to call repeatedly; a closed client cannot be reconnected.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		subID := c.subID
		c.mu.Unlock()

		close(c.done)

		if conn != nil {
			if subID != "" {
				c.writeJSON([]interface{}{"CLOSE", subID})
			}
			conn.Close()
		}
		c.failPending(ErrConnectionClosed)
	})
}
