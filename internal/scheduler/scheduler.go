// Package scheduler runs the recurring-zap control loop: due subscriptions
// are funded through the connected wallet and advanced to their next cycle.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"zapgoals/internal/nwc"
	"zapgoals/internal/services"
	"zapgoals/internal/signer"
	"zapgoals/internal/store"
	"zapgoals/internal/types"
)

const tickInterval = 60 * time.Second

// NotificationKind distinguishes the scheduler's outcome signals
type NotificationKind int

const (
	NotifZapSent NotificationKind = iota
	NotifInsufficientBalance
	NotifSignFailed
	NotifPaymentFailed
)

// Notification is emitted on the Notifications channel after each
// noteworthy subscription outcome
type Notification struct {
	Kind           NotificationKind
	SubscriptionID string
	GoalID         string
	GoalName       string
	AmountSats     int64
	Err            error
}

// NewSubscription creates a recurring-zap subscription that is due on the
// next tick
func NewSubscription(goalID, goalName string, amountSats int64, frequency string, now time.Time) types.ZapSubscription {
	return types.ZapSubscription{
		ID:        uuid.NewString(),
		GoalID:    goalID,
		GoalName:  goalName,
		Amount:    amountSats,
		Frequency: frequency,
		NextZap:   now.UnixMilli(),
	}
}

// Wallet is the slice of the wallet-connect client the scheduler needs
type Wallet interface {
	GetBalance(ctx context.Context) (int64, error)
	PayInvoice(ctx context.Context, invoice string, amountMsats int64) (*nwc.PayInvoiceResult, error)
}

// Fetcher is the slice of the relay client the scheduler needs
type Fetcher interface {
	FetchEventByID(ctx context.Context, id string) *types.Event
	FetchProfile(ctx context.Context, pubkey string) *types.Profile
	Relays() []string
}

// Service drives recurring zaps on a fixed tick. Failures never advance a
// subscription; the next tick retries.
type Service struct {
	store  *store.Store
	fetch  Fetcher
	signer signer.Signer

	// walletFor builds (or reuses) a wallet client for a descriptor
	walletFor func(ctx context.Context, descriptor string) (Wallet, error)
	// requestInvoice turns a lightning address into a BOLT11 invoice
	requestInvoice func(lud16 string, amountMsats int64, zapRequestJSON string) (string, error)

	notifications chan Notification

	interval time.Duration
	nowFunc  func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}

	walletMu         sync.Mutex
	cachedWallet     *nwc.Client
	cachedDescriptor string
}

// New builds a scheduler over the store, relay client, and optional signer
func New(st *store.Store, fetch Fetcher, sig signer.Signer) *Service {
	s := &Service{
		store:         st,
		fetch:         fetch,
		signer:        sig,
		notifications: make(chan Notification, 32),
		interval:      tickInterval,
		nowFunc:       time.Now,
	}
	s.walletFor = s.connectWallet
	s.requestInvoice = resolveInvoice
	return s
}

// Notifications delivers subscription outcomes. The channel is buffered;
// when nobody listens, signals are dropped rather than blocking the loop.
func (s *Service) Notifications() <-chan Notification {
	return s.notifications
}

// Start launches the loop with an immediate first tick. Calling Start on a
// running scheduler is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		s.Tick(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-done:
				return
			}
		}
	}()
}

// Stop halts the loop. Safe to call repeatedly or when never started.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)

	s.walletMu.Lock()
	if s.cachedWallet != nil {
		s.cachedWallet.Close()
		s.cachedWallet = nil
		s.cachedDescriptor = ""
	}
	s.walletMu.Unlock()
}

// Tick processes every due subscription once. Without a stored wallet
// descriptor the whole tick is skipped: nothing can be paid.
func (s *Service) Tick(ctx context.Context) {
	subs, err := s.store.LoadSubscriptions(ctx)
	if err != nil {
		slog.Error("loading subscriptions failed", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	descriptor, err := s.store.LoadWalletDescriptor(ctx)
	if err != nil {
		slog.Error("loading wallet descriptor failed", "error", err)
		return
	}
	if descriptor == "" {
		slog.Debug("no wallet connected, skipping zap tick")
		return
	}

	wallet, err := s.walletFor(ctx, descriptor)
	if err != nil {
		slog.Warn("wallet unavailable", "error", err)
		s.notify(Notification{Kind: NotifPaymentFailed, Err: err})
		return
	}

	now := s.nowFunc()
	changed := false

	for i := range subs {
		sub := &subs[i]
		if sub.Paused || sub.NextZap > now.UnixMilli() {
			continue
		}

		balance, err := wallet.GetBalance(ctx)
		if err != nil {
			s.notifySub(sub, NotifPaymentFailed, fmt.Errorf("balance check failed: %w", err))
			continue
		}
		if balance < sub.Amount {
			// One signal per due subscription per tick; do not advance
			s.notifySub(sub, NotifInsufficientBalance, nil)
			continue
		}

		if err := s.payZap(ctx, wallet, sub); err != nil {
			kind := NotifPaymentFailed
			var signErr *signFailure
			if errors.As(err, &signErr) {
				kind = NotifSignFailed
			}
			s.notifySub(sub, kind, err)
			continue
		}

		sub.NextZap = now.Add(sub.Interval()).UnixMilli()
		changed = true
		s.notifySub(sub, NotifZapSent, nil)
		slog.Info("recurring zap sent",
			"subscription", sub.ID,
			"goal", sub.GoalName,
			"amount_sats", sub.Amount,
			"next_zap", sub.NextZap)
	}

	if changed {
		if err := s.store.SaveSubscriptions(ctx, subs); err != nil {
			slog.Error("saving subscriptions failed", "error", err)
		}
	}
}

type signFailure struct{ err error }

func (s *signFailure) Error() string { return "signing zap request failed: " + s.err.Error() }
func (s *signFailure) Unwrap() error { return s.err }

// payZap runs the NIP-57 flow for one subscription: resolve the goal
// author's lightning address, obtain an invoice carrying the signed zap
// request, and settle it through the wallet.
func (s *Service) payZap(ctx context.Context, wallet Wallet, sub *types.ZapSubscription) error {
	goal := s.fetch.FetchEventByID(ctx, sub.GoalID)
	if goal == nil {
		return fmt.Errorf("goal event %s not found", sub.GoalID)
	}

	profile := s.fetch.FetchProfile(ctx, goal.PubKey)
	if profile == nil {
		return fmt.Errorf("no profile for goal author %s", goal.PubKey)
	}
	if profile.Lud16 == "" {
		return fmt.Errorf("goal author %s has no lightning address", goal.PubKey)
	}

	amountMsats := sub.Amount * 1000

	zapRequestJSON := ""
	if s.signer != nil {
		request, err := s.buildZapRequest(goal, amountMsats)
		if err != nil {
			return &signFailure{err: err}
		}
		raw, err := json.Marshal(request)
		if err != nil {
			return &signFailure{err: err}
		}
		zapRequestJSON = string(raw)
	}

	invoice, err := s.requestInvoice(profile.Lud16, amountMsats, zapRequestJSON)
	if err != nil {
		return fmt.Errorf("requesting invoice: %w", err)
	}

	if _, err := wallet.PayInvoice(ctx, invoice, 0); err != nil {
		return fmt.Errorf("paying invoice: %w", err)
	}
	return nil
}

// buildZapRequest constructs and signs the kind 9734 event embedded in the
// LNURL callback
func (s *Service) buildZapRequest(goal *types.Event, amountMsats int64) (*types.Event, error) {
	tags := [][]string{
		{"p", goal.PubKey},
		{"amount", strconv.FormatInt(amountMsats, 10)},
		append([]string{"relays"}, s.fetch.Relays()...),
		{"e", goal.ID},
	}
	request := &types.Event{
		CreatedAt: s.nowFunc().Unix(),
		Kind:      types.KindZapRequest,
		Tags:      tags,
		Content:   "",
	}
	if err := s.signer.SignEvent(request); err != nil {
		return nil, err
	}
	return request, nil
}

// connectWallet parses a descriptor and returns a ready client, reusing
// the previous one while the descriptor is unchanged
func (s *Service) connectWallet(ctx context.Context, descriptor string) (Wallet, error) {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()

	if s.cachedWallet != nil && s.cachedDescriptor == descriptor && s.cachedWallet.State() == nwc.StateReady {
		return s.cachedWallet, nil
	}
	if s.cachedWallet != nil {
		s.cachedWallet.Close()
		s.cachedWallet = nil
	}

	cfg, err := nwc.ParseWalletConnectURL(descriptor)
	if err != nil {
		return nil, err
	}
	client := nwc.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	s.cachedWallet = client
	s.cachedDescriptor = descriptor
	return client, nil
}

// resolveInvoice is the production LNURL-pay path
func resolveInvoice(lud16 string, amountMsats int64, zapRequestJSON string) (string, error) {
	info, err := services.ResolveLud16(lud16)
	if err != nil {
		return "", err
	}
	if !info.AllowsNostr {
		// Endpoint takes plain payments only; zap receipt will not appear
		zapRequestJSON = ""
	}
	return services.RequestInvoice(info, amountMsats, zapRequestJSON, "")
}

func (s *Service) notifySub(sub *types.ZapSubscription, kind NotificationKind, err error) {
	s.notify(Notification{
		Kind:           kind,
		SubscriptionID: sub.ID,
		GoalID:         sub.GoalID,
		GoalName:       sub.GoalName,
		AmountSats:     sub.Amount,
		Err:            err,
	})
}

func (s *Service) notify(n Notification) {
	select {
	case s.notifications <- n:
	default:
	}
}
