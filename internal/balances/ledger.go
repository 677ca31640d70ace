// Package balances is the in-memory view of payer balances used for packet
// admission, kept in step with the durable pending burns.
package balances

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/pending"
	"go.uber.org/zap"
)

var (
	creditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_credits_debited_total",
		Help: "Credits provisionally debited from payer balances",
	})
	debitsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_debits_rejected_total",
		Help: "Debits refused for insufficient balance",
	})
)

// Config controls ledger lookups.
type Config struct {
	// LoadTimeout bounds the ledger call that loads a payer on first reference.
	LoadTimeout time.Duration
}

type entry struct {
	mu      sync.Mutex
	loaded  bool
	account domain.PayerAccount
	// settled counts retirements applied to account.Balance. A ledger read
	// that started before a retirement may predate the burn landing.
	settled uint64
}

// Ledger tracks, per payer, the last known on-chain balance and the credits
// debited locally but not yet settled. Every payer has its own lock, so a
// slow or busy payer never holds up another.
type Ledger struct {
	network     chain.BalanceSource
	recorder    pending.BurnRecorder
	loadTimeout time.Duration
	log         *zap.Logger

	accounts sync.Map // solana.PublicKey -> *entry
}

// New builds the ledger, seeding each payer's burned amount from the durable
// pending burns so that a restart never forgets debt incurred before it.
func New(ctx context.Context, burns pending.BurnLister, recorder pending.BurnRecorder, network chain.BalanceSource, cfg Config, log *zap.Logger) (*Ledger, error) {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	l := &Ledger{
		network:     network,
		recorder:    recorder,
		loadTimeout: cfg.LoadTimeout,
		log:         log.Named("balances"),
	}

	existing, err := burns.ListPendingBurns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending burns: %w", err)
	}
	for _, burn := range existing {
		l.accounts.Store(burn.Payer, &entry{account: domain.PayerAccount{Burned: burn.Amount}})
	}
	l.log.Info("balance ledger initialized", zap.Int("payers_with_pending_burns", len(existing)))
	return l, nil
}

func (l *Ledger) entry(payer solana.PublicKey) *entry {
	if e, ok := l.accounts.Load(payer); ok {
		return e.(*entry)
	}
	e, _ := l.accounts.LoadOrStore(payer, &entry{})
	return e.(*entry)
}

// load fetches the balance on first reference. e.mu must be held.
func (l *Ledger) load(ctx context.Context, payer solana.PublicKey, e *entry) error {
	if e.loaded {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()

	balance, err := l.network.PayerBalance(ctx, payer)
	switch {
	case errors.Is(err, chain.ErrUnknownPayer):
		// No account on chain yet: nothing to spend.
		balance = 0
	case err != nil:
		return fmt.Errorf("load balance of %s: %w", payer, err)
	}
	e.account.Balance = balance
	e.loaded = true
	return nil
}

// PayerAccount returns the cached account, loading it on first reference.
func (l *Ledger) PayerAccount(ctx context.Context, payer solana.PublicKey) (domain.PayerAccount, error) {
	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := l.load(ctx, payer, e); err != nil {
		return domain.PayerAccount{}, err
	}
	return e.account, nil
}

// DebitIfSufficient debits cost from the payer when the available balance
// covers it. The check, the durable pending burn and the in-memory debit
// happen under the payer's lock. If the durable write fails nothing is
// debited and the error is returned.
func (l *Ledger) DebitIfSufficient(ctx context.Context, payer solana.PublicKey, cost uint64) (bool, error) {
	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := l.load(ctx, payer, e); err != nil {
		return false, err
	}
	if e.account.Available() < cost {
		debitsRejected.Inc()
		return false, nil
	}
	if cost == 0 {
		return true, nil
	}
	if err := l.recorder.AddBurnedAmount(ctx, payer, cost); err != nil {
		return false, fmt.Errorf("record pending burn for %s: %w", payer, err)
	}
	e.account.Burned += cost
	creditsDebited.Add(float64(cost))
	return true, nil
}

// SetBalance replaces the cached on-chain balance of a payer.
func (l *Ledger) SetBalance(payer solana.PublicKey, balance uint64) domain.PayerAccount {
	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Balance = balance
	e.loaded = true
	return e.account
}

// RefreshBalance re-reads the payer's balance from the ledger. The ledger is
// queried without holding the payer's lock. When a burn was settled while
// the read was in flight the result may predate it, so it can only lower the
// cached balance.
func (l *Ledger) RefreshBalance(ctx context.Context, payer solana.PublicKey) (domain.PayerAccount, error) {
	e := l.entry(payer)
	e.mu.Lock()
	settled := e.settled
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()

	balance, err := l.network.PayerBalance(ctx, payer)
	if err != nil {
		return l.snapshot(payer), fmt.Errorf("refresh balance of %s: %w", payer, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled != settled && e.loaded {
		balance = min(balance, e.account.Balance)
	}
	e.account.Balance = balance
	e.loaded = true
	return e.account, nil
}

// Settle retires a confirmed burn. Balance and burned both drop by amount in
// one step, so the credits stay spent whether or not the follow-up refresh
// from the ledger succeeds.
func (l *Ledger) Settle(ctx context.Context, payer solana.PublicKey, amount uint64) (domain.PayerAccount, error) {
	e := l.entry(payer)
	e.mu.Lock()
	if amount > e.account.Burned {
		l.log.Warn("settled amount exceeds burned",
			zap.Stringer("payer", payer),
			zap.Uint64("amount", amount),
			zap.Uint64("burned", e.account.Burned))
	}
	e.account.Burned -= min(amount, e.account.Burned)
	e.account.Balance -= min(amount, e.account.Balance)
	e.settled++
	e.mu.Unlock()

	return l.RefreshBalance(ctx, payer)
}

// CachedAccount returns the account of a payer the ledger already tracks.
// It never loads, so unknown keys leave no trace.
func (l *Ledger) CachedAccount(payer solana.PublicKey) (domain.PayerAccount, bool) {
	v, ok := l.accounts.Load(payer)
	if !ok {
		return domain.PayerAccount{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account, true
}

func (l *Ledger) snapshot(payer solana.PublicKey) domain.PayerAccount {
	e := l.entry(payer)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

// Snapshot copies every cached account.
func (l *Ledger) Snapshot() map[solana.PublicKey]domain.PayerAccount {
	out := make(map[solana.PublicKey]domain.PayerAccount)
	l.accounts.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(solana.PublicKey)] = e.account
		e.mu.Unlock()
		return true
	})
	return out
}
