// Package burner settles pending burns by submitting burn transactions to the
// ledger. Settlement itself is completed by the pending.Reconciler.
package burner

import (
	"context"
	"errors"
	"fmt"
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
	burnsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_burns_submitted_total",
		Help: "Burn transactions handed to the ledger, labeled by result",
	}, []string{"result"})
	creditsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_burn_credits_submitted_total",
		Help: "Credits in burn transactions accepted for submission",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verifier_burn_sweep_duration_seconds",
		Help:    "Duration of one pass over the unsettled burns",
		Buckets: prometheus.DefBuckets,
	})
)

// BalanceUpdater keeps the admission view of a payer's balance current.
type BalanceUpdater interface {
	RefreshBalance(ctx context.Context, payer solana.PublicKey) (domain.PayerAccount, error)
}

type Config struct {
	Period           time.Duration
	IterationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:           time.Minute,
		IterationTimeout: 2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = d.IterationTimeout
	}
	return c
}

type Burner struct {
	tables   pending.Tables
	network  chain.Network
	balances BalanceUpdater
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func New(tables pending.Tables, network chain.Network, balances BalanceUpdater, cfg Config, log *zap.Logger) *Burner {
	return &Burner{
		tables:   tables,
		network:  network,
		balances: balances,
		cfg:      cfg.withDefaults(),
		log:      log.Named("burner"),
		now:      time.Now,
	}
}

// Run burns on every period until ctx is cancelled. The first burn waits for
// one period so the reconciler can recover in-flight transactions first.
func (b *Burner) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		burnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.IterationTimeout)
		if err := b.Burn(burnCtx); err != nil {
			b.log.Warn("burn pass finished with errors", zap.Error(err))
		}
		cancel()
	}
}

// Burn submits one transaction per payer with unsettled credits. A failing
// payer does not stop the pass; its pending burn is kept for the next one.
func (b *Burner) Burn(ctx context.Context) error {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	burns, err := b.tables.ListUnsettledBurns(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled burns: %w", err)
	}

	var errs []error
	for _, burn := range burns {
		if err := b.burnPayer(ctx, burn); err != nil {
			b.log.Warn("failed to burn for payer",
				zap.Stringer("payer", burn.Payer),
				zap.Uint64("amount", burn.Amount),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Burner) burnPayer(ctx context.Context, burn domain.PendingBurn) error {
	balance, err := b.network.PayerBalance(ctx, burn.Payer)
	switch {
	case errors.Is(err, chain.ErrUnknownPayer):
		balance = 0
	case err != nil:
		return fmt.Errorf("read balance: %w", err)
	}

	amount := min(burn.Amount, balance)
	if amount == 0 {
		burnsSubmitted.WithLabelValues("skipped").Inc()
		b.log.Debug("payer has no balance to burn", zap.Stringer("payer", burn.Payer))
		return nil
	}

	txn, err := b.network.MakeBurnTransaction(ctx, burn.Payer, amount)
	if err != nil {
		burnsSubmitted.WithLabelValues("build_failed").Inc()
		return fmt.Errorf("make burn transaction: %w", err)
	}

	// Recorded before submission so a crash in between is picked up by the
	// reconciler rather than burning twice.
	if err := b.tables.AddPendingTransaction(ctx, burn.Payer, amount, txn.Signature, b.now().UTC()); err != nil {
		burnsSubmitted.WithLabelValues("record_failed").Inc()
		return fmt.Errorf("record pending transaction: %w", err)
	}

	if err := b.network.SubmitTransaction(ctx, txn); err != nil {
		// The row stays; the reconciler confirms, fails or expires it.
		burnsSubmitted.WithLabelValues("submit_failed").Inc()
		return fmt.Errorf("submit burn %s: %w", txn.Signature, err)
	}
	burnsSubmitted.WithLabelValues("submitted").Inc()
	creditsSubmitted.Add(float64(amount))

	account, err := b.balances.RefreshBalance(ctx, burn.Payer)
	if err != nil {
		b.log.Warn("balance refresh after submission failed", zap.Stringer("payer", burn.Payer), zap.Error(err))
	}
	b.log.Info("burn submitted",
		zap.Stringer("payer", burn.Payer),
		zap.Stringer("signature", txn.Signature),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", account.Balance),
		zap.Uint64("burned", account.Burned))
	return nil
}
