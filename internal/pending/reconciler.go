package pending

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"go.uber.org/zap"
)

var reconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verifier_pending_transactions_reconciled_total",
	Help: "Pending burn transactions resolved by the reconciler, labeled by outcome",
}, []string{"outcome"})

// Settler applies a confirmed retirement to the in-memory balances.
type Settler interface {
	Settle(ctx context.Context, payer solana.PublicKey, amount uint64) (domain.PayerAccount, error)
}

// ReconcilerConfig controls the reconciliation loop.
type ReconcilerConfig struct {
	Period time.Duration
	// TxExpiry drops transactions the ledger has not seen after this long.
	// Zero retries confirmation forever.
	TxExpiry         time.Duration
	IterationTimeout time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Period:           30 * time.Second,
		TxExpiry:         10 * time.Minute,
		IterationTimeout: 2 * time.Minute,
	}
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	d := DefaultReconcilerConfig()
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = d.IterationTimeout
	}
	return c
}

// Reconciler matches pending transactions against the ledger and retires the
// ones that have been confirmed.
type Reconciler struct {
	tables  Tables
	network chain.Network
	settler Settler
	cfg     ReconcilerConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewReconciler(tables Tables, network chain.Network, settler Settler, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	return &Reconciler{
		tables:  tables,
		network: network,
		settler: settler,
		cfg:     cfg.withDefaults(),
		log:     log.Named("reconciler"),
		now:     time.Now,
	}
}

// Run reconciles once immediately, to recover from a crash between submit and
// confirm, and then on every period until ctx is cancelled. A pass that is in
// progress when ctx is cancelled is allowed to finish.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.IterationTimeout)
	defer cancel()
	if err := r.Reconcile(passCtx); err != nil {
		r.log.Warn("reconcile pass failed", zap.Error(err))
	}
}

// Reconcile makes one pass over every pending transaction. Failures on one
// transaction are logged and do not stop the pass.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	txns, err := r.tables.ListPendingTransactions(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, txn := range txns {
		if err := r.reconcileTransaction(ctx, txn); err != nil {
			r.log.Warn("failed to reconcile transaction",
				zap.Stringer("signature", txn.Signature),
				zap.Stringer("payer", txn.Payer),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) reconcileTransaction(ctx context.Context, txn domain.PendingTransaction) error {
	status, err := r.network.ConfirmTransaction(ctx, txn.Signature)
	if err != nil {
		return err
	}

	switch status {
	case chain.TxConfirmed:
		return r.retire(ctx, txn)
	case chain.TxFailed:
		return r.drop(ctx, txn, "failed")
	default:
		if r.cfg.TxExpiry > 0 && r.now().Sub(txn.SubmittedAt) > r.cfg.TxExpiry {
			return r.drop(ctx, txn, "expired")
		}
		reconciledTotal.WithLabelValues("pending").Inc()
		return nil
	}
}

func (r *Reconciler) retire(ctx context.Context, txn domain.PendingTransaction) error {
	retired, ok, err := r.tables.RetireTransaction(ctx, txn.Signature)
	if err != nil {
		return err
	}
	if !ok {
		// Already retired by an earlier pass or another process.
		return nil
	}
	reconciledTotal.WithLabelValues("confirmed").Inc()

	account, err := r.settler.Settle(ctx, retired.Payer, retired.Amount)
	if err != nil {
		// The retirement is already applied to the cached account; only the
		// balance refresh failed and the fund monitor will pick it up.
		r.log.Warn("balance refresh after settlement failed",
			zap.Stringer("payer", retired.Payer), zap.Error(err))
	}
	r.log.Info("burn confirmed",
		zap.Stringer("signature", retired.Signature),
		zap.Stringer("payer", retired.Payer),
		zap.Uint64("amount", retired.Amount),
		zap.Uint64("balance", account.Balance),
		zap.Uint64("burned", account.Burned))
	return nil
}

func (r *Reconciler) drop(ctx context.Context, txn domain.PendingTransaction, outcome string) error {
	dropped, err := r.tables.DropTransaction(ctx, txn.Signature)
	if err != nil {
		return err
	}
	if dropped {
		reconciledTotal.WithLabelValues(outcome).Inc()
		r.log.Warn("burn transaction will not land, amount kept for resubmission",
			zap.String("outcome", outcome),
			zap.Stringer("signature", txn.Signature),
			zap.Stringer("payer", txn.Payer),
			zap.Uint64("amount", txn.Amount))
	}
	return nil
}
