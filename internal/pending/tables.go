// Package pending holds the durable record of burns that have been charged
// locally but not yet settled on the ledger, and the transactions in flight
// to settle them.
package pending

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/domain"
)

var (
	// ErrBurnUnderflow means a retirement would take a pending burn below zero.
	ErrBurnUnderflow = errors.New("pending: retired amount exceeds pending burn")
	// ErrDuplicateTransaction means the signature is already recorded.
	ErrDuplicateTransaction = errors.New("pending: transaction already recorded")
)

// BurnRecorder durably records admitted debits.
type BurnRecorder interface {
	AddBurnedAmount(ctx context.Context, payer solana.PublicKey, amount uint64) error
}

// BurnLister lists the durable pending burn totals.
type BurnLister interface {
	ListPendingBurns(ctx context.Context) ([]domain.PendingBurn, error)
}

// Tables is the full durable state shared by the verifier, burner and
// reconciler.
type Tables interface {
	BurnRecorder
	BurnLister

	// ListUnsettledBurns returns, per payer, the pending burn minus the amounts
	// already in flight, read from one consistent snapshot. Payers with
	// nothing left to submit are omitted.
	ListUnsettledBurns(ctx context.Context) ([]domain.PendingBurn, error)

	AddPendingTransaction(ctx context.Context, payer solana.PublicKey, amount uint64, signature solana.Signature, submittedAt time.Time) error
	ListPendingTransactions(ctx context.Context) ([]domain.PendingTransaction, error)

	// RetireTransaction removes the transaction and subtracts its amount from
	// the payer's pending burn in one atomic step. It reports false when the
	// transaction was already retired or dropped.
	RetireTransaction(ctx context.Context, signature solana.Signature) (domain.PendingTransaction, bool, error)

	// DropTransaction removes a transaction that will never land, leaving the
	// pending burn untouched so it is submitted again.
	DropTransaction(ctx context.Context, signature solana.Signature) (bool, error)
}
