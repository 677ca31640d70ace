// Package chain is the boundary to the external ledger that holds payer
// balances and executes burn transactions.
package chain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrUnknownPayer      = errors.New("chain: unknown payer")
	ErrInsufficientFunds = errors.New("chain: insufficient funds")
	ErrUnknownSignature  = errors.New("chain: unknown transaction")
)

// TxStatus is the ledger's view of a submitted transaction.
type TxStatus int

const (
	// TxPending means the ledger has not (yet) confirmed the transaction.
	TxPending TxStatus = iota
	// TxConfirmed means the transaction executed and is final enough to retire.
	TxConfirmed
	// TxFailed means the ledger rejected the transaction; it will never land.
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

// BurnTransaction is a built, signed burn ready to be submitted.
type BurnTransaction struct {
	Payer     solana.PublicKey
	Amount    uint64
	Signature solana.Signature

	tx *solana.Transaction
}

// BalanceSource reads payer balances.
type BalanceSource interface {
	PayerBalance(ctx context.Context, payer solana.PublicKey) (uint64, error)
}

// Network is the full settlement capability of the ledger. All calls are
// fallible and may be retried independently.
type Network interface {
	BalanceSource
	MakeBurnTransaction(ctx context.Context, payer solana.PublicKey, amount uint64) (*BurnTransaction, error)
	SubmitTransaction(ctx context.Context, txn *BurnTransaction) error
	ConfirmTransaction(ctx context.Context, signature solana.Signature) (TxStatus, error)
}
