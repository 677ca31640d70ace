// Package store keeps the pending burn and pending transaction tables, and the
// organization directory, in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/pending"
)

const uniqueViolation = "23505"

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// AddBurnedAmount adds to the payer's pending burn, creating the row on first use.
func (s *Store) AddBurnedAmount(ctx context.Context, payer solana.PublicKey, amount uint64) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO pending_burns (payer, amount, last_burn)
		VALUES ($1, $2, now())
		ON CONFLICT (payer) DO UPDATE
		SET amount = pending_burns.amount + EXCLUDED.amount, last_burn = EXCLUDED.last_burn`,
		payer.String(), int64(amount))
	if err != nil {
		return fmt.Errorf("add burned amount: %w", err)
	}
	return nil
}

func (s *Store) ListPendingBurns(ctx context.Context) ([]domain.PendingBurn, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT payer, amount, last_burn FROM pending_burns WHERE amount > 0 ORDER BY payer")
	if err != nil {
		return nil, fmt.Errorf("list pending burns: %w", err)
	}
	return collectBurns(rows)
}

// ListUnsettledBurns subtracts in-flight transactions from each pending burn
// in a single statement, so both tables are read from one snapshot.
func (s *Store) ListUnsettledBurns(ctx context.Context) ([]domain.PendingBurn, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT b.payer, b.amount - COALESCE(SUM(t.amount), 0) AS unsettled, b.last_burn
		FROM pending_burns b
		LEFT JOIN pending_txns t ON t.payer = b.payer
		GROUP BY b.payer, b.amount, b.last_burn
		HAVING b.amount - COALESCE(SUM(t.amount), 0) > 0
		ORDER BY b.payer`)
	if err != nil {
		return nil, fmt.Errorf("list unsettled burns: %w", err)
	}
	return collectBurns(rows)
}

func collectBurns(rows pgx.Rows) ([]domain.PendingBurn, error) {
	defer rows.Close()

	var burns []domain.PendingBurn
	for rows.Next() {
		var (
			payer    string
			amount   int64
			lastBurn time.Time
		)
		if err := rows.Scan(&payer, &amount, &lastBurn); err != nil {
			return nil, fmt.Errorf("scan pending burn: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(payer)
		if err != nil {
			return nil, fmt.Errorf("pending burn payer %q: %w", payer, err)
		}
		burns = append(burns, domain.PendingBurn{Payer: key, Amount: uint64(amount), LastBurn: lastBurn})
	}
	return burns, rows.Err()
}

func (s *Store) AddPendingTransaction(ctx context.Context, payer solana.PublicKey, amount uint64, signature solana.Signature, submittedAt time.Time) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO pending_txns (signature, payer, amount, submitted_at) VALUES ($1, $2, $3, $4)",
		signature.String(), payer.String(), int64(amount), submittedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return pending.ErrDuplicateTransaction
		}
		return fmt.Errorf("add pending transaction: %w", err)
	}
	return nil
}

func (s *Store) ListPendingTransactions(ctx context.Context) ([]domain.PendingTransaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT signature, payer, amount, submitted_at FROM pending_txns ORDER BY submitted_at")
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.PendingTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// RetireTransaction deletes the transaction row and subtracts its amount from
// the pending burn in one database transaction.
func (s *Store) RetireTransaction(ctx context.Context, signature solana.Signature) (domain.PendingTransaction, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.PendingTransaction{}, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := scanTransaction(tx.QueryRow(ctx,
		"DELETE FROM pending_txns WHERE signature = $1 RETURNING signature, payer, amount, submitted_at",
		signature.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingTransaction{}, false, nil
	}
	if err != nil {
		return domain.PendingTransaction{}, false, err
	}

	tag, err := tx.Exec(ctx,
		"UPDATE pending_burns SET amount = amount - $2 WHERE payer = $1 AND amount >= $2",
		txn.Payer.String(), int64(txn.Amount))
	if err != nil {
		return domain.PendingTransaction{}, false, fmt.Errorf("retire pending burn: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.PendingTransaction{}, false, pending.ErrBurnUnderflow
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.PendingTransaction{}, false, fmt.Errorf("tx commit failed: %w", err)
	}
	return txn, true, nil
}

func (s *Store) DropTransaction(ctx context.Context, signature solana.Signature) (bool, error) {
	tag, err := s.Db.Exec(ctx, "DELETE FROM pending_txns WHERE signature = $1", signature.String())
	if err != nil {
		return false, fmt.Errorf("drop pending transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanTransaction(row pgx.Row) (domain.PendingTransaction, error) {
	var (
		sig, payer  string
		amount      int64
		submittedAt time.Time
	)
	if err := row.Scan(&sig, &payer, &amount, &submittedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PendingTransaction{}, err
		}
		return domain.PendingTransaction{}, fmt.Errorf("scan pending transaction: %w", err)
	}
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("pending transaction signature %q: %w", sig, err)
	}
	key, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("pending transaction payer %q: %w", payer, err)
	}
	return domain.PendingTransaction{
		Payer:       key,
		Amount:      uint64(amount),
		Signature:   signature,
		SubmittedAt: submittedAt,
	}, nil
}

var _ pending.Tables = (*Store)(nil)
