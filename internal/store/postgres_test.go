package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/orgs"
	"github.com/punchamoorthee/packetverifier/internal/pending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DB_SOURCE and empties the tables.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = s.Db.Exec(ctx, "TRUNCATE pending_burns, pending_txns, organizations")
	require.NoError(t, err)
	return s
}

func TestStorePendingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payer := solana.NewWallet().PublicKey()
	sig := solana.Signature{9, 9, 9}

	require.NoError(t, s.AddBurnedAmount(ctx, payer, 6))
	require.NoError(t, s.AddBurnedAmount(ctx, payer, 4))

	burns, err := s.ListPendingBurns(ctx)
	require.NoError(t, err)
	require.Len(t, burns, 1)
	assert.Equal(t, payer, burns[0].Payer)
	assert.Equal(t, uint64(10), burns[0].Amount)

	submittedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.AddPendingTransaction(ctx, payer, 4, sig, submittedAt))
	assert.ErrorIs(t, s.AddPendingTransaction(ctx, payer, 4, sig, submittedAt), pending.ErrDuplicateTransaction)

	unsettled, err := s.ListUnsettledBurns(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, uint64(6), unsettled[0].Amount)

	txns, err := s.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, sig, txns[0].Signature)
	assert.True(t, submittedAt.Equal(txns[0].SubmittedAt))

	txn, ok, err := s.RetireTransaction(ctx, sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), txn.Amount)

	_, ok, err = s.RetireTransaction(ctx, sig)
	require.NoError(t, err)
	assert.False(t, ok, "retired once")

	burns, err = s.ListPendingBurns(ctx)
	require.NoError(t, err)
	require.Len(t, burns, 1)
	assert.Equal(t, uint64(6), burns[0].Amount)
}

func TestStoreRetireUnderflowRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payer := solana.NewWallet().PublicKey()
	sig := solana.Signature{1}

	require.NoError(t, s.AddBurnedAmount(ctx, payer, 2))
	require.NoError(t, s.AddPendingTransaction(ctx, payer, 5, sig, time.Now()))

	_, _, err := s.RetireTransaction(ctx, sig)
	assert.ErrorIs(t, err, pending.ErrBurnUnderflow)

	txns, err := s.ListPendingTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1, "delete rolled back")
}

func TestStoreDropTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	payer := solana.NewWallet().PublicKey()

	require.NoError(t, s.AddBurnedAmount(ctx, payer, 3))
	require.NoError(t, s.AddPendingTransaction(ctx, payer, 3, solana.Signature{2}, time.Now()))

	dropped, err := s.DropTransaction(ctx, solana.Signature{2})
	require.NoError(t, err)
	assert.True(t, dropped)

	unsettled, err := s.ListUnsettledBurns(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, uint64(3), unsettled[0].Amount)
}

func TestOrgDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := NewOrgDirectory(s)
	payer := solana.NewWallet().PublicKey()

	_, err := s.Db.Exec(ctx, "INSERT INTO organizations (oui, payer) VALUES ($1, $2)", 1, payer.String())
	require.NoError(t, err)

	got, err := dir.FetchOrg(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, payer, got)

	_, err = dir.FetchOrg(ctx, 2)
	assert.ErrorIs(t, err, orgs.ErrOrgNotFound)
	assert.ErrorIs(t, dir.DisableOrg(ctx, 2), orgs.ErrOrgNotFound)

	require.NoError(t, dir.DisableOrg(ctx, 1))
	all, err := dir.ListOrgs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Locked)

	require.NoError(t, dir.EnableOrg(ctx, 1))
	all, err = dir.ListOrgs(ctx)
	require.NoError(t, err)
	assert.False(t, all[0].Locked)
}
