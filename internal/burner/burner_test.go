package burner_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/balances"
	"github.com/punchamoorthee/packetverifier/internal/burner"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/pending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	tables  *pending.MemoryTables
	network *chain.MemoryNetwork
	ledger  *balances.Ledger
	burner  *burner.Burner
	rec     *pending.Reconciler
	payer   solana.PublicKey
}

func newFixture(t *testing.T, balance uint64) *fixture {
	t.Helper()
	payer := solana.NewWallet().PublicKey()
	f := &fixture{
		tables:  pending.NewMemoryTables(),
		network: chain.NewMemoryNetwork(map[solana.PublicKey]uint64{payer: balance}),
		payer:   payer,
	}
	f.network.HoldConfirmations(true)

	var err error
	f.ledger, err = balances.New(context.Background(), f.tables, f.tables, f.network, balances.Config{}, zap.NewNop())
	require.NoError(t, err)
	f.burner = burner.New(f.tables, f.network, f.ledger, burner.Config{}, zap.NewNop())
	f.rec = pending.NewReconciler(f.tables, f.network, f.ledger, pending.DefaultReconcilerConfig(), zap.NewNop())
	return f
}

func (f *fixture) debit(t *testing.T, cost uint64) {
	t.Helper()
	ok, err := f.ledger.DebitIfSufficient(context.Background(), f.payer, cost)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) pendingTxns(t *testing.T) int {
	t.Helper()
	txns, err := f.tables.ListPendingTransactions(context.Background())
	require.NoError(t, err)
	return len(txns)
}

func TestSubmissionLeavesBurnedUntilConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.debit(t, 4)

	require.NoError(t, f.burner.Burn(ctx))

	require.Equal(t, 1, f.pendingTxns(t))
	account, err := f.ledger.PayerAccount(ctx, f.payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), account.Burned, "submission alone clears nothing")
	assert.Equal(t, uint64(4), f.tables.PendingBurn(f.payer))

	// A second sweep must not burn the in-flight amount again.
	require.NoError(t, f.burner.Burn(ctx))
	assert.Len(t, f.network.Signatures(), 1)

	require.NoError(t, f.rec.Reconcile(ctx))
	account, _ = f.ledger.PayerAccount(ctx, f.payer)
	assert.Equal(t, uint64(4), account.Burned, "still unconfirmed")

	require.NoError(t, f.network.Confirm(f.network.Signatures()[0]))
	require.NoError(t, f.rec.Reconcile(ctx))

	account, err = f.ledger.PayerAccount(ctx, f.payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), account.Burned)
	assert.Equal(t, uint64(6), account.Balance)
	assert.Equal(t, uint64(0), f.tables.PendingBurn(f.payer))
	assert.Equal(t, 0, f.pendingTxns(t))
}

func TestBurnCapsAtOnChainBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.debit(t, 5)
	f.network.SetBalance(f.payer, 3)

	require.NoError(t, f.burner.Burn(ctx))

	txns, err := f.tables.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, uint64(3), txns[0].Amount)

	unsettled, err := f.tables.ListUnsettledBurns(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, uint64(2), unsettled[0].Amount)
}

func TestBurnSkipsEmptyPayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.debit(t, 5)
	f.network.SetBalance(f.payer, 0)

	require.NoError(t, f.burner.Burn(ctx))

	assert.Equal(t, 0, f.pendingTxns(t))
	assert.Empty(t, f.network.Signatures())
	assert.Equal(t, uint64(5), f.tables.PendingBurn(f.payer))
}

func TestRejectedBurnIsResubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	f.debit(t, 4)

	require.NoError(t, f.burner.Burn(ctx))
	first := f.network.Signatures()[0]
	require.NoError(t, f.network.Reject(first))
	require.NoError(t, f.rec.Reconcile(ctx))
	assert.Equal(t, 0, f.pendingTxns(t))
	assert.Equal(t, uint64(4), f.tables.PendingBurn(f.payer))

	require.NoError(t, f.burner.Burn(ctx))
	txns, err := f.tables.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.NotEqual(t, first, txns[0].Signature)
	assert.Equal(t, uint64(4), txns[0].Amount)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 10)
	b := burner.New(f.tables, f.network, f.ledger, burner.Config{Period: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("burner did not stop")
	}
}
