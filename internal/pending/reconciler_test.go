package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSettler struct {
	mu      sync.Mutex
	settled map[solana.PublicKey]uint64
	calls   int
}

func (s *recordingSettler) Settle(_ context.Context, payer solana.PublicKey, amount uint64) (domain.PayerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled == nil {
		s.settled = make(map[solana.PublicKey]uint64)
	}
	s.settled[payer] += amount
	s.calls++
	return domain.PayerAccount{}, nil
}

type reconcilerFixture struct {
	tables  *MemoryTables
	network *chain.MemoryNetwork
	settler *recordingSettler
	rec     *Reconciler
	payer   solana.PublicKey
}

func newReconcilerFixture(t *testing.T, cfg ReconcilerConfig) *reconcilerFixture {
	t.Helper()
	payer := solana.NewWallet().PublicKey()
	f := &reconcilerFixture{
		tables:  NewMemoryTables(),
		network: chain.NewMemoryNetwork(map[solana.PublicKey]uint64{payer: 10}),
		settler: &recordingSettler{},
		payer:   payer,
	}
	f.network.HoldConfirmations(true)
	f.rec = NewReconciler(f.tables, f.network, f.settler, cfg, zap.NewNop())
	return f
}

// submit records a burn of amount and submits it, the way the burner does.
func (f *reconcilerFixture) submit(t *testing.T, amount uint64, submittedAt time.Time) solana.Signature {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.tables.AddBurnedAmount(ctx, f.payer, amount))
	txn, err := f.network.MakeBurnTransaction(ctx, f.payer, amount)
	require.NoError(t, err)
	require.NoError(t, f.tables.AddPendingTransaction(ctx, f.payer, amount, txn.Signature, submittedAt))
	require.NoError(t, f.network.SubmitTransaction(ctx, txn))
	return txn.Signature
}

func TestReconcileRetiresConfirmedOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, DefaultReconcilerConfig())
	sig := f.submit(t, 4, time.Now())

	require.NoError(t, f.rec.Reconcile(ctx))
	assert.Equal(t, uint64(4), f.tables.PendingBurn(f.payer), "unconfirmed burn stays pending")
	assert.Equal(t, 0, f.settler.calls)

	require.NoError(t, f.network.Confirm(sig))
	require.NoError(t, f.rec.Reconcile(ctx))
	require.NoError(t, f.rec.Reconcile(ctx))

	assert.Equal(t, uint64(0), f.tables.PendingBurn(f.payer))
	assert.Equal(t, 1, f.settler.calls)
	assert.Equal(t, uint64(4), f.settler.settled[f.payer])

	txns, err := f.tables.ListPendingTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestReconcileConcurrentPassesRetireOnce(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, DefaultReconcilerConfig())
	sig := f.submit(t, 4, time.Now())
	require.NoError(t, f.network.Confirm(sig))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.rec.Reconcile(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(0), f.tables.PendingBurn(f.payer))
	assert.Equal(t, 1, f.settler.calls)
}

func TestReconcileFailedKeepsBurnForResubmission(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, DefaultReconcilerConfig())
	sig := f.submit(t, 4, time.Now())
	require.NoError(t, f.network.Reject(sig))

	require.NoError(t, f.rec.Reconcile(ctx))

	assert.Equal(t, uint64(4), f.tables.PendingBurn(f.payer))
	assert.Equal(t, 0, f.settler.calls)
	unsettled, err := f.tables.ListUnsettledBurns(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, uint64(4), unsettled[0].Amount)
}

func TestReconcileDropsExpired(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, ReconcilerConfig{TxExpiry: time.Minute})
	f.submit(t, 4, time.Now().Add(-time.Hour))
	fresh := f.submit(t, 2, time.Now())

	require.NoError(t, f.rec.Reconcile(ctx))

	txns, err := f.tables.ListPendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, fresh, txns[0].Signature)
	assert.Equal(t, uint64(6), f.tables.PendingBurn(f.payer))
}

func TestReconcileWithoutExpiryWaitsForever(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, ReconcilerConfig{})
	f.rec.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	f.submit(t, 4, time.Now())

	require.NoError(t, f.rec.Reconcile(ctx))

	txns, err := f.tables.ListPendingTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	f := newReconcilerFixture(t, ReconcilerConfig{Period: time.Hour})
	sig := f.submit(t, 4, time.Now())
	require.NoError(t, f.network.Confirm(sig))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.rec.Run(ctx))

	// The startup pass still ran to completion.
	assert.Equal(t, uint64(0), f.tables.PendingBurn(f.payer))
}
