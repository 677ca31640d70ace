package orgs_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/balances"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/orgs"
	"github.com/punchamoorthee/packetverifier/internal/pending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitorUnlocksReplenishedPayer(t *testing.T) {
	ctx := context.Background()
	payer := solana.NewWallet().PublicKey()
	broke := solana.NewWallet().PublicKey()
	server := orgs.NewMemoryConfigServer()
	server.Insert(1, payer)
	server.Insert(2, payer)
	server.Insert(3, broke)

	network := chain.NewMemoryNetwork(map[solana.PublicKey]uint64{payer: 0, broke: 0})
	tables := pending.NewMemoryTables()
	ledger, err := balances.New(ctx, tables, tables, network, balances.Config{}, zap.NewNop())
	require.NoError(t, err)
	dir := orgs.NewDirectory(server, noRetry, zap.NewNop())
	monitor := orgs.NewMonitor(dir, ledger, orgs.MonitorConfig{}, zap.NewNop())

	for _, oui := range []uint64{1, 2, 3} {
		require.NoError(t, dir.DisableOrg(ctx, oui))
	}

	monitor.CheckFunds(ctx)
	assert.True(t, dir.IsLocked(1), "nothing replenished yet")

	network.SetBalance(payer, 5)
	monitor.CheckFunds(ctx)

	assert.False(t, dir.IsLocked(1))
	assert.False(t, dir.IsLocked(2))
	assert.True(t, dir.IsLocked(3))
	org, _ := server.Org(1)
	assert.False(t, org.Locked)

	account, err := ledger.PayerAccount(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), account.Balance)

	ok, err := ledger.DebitIfSufficient(ctx, payer, 5)
	require.NoError(t, err)
	assert.True(t, ok, "later packets are admitted")
}

func TestMonitorKeepsLockWhileDebtExceedsBalance(t *testing.T) {
	ctx := context.Background()
	payer := solana.NewWallet().PublicKey()
	server := orgs.NewMemoryConfigServer()
	server.Insert(1, payer)

	tables := pending.NewMemoryTables()
	require.NoError(t, tables.AddBurnedAmount(ctx, payer, 8))
	network := chain.NewMemoryNetwork(map[solana.PublicKey]uint64{payer: 8})
	ledger, err := balances.New(ctx, tables, tables, network, balances.Config{}, zap.NewNop())
	require.NoError(t, err)
	dir := orgs.NewDirectory(server, noRetry, zap.NewNop())
	require.NoError(t, dir.DisableOrg(ctx, 1))

	orgs.NewMonitor(dir, ledger, orgs.MonitorConfig{}, zap.NewNop()).CheckFunds(ctx)
	assert.True(t, dir.IsLocked(1))
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	server := orgs.NewMemoryConfigServer()
	tables := pending.NewMemoryTables()
	ledger, err := balances.New(context.Background(), tables, tables, chain.NewMemoryNetwork(nil), balances.Config{}, zap.NewNop())
	require.NoError(t, err)
	dir := orgs.NewDirectory(server, noRetry, zap.NewNop())
	monitor := orgs.NewMonitor(dir, ledger, orgs.MonitorConfig{Period: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, monitor.Run(ctx))
}
