package orgs

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"go.uber.org/zap"
)

// BalanceRefresher re-reads a payer's balance into the balance ledger.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context, payer solana.PublicKey) (domain.PayerAccount, error)
}

// MonitorConfig controls the fund monitor loop.
type MonitorConfig struct {
	Period           time.Duration
	IterationTimeout time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Period:           5 * time.Minute,
		IterationTimeout: 2 * time.Minute,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = d.IterationTimeout
	}
	return c
}

// Monitor reopens organizations whose payer has been replenished.
type Monitor struct {
	dir      *Directory
	balances BalanceRefresher
	cfg      MonitorConfig
	log      *zap.Logger
}

func NewMonitor(dir *Directory, balances BalanceRefresher, cfg MonitorConfig, log *zap.Logger) *Monitor {
	return &Monitor{
		dir:      dir,
		balances: balances,
		cfg:      cfg.withDefaults(),
		log:      log.Named("fund_monitor"),
	}
}

// Run checks funds immediately and then on every period until ctx is
// cancelled. A check in progress at cancellation runs to completion.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.IterationTimeout)
		m.CheckFunds(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CheckFunds refreshes every known payer and unlocks the organizations of
// payers whose balance now exceeds what they owe.
func (m *Monitor) CheckFunds(ctx context.Context) {
	if err := m.dir.Refresh(ctx); err != nil {
		m.log.Warn("directory refresh failed, using cached organizations", zap.Error(err))
	}

	byPayer := make(map[solana.PublicKey][]domain.Org)
	for _, org := range m.dir.Orgs() {
		byPayer[org.Payer] = append(byPayer[org.Payer], org)
	}

	for payer, orgs := range byPayer {
		account, err := m.balances.RefreshBalance(ctx, payer)
		if err != nil {
			m.log.Warn("failed to refresh payer balance", zap.Stringer("payer", payer), zap.Error(err))
			continue
		}
		if account.Balance <= account.Burned {
			continue
		}
		for _, org := range orgs {
			if !org.Locked {
				continue
			}
			if err := m.dir.EnableOrg(ctx, org.OUI); err != nil {
				m.log.Warn("failed to unlock organization", zap.Uint64("oui", org.OUI), zap.Error(err))
				continue
			}
			m.log.Info("payer replenished, organization unlocked",
				zap.Uint64("oui", org.OUI),
				zap.Stringer("payer", payer),
				zap.Uint64("balance", account.Balance),
				zap.Uint64("burned", account.Burned))
		}
	}
}
