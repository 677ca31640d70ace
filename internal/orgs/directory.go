package orgs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"go.uber.org/zap"
)

var orgStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "verifier_org_state_changes_total",
	Help: "Organizations locked or unlocked by the verifier",
}, []string{"state"})

type orgEntry struct {
	mu       sync.Mutex
	payer    solana.PublicKey
	resolved bool
	locked   bool
	// gen increases on every lock so an unlock racing with it can back off.
	gen uint64
}

// DirectoryConfig bounds calls to the remote directory.
type DirectoryConfig struct {
	Timeout time.Duration
	Retry   chain.RetryPolicy
}

// Directory is the shared, immediately consistent view of organizations used
// by the verifier and the fund monitor. Remote calls go to the ConfigServer.
type Directory struct {
	server  ConfigServer
	timeout time.Duration
	retry   chain.RetryPolicy
	log     *zap.Logger

	orgs   sync.Map // uint64 -> *orgEntry
	pushes sync.WaitGroup
}

func NewDirectory(server ConfigServer, cfg DirectoryConfig, log *zap.Logger) *Directory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Directory{
		server:  server,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		log:     log.Named("orgs"),
	}
}

func (d *Directory) entry(oui uint64) *orgEntry {
	if e, ok := d.orgs.Load(oui); ok {
		return e.(*orgEntry)
	}
	e, _ := d.orgs.LoadOrStore(oui, &orgEntry{})
	return e.(*orgEntry)
}

func (d *Directory) call(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := chain.Retry(ctx, d.retry, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		err := op(callCtx)
		if errors.Is(err, ErrOrgNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

// Payer resolves the payer of an organization, asking the directory only on
// the first lookup.
func (d *Directory) Payer(ctx context.Context, oui uint64) (solana.PublicKey, error) {
	e := d.entry(oui)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return e.payer, nil
	}

	var payer solana.PublicKey
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		payer, err = d.server.FetchOrg(ctx, oui)
		return err
	})
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("fetch org %d: %w", oui, err)
	}
	e.payer = payer
	e.resolved = true
	return payer, nil
}

// IsLocked reports whether packets of the organization are refused.
func (d *Directory) IsLocked(oui uint64) bool {
	e := d.entry(oui)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

// lock marks the organization locked and reports whether it was unlocked.
func (d *Directory) lock(oui uint64) bool {
	e := d.entry(oui)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return false
	}
	e.locked = true
	e.gen++
	orgStateChanges.WithLabelValues("locked").Inc()
	d.log.Info("organization locked", zap.Uint64("oui", oui))
	return true
}

func (d *Directory) pushLock(ctx context.Context, oui uint64) error {
	if err := d.call(ctx, func(ctx context.Context) error { return d.server.DisableOrg(ctx, oui) }); err != nil {
		// Still locked here; Refresh pushes the lock again.
		return fmt.Errorf("disable org %d: %w", oui, err)
	}
	return nil
}

// DisableOrg locks the organization locally at once, then tells the
// directory. Locking a locked organization does nothing.
func (d *Directory) DisableOrg(ctx context.Context, oui uint64) error {
	if !d.lock(oui) {
		return nil
	}
	return d.pushLock(ctx, oui)
}

// LockOrg locks the organization locally at once and tells the directory in
// the background, so a slow directory never holds up the caller. Use Wait to
// block until outstanding pushes finish.
func (d *Directory) LockOrg(oui uint64) {
	if !d.lock(oui) {
		return
	}
	d.pushes.Add(1)
	go func() {
		defer d.pushes.Done()
		if err := d.pushLock(context.Background(), oui); err != nil {
			d.log.Warn("failed to push organization lock", zap.Uint64("oui", oui), zap.Error(err))
		}
	}()
}

// Wait blocks until every lock started by LockOrg has reached the directory
// or given up, or ctx is done.
func (d *Directory) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pushes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnableOrg unlocks the organization once the directory has accepted it.
// Background lock pushes finish first so none can land after the unlock.
func (d *Directory) EnableOrg(ctx context.Context, oui uint64) error {
	if err := d.Wait(ctx); err != nil {
		return fmt.Errorf("enable org %d: %w", oui, err)
	}
	e := d.entry(oui)
	e.mu.Lock()
	if !e.locked {
		e.mu.Unlock()
		return nil
	}
	gen := e.gen
	e.mu.Unlock()

	if err := d.call(ctx, func(ctx context.Context) error { return d.server.EnableOrg(ctx, oui) }); err != nil {
		return fmt.Errorf("enable org %d: %w", oui, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		// Locked again while we were talking to the directory.
		return nil
	}
	e.locked = false
	orgStateChanges.WithLabelValues("unlocked").Inc()
	d.log.Info("organization unlocked", zap.Uint64("oui", oui))
	return nil
}

// Refresh pulls every organization from the directory. Remote locks are
// adopted; a local lock the directory does not know about is pushed again.
func (d *Directory) Refresh(ctx context.Context) error {
	var orgs []domain.Org
	err := d.call(ctx, func(ctx context.Context) error {
		var err error
		orgs, err = d.server.ListOrgs(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list orgs: %w", err)
	}

	for _, org := range orgs {
		e := d.entry(org.OUI)
		e.mu.Lock()
		e.payer = org.Payer
		e.resolved = true
		repush := e.locked && !org.Locked
		if org.Locked && !e.locked {
			e.locked = true
			e.gen++
		}
		e.mu.Unlock()

		if repush {
			if err := d.pushLock(ctx, org.OUI); err != nil {
				d.log.Warn("failed to push organization lock", zap.Uint64("oui", org.OUI), zap.Error(err))
			}
		}
	}
	return nil
}

// Orgs returns every resolved organization, ordered by OUI.
func (d *Directory) Orgs() []domain.Org {
	var out []domain.Org
	d.orgs.Range(func(k, v any) bool {
		e := v.(*orgEntry)
		e.mu.Lock()
		if e.resolved {
			out = append(out, domain.Org{OUI: k.(uint64), Payer: e.payer, Locked: e.locked})
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OUI < out[j].OUI })
	return out
}
