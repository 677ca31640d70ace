// Package orgs caches the organization directory: which payer backs each
// organization and whether the organization is admitted.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/domain"
)

var ErrOrgNotFound = errors.New("orgs: organization not found")

// ConfigServer is the external organization directory.
type ConfigServer interface {
	FetchOrg(ctx context.Context, oui uint64) (solana.PublicKey, error)
	ListOrgs(ctx context.Context) ([]domain.Org, error)
	EnableOrg(ctx context.Context, oui uint64) error
	DisableOrg(ctx context.Context, oui uint64) error
}

// MemoryConfigServer is an in-process directory for development and tests.
type MemoryConfigServer struct {
	mu   sync.Mutex
	orgs map[uint64]domain.Org
}

func NewMemoryConfigServer() *MemoryConfigServer {
	return &MemoryConfigServer{orgs: make(map[uint64]domain.Org)}
}

// Insert adds an enabled organization.
func (m *MemoryConfigServer) Insert(oui uint64, payer solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[oui] = domain.Org{OUI: oui, Payer: payer}
}

// Org returns the directory's record of an organization.
func (m *MemoryConfigServer) Org(oui uint64) (domain.Org, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[oui]
	return org, ok
}

func (m *MemoryConfigServer) FetchOrg(_ context.Context, oui uint64) (solana.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[oui]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("%w: %d", ErrOrgNotFound, oui)
	}
	return org.Payer, nil
}

func (m *MemoryConfigServer) ListOrgs(_ context.Context) ([]domain.Org, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Org, 0, len(m.orgs))
	for _, org := range m.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OUI < out[j].OUI })
	return out, nil
}

func (m *MemoryConfigServer) EnableOrg(_ context.Context, oui uint64) error {
	return m.setLocked(oui, false)
}

func (m *MemoryConfigServer) DisableOrg(_ context.Context, oui uint64) error {
	return m.setLocked(oui, true)
}

func (m *MemoryConfigServer) setLocked(oui uint64, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[oui]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrgNotFound, oui)
	}
	org.Locked = locked
	m.orgs[oui] = org
	return nil
}
