package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/orgs"
)

// OrgDirectory serves the organization directory from the organizations table.
type OrgDirectory struct {
	store *Store
}

func NewOrgDirectory(s *Store) *OrgDirectory {
	return &OrgDirectory{store: s}
}

func (d *OrgDirectory) FetchOrg(ctx context.Context, oui uint64) (solana.PublicKey, error) {
	var payer string
	err := d.store.Db.QueryRow(ctx, "SELECT payer FROM organizations WHERE oui = $1", int64(oui)).Scan(&payer)
	if errors.Is(err, pgx.ErrNoRows) {
		return solana.PublicKey{}, fmt.Errorf("%w: %d", orgs.ErrOrgNotFound, oui)
	}
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("fetch org: %w", err)
	}
	key, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("org %d payer %q: %w", oui, payer, err)
	}
	return key, nil
}

func (d *OrgDirectory) ListOrgs(ctx context.Context) ([]domain.Org, error) {
	rows, err := d.store.Db.Query(ctx, "SELECT oui, payer, locked FROM organizations ORDER BY oui")
	if err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	defer rows.Close()

	var out []domain.Org
	for rows.Next() {
		var (
			oui    int64
			payer  string
			locked bool
		)
		if err := rows.Scan(&oui, &payer, &locked); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(payer)
		if err != nil {
			// One bad row must not hide the rest of the directory.
			continue
		}
		out = append(out, domain.Org{OUI: uint64(oui), Payer: key, Locked: locked})
	}
	return out, rows.Err()
}

func (d *OrgDirectory) EnableOrg(ctx context.Context, oui uint64) error {
	return d.setLocked(ctx, oui, false)
}

func (d *OrgDirectory) DisableOrg(ctx context.Context, oui uint64) error {
	return d.setLocked(ctx, oui, true)
}

func (d *OrgDirectory) setLocked(ctx context.Context, oui uint64, locked bool) error {
	tag, err := d.store.Db.Exec(ctx, "UPDATE organizations SET locked = $2 WHERE oui = $1", int64(oui), locked)
	if err != nil {
		return fmt.Errorf("set org locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", orgs.ErrOrgNotFound, oui)
	}
	return nil
}

var _ orgs.ConfigServer = (*OrgDirectory)(nil)
