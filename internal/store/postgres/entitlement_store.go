package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// EntitlementStore implements domain.EntitlementStore using PostgreSQL.
type EntitlementStore struct {
	pool *pgxpool.Pool
}

// NewEntitlementStore creates a new EntitlementStore backed by the given connection pool.
func NewEntitlementStore(pool *pgxpool.Pool) *EntitlementStore {
	return &EntitlementStore{pool: pool}
}

// Insert stores a grant.
func (s *EntitlementStore) Insert(ctx context.Context, e domain.Entitlement) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dataset_entitlements (id, wallet, dataset_id, tx_ref, granted_at, valid_until)
		VALUES ($1::uuid, $2, $3::uuid, $4, $5, $6)`,
		e.ID, e.Wallet, e.DatasetID, e.TxRef, e.GrantedAt, e.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert entitlement for %s: %w", e.Wallet, err)
	}
	return nil
}

// LatestForWallet returns the most recent grant for wallet.
func (s *EntitlementStore) LatestForWallet(ctx context.Context, wallet string) (domain.Entitlement, error) {
	var e domain.Entitlement
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, wallet, dataset_id::text, tx_ref, granted_at, valid_until
		FROM dataset_entitlements
		WHERE wallet = $1
		ORDER BY granted_at DESC
		LIMIT 1`, wallet,
	).Scan(&e.ID, &e.Wallet, &e.DatasetID, &e.TxRef, &e.GrantedAt, &e.ValidUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entitlement{}, fmt.Errorf("postgres: entitlement for %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.Entitlement{}, fmt.Errorf("postgres: get entitlement for %s: %w", wallet, err)
	}
	return e, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
