package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// DefaultSnapshotTTL is how long a freshly created snapshot stays active.
const DefaultSnapshotTTL = time.Hour

// DatasetService creates immutable snapshots of matched events, answers
// "which snapshot is current" and manages wallet entitlements to them.
type DatasetService struct {
	datasets     domain.DatasetStore
	entitlements domain.EntitlementStore
	cache        domain.DatasetCache // optional
	audit        domain.AuditStore   // optional
	ttl          time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewDatasetService creates a DatasetService. A non-positive ttl falls back to
// DefaultSnapshotTTL. cache and audit may be nil.
func NewDatasetService(
	datasets domain.DatasetStore,
	entitlements domain.EntitlementStore,
	cache domain.DatasetCache,
	audit domain.AuditStore,
	ttl time.Duration,
	logger *slog.Logger,
) *DatasetService {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &DatasetService{
		datasets:     datasets,
		entitlements: entitlements,
		cache:        cache,
		audit:        audit,
		ttl:          ttl,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock replaces the service clock. Expiry is always evaluated against it.
func (s *DatasetService) WithClock(now func() time.Time) *DatasetService {
	s.now = now
	return s
}

// TTL returns the snapshot lifetime.
func (s *DatasetService) TTL() time.Duration { return s.ttl }

// CreateSnapshot stores a new dataset holding events. Earlier datasets are
// left untouched; the new one becomes current by virtue of being newest.
// An empty events slice produces a valid empty snapshot.
func (s *DatasetService) CreateSnapshot(ctx context.Context, runID string, events []domain.MatchedEvent) (domain.SharedDataset, error) {
	if events == nil {
		events = []domain.MatchedEvent{}
	}
	now := s.now().UTC()
	ds := domain.SharedDataset{
		ID:        uuid.NewString(),
		RunID:     runID,
		Items:     events,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.datasets.Insert(ctx, ds); err != nil {
		return domain.SharedDataset{}, fmt.Errorf("dataset_service: create snapshot: %w", err)
	}
	s.cachePut(ctx, ds)

	s.logger.InfoContext(ctx, "dataset_service: snapshot created",
		slog.String("dataset_id", ds.ID),
		slog.String("run_id", runID),
		slog.Int("items", len(events)),
		slog.Time("expires_at", ds.ExpiresAt),
	)
	return ds, nil
}

// ActiveOrLatest returns the newest dataset still active at the service
// clock. When every dataset has expired the newest one is returned with
// Stale set. With no datasets at all the error wraps domain.ErrNotFound.
func (s *DatasetService) ActiveOrLatest(ctx context.Context) (domain.CurrentDataset, error) {
	now := s.now()
	ds, err := s.datasets.LatestActive(ctx, now)
	if err == nil {
		return domain.CurrentDataset{Dataset: ds}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.CurrentDataset{}, fmt.Errorf("dataset_service: latest active: %w", err)
	}

	ds, err = s.datasets.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CurrentDataset{}, fmt.Errorf("dataset_service: no dataset has been created: %w", domain.ErrNotFound)
		}
		return domain.CurrentDataset{}, fmt.Errorf("dataset_service: latest: %w", err)
	}
	s.logger.WarnContext(ctx, "dataset_service: serving expired dataset",
		slog.String("dataset_id", ds.ID),
		slog.Time("expired_at", ds.ExpiresAt),
	)
	return domain.CurrentDataset{Dataset: ds, Stale: true}, nil
}

// Get returns a dataset by id, reading through the cache when configured.
func (s *DatasetService) Get(ctx context.Context, id string) (domain.SharedDataset, error) {
	if s.cache != nil {
		ds, err := s.cache.Get(ctx, id)
		if err == nil {
			return ds, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "dataset_service: cache read failed",
				slog.String("dataset_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	ds, err := s.datasets.Get(ctx, id)
	if err != nil {
		return domain.SharedDataset{}, fmt.Errorf("dataset_service: get %s: %w", id, err)
	}
	s.cachePut(ctx, ds)
	return ds, nil
}

// ListHeaders lists datasets without their items, newest first.
func (s *DatasetService) ListHeaders(ctx context.Context, opts domain.ListOpts) ([]domain.DatasetHeader, error) {
	hs, err := s.datasets.ListHeaders(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset_service: list: %w", err)
	}
	return hs, nil
}

// GrantAccess records that wallet may read the current dataset until that
// dataset expires. Later snapshots do not extend or shorten the grant.
func (s *DatasetService) GrantAccess(ctx context.Context, wallet, txRef string) (domain.Entitlement, domain.SharedDataset, error) {
	addr, err := NormalizeWallet(wallet)
	if err != nil {
		return domain.Entitlement{}, domain.SharedDataset{}, err
	}

	cur, err := s.ActiveOrLatest(ctx)
	if err != nil {
		return domain.Entitlement{}, domain.SharedDataset{}, err
	}

	ent := domain.Entitlement{
		ID:         uuid.NewString(),
		Wallet:     addr,
		DatasetID:  cur.Dataset.ID,
		TxRef:      strings.TrimSpace(txRef),
		GrantedAt:  s.now().UTC(),
		ValidUntil: cur.Dataset.ExpiresAt,
	}
	if err := s.entitlements.Insert(ctx, ent); err != nil {
		return domain.Entitlement{}, domain.SharedDataset{}, fmt.Errorf("dataset_service: grant access: %w", err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "entitlement.granted", map[string]any{
			"entitlement_id": ent.ID,
			"wallet":         ent.Wallet,
			"dataset_id":     ent.DatasetID,
			"tx_ref":         ent.TxRef,
			"stale":          cur.Stale,
		}); err != nil {
			s.logger.WarnContext(ctx, "dataset_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "dataset_service: access granted",
		slog.String("wallet", ent.Wallet),
		slog.String("dataset_id", ent.DatasetID),
		slog.Time("valid_until", ent.ValidUntil),
	)
	return ent, cur.Dataset, nil
}

// AccessStatus returns the newest entitlement of wallet and whether it is
// still valid at the service clock.
func (s *DatasetService) AccessStatus(ctx context.Context, wallet string) (domain.EntitlementStatus, error) {
	addr, err := NormalizeWallet(wallet)
	if err != nil {
		return domain.EntitlementStatus{}, err
	}
	ent, err := s.entitlements.LatestForWallet(ctx, addr)
	if err != nil {
		return domain.EntitlementStatus{}, fmt.Errorf("dataset_service: access status %s: %w", addr, err)
	}
	return domain.EntitlementStatus{Entitlement: ent, IsValid: ent.ValidAt(s.now())}, nil
}

// NormalizeWallet validates a 0x-prefixed 20-byte hex address and returns its
// EIP-55 checksummed form.
func NormalizeWallet(wallet string) (string, error) {
	w := strings.TrimSpace(wallet)
	if !strings.HasPrefix(w, "0x") && !strings.HasPrefix(w, "0X") {
		return "", fmt.Errorf("dataset_service: wallet %q must start with 0x: %w", wallet, domain.ErrInvalidInput)
	}
	if !common.IsHexAddress(w) {
		return "", fmt.Errorf("dataset_service: wallet %q is not a hex address: %w", wallet, domain.ErrInvalidInput)
	}
	return common.HexToAddress(w).Hex(), nil
}

func (s *DatasetService) cachePut(ctx context.Context, ds domain.SharedDataset) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, ds, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "dataset_service: cache write failed",
			slog.String("dataset_id", ds.ID),
			slog.String("error", err.Error()),
		)
	}
}
