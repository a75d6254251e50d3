package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// DatasetCache implements domain.DatasetCache. Datasets are immutable, so a
// cached copy is valid until its TTL lapses; there is no invalidation path.
//
// Key schema:
//
//	dataset:{id} - JSON-encoded domain.SharedDataset
type DatasetCache struct {
	c *Client
}

// NewDatasetCache creates a DatasetCache backed by the given Client.
func NewDatasetCache(c *Client) *DatasetCache {
	return &DatasetCache{c: c}
}

// Set stores ds for ttl.
func (dc *DatasetCache) Set(ctx context.Context, ds domain.SharedDataset, ttl time.Duration) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("redis: marshal dataset %s: %w", ds.ID, err)
	}
	if err := dc.c.rdb.Set(ctx, dc.c.key("dataset:", ds.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set dataset %s: %w", ds.ID, err)
	}
	return nil
}

// Get returns a cached dataset or domain.ErrNotFound on a miss.
func (dc *DatasetCache) Get(ctx context.Context, id string) (domain.SharedDataset, error) {
	data, err := dc.c.rdb.Get(ctx, dc.c.key("dataset:", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SharedDataset{}, fmt.Errorf("redis: dataset %s: %w", id, domain.ErrNotFound)
		}
		return domain.SharedDataset{}, fmt.Errorf("redis: get dataset %s: %w", id, err)
	}
	var ds domain.SharedDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return domain.SharedDataset{}, fmt.Errorf("redis: unmarshal dataset %s: %w", id, err)
	}
	return ds, nil
}

var _ domain.DatasetCache = (*DatasetCache)(nil)
