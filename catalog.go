package shelfsync

import (
	"context"
	"sort"

	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/pkg/catalog"
)

// Cataloger reads and seeds catalog items directly, bypassing the source.
type Cataloger interface {
	// Item fetches one item by ID, soft-deleted items included.
	Item(ctx context.Context, itemID string) (*catalog.Item, error)

	// Items lists all active items sorted by ID.
	Items(ctx context.Context) ([]*catalog.Item, error)

	// SeedItems upserts items directly into the catalog. Intended for
	// bootstrapping from an export; normal ingestion goes through Sync.
	SeedItems(ctx context.Context, items []*catalog.Item) error
}

// Item fetches one item by ID.
func (c *client) Item(ctx context.Context, itemID string) (*catalog.Item, error) {
	return c.catalog.Get(ctx, itemID)
}

// Items lists all active items sorted by ID.
func (c *client) Items(ctx context.Context) ([]*catalog.Item, error) {
	byID, err := c.catalog.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*catalog.Item, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// SeedItems upserts items directly into the catalog.
func (c *client) SeedItems(ctx context.Context, items []*catalog.Item) error {
	return c.catalog.WithTx(ctx, func(tx *store.Tx) error {
		for _, item := range items {
			if err := tx.Upsert(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}
