package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
)

// Catalog persists catalog items. All writes funnel through Tx so a sync
// batch commits atomically.
type Catalog struct {
	db *DB
}

// NewCatalog creates the catalog accessor.
func NewCatalog(db *DB) *Catalog {
	return &Catalog{db: db}
}

const itemColumns = `item_id, name, category_primary, category_secondary,
	price_normal, price_discount, discount_rate, currency,
	origin_country, origin_province, origin_city, platform,
	specification, flavor, manufacturer, notes,
	images, collected_at, status, visible, updated_at`

// Tx wraps a database transaction scoped to catalog writes. A failed
// statement inside the transaction does not poison later statements, which
// is what lets batch apply isolate per-item failures.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil return and rolling
// back otherwise.
func (c *Catalog) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := c.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Upsert writes an item inside the transaction, inserting or replacing by ID.
func (t *Tx) Upsert(ctx context.Context, item *catalog.Item) error {
	return upsertItem(ctx, t.tx, item)
}

// SoftDelete marks an item deleted and invisible without removing the row.
// Deleting an already-deleted or missing item is a no-op.
func (t *Tx) SoftDelete(ctx context.Context, itemID string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE catalog_items SET status = ?, visible = 0, updated_at = ? WHERE item_id = ?`,
		string(catalog.StatusDeleted), formatTime(now), itemID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete item %s: %w", itemID, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertItem(ctx context.Context, ex execer, item *catalog.Item) error {
	if item.ID == "" {
		return errors.NewValidationError("item_id", "", "item ID must not be empty")
	}

	images, err := json.Marshal(item.Images)
	if err != nil {
		return fmt.Errorf("failed to encode image refs for %s: %w", item.ID, err)
	}

	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	status := item.Status
	if status == "" {
		status = catalog.StatusActive
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO catalog_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			category_primary = excluded.category_primary,
			category_secondary = excluded.category_secondary,
			price_normal = excluded.price_normal,
			price_discount = excluded.price_discount,
			discount_rate = excluded.discount_rate,
			currency = excluded.currency,
			origin_country = excluded.origin_country,
			origin_province = excluded.origin_province,
			origin_city = excluded.origin_city,
			platform = excluded.platform,
			specification = excluded.specification,
			flavor = excluded.flavor,
			manufacturer = excluded.manufacturer,
			notes = excluded.notes,
			images = excluded.images,
			collected_at = excluded.collected_at,
			status = excluded.status,
			visible = excluded.visible,
			updated_at = excluded.updated_at`,
		item.ID, item.Name, item.Category.Primary, item.Category.Secondary,
		item.Price.Normal, item.Price.Discount, item.Price.DiscountRate, item.Price.Currency,
		item.Origin.Country, item.Origin.Province, item.Origin.City, item.Platform,
		item.Attributes.Specification, item.Attributes.Flavor, item.Attributes.Manufacturer, item.Attributes.Notes,
		string(images), formatTime(item.CollectedAt), string(status), boolInt(item.Visible), formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

// Upsert writes an item outside any batch transaction.
func (c *Catalog) Upsert(ctx context.Context, item *catalog.Item) error {
	return upsertItem(ctx, c.db.conn, item)
}

// Get fetches one item by ID, soft-deleted items included.
func (c *Catalog) Get(ctx context.Context, itemID string) (*catalog.Item, error) {
	row := c.db.conn.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE item_id = ?`, itemID)

	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("item", itemID)
		}
		return nil, fmt.Errorf("failed to get item %s: %w", itemID, err)
	}
	return item, nil
}

// ListActive returns every active item keyed by ID.
func (c *Catalog) ListActive(ctx context.Context) (map[string]*catalog.Item, error) {
	return c.list(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE status = ?`,
		string(catalog.StatusActive))
}

// ListAll returns every item, soft-deleted ones included, keyed by ID.
func (c *Catalog) ListAll(ctx context.Context) (map[string]*catalog.Item, error) {
	return c.list(ctx, `SELECT `+itemColumns+` FROM catalog_items`)
}

// ListByIDs returns the items matching the given IDs. Missing IDs are simply
// absent from the result.
func (c *Catalog) ListByIDs(ctx context.Context, ids []string) (map[string]*catalog.Item, error) {
	if len(ids) == 0 {
		return map[string]*catalog.Item{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return c.list(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE item_id IN (`+placeholders+`)`,
		args...)
}

// SetImageRef points the item's slot at a stored image.
func (c *Catalog) SetImageRef(ctx context.Context, itemID string, slot catalog.Slot, ref catalog.ImageRef) error {
	return c.updateImages(ctx, itemID, func(item *catalog.Item) {
		item.SetImageRef(slot, ref)
	})
}

// ClearImageRef empties the item's slot.
func (c *Catalog) ClearImageRef(ctx context.Context, itemID string, slot catalog.Slot) error {
	return c.updateImages(ctx, itemID, func(item *catalog.Item) {
		item.ClearImageRef(slot)
	})
}

func (c *Catalog) updateImages(ctx context.Context, itemID string, mutate func(*catalog.Item)) error {
	item, err := c.Get(ctx, itemID)
	if err != nil {
		return err
	}

	mutate(item)

	images, err := json.Marshal(item.Images)
	if err != nil {
		return fmt.Errorf("failed to encode image refs for %s: %w", itemID, err)
	}

	_, err = c.db.conn.ExecContext(ctx,
		`UPDATE catalog_items SET images = ?, updated_at = ? WHERE item_id = ?`,
		string(images), formatTime(time.Now()), itemID)
	if err != nil {
		return fmt.Errorf("failed to update image refs for %s: %w", itemID, err)
	}
	return nil
}

// Count returns the number of items with the given status.
func (c *Catalog) Count(ctx context.Context, status catalog.Status) (int, error) {
	var n int
	err := c.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_items WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func (c *Catalog) list(ctx context.Context, query string, args ...any) (map[string]*catalog.Item, error) {
	rows, err := c.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]*catalog.Item)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*catalog.Item, error) {
	var (
		item        catalog.Item
		images      string
		collectedAt string
		status      string
		visible     int
		updatedAt   string
	)

	err := row.Scan(
		&item.ID, &item.Name, &item.Category.Primary, &item.Category.Secondary,
		&item.Price.Normal, &item.Price.Discount, &item.Price.DiscountRate, &item.Price.Currency,
		&item.Origin.Country, &item.Origin.Province, &item.Origin.City, &item.Platform,
		&item.Attributes.Specification, &item.Attributes.Flavor, &item.Attributes.Manufacturer, &item.Attributes.Notes,
		&images, &collectedAt, &status, &visible, &updatedAt)
	if err != nil {
		return nil, err
	}

	if images != "" && images != "{}" && images != "null" {
		if err := json.Unmarshal([]byte(images), &item.Images); err != nil {
			return nil, fmt.Errorf("failed to decode image refs for %s: %w", item.ID, err)
		}
	}

	item.CollectedAt = parseTime(collectedAt)
	item.Status = catalog.Status(status)
	item.Visible = visible != 0
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
