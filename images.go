package shelfsync

import (
	"context"

	"github.com/provender/shelfsync/pkg/catalog"
)

// ImageManager handles image ingestion and lifecycle.
type ImageManager interface {
	// IngestImage stores one product image: dedup by content digest,
	// upload, thumbnail generation, registry upsert, and the slot
	// back-pointer on the item. Idempotent for identical content.
	IngestImage(ctx context.Context, itemID string, slot catalog.Slot, data []byte, filename string) (*catalog.ImageRecord, error)

	// ProductImages lists the active image records for an item.
	ProductImages(ctx context.Context, itemID string) ([]*catalog.ImageRecord, error)

	// DeleteImage removes the stored object and its variants, retires the
	// registry record, and clears the item's slot pointer.
	DeleteImage(ctx context.Context, imageID string) error
}

// IngestImage stores one product image end to end.
func (c *client) IngestImage(ctx context.Context, itemID string, slot catalog.Slot, data []byte, filename string) (*catalog.ImageRecord, error) {
	return c.engine.IngestImage(ctx, itemID, slot, data, filename)
}

// ProductImages lists the active image records for an item.
func (c *client) ProductImages(ctx context.Context, itemID string) ([]*catalog.ImageRecord, error) {
	return c.engine.ProductImages(ctx, itemID)
}

// DeleteImage removes an image and its references.
func (c *client) DeleteImage(ctx context.Context, imageID string) error {
	return c.engine.DeleteImage(ctx, imageID)
}
