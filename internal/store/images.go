package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
)

// Images persists the image registry. One row per (item, slot); re-ingesting
// a slot updates the existing row in place and keeps its image ID stable.
type Images struct {
	db *DB
}

// NewImages creates the image registry accessor.
func NewImages(db *DB) *Images {
	return &Images{db: db}
}

const imageColumns = `image_id, item_id, slot, object_path, content_digest,
	digest_md5, mime_type, byte_size, width, height, variants,
	active, product_exists, file_exists, access_count, created_at, updated_at`

// Upsert inserts or replaces the record for (ItemID, Slot). On replace the
// existing image ID and creation time survive; everything else follows the
// new record. A missing ImageID is assigned. Returns the stored record.
func (s *Images) Upsert(ctx context.Context, rec *catalog.ImageRecord) (*catalog.ImageRecord, error) {
	if rec.ItemID == "" {
		return nil, errors.NewValidationError("item_id", "", "image record requires an item ID")
	}
	if !rec.Slot.Valid() {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidImageType, rec.Slot)
	}

	stored := *rec
	now := time.Now().UTC()
	stored.UpdatedAt = now

	existing, err := s.BySlot(ctx, stored.ItemID, stored.Slot)
	switch {
	case err == nil:
		stored.ImageID = existing.ImageID
		stored.CreatedAt = existing.CreatedAt
	case errors.IsNotFound(err):
		if stored.ImageID == "" {
			stored.ImageID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
	default:
		return nil, err
	}

	variants, err := json.Marshal(stored.Variants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variants for %s: %w", stored.ImageID, err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO image_records (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, slot) DO UPDATE SET
			object_path = excluded.object_path,
			content_digest = excluded.content_digest,
			digest_md5 = excluded.digest_md5,
			mime_type = excluded.mime_type,
			byte_size = excluded.byte_size,
			width = excluded.width,
			height = excluded.height,
			variants = excluded.variants,
			active = excluded.active,
			product_exists = excluded.product_exists,
			file_exists = excluded.file_exists,
			updated_at = excluded.updated_at`,
		stored.ImageID, stored.ItemID, string(stored.Slot), stored.ObjectPath, stored.ContentDigest,
		stored.DigestMD5, stored.MimeType, stored.ByteSize, stored.Width, stored.Height, string(variants),
		boolInt(stored.Active), boolInt(stored.ProductExists), boolInt(stored.FileExists),
		stored.AccessCount, formatTime(stored.CreatedAt), formatTime(stored.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert image record for %s/%s: %w", stored.ItemID, stored.Slot, err)
	}
	return &stored, nil
}

// Get fetches one record by image ID.
func (s *Images) Get(ctx context.Context, imageID string) (*catalog.ImageRecord, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM image_records WHERE image_id = ?`, imageID)

	rec, err := scanImage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("image", imageID)
		}
		return nil, fmt.Errorf("failed to get image %s: %w", imageID, err)
	}
	return rec, nil
}

// BySlot fetches the record occupying (itemID, slot), active or not.
func (s *Images) BySlot(ctx context.Context, itemID string, slot catalog.Slot) (*catalog.ImageRecord, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM image_records WHERE item_id = ? AND slot = ?`,
		itemID, string(slot))

	rec, err := scanImage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("image", itemID+"/"+string(slot))
		}
		return nil, fmt.Errorf("failed to get image for %s/%s: %w", itemID, slot, err)
	}
	return rec, nil
}

// FindByDigest locates the record for (itemID, slot) whose content digest
// matches, active records only. This is the ingestion dedup lookup.
func (s *Images) FindByDigest(ctx context.Context, itemID string, slot catalog.Slot, digest string) (*catalog.ImageRecord, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT `+imageColumns+` FROM image_records
		WHERE item_id = ? AND slot = ? AND content_digest = ? AND active = 1`,
		itemID, string(slot), digest)

	rec, err := scanImage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("image", itemID+"/"+string(slot))
		}
		return nil, fmt.Errorf("failed to find image by digest for %s/%s: %w", itemID, slot, err)
	}
	return rec, nil
}

// ByItem returns the active records of one item ordered by slot.
func (s *Images) ByItem(ctx context.Context, itemID string) ([]*catalog.ImageRecord, error) {
	return s.listImages(ctx, `
		SELECT `+imageColumns+` FROM image_records
		WHERE item_id = ? AND active = 1 ORDER BY slot`, itemID)
}

// ListActive returns every active record. The consistency validator
// cross-checks exactly this set; retired records stay out of scope.
func (s *Images) ListActive(ctx context.Context) ([]*catalog.ImageRecord, error) {
	return s.listImages(ctx, `
		SELECT `+imageColumns+` FROM image_records
		WHERE active = 1 ORDER BY item_id, slot`)
}

// Deactivate soft-deletes a record. The row survives so history and dedup
// state remain inspectable.
func (s *Images) Deactivate(ctx context.Context, imageID string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE image_records SET active = 0, updated_at = ? WHERE image_id = ?`,
		formatTime(time.Now()), imageID)
	if err != nil {
		return fmt.Errorf("failed to deactivate image %s: %w", imageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("image", imageID)
	}
	return nil
}

// SetFlags corrects the cached cross-store existence flags in place.
func (s *Images) SetFlags(ctx context.Context, imageID string, productExists, fileExists bool) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE image_records SET product_exists = ?, file_exists = ?, updated_at = ?
		WHERE image_id = ?`,
		boolInt(productExists), boolInt(fileExists), formatTime(time.Now()), imageID)
	if err != nil {
		return fmt.Errorf("failed to update flags for image %s: %w", imageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("image", imageID)
	}
	return nil
}

// IncrementAccess bumps the access counter for usage tracking.
func (s *Images) IncrementAccess(ctx context.Context, imageID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE image_records SET access_count = access_count + 1 WHERE image_id = ?`,
		imageID)
	if err != nil {
		return fmt.Errorf("failed to increment access count for %s: %w", imageID, err)
	}
	return nil
}

// DeleteRecord removes a registry row outright. Reserved for consistency
// repair, where object deletion has already happened.
func (s *Images) DeleteRecord(ctx context.Context, imageID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM image_records WHERE image_id = ?`, imageID)
	if err != nil {
		return fmt.Errorf("failed to delete image record %s: %w", imageID, err)
	}
	return nil
}

func (s *Images) listImages(ctx context.Context, query string, args ...any) ([]*catalog.ImageRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list image records: %w", err)
	}
	defer rows.Close()

	var recs []*catalog.ImageRecord
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image records: %w", err)
	}
	return recs, nil
}

func scanImage(row rowScanner) (*catalog.ImageRecord, error) {
	var (
		rec           catalog.ImageRecord
		slot          string
		variants      string
		active        int
		productExists int
		fileExists    int
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&rec.ImageID, &rec.ItemID, &slot, &rec.ObjectPath, &rec.ContentDigest,
		&rec.DigestMD5, &rec.MimeType, &rec.ByteSize, &rec.Width, &rec.Height, &variants,
		&active, &productExists, &fileExists, &rec.AccessCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if variants != "" && variants != "[]" && variants != "null" {
		if err := json.Unmarshal([]byte(variants), &rec.Variants); err != nil {
			return nil, fmt.Errorf("failed to decode variants for %s: %w", rec.ImageID, err)
		}
	}

	rec.Slot = catalog.Slot(slot)
	rec.Active = active != 0
	rec.ProductExists = productExists != 0
	rec.FileExists = fileExists != 0
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
