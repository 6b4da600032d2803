package engine

import (
	"context"
	"path"
	"time"

	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/internal/thumbnail"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
)

// IngestImage stores an image for an item slot: digest, dedup check, object
// upload, thumbnail fan-out, registry upsert, and item reference update.
// Ingesting identical bytes into an occupied slot is a no-op returning the
// existing record; different bytes replace the slot's object at the same
// logical path.
func (e *Engine) IngestImage(ctx context.Context, itemID string, slot catalog.Slot, data []byte, filename string) (*catalog.ImageRecord, error) {
	if !slot.Valid() {
		return nil, errors.NewIngestError(itemID, string(slot), "validate", errors.ErrInvalidImageType)
	}
	if len(data) == 0 {
		return nil, errors.NewIngestError(itemID, string(slot), "validate",
			errors.NewValidationError("data", "", "image payload is empty"))
	}

	ctx = logging.WithItem(ctx, itemID)
	ctx = logging.WithSlot(ctx, string(slot))
	ctx = logging.WithOperation(ctx, "ingest")

	item, err := e.catalog.Get(ctx, itemID)
	if err != nil {
		return nil, errors.NewIngestError(itemID, string(slot), "validate", err)
	}

	digest := blob.ComputeDigest(data)

	// Identical bytes already in the slot: idempotent success.
	if existing, err := e.images.FindByDigest(ctx, itemID, slot, digest.SHA256); err == nil {
		if existing.FileExists {
			logging.Ctx(ctx).Debug().Msg("Identical image already ingested, skipping")
			return existing, nil
		}
	} else if !errors.IsNotFound(err) {
		return nil, errors.NewIngestError(itemID, string(slot), "dedup", err)
	}

	img, format, err := thumbnail.Decode(data)
	if err != nil {
		return nil, errors.NewIngestError(itemID, string(slot), "decode", err)
	}

	objectPath := blob.ObjectPath(item.Category.Primary, itemID, slot, path.Ext(filename))
	meta := blob.Metadata{
		OriginalFilename: filename,
		SHA256:           digest.SHA256,
		MD5:              digest.MD5,
		ContentType:      mimeType(format),
	}
	if err := e.blobs.Put(ctx, objectPath, data, meta); err != nil {
		return nil, errors.NewIngestError(itemID, string(slot), "upload", err)
	}

	variants := e.uploadThumbnails(ctx, item.Category.Primary, itemID, slot, data)

	now := time.Now().UTC()
	rec := &catalog.ImageRecord{
		ItemID:        itemID,
		Slot:          slot,
		ObjectPath:    objectPath,
		ContentDigest: digest.SHA256,
		DigestMD5:     digest.MD5,
		MimeType:      mimeType(format),
		ByteSize:      int64(len(data)),
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		Variants:      variants,
		Active:        true,
		ProductExists: true,
		FileExists:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	stored, err := e.images.Upsert(ctx, rec)
	if err != nil {
		return nil, errors.NewIngestError(itemID, string(slot), "register", err)
	}

	if err := e.catalog.SetImageRef(ctx, itemID, slot, stored.Ref()); err != nil {
		return nil, errors.NewIngestError(itemID, string(slot), "register", err)
	}

	logging.Ctx(ctx).Info().
		Str("path", objectPath).
		Int("variants", len(variants)).
		Msg("Image ingested")
	return stored, nil
}

// uploadThumbnails generates and uploads every configured variant. A failed
// variant is logged and omitted; the original is already stored.
func (e *Engine) uploadThumbnails(ctx context.Context, category, itemID string, slot catalog.Slot, original []byte) []catalog.Variant {
	renditions, err := e.thumbs.Generate(ctx, original)
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Msg("Thumbnail generation failed, keeping original only")
		return nil
	}

	var variants []catalog.Variant
	for _, r := range renditions {
		thumbPath := blob.ThumbnailPath(category, itemID, slot, r.SizeName, thumbnail.OutputExt)
		digest := blob.ComputeDigest(r.Data)

		err := e.blobs.Put(ctx, thumbPath, r.Data, blob.Metadata{
			SHA256:      digest.SHA256,
			MD5:         digest.MD5,
			ContentType: "image/jpeg",
		})
		if err != nil {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("path", thumbPath).
				Msg("Thumbnail upload failed, skipping variant")
			continue
		}

		variants = append(variants, catalog.Variant{
			SizeName: r.SizeName,
			Path:     thumbPath,
			Width:    r.Width,
			Height:   r.Height,
		})
	}
	return variants
}

// ProductImages lists the active image records of an item and bumps each
// record's access counter. A failed bump does not fail the listing.
func (e *Engine) ProductImages(ctx context.Context, itemID string) ([]*catalog.ImageRecord, error) {
	if _, err := e.catalog.Get(ctx, itemID); err != nil {
		return nil, err
	}

	recs, err := e.images.ByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := e.images.IncrementAccess(ctx, rec.ImageID); err != nil {
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("image", rec.ImageID).
				Msg("Failed to bump image access count")
			continue
		}
		rec.AccessCount++
	}
	return recs, nil
}

// DeleteImage removes an image: objects first (original, then variants),
// registry soft-delete after, so a failure partway leaves a record that
// still points at reality. The item's slot reference is cleared when it
// points at this image.
func (e *Engine) DeleteImage(ctx context.Context, imageID string) error {
	rec, err := e.images.Get(ctx, imageID)
	if err != nil {
		return err
	}
	ctx = logging.WithItem(ctx, rec.ItemID)
	ctx = logging.WithSlot(ctx, string(rec.Slot))
	ctx = logging.WithOperation(ctx, "delete")

	if err := e.blobs.Delete(ctx, rec.ObjectPath); err != nil {
		return errors.WrapResource("delete", "image object", rec.ObjectPath, err)
	}
	for _, v := range rec.Variants {
		if err := e.blobs.Delete(ctx, v.Path); err != nil {
			return errors.WrapResource("delete", "image variant", v.Path, err)
		}
	}

	if err := e.images.Deactivate(ctx, imageID); err != nil {
		return err
	}

	item, err := e.catalog.Get(ctx, rec.ItemID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if ref, ok := item.ImageRef(rec.Slot); ok && ref.ImageID == imageID {
		if err := e.catalog.ClearImageRef(ctx, rec.ItemID, rec.Slot); err != nil {
			return err
		}
	}

	logging.Ctx(ctx).Info().
		Str("image", imageID).
		Msg("Image deleted")
	return nil
}

// mimeType maps a decoded image format to its content type.
func mimeType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
