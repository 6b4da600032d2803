package catalog

import (
	"time"
)

// Variant describes one derived thumbnail of an original image.
type Variant struct {
	SizeName string `json:"size_name" yaml:"size_name"` // "small", "medium", "large"
	Path     string `json:"path" yaml:"path"`           // Object storage path of the variant
	Width    int    `json:"width" yaml:"width"`
	Height   int    `json:"height" yaml:"height"`
}

// ImageRecord is the registry entry for one stored image. The composite
// (ItemID, Slot) is unique per active record; ContentDigest is the dedup key
// within that composite.
type ImageRecord struct {
	ImageID string `json:"image_id" yaml:"image_id"`
	ItemID  string `json:"item_id" yaml:"item_id"`
	Slot    Slot   `json:"slot" yaml:"slot"`

	ObjectPath    string `json:"object_path" yaml:"object_path"`
	ContentDigest string `json:"content_digest" yaml:"content_digest"` // SHA-256, hex
	DigestMD5     string `json:"digest_md5,omitempty" yaml:"digest_md5,omitempty"`
	MimeType      string `json:"mime_type" yaml:"mime_type"`
	ByteSize      int64  `json:"byte_size" yaml:"byte_size"`
	Width         int    `json:"width" yaml:"width"`
	Height        int    `json:"height" yaml:"height"`

	// Variants lists successfully generated thumbnails, possibly fewer than
	// the configured sizes when individual generations failed.
	Variants []Variant `json:"variants,omitempty" yaml:"variants,omitempty"`

	Active bool `json:"active" yaml:"active"`

	// Cached cross-store existence flags maintained by the consistency
	// validator.
	ProductExists bool `json:"product_exists" yaml:"product_exists"`
	FileExists    bool `json:"file_exists" yaml:"file_exists"`

	AccessCount int64 `json:"access_count" yaml:"access_count"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Ref returns the item-side reference for this record.
func (r *ImageRecord) Ref() ImageRef {
	return ImageRef{ImageID: r.ImageID, Path: r.ObjectPath}
}

// Variant finds a generated variant by size name.
func (r *ImageRecord) Variant(sizeName string) (Variant, bool) {
	for _, v := range r.Variants {
		if v.SizeName == sizeName {
			return v, true
		}
	}
	return Variant{}, false
}
