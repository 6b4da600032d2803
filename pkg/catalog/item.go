// Package catalog defines the domain types shared across the shelfsync system:
// catalog items, image slots and records, and sync run audit records.
package catalog

import (
	"time"
)

// Status represents the lifecycle state of a catalog item.
type Status string

const (
	// StatusActive marks an item present in the external source.
	StatusActive Status = "active"
	// StatusDeleted marks an item soft-deleted after disappearing from the source.
	StatusDeleted Status = "deleted"
)

// Category holds the two-level source categorization of an item.
type Category struct {
	Primary   string `json:"primary" yaml:"primary"`
	Secondary string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// Price holds the pricing fields collected from the source.
type Price struct {
	Normal       float64 `json:"normal" yaml:"normal"`                                 // Normal shelf price
	Discount     float64 `json:"discount,omitempty" yaml:"discount,omitempty"`         // Discounted effective price
	DiscountRate float64 `json:"discount_rate,omitempty" yaml:"discount_rate,omitempty"` // Discount / Normal, 0 when no discount
	Currency     string  `json:"currency,omitempty" yaml:"currency,omitempty"`         // ISO 4217 code, defaults to CNY
}

// Origin holds the geographic origin of an item.
type Origin struct {
	Country  string `json:"country,omitempty" yaml:"country,omitempty"`
	Province string `json:"province,omitempty" yaml:"province,omitempty"`
	City     string `json:"city,omitempty" yaml:"city,omitempty"`
}

// Attributes holds the free-text descriptive fields of an item.
type Attributes struct {
	Specification string `json:"specification,omitempty" yaml:"specification,omitempty"`
	Flavor        string `json:"flavor,omitempty" yaml:"flavor,omitempty"`
	Manufacturer  string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Notes         string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Item represents one product record in the canonical catalog.
type Item struct {
	// Core identity
	ID   string `json:"id" yaml:"id"`     // External source primary key, immutable
	Name string `json:"name" yaml:"name"` // Display name

	Category   Category   `json:"category" yaml:"category"`
	Price      Price      `json:"price" yaml:"price"`
	Origin     Origin     `json:"origin,omitempty" yaml:"origin,omitempty"`
	Platform   string     `json:"platform,omitempty" yaml:"platform,omitempty"` // Collection platform
	Attributes Attributes `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// Images maps each populated slot to its image reference. Absent slots
	// are simply missing from the map.
	Images map[Slot]ImageRef `json:"images,omitempty" yaml:"images,omitempty"`

	// CollectedAt is the source's own collection timestamp, used as the
	// incremental sync fence.
	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`

	Status  Status `json:"status" yaml:"status"`
	Visible bool   `json:"visible" yaml:"visible"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Active reports whether the item is live in the catalog.
func (i *Item) Active() bool {
	return i.Status == StatusActive
}

// ImageRef resolves the reference stored in the given slot, if any.
func (i *Item) ImageRef(slot Slot) (ImageRef, bool) {
	if i.Images == nil {
		return ImageRef{}, false
	}
	ref, ok := i.Images[slot]
	return ref, ok
}

// SetImageRef stores an image reference in the given slot.
func (i *Item) SetImageRef(slot Slot, ref ImageRef) {
	if i.Images == nil {
		i.Images = make(map[Slot]ImageRef)
	}
	i.Images[slot] = ref
}

// ClearImageRef empties the given slot. A cleared slot is removed from the
// map entirely, never left as a zero-value reference.
func (i *Item) ClearImageRef(slot Slot) {
	delete(i.Images, slot)
}

// ItemError captures a per-item processing failure inside a sync run.
type ItemError struct {
	ItemID    string `json:"item_id" yaml:"item_id"`
	Operation string `json:"operation" yaml:"operation"` // "create", "update", "delete", "ingest"
	Message   string `json:"message" yaml:"message"`
}

// Error implements the error interface.
func (e ItemError) Error() string {
	return e.Operation + " " + e.ItemID + ": " + e.Message
}
