// Package differ provides change detection between an external source
// snapshot and the current catalog contents.
package differ

import (
	"fmt"
	"strings"

	"github.com/provender/shelfsync/pkg/catalog"
)

// ChangeType represents the type of change.
type ChangeType string

const (
	// ChangeTypeCreate indicates an item was added.
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate indicates an item was updated.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete indicates an item was removed from the source.
	ChangeTypeDelete ChangeType = "delete"
)

// FieldChange records which change-significant field triggered an update.
type FieldChange struct {
	Path     string // Field path (e.g., "price.normal")
	OldValue string // Previous value (string representation)
	NewValue string // New value (string representation)
}

// ItemUpdate represents an update to an existing catalog item. The update
// carries the entire new record; no partial-field diff is applied.
type ItemUpdate struct {
	ID       string        // ID of the item being updated
	Existing catalog.Item  // Current catalog record
	New      catalog.Item  // Full replacement record from the source
	Changes  []FieldChange // Which compared fields differed (empty under force)
}

// Changeset is the ephemeral result of one change detection pass. It is
// consumed once by the sync engine and never persisted.
type Changeset struct {
	Creates []catalog.Item
	Updates []ItemUpdate
	Deletes []catalog.Item

	// Skipped collects source records rejected before entering the
	// changeset (currently only records with an empty item ID).
	Skipped []catalog.ItemError

	Summary Summary
}

// Summary provides summary statistics for a changeset.
type Summary struct {
	Creates int
	Updates int
	Deletes int
	Skipped int
	Total   int
}

// calculateSummary computes the summary for a changeset.
func calculateSummary(c *Changeset) Summary {
	creates := len(c.Creates)
	updates := len(c.Updates)
	deletes := len(c.Deletes)

	return Summary{
		Creates: creates,
		Updates: updates,
		Deletes: deletes,
		Skipped: len(c.Skipped),
		Total:   creates + updates + deletes,
	}
}

// HasChanges returns true if the changeset contains any changes.
func (c *Changeset) HasChanges() bool {
	return c.Summary.Total > 0
}

// IsEmpty returns true if the changeset contains no changes.
func (c *Changeset) IsEmpty() bool {
	return c.Summary.Total == 0
}

// String returns a human-readable summary of the changeset.
func (c *Changeset) String() string {
	if c.IsEmpty() {
		return "No changes detected"
	}

	var parts []string
	if len(c.Creates) > 0 {
		parts = append(parts, fmt.Sprintf("%d created", len(c.Creates)))
	}
	if len(c.Updates) > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", len(c.Updates)))
	}
	if len(c.Deletes) > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", len(c.Deletes)))
	}
	if len(c.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", len(c.Skipped)))
	}

	return fmt.Sprintf("Changeset: %s (Total: %d changes)", strings.Join(parts, ", "), c.Summary.Total)
}
