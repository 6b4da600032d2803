package differ

import (
	"strconv"

	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/logging"
)

// Detector handles change detection between the source snapshot and the
// current catalog contents.
type Detector interface {
	// Items compares the existing catalog records against a source snapshot
	// and returns the changes. The caller controls the scope of both sets:
	// full mode passes everything, incremental mode passes only existing
	// items inside the change fence, selective mode pre-filters both sides
	// to explicit item IDs.
	Items(existing, source []catalog.Item) *Changeset
}

// detector is the default implementation of Detector.
type detector struct {
	forceUpdate  bool
	ignoreFields map[string]bool
}

// New creates a Detector with default settings.
func New(opts ...Option) Detector {
	d := &detector{
		ignoreFields: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Items compares existing catalog records against a source snapshot.
func (d *detector) Items(existing, source []catalog.Item) *Changeset {
	changeset := &Changeset{
		Creates: []catalog.Item{},
		Updates: []ItemUpdate{},
		Deletes: []catalog.Item{},
	}

	existingMap := make(map[string]catalog.Item, len(existing))
	for _, item := range existing {
		existingMap[item.ID] = item
	}

	// Duplicate source IDs: the later record wins silently, matching the
	// source iteration order.
	sourceMap := make(map[string]catalog.Item, len(source))
	order := make([]string, 0, len(source))
	for _, item := range source {
		if item.ID == "" {
			logging.Warn().
				Str("name", item.Name).
				Msg("Source record rejected: empty item ID")
			changeset.Skipped = append(changeset.Skipped, catalog.ItemError{
				Operation: "detect",
				Message:   "source record has empty item ID",
			})
			continue
		}
		if _, seen := sourceMap[item.ID]; !seen {
			order = append(order, item.ID)
		}
		sourceMap[item.ID] = item
	}

	// Find created and updated items.
	for _, id := range order {
		sourceItem := sourceMap[id]
		existingItem, exists := existingMap[id]
		if !exists {
			changeset.Creates = append(changeset.Creates, sourceItem)
			continue
		}
		if update := d.item(existingItem, sourceItem); update != nil {
			changeset.Updates = append(changeset.Updates, *update)
		}
	}

	// Any existing item not visited by the snapshot has disappeared from
	// the source.
	for _, existingItem := range existing {
		if _, exists := sourceMap[existingItem.ID]; !exists {
			changeset.Deletes = append(changeset.Deletes, existingItem)
		}
	}

	changeset.Summary = calculateSummary(changeset)

	return changeset
}

// item compares two items and returns an update if the change-significant
// fields differ. Only the collected timestamp, name, primary category, and
// normal price participate in the comparison; any other field change rides
// along only when one of these four moves, or under force update. This
// mirrors the source system's cheap incremental comparison and is preserved
// deliberately.
func (d *detector) item(existing, updated catalog.Item) *ItemUpdate {
	changes := []FieldChange{}

	if updated.CollectedAt.After(existing.CollectedAt) && !d.ignoreFields["collected_at"] {
		changes = append(changes, FieldChange{
			Path:     "collected_at",
			OldValue: existing.CollectedAt.UTC().Format("2006-01-02T15:04:05Z"),
			NewValue: updated.CollectedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	if existing.Name != updated.Name && !d.ignoreFields["name"] {
		changes = append(changes, FieldChange{
			Path:     "name",
			OldValue: existing.Name,
			NewValue: updated.Name,
		})
	}

	if existing.Category.Primary != updated.Category.Primary && !d.ignoreFields["category.primary"] {
		changes = append(changes, FieldChange{
			Path:     "category.primary",
			OldValue: existing.Category.Primary,
			NewValue: updated.Category.Primary,
		})
	}

	if existing.Price.Normal != updated.Price.Normal && !d.ignoreFields["price.normal"] {
		changes = append(changes, FieldChange{
			Path:     "price.normal",
			OldValue: strconv.FormatFloat(existing.Price.Normal, 'f', -1, 64),
			NewValue: strconv.FormatFloat(updated.Price.Normal, 'f', -1, 64),
		})
	}

	if len(changes) == 0 && !d.forceUpdate {
		return nil
	}

	return &ItemUpdate{
		ID:       updated.ID,
		Existing: existing,
		New:      updated,
		Changes:  changes,
	}
}
