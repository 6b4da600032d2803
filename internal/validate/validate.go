// Package validate implements cross-store consistency checking and explicit
// repair for the catalog, the image registry, and the object store.
package validate

import (
	"context"
	"time"

	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
	"github.com/provender/shelfsync/pkg/sync"
)

// IssueType classifies a detected inconsistency.
type IssueType string

const (
	// IssueOrphanedRecord is a registry record whose catalog item row no
	// longer exists.
	IssueOrphanedRecord IssueType = "orphaned_record"
	// IssueOrphanedFile is a stored object no registry record points at.
	// Detection requires a full object store walk and is opt-in.
	IssueOrphanedFile IssueType = "orphaned_file"
	// IssueInvalidReference is an item slot pointing at a registry record
	// that does not exist.
	IssueInvalidReference IssueType = "invalid_reference"
	// IssueBrokenAssociation is a registry record whose cached existence
	// flags disagree with a live check against the catalog and the object
	// store.
	IssueBrokenAssociation IssueType = "broken_association"
)

// AllIssueTypes lists every issue class in repair order.
func AllIssueTypes() []IssueType {
	return []IssueType{IssueOrphanedRecord, IssueOrphanedFile, IssueInvalidReference, IssueBrokenAssociation}
}

// Issue is one detected inconsistency with enough context to repair it.
type Issue struct {
	Type    IssueType    `json:"type"`
	ImageID string       `json:"image_id,omitempty"`
	ItemID  string       `json:"item_id,omitempty"`
	Slot    catalog.Slot `json:"slot,omitempty"`
	Path    string       `json:"path,omitempty"`
	Detail  string       `json:"detail"`
}

// Report is the outcome of one validation pass.
type Report struct {
	CheckedRecords int     `json:"checked_records"`
	CheckedItems   int     `json:"checked_items"`
	CheckedFiles   int     `json:"checked_files"`
	Issues         []Issue `json:"issues,omitempty"`

	// TrackerRecovered reports whether a stale running state was reset.
	TrackerRecovered bool `json:"tracker_recovered,omitempty"`
}

// Clean reports whether the pass found no inconsistencies.
func (r *Report) Clean() bool {
	return len(r.Issues) == 0
}

// DefaultStaleRunAfter is the tracker recovery bound when none is given.
const DefaultStaleRunAfter = time.Hour

// Options controls a validation pass.
type Options struct {
	// IncludeFiles enables the orphaned-file check, which walks the entire
	// object store.
	IncludeFiles bool

	// StaleRunAfter bounds tracker recovery: a running state older than this
	// is considered a crashed run and reset. Zero means DefaultStaleRunAfter;
	// a live run inside the bound is never touched.
	StaleRunAfter time.Duration
}

// RepairOptions controls a repair pass.
type RepairOptions struct {
	// IssueTypes selects the classes to repair. Empty repairs everything.
	IssueTypes []IssueType

	// DryRun reports what would be repaired without mutating anything.
	DryRun bool
}

// RepairResult summarizes a repair pass.
type RepairResult struct {
	Repaired int     `json:"repaired"`
	Failed   int     `json:"failed"`
	DryRun   bool    `json:"dry_run"`
	Issues   []Issue `json:"issues,omitempty"` // The issues selected for repair
}

// Validator checks and repairs cross-store consistency. Repairs are only
// ever performed on explicit request; validation itself never mutates
// records or objects.
type Validator struct {
	catalog *store.Catalog
	images  *store.Images
	blobs   *blob.Store
	tracker *sync.Tracker
}

// New creates a Validator. The tracker is optional; when present, a
// validation pass resets a stale running state left behind by a crashed run.
func New(cat *store.Catalog, images *store.Images, blobs *blob.Store, tracker *sync.Tracker) *Validator {
	return &Validator{catalog: cat, images: images, blobs: blobs, tracker: tracker}
}

// Validate runs one consistency pass and reports every detected issue.
func (v *Validator) Validate(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}

	if v.tracker != nil {
		staleAfter := opts.StaleRunAfter
		if staleAfter <= 0 {
			staleAfter = DefaultStaleRunAfter
		}
		report.TrackerRecovered = v.tracker.Recover(staleAfter)
		if report.TrackerRecovered {
			logging.Ctx(ctx).Warn().Msg("Reset stale sync running state")
		}
	}

	// Retired records may legitimately reference deleted items and objects,
	// so only active records are cross-checked; any leftover objects of
	// retired records surface through the orphaned-file walk instead.
	records, err := v.images.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	report.CheckedRecords = len(records)

	knownPaths := make(map[string]bool)
	for _, rec := range records {
		knownPaths[rec.ObjectPath] = true
		for _, variant := range rec.Variants {
			knownPaths[variant.Path] = true
		}

		productLive, err := v.itemActive(ctx, rec.ItemID)
		if err != nil {
			return nil, err
		}
		if !productLive {
			report.Issues = append(report.Issues, Issue{
				Type:    IssueOrphanedRecord,
				ImageID: rec.ImageID,
				ItemID:  rec.ItemID,
				Slot:    rec.Slot,
				Path:    rec.ObjectPath,
				Detail:  "image record references a catalog item with no active row",
			})
			continue
		}

		fileLive, err := v.blobs.Exists(ctx, rec.ObjectPath)
		if err != nil {
			return nil, err
		}
		if rec.ProductExists != productLive || rec.FileExists != fileLive {
			report.Issues = append(report.Issues, Issue{
				Type:    IssueBrokenAssociation,
				ImageID: rec.ImageID,
				ItemID:  rec.ItemID,
				Slot:    rec.Slot,
				Path:    rec.ObjectPath,
				Detail:  "cached existence flags disagree with live state",
			})
		}
	}

	if err := v.checkItemReferences(ctx, report); err != nil {
		return nil, err
	}

	if opts.IncludeFiles {
		if err := v.checkOrphanedFiles(ctx, knownPaths, report); err != nil {
			return nil, err
		}
	}

	logging.Ctx(ctx).Info().
		Int("records", report.CheckedRecords).
		Int("items", report.CheckedItems).
		Int("files", report.CheckedFiles).
		Int("issues", len(report.Issues)).
		Msg("Consistency validation complete")
	return report, nil
}

// itemActive reports whether the catalog has an active row for the item.
func (v *Validator) itemActive(ctx context.Context, itemID string) (bool, error) {
	item, err := v.catalog.Get(ctx, itemID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return item.Active(), nil
}

// checkItemReferences flags item slots pointing at registry records that do
// not exist.
func (v *Validator) checkItemReferences(ctx context.Context, report *Report) error {
	items, err := v.catalog.ListActive(ctx)
	if err != nil {
		return err
	}
	report.CheckedItems = len(items)

	for _, item := range items {
		for slot, ref := range item.Images {
			if ref.ImageID == "" {
				// Legacy URL-only references have nothing to cross-check.
				continue
			}

			_, err := v.images.Get(ctx, ref.ImageID)
			if err == nil {
				continue
			}
			if !errors.IsNotFound(err) {
				return err
			}
			report.Issues = append(report.Issues, Issue{
				Type:    IssueInvalidReference,
				ImageID: ref.ImageID,
				ItemID:  item.ID,
				Slot:    slot,
				Detail:  "item slot references a missing image record",
			})
		}
	}
	return nil
}

// checkOrphanedFiles walks the object store and flags objects no record
// claims.
func (v *Validator) checkOrphanedFiles(ctx context.Context, knownPaths map[string]bool, report *Report) error {
	return v.blobs.Walk(ctx, func(objectPath string) error {
		report.CheckedFiles++
		if !knownPaths[objectPath] {
			report.Issues = append(report.Issues, Issue{
				Type:   IssueOrphanedFile,
				Path:   objectPath,
				Detail: "stored object has no image record",
			})
		}
		return nil
	})
}
