package validate

import (
	"context"

	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
)

// Repair runs a validation pass and fixes the selected issue classes. Object
// deletions always happen before the metadata they back, so an interrupted
// repair leaves dangling metadata (found again by the next pass) rather than
// dangling objects.
func (v *Validator) Repair(ctx context.Context, opts RepairOptions) (*RepairResult, error) {
	validateOpts := Options{IncludeFiles: wantsType(opts.IssueTypes, IssueOrphanedFile)}
	report, err := v.Validate(ctx, validateOpts)
	if err != nil {
		return nil, err
	}

	result := &RepairResult{DryRun: opts.DryRun}
	for _, issue := range report.Issues {
		if !wantsType(opts.IssueTypes, issue.Type) {
			continue
		}
		result.Issues = append(result.Issues, issue)

		if opts.DryRun {
			result.Repaired++
			continue
		}

		if err := v.repairIssue(ctx, issue); err != nil {
			result.Failed++
			logging.Ctx(ctx).Error().
				Err(err).
				Str("type", string(issue.Type)).
				Str("image", issue.ImageID).
				Str("item", issue.ItemID).
				Msg("Repair failed")
			continue
		}
		result.Repaired++
	}

	logging.Ctx(ctx).Info().
		Int("repaired", result.Repaired).
		Int("failed", result.Failed).
		Bool("dry_run", result.DryRun).
		Msg("Consistency repair complete")
	return result, nil
}

func (v *Validator) repairIssue(ctx context.Context, issue Issue) error {
	switch issue.Type {
	case IssueOrphanedRecord:
		return v.repairOrphanedRecord(ctx, issue)
	case IssueOrphanedFile:
		return v.blobs.Delete(ctx, issue.Path)
	case IssueInvalidReference:
		// The dangling slot is cleared, never re-pointed: choosing a
		// replacement image is a human decision.
		return v.catalog.ClearImageRef(ctx, issue.ItemID, issue.Slot)
	case IssueBrokenAssociation:
		return v.repairBrokenAssociation(ctx, issue)
	default:
		return errors.NewValidationError("issue_type", string(issue.Type), "unknown issue type")
	}
}

// repairOrphanedRecord removes the record's objects first, then the record
// itself.
func (v *Validator) repairOrphanedRecord(ctx context.Context, issue Issue) error {
	rec, err := v.images.Get(ctx, issue.ImageID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := v.blobs.Delete(ctx, rec.ObjectPath); err != nil {
		return err
	}
	for _, variant := range rec.Variants {
		if err := v.blobs.Delete(ctx, variant.Path); err != nil {
			return err
		}
	}

	return v.images.DeleteRecord(ctx, issue.ImageID)
}

// repairBrokenAssociation recomputes the record's cached existence flags
// from live state and corrects them in place. The record itself is left
// alone; retiring it is the delete operation's job, not the repairer's.
func (v *Validator) repairBrokenAssociation(ctx context.Context, issue Issue) error {
	rec, err := v.images.Get(ctx, issue.ImageID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	productLive, err := v.itemActive(ctx, rec.ItemID)
	if err != nil {
		return err
	}
	fileLive, err := v.blobs.Exists(ctx, rec.ObjectPath)
	if err != nil {
		return err
	}

	return v.images.SetFlags(ctx, issue.ImageID, productLive, fileLive)
}

// wantsType reports whether the selection includes the given class. An empty
// selection covers every class except orphaned_file, whose full-store walk
// must be requested by name.
func wantsType(selected []IssueType, t IssueType) bool {
	if len(selected) == 0 {
		return t != IssueOrphanedFile
	}
	for _, s := range selected {
		if s == t {
			return true
		}
	}
	return false
}
