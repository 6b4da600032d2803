package shelfsync

import (
	"context"

	"github.com/provender/shelfsync/internal/validate"
)

// Maintainer checks and repairs cross-store consistency.
type Maintainer interface {
	// Validate scans the image registry, the catalog, and optionally the
	// object store for the four consistency issue classes.
	Validate(ctx context.Context, opts validate.Options) (*validate.Report, error)

	// Repair fixes the selected issue classes. Repairs are destructive;
	// run with DryRun first.
	Repair(ctx context.Context, opts validate.RepairOptions) (*validate.RepairResult, error)
}

// Validate runs a consistency scan.
func (c *client) Validate(ctx context.Context, opts validate.Options) (*validate.Report, error) {
	return c.validator.Validate(ctx, opts)
}

// Repair fixes consistency issues found by a fresh scan.
func (c *client) Repair(ctx context.Context, opts validate.RepairOptions) (*validate.RepairResult, error) {
	return c.validator.Repair(ctx, opts)
}
