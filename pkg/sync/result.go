package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/provender/shelfsync/pkg/catalog"
)

// Result represents the complete result of a sync run.
type Result struct {
	RunID   string // Audit record identifier
	Success bool   // False when an infrastructure error aborted the run

	// Counts of applied (or, under dry run, intended) changes
	Created int
	Updated int
	Deleted int

	// Errors collects per-item failures that did not abort the batch
	Errors []catalog.ItemError

	// Operation metadata
	Mode     Mode
	DryRun   bool
	Duration time.Duration
}

// HasChanges returns true if the run applied or detected any changes.
func (r *Result) HasChanges() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// DurationMs returns the run duration in whole milliseconds.
func (r *Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Summary returns a human-readable summary of the sync result.
func (r *Result) Summary() string {
	var parts []string
	if r.DryRun {
		parts = append(parts, "(Dry run)")
	}
	if !r.Success {
		parts = append(parts, "(Failed)")
	}

	summary := fmt.Sprintf("%s sync: %d created, %d updated, %d deleted",
		r.Mode, r.Created, r.Updated, r.Deleted)
	if len(r.Errors) > 0 {
		summary += fmt.Sprintf(", %d item errors", len(r.Errors))
	}
	if len(parts) > 0 {
		summary += " " + strings.Join(parts, " ")
	}

	return summary
}

// Status is a read-only view of the engine's current run state and recent
// history, served by the status operation.
type Status struct {
	State         State         `json:"state"`
	LastRunTime   time.Time     `json:"last_run_time,omitempty"`
	RecentHistory []catalog.Run `json:"recent_history,omitempty"`
}
