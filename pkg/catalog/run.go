package catalog

import (
	"time"
)

// Run is the append-only audit record of one synchronization run. History is
// pruned to a bounded recent window by the run store.
type Run struct {
	RunID      string      `json:"run_id" yaml:"run_id"`
	Mode       string      `json:"mode" yaml:"mode"` // "full", "incremental", "selective"
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Created    int         `json:"created" yaml:"created"`
	Updated    int         `json:"updated" yaml:"updated"`
	Deleted    int         `json:"deleted" yaml:"deleted"`
	Errors     []ItemError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Success    bool        `json:"success" yaml:"success"`
	DryRun     bool        `json:"dry_run" yaml:"dry_run"`
}

// Duration returns the elapsed run time, zero while the run is unfinished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
