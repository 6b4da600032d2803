// Package sync provides options, results, and run-state tracking for catalog
// synchronization runs.
package sync

import (
	"time"

	"github.com/provender/shelfsync/pkg/errors"
)

// Mode selects the scope of a synchronization run.
type Mode string

const (
	// ModeFull reconciles the entire catalog against the full source snapshot.
	ModeFull Mode = "full"
	// ModeIncremental reconciles only items modified since the previous
	// successful run, using the source's collected timestamp as the fence.
	ModeIncremental Mode = "incremental"
	// ModeSelective reconciles an explicit list of item IDs.
	ModeSelective Mode = "selective"
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	return string(m)
}

// Valid reports whether the mode is recognized.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeIncremental, ModeSelective:
		return true
	default:
		return false
	}
}

// DefaultLookback bounds the incremental change fence when no prior
// successful run exists.
const DefaultLookback = 24 * time.Hour

// Options controls one synchronization run.
type Options struct {
	Mode        Mode          // Run scope
	DryRun      bool          // Compute the changeset and report counts without mutating any store
	ForceUpdate bool          // Bypass the field-comparison short-circuit
	ItemIDs     []string      // Required for selective mode
	Timeout     time.Duration // Timeout for the entire run, 0 means none
	SkipImages  bool          // Apply record changes without triggering image ingestion
}

// Apply applies the given options to the sync options.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Defaults returns the default sync options.
func Defaults() *Options {
	return &Options{
		Mode:        ModeIncremental,
		DryRun:      false,
		ForceUpdate: false,
		ItemIDs:     nil,
		Timeout:     0,
		SkipImages:  false,
	}
}

// Option is a function that configures sync Options.
type Option func(*Options)

// Validate checks if the sync options are valid.
func (o *Options) Validate() error {
	if !o.Mode.Valid() {
		return errors.ErrInvalidSyncMode
	}

	if o.Mode == ModeSelective && len(o.ItemIDs) == 0 {
		return errors.ErrMissingProductIDs
	}

	if o.Timeout < 0 {
		return &errors.ValidationError{
			Field:   "Timeout",
			Value:   o.Timeout,
			Message: "timeout must be non-negative",
		}
	}

	return nil
}

// WithMode configures the run scope.
func WithMode(mode Mode) Option {
	return func(opts *Options) {
		opts.Mode = mode
	}
}

// WithDryRun configures dry run mode.
func WithDryRun(dryRun bool) Option {
	return func(opts *Options) {
		opts.DryRun = dryRun
	}
}

// WithForceUpdate configures whether every source record is re-applied.
func WithForceUpdate(force bool) Option {
	return func(opts *Options) {
		opts.ForceUpdate = force
	}
}

// WithItemIDs configures the explicit item list for selective mode.
func WithItemIDs(ids ...string) Option {
	return func(opts *Options) {
		opts.ItemIDs = ids
	}
}

// WithTimeout configures the run timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithSkipImages configures whether image ingestion is skipped after the
// record apply phase.
func WithSkipImages(skip bool) Option {
	return func(opts *Options) {
		opts.SkipImages = skip
	}
}
