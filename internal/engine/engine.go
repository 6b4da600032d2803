// Package engine orchestrates catalog synchronization and image lifecycle
// operations across the source client, the SQLite stores, and the object
// store.
package engine

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/internal/thumbnail"
	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/differ"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
	"github.com/provender/shelfsync/pkg/sync"
)

// Source provides the external snapshot and attachment bytes. Implemented by
// source.Client; tests substitute fakes.
type Source interface {
	Fetch(ctx context.Context) ([]source.Entry, error)
	Download(ctx context.Context, fileToken string) ([]byte, error)
}

// CacheInvalidator is notified after a run changes catalog records so
// downstream caches can drop stale entries. The default does nothing.
type CacheInvalidator interface {
	InvalidateItems(ctx context.Context, itemIDs []string) error
}

// NopInvalidator is the default CacheInvalidator.
type NopInvalidator struct{}

// InvalidateItems implements CacheInvalidator.
func (NopInvalidator) InvalidateItems(context.Context, []string) error { return nil }

// DefaultIngestConcurrency bounds parallel image ingestion after a sync run.
const DefaultIngestConcurrency = 4

// Engine is the synchronization engine. One engine instance owns one
// Tracker; concurrent Run calls on the same instance are rejected, not
// queued.
type Engine struct {
	catalog *store.Catalog
	images  *store.Images
	runs    *store.Runs
	blobs   *blob.Store
	thumbs  *thumbnail.Generator
	src     Source
	tracker *sync.Tracker

	invalidator CacheInvalidator
	concurrency int
}

// Config wires an Engine's collaborators.
type Config struct {
	Catalog *store.Catalog
	Images  *store.Images
	Runs    *store.Runs
	Blobs   *blob.Store
	Thumbs  *thumbnail.Generator
	Source  Source
	Tracker *sync.Tracker

	// Optional
	Invalidator CacheInvalidator
	Concurrency int
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Invalidator == nil {
		cfg.Invalidator = NopInvalidator{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultIngestConcurrency
	}
	if cfg.Tracker == nil {
		cfg.Tracker = sync.NewTracker()
	}
	if cfg.Thumbs == nil {
		cfg.Thumbs = thumbnail.New()
	}

	return &Engine{
		catalog:     cfg.Catalog,
		images:      cfg.Images,
		runs:        cfg.Runs,
		blobs:       cfg.Blobs,
		thumbs:      cfg.Thumbs,
		src:         cfg.Source,
		tracker:     cfg.Tracker,
		invalidator: cfg.Invalidator,
		concurrency: cfg.Concurrency,
	}
}

// Tracker exposes the run-state machine, mainly for the validator's
// crash-recovery pass.
func (e *Engine) Tracker() *sync.Tracker {
	return e.tracker
}

// Run executes one synchronization run. Per-item failures are collected in
// the result without aborting the batch; only infrastructure failures
// (source unreachable, store unavailable) abort the run and return an error.
func (e *Engine) Run(ctx context.Context, opts *sync.Options) (*sync.Result, error) {
	if opts == nil {
		opts = sync.Defaults()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := e.tracker.TryStart(); err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	ctx = logging.WithRunID(ctx, runID)

	logging.Ctx(ctx).Info().
		Str("mode", opts.Mode.String()).
		Bool("dry_run", opts.DryRun).
		Msg("Sync run started")

	run := &catalog.Run{
		RunID:     runID,
		Mode:      opts.Mode.String(),
		StartedAt: started,
		DryRun:    opts.DryRun,
	}
	if err := e.runs.Start(ctx, run); err != nil {
		e.tracker.Finish(false)
		return nil, err
	}

	result, err := e.run(ctx, opts, run)
	run.FinishedAt = time.Now().UTC()
	run.Success = err == nil

	if result != nil {
		run.Created = result.Created
		run.Updated = result.Updated
		run.Deleted = result.Deleted
		run.Errors = result.Errors
	}
	if finErr := e.runs.Finalize(ctx, run); finErr != nil {
		logging.Ctx(ctx).Error().Err(finErr).Msg("Failed to record run outcome")
	}

	e.tracker.Finish(err == nil)

	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Sync run aborted")
		return nil, err
	}

	result.RunID = runID
	result.Success = true
	result.Mode = opts.Mode
	result.DryRun = opts.DryRun
	result.Duration = run.FinishedAt.Sub(started)

	logging.Ctx(ctx).Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("item_errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Sync run finished")
	return result, nil
}

func (e *Engine) run(ctx context.Context, opts *sync.Options, run *catalog.Run) (*sync.Result, error) {
	entries, err := e.src.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	existing, sourceItems, byID, err := e.scope(ctx, opts, entries)
	if err != nil {
		return nil, err
	}

	detector := differ.New(differ.WithForceUpdate(opts.ForceUpdate))
	changeset := detector.Items(existing, sourceItems)

	logging.Ctx(ctx).Debug().
		Str("changeset", changeset.String()).
		Msg("Change detection complete")

	result := &sync.Result{
		Created: len(changeset.Creates),
		Updated: len(changeset.Updates),
		Deleted: len(changeset.Deletes),
		Errors:  append([]catalog.ItemError{}, changeset.Skipped...),
	}

	if opts.DryRun {
		return result, nil
	}

	applied, err := e.apply(ctx, changeset, result)
	if err != nil {
		return nil, err
	}

	if !opts.SkipImages {
		e.ingestBatch(ctx, applied, byID, result)
	}

	if len(applied) > 0 {
		if err := e.invalidator.InvalidateItems(ctx, applied); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Cache invalidation failed")
		}
	}

	return result, nil
}

// scope resolves the existing and source item sets for the requested mode.
func (e *Engine) scope(ctx context.Context, opts *sync.Options, entries []source.Entry) ([]catalog.Item, []catalog.Item, map[string]source.Entry, error) {
	byID := make(map[string]source.Entry, len(entries))

	switch opts.Mode {
	case sync.ModeFull:
		sourceItems := make([]catalog.Item, 0, len(entries))
		for _, entry := range entries {
			sourceItems = append(sourceItems, *entry.Item)
			if entry.Item.ID != "" {
				byID[entry.Item.ID] = entry
			}
		}
		existingMap, err := e.catalog.ListActive(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		return flattenItems(existingMap), sourceItems, byID, nil

	case sync.ModeIncremental:
		fence := e.changeFence(ctx)
		var sourceItems []catalog.Item
		for _, entry := range entries {
			if entry.Item.CollectedAt.Before(fence) {
				continue
			}
			sourceItems = append(sourceItems, *entry.Item)
			if entry.Item.ID != "" {
				byID[entry.Item.ID] = entry
			}
		}
		// Deletions are undetectable inside a fence-bounded snapshot, so the
		// existing set is restricted to the IDs the snapshot still carries.
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		existingMap, err := e.catalog.ListByIDs(ctx, ids)
		if err != nil {
			return nil, nil, nil, err
		}
		return flattenItems(existingMap), sourceItems, byID, nil

	case sync.ModeSelective:
		wanted := make(map[string]bool, len(opts.ItemIDs))
		for _, id := range opts.ItemIDs {
			wanted[id] = true
		}
		var sourceItems []catalog.Item
		for _, entry := range entries {
			if !wanted[entry.Item.ID] {
				continue
			}
			sourceItems = append(sourceItems, *entry.Item)
			byID[entry.Item.ID] = entry
		}
		existingMap, err := e.catalog.ListByIDs(ctx, opts.ItemIDs)
		if err != nil {
			return nil, nil, nil, err
		}
		return flattenItems(existingMap), sourceItems, byID, nil

	default:
		return nil, nil, nil, errors.ErrInvalidSyncMode
	}
}

// changeFence returns the incremental lookback boundary: the start of the
// last successful real run, or 24 hours back when no such run exists.
func (e *Engine) changeFence(ctx context.Context) time.Time {
	last, err := e.runs.LastSuccessful(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			logging.Ctx(ctx).Warn().Err(err).Msg("Could not resolve last successful run, using default lookback")
		}
		return time.Now().Add(-sync.DefaultLookback)
	}
	return last.StartedAt
}

// apply commits the changeset in a single transaction with per-item error
// isolation: one failing item is recorded and skipped, the rest of the batch
// still commits. Returns the IDs whose records actually changed.
func (e *Engine) apply(ctx context.Context, changeset *differ.Changeset, result *sync.Result) ([]string, error) {
	var applied []string

	err := e.catalog.WithTx(ctx, func(tx *store.Tx) error {
		now := time.Now().UTC()

		for _, item := range changeset.Creates {
			item.UpdatedAt = now
			if err := tx.Upsert(ctx, &item); err != nil {
				result.Created--
				result.Errors = append(result.Errors, catalog.ItemError{
					ItemID: item.ID, Operation: "create", Message: err.Error(),
				})
				continue
			}
			applied = append(applied, item.ID)
		}

		for _, update := range changeset.Updates {
			item := update.New
			item.UpdatedAt = now
			// The replacement record carries no image refs; the existing
			// slots survive the whole-record update.
			if item.Images == nil {
				item.Images = update.Existing.Images
			}
			if err := tx.Upsert(ctx, &item); err != nil {
				result.Updated--
				result.Errors = append(result.Errors, catalog.ItemError{
					ItemID: item.ID, Operation: "update", Message: err.Error(),
				})
				continue
			}
			applied = append(applied, item.ID)
		}

		for _, item := range changeset.Deletes {
			if err := tx.SoftDelete(ctx, item.ID, now); err != nil {
				result.Deleted--
				result.Errors = append(result.Errors, catalog.ItemError{
					ItemID: item.ID, Operation: "delete", Message: err.Error(),
				})
				continue
			}
			applied = append(applied, item.ID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// ingestBatch downloads and ingests the attachments of every applied item
// with bounded concurrency. Failures are per-item errors, never fatal.
func (e *Engine) ingestBatch(ctx context.Context, applied []string, byID map[string]source.Entry, result *sync.Result) {
	var mu stdsync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)

	for _, itemID := range applied {
		entry, ok := byID[itemID]
		if !ok || len(entry.Attachments) == 0 {
			continue
		}

		eg.Go(func() error {
			for _, sa := range entry.Attachments {
				if err := e.ingestAttachment(ctx, itemID, sa); err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, catalog.ItemError{
						ItemID: itemID, Operation: "ingest", Message: err.Error(),
					})
					mu.Unlock()
				}
			}
			return nil
		})
	}

	_ = eg.Wait()
}

func (e *Engine) ingestAttachment(ctx context.Context, itemID string, sa source.SlotAttachment) error {
	data, err := e.src.Download(ctx, sa.Attachment.FileToken)
	if err != nil {
		return errors.NewIngestError(itemID, string(sa.Slot), "download", err)
	}

	_, err = e.IngestImage(ctx, itemID, sa.Slot, data, sa.Attachment.Name)
	return err
}

// Status reports the engine's run state and recent history.
func (e *Engine) Status(ctx context.Context) (*sync.Status, error) {
	history, err := e.runs.Recent(ctx, 10)
	if err != nil {
		return nil, err
	}

	return &sync.Status{
		State:         e.tracker.State(),
		LastRunTime:   e.tracker.LastRunTime(),
		RecentHistory: history,
	}, nil
}

func flattenItems(m map[string]*catalog.Item) []catalog.Item {
	items := make([]catalog.Item, 0, len(m))
	for _, item := range m {
		items = append(items, *item)
	}
	return items
}
