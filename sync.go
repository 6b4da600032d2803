package shelfsync

import (
	"context"

	"github.com/provender/shelfsync/pkg/sync"
)

// Syncer runs catalog synchronization and reports run state.
type Syncer interface {
	// Sync reconciles the catalog against the source. Exactly one sync
	// runs at a time; a concurrent call fails with ErrSyncAlreadyRunning.
	Sync(ctx context.Context, opts ...sync.Option) (*sync.Result, error)

	// SyncStatus reports the engine state and recent run history.
	SyncStatus(ctx context.Context) (*sync.Status, error)
}

// Sync runs one synchronization pass.
func (c *client) Sync(ctx context.Context, opts ...sync.Option) (*sync.Result, error) {
	return c.engine.Run(ctx, sync.Defaults().Apply(opts...))
}

// SyncStatus reports the current run state and recent history.
func (c *client) SyncStatus(ctx context.Context) (*sync.Status, error) {
	return c.engine.Status(ctx)
}
