// Package shelfsync provides the main entry point for the shelfsync catalog
// synchronization system. It wires the collection-table source, the catalog
// database, the image object store, and the consistency validator behind one
// Client.
//
// Example usage:
//
//	client, err := shelfsync.New(
//	    shelfsync.WithDatabasePath("data/shelfsync.db"),
//	    shelfsync.WithBlobRoot("data/objects"),
//	    shelfsync.WithSourceConfig(source.Config{
//	        AppID:     os.Getenv("SHELFSYNC_SOURCE_APP_ID"),
//	        AppSecret: os.Getenv("SHELFSYNC_SOURCE_APP_SECRET"),
//	        AppToken:  os.Getenv("SHELFSYNC_SOURCE_APP_TOKEN"),
//	        TableID:   os.Getenv("SHELFSYNC_SOURCE_TABLE_ID"),
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.Sync(ctx, sync.WithMode(sync.ModeFull))
package shelfsync

import (
	"github.com/provender/shelfsync/internal/blob"
	"github.com/provender/shelfsync/internal/engine"
	"github.com/provender/shelfsync/internal/sched"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/internal/store"
	"github.com/provender/shelfsync/internal/validate"
	"github.com/provender/shelfsync/pkg/errors"
)

// Compile-time interface check.
var _ Client = (*client)(nil)

// Client is the public surface of a shelfsync instance.
type Client interface {
	// Syncer runs catalog synchronization and reports run state
	Syncer

	// Maintainer checks and repairs cross-store consistency
	Maintainer

	// ImageManager handles image ingestion and lifecycle
	ImageManager

	// Cataloger reads and seeds catalog items directly
	Cataloger

	// SchedulerOn starts the configured recurring triggers.
	SchedulerOn() error

	// SchedulerOff stops the recurring triggers, waiting for in-flight
	// firings to finish.
	SchedulerOff()

	// Close releases the database and stops the scheduler if running.
	Close() error
}

// client is the internal implementation of the Client interface.
type client struct {
	options *options

	db        *store.DB
	catalog   *store.Catalog
	images    *store.Images
	runs      *store.Runs
	blobs     *blob.Store
	engine    *engine.Engine
	validator *validate.Validator

	scheduler *sched.Scheduler
	schedOn   bool
}

// New creates a new Client instance with the given options.
func New(opts ...Option) (Client, error) {
	o, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}

	src := o.source
	if src == nil {
		if o.sourceConfig == nil {
			return nil, errors.NewConfigError("shelfsync",
				"a source is required: use WithSourceConfig or WithSource", nil)
		}
		sc, err := source.NewClient(*o.sourceConfig)
		if err != nil {
			return nil, err
		}
		src = sc
	}

	db, err := store.Open(o.databasePath)
	if err != nil {
		return nil, err
	}

	c := &client{
		options: o,
		db:      db,
		catalog: store.NewCatalog(db),
		images:  store.NewImages(db),
		runs:    store.NewRuns(db, o.runHistory),
	}

	if o.fs != nil {
		c.blobs = blob.New(o.fs, o.blobRoot)
	} else {
		c.blobs = blob.NewOSStore(o.blobRoot)
	}

	c.engine = engine.New(engine.Config{
		Catalog:     c.catalog,
		Images:      c.images,
		Runs:        c.runs,
		Blobs:       c.blobs,
		Source:      src,
		Invalidator: o.invalidator,
		Concurrency: o.ingestConcurrency,
	})
	c.validator = validate.New(c.catalog, c.images, c.blobs, c.engine.Tracker())

	if o.schedule != nil {
		scheduler, err := sched.New(*o.schedule, c.engine, c.validator, o.sink)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		c.scheduler = scheduler
	}

	return c, nil
}

// SchedulerOn starts the recurring triggers.
func (c *client) SchedulerOn() error {
	if c.scheduler == nil {
		return errors.NewConfigError("shelfsync", "no schedule configured: use WithSchedule", nil)
	}
	if !c.schedOn {
		c.scheduler.Start()
		c.schedOn = true
	}
	return nil
}

// SchedulerOff stops the recurring triggers.
func (c *client) SchedulerOff() {
	if c.scheduler != nil && c.schedOn {
		c.scheduler.Stop()
		c.schedOn = false
	}
}

// Close stops the scheduler and closes the database.
func (c *client) Close() error {
	c.SchedulerOff()
	return c.db.Close()
}
