package shelfsync

import (
	"github.com/spf13/afero"

	"github.com/provender/shelfsync/internal/engine"
	"github.com/provender/shelfsync/internal/sched"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/pkg/errors"
)

// Option is a function that configures a shelfsync Client.
type Option func(*options) error

// options holds the resolved Client configuration.
type options struct {
	databasePath string
	blobRoot     string
	fs           afero.Fs // nil means the OS filesystem

	source       engine.Source
	sourceConfig *source.Config

	invalidator       engine.CacheInvalidator
	ingestConcurrency int
	runHistory        int

	schedule *sched.Config
	sink     sched.NotificationSink
}

func defaults() *options {
	return &options{
		databasePath: "data/shelfsync.db",
		blobRoot:     "data/objects",
	}
}

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithDatabasePath configures where the catalog database lives.
func WithDatabasePath(path string) Option {
	return func(o *options) error {
		if path == "" {
			return errors.NewValidationError("database_path", path, "must not be empty")
		}
		o.databasePath = path
		return nil
	}
}

// WithBlobRoot configures the object storage root directory.
func WithBlobRoot(root string) Option {
	return func(o *options) error {
		if root == "" {
			return errors.NewValidationError("blob_root", root, "must not be empty")
		}
		o.blobRoot = root
		return nil
	}
}

// WithFs configures the filesystem backing the object store. The default is
// the OS filesystem; tests pass afero.NewMemMapFs().
func WithFs(fsys afero.Fs) Option {
	return func(o *options) error {
		o.fs = fsys
		return nil
	}
}

// WithSourceConfig configures the collection-table source client.
func WithSourceConfig(cfg source.Config) Option {
	return func(o *options) error {
		o.sourceConfig = &cfg
		return nil
	}
}

// WithSource configures a custom source, overriding WithSourceConfig.
func WithSource(src engine.Source) Option {
	return func(o *options) error {
		o.source = src
		return nil
	}
}

// WithCacheInvalidator configures the downstream cache invalidation hook
// called after each applied sync batch.
func WithCacheInvalidator(inv engine.CacheInvalidator) Option {
	return func(o *options) error {
		o.invalidator = inv
		return nil
	}
}

// WithIngestConcurrency bounds the parallel image downloads after a sync.
func WithIngestConcurrency(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.NewValidationError("ingest_concurrency", n, "must be non-negative")
		}
		o.ingestConcurrency = n
		return nil
	}
}

// WithRunHistory configures how many audit records to retain. Zero keeps the
// default window.
func WithRunHistory(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.NewValidationError("run_history", n, "must be non-negative")
		}
		o.runHistory = n
		return nil
	}
}

// WithSchedule configures the recurring triggers. The scheduler stays idle
// until SchedulerOn is called.
func WithSchedule(cfg sched.Config) Option {
	return func(o *options) error {
		o.schedule = &cfg
		return nil
	}
}

// WithNotificationSink configures where scheduled trigger outcomes are
// reported. The default logs them.
func WithNotificationSink(sink sched.NotificationSink) Option {
	return func(o *options) error {
		o.sink = sink
		return nil
	}
}
