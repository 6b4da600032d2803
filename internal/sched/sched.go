// Package sched runs the four recurring triggers (incremental sync, full
// sync, image refresh, consistency validation) on independent cron
// expressions.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/provender/shelfsync/internal/engine"
	"github.com/provender/shelfsync/internal/validate"
	"github.com/provender/shelfsync/pkg/errors"
	"github.com/provender/shelfsync/pkg/logging"
	"github.com/provender/shelfsync/pkg/sync"
)

// Event describes one trigger firing, successful or not.
type Event struct {
	Trigger string    `json:"trigger"`
	Err     error     `json:"-"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// NotificationSink receives trigger outcomes. Implementations route them to
// whatever channel the deployment uses; the default logs.
type NotificationSink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink is the default NotificationSink.
type LogSink struct{}

// Notify implements NotificationSink.
func (LogSink) Notify(_ context.Context, event Event) {
	if event.Err != nil {
		logging.Error().
			Err(event.Err).
			Str("trigger", event.Trigger).
			Msg("Scheduled trigger failed")
		return
	}
	logging.Info().
		Str("trigger", event.Trigger).
		Str("detail", event.Detail).
		Msg("Scheduled trigger completed")
}

// Config binds each trigger to a cron expression. Empty expressions disable
// their trigger. All expressions share one time zone.
type Config struct {
	Incremental string // e.g. "0 * * * *"
	Full        string // e.g. "30 3 * * *"
	Images      string // e.g. "0 5 * * 0"
	Validation  string // e.g. "15 4 * * *"
	TimeZone    string // IANA zone name, empty means local

	// StaleRunAfter bounds the validation trigger's tracker recovery.
	StaleRunAfter time.Duration
}

// Scheduler owns the cron runner. Each trigger skips its own firing while a
// previous firing of the same trigger is still in flight.
type Scheduler struct {
	cron      *cron.Cron
	engine    *engine.Engine
	validator *validate.Validator
	sink      NotificationSink
	staleGap  time.Duration
}

// New creates a Scheduler with the configured triggers registered.
func New(cfg Config, eng *engine.Engine, validator *validate.Validator, sink NotificationSink) (*Scheduler, error) {
	if sink == nil {
		sink = LogSink{}
	}

	loc := time.Local
	if cfg.TimeZone != "" {
		parsed, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, errors.NewConfigError("scheduler", "invalid time zone "+cfg.TimeZone, err)
		}
		loc = parsed
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		),
		engine:    eng,
		validator: validator,
		sink:      sink,
		staleGap:  cfg.StaleRunAfter,
	}

	triggers := []struct {
		name string
		spec string
		run  func(ctx context.Context) (string, error)
	}{
		{"incremental", cfg.Incremental, s.runIncremental},
		{"full", cfg.Full, s.runFull},
		{"images", cfg.Images, s.runImages},
		{"validation", cfg.Validation, s.runValidation},
	}

	for _, t := range triggers {
		if t.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(t.spec, s.wrap(t.name, t.run)); err != nil {
			return nil, errors.NewConfigError("scheduler",
				"invalid cron expression for "+t.name+" trigger", err)
		}
	}

	return s, nil
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
	logging.Info().Msg("Scheduler started")
}

// Stop halts the scheduler, waiting for in-flight triggers to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logging.Info().Msg("Scheduler stopped")
}

// wrap adapts a trigger body into a cron job that reports its outcome to the
// sink. A sync already in flight is an expected skip, not a failure.
func (s *Scheduler) wrap(name string, run func(ctx context.Context) (string, error)) func() {
	return func() {
		ctx := context.Background()
		detail, err := run(ctx)

		if errors.IsSyncAlreadyRunning(err) {
			logging.Debug().
				Str("trigger", name).
				Msg("Trigger skipped, sync already running")
			return
		}

		s.sink.Notify(ctx, Event{
			Trigger: name,
			Err:     err,
			Detail:  detail,
			At:      time.Now().UTC(),
		})
	}
}

func (s *Scheduler) runIncremental(ctx context.Context) (string, error) {
	result, err := s.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeIncremental)))
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

func (s *Scheduler) runFull(ctx context.Context) (string, error) {
	result, err := s.engine.Run(ctx, sync.Defaults().Apply(sync.WithMode(sync.ModeFull)))
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

// runImages re-applies every source record so image ingestion revisits all
// attachments; digest dedup makes untouched images a cheap no-op.
func (s *Scheduler) runImages(ctx context.Context) (string, error) {
	result, err := s.engine.Run(ctx, sync.Defaults().Apply(
		sync.WithMode(sync.ModeFull), sync.WithForceUpdate(true)))
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

func (s *Scheduler) runValidation(ctx context.Context) (string, error) {
	report, err := s.validator.Validate(ctx, validate.Options{StaleRunAfter: s.staleGap})
	if err != nil {
		return "", err
	}
	if !report.Clean() {
		return "", fmt.Errorf("consistency check found %d issues", len(report.Issues))
	}
	return "consistency check clean", nil
}

// cronLogger adapts the cron library's logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
