package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/sems"
	"github.com/solarmind/solarmind/pkg/storage"
	"github.com/solarmind/solarmind/pkg/types"
)

const (
	jobTimeout = 2 * time.Minute
	// summaryDays covers yesterday so its final total is stored after midnight
	summaryDays = 2
)

// Aggregator is the part of the telemetry aggregator the jobs call. Jobs call
// it directly, bypassing the response cache.
type Aggregator interface {
	Status(ctx context.Context) (types.Status, error)
	Report(ctx context.Context) (types.Report, error)
	History(ctx context.Context, days int) (types.History, error)
}

// Publisher receives fresh telemetry.
type Publisher interface {
	PublishStatus(ctx context.Context, st types.Status) error
	PublishReport(ctx context.Context, r types.Report) error
}

// Scheduler periodically refreshes the status and the daily summaries,
// storing and publishing them.
type Scheduler struct {
	agg         Aggregator
	db          storage.Database
	pub         Publisher
	identity    *sems.InverterIdentity
	cron        *cron.Cron
	statusSpec  string
	summarySpec string
}

// New returns a Scheduler. An empty spec disables its job.
func New(agg Aggregator, db storage.Database, pub Publisher, identity *sems.InverterIdentity, statusSpec, summarySpec string) *Scheduler {
	return &Scheduler{
		agg:         agg,
		db:          db,
		pub:         pub,
		identity:    identity,
		cron:        cron.New(),
		statusSpec:  statusSpec,
		summarySpec: summarySpec,
	}
}

// Configured registers the scheduler flags.
func Configured(agg Aggregator, db storage.Database, pub Publisher, identity *sems.InverterIdentity) *Scheduler {
	statusSpec := lflag.String("scheduler-status-spec", "@every 5m", "Cron spec of the status refresh, empty disables it")
	summarySpec := lflag.String("scheduler-summary-spec", "0 * * * *", "Cron spec of the report and day summary job, empty disables it")

	s := New(agg, db, pub, identity, "", "")

	lflag.Do(func() {
		s.statusSpec = *statusSpec
		s.summarySpec = *summarySpec
	})

	return s
}

// Start schedules the jobs. They run until Stop.
func (s *Scheduler) Start() error {
	if s.statusSpec != "" {
		if _, err := s.cron.AddFunc(s.statusSpec, func() { s.run("status", s.RefreshStatus) }); err != nil {
			return fmt.Errorf("invalid status spec %q: %w", s.statusSpec, err)
		}
	}
	if s.summarySpec != "" {
		if _, err := s.cron.AddFunc(s.summarySpec, func() { s.run("summary", s.Summarize) }); err != nil {
			return fmt.Errorf("invalid summary spec %q: %w", s.summarySpec, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	ctx = log.WithAttrs(ctx, slog.String("job", name), slog.String("runID", uuid.NewString()))

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduled job failed", slog.Any("error", err))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "scheduled job finished", slog.Duration("duration", time.Since(start)))
}

// RunOnce runs every job once, for callers that schedule externally.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return errors.Join(s.RefreshStatus(ctx), s.Summarize(ctx))
}

// RefreshStatus fetches the status, stores it and publishes it.
func (s *Scheduler) RefreshStatus(ctx context.Context) error {
	st, err := s.agg.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	var errs []error
	if err := s.db.InsertStatus(ctx, s.identity.Serial, st); err != nil {
		errs = append(errs, fmt.Errorf("failed to store status: %w", err))
	}
	if err := s.pub.PublishStatus(ctx, st); err != nil {
		errs = append(errs, fmt.Errorf("failed to publish status: %w", err))
	}
	return errors.Join(errs...)
}

// Summarize publishes the report and stores the summaries of today and
// yesterday. Days with failed fetches are not stored so a partial day never
// replaces a complete one.
func (s *Scheduler) Summarize(ctx context.Context) error {
	var errs []error

	report, err := s.agg.Report(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to get report: %w", err))
	} else if err := s.pub.PublishReport(ctx, report); err != nil {
		errs = append(errs, fmt.Errorf("failed to publish report: %w", err))
	}

	history, err := s.agg.History(ctx, summaryDays)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to get history: %w", err))
		return errors.Join(errs...)
	}
	for _, day := range history.Days {
		if len(day.Errors) > 0 {
			log.Ctx(ctx).WarnContext(ctx, "skipping incomplete day summary", slog.String("date", day.Date), slog.Any("errors", day.Errors))
			continue
		}
		if err := s.db.UpsertDaySummary(ctx, s.identity.Serial, day); err != nil {
			errs = append(errs, fmt.Errorf("failed to store day summary %s: %w", day.Date, err))
		}
	}
	return errors.Join(errs...)
}
