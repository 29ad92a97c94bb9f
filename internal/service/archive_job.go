package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/stakepool/internal/domain"
)

const archiveLockKey = "archive:events"

// ArchiveJob moves old ledger events to cold storage on a cron schedule and
// prunes them from the primary store only after the upload succeeded. A
// distributed lock keeps multiple instances from archiving the same window.
type ArchiveJob struct {
	archiver  domain.Archiver
	events    domain.EventStore
	locks     domain.LockManager
	alerts    Alerter
	cron      *cron.Cron
	spec      string
	retention time.Duration
	batchSize int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. spec is a six-field cron expression
// (seconds first). batchSize must match the archiver's upload cap so the job
// knows when a run was truncated. locks and alerts may be nil.
func NewArchiveJob(
	archiver domain.Archiver,
	events domain.EventStore,
	locks domain.LockManager,
	alerts Alerter,
	spec string,
	retention time.Duration,
	batchSize int64,
	logger *slog.Logger,
) *ArchiveJob {
	return &ArchiveJob{
		archiver:  archiver,
		events:    events,
		locks:     locks,
		alerts:    alerts,
		cron:      cron.New(cron.WithSeconds()),
		spec:      spec,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Start registers the schedule and begins running it.
func (j *ArchiveJob) Start() error {
	_, err := j.cron.AddFunc(j.spec, func() {
		if err := j.RunNow(context.Background()); err != nil {
			j.logger.Error("scheduled archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("register archive schedule %q: %w", j.spec, err)
	}
	j.cron.Start()
	j.logger.Info("archive schedule started",
		slog.String("cron", j.spec),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (j *ArchiveJob) Stop() {
	<-j.cron.Stop().Done()
}

// RunNow performs one archive pass immediately.
func (j *ArchiveJob) RunNow(ctx context.Context) error {
	if j.locks != nil {
		unlock, err := j.locks.Acquire(ctx, archiveLockKey, 15*time.Minute)
		if errors.Is(err, domain.ErrLockHeld) {
			j.logger.InfoContext(ctx, "archive run skipped, another instance holds the lock")
			return nil
		}
		if err != nil {
			return fmt.Errorf("acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := j.now().UTC().Add(-j.retention)

	archived, err := j.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		j.alert(ctx, "Event archive failed", err.Error())
		return fmt.Errorf("archive events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if archived == 0 {
		j.logger.DebugContext(ctx, "no events older than retention window")
		return nil
	}

	// A full batch means rows older than the cutoff may remain un-uploaded.
	// Prune later, once a run comes back under the cap with everything stored.
	if j.batchSize > 0 && archived >= j.batchSize {
		j.logger.WarnContext(ctx, "archive batch cap reached, deferring prune",
			slog.Int64("archived", archived),
			slog.Int64("batch_size", j.batchSize),
		)
		return nil
	}

	pruned, err := j.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.alert(ctx, "Event prune failed", err.Error())
		return fmt.Errorf("prune events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	j.logger.InfoContext(ctx, "event archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("pruned", pruned),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

func (j *ArchiveJob) alert(ctx context.Context, title, message string) {
	if j.alerts == nil {
		return
	}
	if err := j.alerts.Notify(ctx, "error", title, message); err != nil {
		j.logger.WarnContext(ctx, "archive alert failed", slog.String("error", err.Error()))
	}
}
