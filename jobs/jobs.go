// Package jobs runs role syncs out of band on a river queue: single user
// retries after a failed upgrade sync, and a periodic full guild sync on a
// cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fernandezvara/whitelistkit"
)

// QueueSync is the queue every sync job runs on.
const QueueSync = "whitelist_sync"

// SyncUserArgs re-syncs one Discord user.
type SyncUserArgs struct {
	DiscordUserID string `json:"discord_user_id"`
}

func (SyncUserArgs) Kind() string { return "whitelist_sync_user" }

// InsertOpts dedupes pending retries for the same user.
func (SyncUserArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSync,
		MaxAttempts: 5,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute},
	}
}

// SyncAllArgs syncs every member holding a tracked role.
type SyncAllArgs struct{}

func (SyncAllArgs) Kind() string { return "whitelist_sync_all" }

func (SyncAllArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSync,
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// SyncUserWorker runs SyncUserArgs.
type SyncUserWorker struct {
	river.WorkerDefaults[SyncUserArgs]
	Syncer whitelistkit.Syncer
	Logger logrus.FieldLogger
}

func (w *SyncUserWorker) Work(ctx context.Context, job *river.Job[SyncUserArgs]) error {
	res, err := w.Syncer.SyncUser(ctx, job.Args.DiscordUserID)
	switch {
	case errors.Is(err, whitelistkit.ErrMemberNotFound), errors.Is(err, whitelistkit.ErrNoGuild):
		return river.JobCancel(err)
	case err != nil:
		return err
	}
	w.Logger.WithFields(logrus.Fields{
		"discord_user_id": res.DiscordUserID,
		"action":          res.Action,
		"attempt":         job.Attempt,
	}).Info("scheduled user sync finished")
	return nil
}

// SyncAllWorker runs SyncAllArgs.
type SyncAllWorker struct {
	river.WorkerDefaults[SyncAllArgs]
	Syncer whitelistkit.Syncer
	Logger logrus.FieldLogger
}

func (w *SyncAllWorker) Work(ctx context.Context, job *river.Job[SyncAllArgs]) error {
	summary, err := w.Syncer.SyncAll(ctx)
	if err != nil {
		return err
	}
	if summary.Errors > 0 {
		w.Logger.WithField("errors", summary.Errors).Warn("periodic sync finished with member failures")
	}
	return nil
}

// Timeout bounds a full guild sync.
func (w *SyncAllWorker) Timeout(*river.Job[SyncAllArgs]) time.Duration { return 30 * time.Minute }

// Config configures the job runner.
type Config struct {
	// Workers is the number of concurrent sync jobs.
	Workers int
	// Schedule is a standard five field cron expression for the full sync.
	// Empty disables the periodic sync.
	Schedule string
	Logger   logrus.FieldLogger
}

// Runner owns the river client. It implements whitelistkit.SyncScheduler.
type Runner struct {
	client *river.Client[pgx.Tx]
	logger logrus.FieldLogger
}

// Migrate installs or upgrades river's own tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	_, err = migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	return err
}

// ParseSchedule parses a cron expression into a river periodic schedule.
func ParseSchedule(expr string) (river.PeriodicSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NewRunner builds a river client with the sync workers registered.
func NewRunner(pool *pgxpool.Pool, syncer whitelistkit.Syncer, cfg Config) (*Runner, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	logger := cfg.Logger.WithField("component", "jobs")

	workers := river.NewWorkers()
	river.AddWorker(workers, &SyncUserWorker{Syncer: syncer, Logger: logger})
	river.AddWorker(workers, &SyncAllWorker{Syncer: syncer, Logger: logger})

	riverCfg := &river.Config{
		Queues:  map[string]river.QueueConfig{QueueSync: {MaxWorkers: cfg.Workers}},
		Workers: workers,
	}
	if cfg.Schedule != "" {
		sched, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		riverCfg.PeriodicJobs = []*river.PeriodicJob{
			river.NewPeriodicJob(sched, func() (river.JobArgs, *river.InsertOpts) {
				return SyncAllArgs{}, nil
			}, nil),
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, err
	}
	return &Runner{client: client, logger: logger}, nil
}

// Start begins working jobs until Stop.
func (r *Runner) Start(ctx context.Context) error {
	return r.client.Start(ctx)
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop(ctx context.Context) error {
	return r.client.Stop(ctx)
}

// ScheduleUserSync enqueues a retry of one user's sync.
func (r *Runner) ScheduleUserSync(ctx context.Context, discordUserID string) error {
	_, err := r.client.Insert(ctx, SyncUserArgs{DiscordUserID: discordUserID}, nil)
	if err != nil {
		return err
	}
	r.logger.WithField("discord_user_id", discordUserID).Info("user sync scheduled")
	return nil
}

// ScheduleSyncAll enqueues a full guild sync now.
func (r *Runner) ScheduleSyncAll(ctx context.Context) error {
	_, err := r.client.Insert(ctx, SyncAllArgs{}, nil)
	return err
}

var _ whitelistkit.SyncScheduler = (*Runner)(nil)
