// Command whitelistd serves the combined whitelist and the admin API, and
// keeps role grants in sync with a Discord guild.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fernandezvara/whitelistkit"
	whitelistgin "github.com/fernandezvara/whitelistkit/adapters/gin"
	"github.com/fernandezvara/whitelistkit/config"
	"github.com/fernandezvara/whitelistkit/discord"
	"github.com/fernandezvara/whitelistkit/jobs"
	redisbus "github.com/fernandezvara/whitelistkit/storage/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("whitelistd failed")
	}
	logger.Info("whitelistd stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := dbkit.New(dbkit.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	store := whitelistkit.NewBunStore(db)
	if err := store.ConfigurePool(whitelistkit.PoolConfigForConcurrency(cfg.SyncConcurrency)); err != nil {
		return fmt.Errorf("connection pool configuration failed: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open job queue pool: %w", err)
	}
	defer pool.Close()
	if err := jobs.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("job queue migration failed: %w", err)
	}

	var runner *jobs.Runner
	opts := []whitelistkit.Option{
		whitelistkit.WithLogger(logger),
		whitelistkit.WithDefaultGroup(cfg.DefaultGroup, cfg.DefaultPermissions...),
		whitelistkit.WithSyncConcurrency(cfg.SyncConcurrency),
		whitelistkit.WithMemberTimeout(cfg.MemberTimeout),
		whitelistkit.WithCacheTTL(cfg.CacheTTL),
		whitelistkit.WithSyncScheduler(whitelistkit.SyncSchedulerFunc(func(ctx context.Context, id string) error {
			if runner == nil {
				return errors.New("job runner not started")
			}
			return runner.ScheduleUserSync(ctx, id)
		})),
	}
	if cfg.SyncEnabled() {
		client := discord.NewClient(cfg.DiscordToken, discord.WithBaseURL(cfg.DiscordAPIURL))
		opts = append(opts, whitelistkit.WithGuild(client, cfg.DiscordGuildID))
	}

	var bus *redisbus.Bus
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		bus = redisbus.New(rdb, "", logger)
		opts = append(opts, whitelistkit.WithInvalidationBus(bus))
	}

	svc := whitelistkit.NewService(store, opts...)

	applied, err := whitelistkit.NewMigrationService(svc).RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.WithField("applied", applied).Info("database migrations complete")

	if bus != nil {
		if err := bus.Subscribe(ctx, svc.InvalidateLocal); err != nil {
			return fmt.Errorf("failed to subscribe to invalidations: %w", err)
		}
	}

	schedule := ""
	if cfg.SyncEnabled() {
		schedule = cfg.SyncSchedule
	}
	runner, err = jobs.NewRunner(pool, svc, jobs.Config{Workers: cfg.JobWorkers, Schedule: schedule, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create job runner: %w", err)
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	if cfg.InsecureNoAuth && cfg.AdminToken == "" {
		logger.Warn("admin API is running without authentication")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	whitelistgin.Register(router, svc, whitelistgin.Config{
		Middleware: whitelistkit.NewMiddleware(cfg.AdminToken),
		Health:     whitelistkit.NewHealthService(svc),
		Logger:     logger,
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, gracefully stopping")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("job runner shutdown incomplete")
	}
	return nil
}
