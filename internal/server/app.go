// Package server wires the session subsystem together and owns its
// lifecycle: storage, cache, services, the expiry sweep schedule and the
// metrics endpoint. Start on boot, stop on SIGINT/SIGTERM/SIGQUIT.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tripkeeper/internal/server/config"
	"github.com/dmitrijs2005/tripkeeper/internal/server/forensics"
	"github.com/dmitrijs2005/tripkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/tokencache"
	"github.com/dmitrijs2005/tripkeeper/internal/server/scheduler"
	"github.com/dmitrijs2005/tripkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"
)

const stopTimeout = 30 * time.Second

var notifyContext = signal.NotifyContext

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	redis       *redis.Client
	metrics     *metrics.Metrics
	families    *services.FamilyService
	sessions    *services.SessionService
	reaper      *services.ReaperService
	scheduler   *scheduler.Scheduler
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	return newApp(context.Background(), c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	rm, err := repomanager.New(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, repomanager: rm, metrics: metrics.New()}

	var cache tokencache.Cache = tokencache.Nop{}
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		cache = tokencache.NewRedisCache(app.redis, c.CacheTTL)
	}

	var archiver forensics.Archiver = forensics.Nop{}
	if c.ForensicsEnabled {
		archiver, err = forensics.NewS3Archiver(ctx, c)
		if err != nil {
			_ = rm.Close()
			return nil, fmt.Errorf("forensics init error: %w", err)
		}
	}

	signer := auth.NewJWTSigner([]byte(c.SecretKey))

	app.families = services.NewFamilyService(rm, cache, logger)
	app.sessions = services.NewSessionService(app.families, signer, archiver, app.metrics, logger, c)
	app.reaper = services.NewReaperService(rm, app.metrics, logger)
	app.scheduler = scheduler.New(logger)

	return app, nil
}

// Sessions is the entry point for the authentication endpoints.
func (app *App) Sessions() *services.SessionService {
	return app.sessions
}

// Families exposes the rotation engine for administrative use.
func (app *App) Families() *services.FamilyService {
	return app.families
}

func (app *App) sweep(ctx context.Context) error {
	_, err := app.reaper.SweepExpired(ctx)
	return err
}

func (app *App) scheduleSweeps() error {
	if err := app.scheduler.Add("sweep_hourly", app.config.SweepHourlySpec, app.sweep); err != nil {
		return err
	}
	if err := app.scheduler.Add("sweep_daily", app.config.SweepDailySpec, app.sweep); err != nil {
		return err
	}
	return nil
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := metrics.NewServer(app.config.MetricsAddr, app.metrics, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run migrates the schema, starts the sweep schedule and the metrics
// endpoint, and blocks until ctx is cancelled or a signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, stopSignals := notifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stopSignals()

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.repomanager.RunMigrations(ctx); err != nil {
		app.close(ctx)
		return fmt.Errorf("migrations error: %w", err)
	}

	if err := app.scheduleSweeps(); err != nil {
		app.close(ctx)
		return err
	}
	app.scheduler.Start()

	var wg sync.WaitGroup

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	<-ctx.Done()

	app.logger.Info(ctx, "Stopping app...")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	app.scheduler.Stop(stopCtx)

	wg.Wait()
	app.close(stopCtx)

	return nil
}

func (app *App) close(ctx context.Context) {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(ctx, "redis close error", "error", err)
		}
	}
	if err := app.repomanager.Close(); err != nil {
		app.logger.Warn(ctx, "db close error", "error", err)
	}
}
