package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/tendwell/companion/internal/completion"
	"github.com/tendwell/companion/internal/config"
	"github.com/tendwell/companion/internal/db"
	"github.com/tendwell/companion/internal/events"
	"github.com/tendwell/companion/internal/middleware"
	"github.com/tendwell/companion/internal/repository"
	"github.com/tendwell/companion/internal/service"
)

type App struct {
	Cfg            *config.Config
	DB             *sqlx.DB
	Broker         events.Broker
	Registry       *completion.Registry
	GoalService    *service.GoalService
	AuthService    *service.AuthService
	CleanupSweeper *service.CleanupSweeper
	RateLimiter    *middleware.RateLimiter
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	broker, err := NewBroker(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize completion broker: %w", err)
	}

	return Assemble(cfg, database, broker), nil
}

// NewBroker returns a Redis-backed broker when REDIS_URL is set and an
// in-process one otherwise.
func NewBroker(cfg *config.Config) (events.Broker, error) {
	if cfg.RedisURL == "" {
		slog.Info("completion notices kept in process")
		return events.NewMemoryBroker(events.WithSlotTTL(cfg.CompletionSlotTTL)), nil
	}

	broker, err := events.NewRedisBroker(cfg.RedisURL, events.WithSlotTTL(cfg.CompletionSlotTTL))
	if err != nil {
		return nil, err
	}
	slog.Info("completion notices shared through redis")
	return broker, nil
}

// Assemble wires services around an open database and broker.
func Assemble(cfg *config.Config, database *sqlx.DB, broker events.Broker) *App {
	// Repositories
	goalRepository := repository.NewGoalRepository(database)

	// Services
	goalService := service.NewGoalService(goalRepository, cfg.GoalCleanupAge)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry, cfg.IsProduction())
	sweeper := service.NewCleanupSweeper(goalService, cfg.GoalCleanupInterval)

	registry := completion.NewRegistry(broker, cfg.ContextIdleTTL, completion.Options{
		Freshness: cfg.CompletionFreshness,
		Location:  cfg.CalendarLocation(),
	})

	return &App{
		Cfg:            cfg,
		DB:             database,
		Broker:         broker,
		Registry:       registry,
		GoalService:    goalService,
		AuthService:    authService,
		CleanupSweeper: sweeper,
		RateLimiter:    middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateWindow),
	}
}

// Run drives the background loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){
		a.CleanupSweeper.Run,
		a.Registry.Run,
		a.RateLimiter.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

func (a *App) Close() error {
	var errs []error
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
