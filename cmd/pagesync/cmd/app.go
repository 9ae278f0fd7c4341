package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/kimhsiao/pagesync/backend/internal/analysis"
	"github.com/kimhsiao/pagesync/backend/internal/apiclient"
	"github.com/kimhsiao/pagesync/backend/internal/clock"
	"github.com/kimhsiao/pagesync/backend/internal/config"
	"github.com/kimhsiao/pagesync/backend/internal/db"
	"github.com/kimhsiao/pagesync/backend/internal/gateway"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/queue"
	"github.com/kimhsiao/pagesync/backend/internal/sync/scheduler"
)

// app holds the wired service components.
type app struct {
	db       *db.DB
	registry *scheduler.Registry
	retries  *queue.RetryQueue
	manager  *sync.Manager
}

// newApp opens and migrates the database and builds one scheduler per
// configured service. Schedulers are not started.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	clk := clock.New()
	registry, err := newRegistry(cfg, clk)
	if err != nil {
		database.Close()
		return nil, err
	}
	gw, err := gateway.FromRegistry(registry, cfg.Sync.Service)
	if err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewSQLStore(database)
	retries := queue.NewRetryQueue(store, clk)
	manager := sync.NewManager(
		db.NewRepository(store),
		retries,
		gw,
		analysis.NewKeywordGenerator(),
		clk,
		cfg.Sync.ManagerConfig(),
	)

	logging.Info("Service components initialized", map[string]interface{}{
		"driver":   cfg.Database.Driver,
		"service":  cfg.Sync.Service,
		"services": registry.Names(),
	})

	return &app{
		db:       database,
		registry: registry,
		retries:  retries,
		manager:  manager,
	}, nil
}

func newRegistry(cfg *config.Config, clk clock.Clock) (*scheduler.Registry, error) {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	registry := scheduler.NewRegistry()
	for _, name := range names {
		svc := cfg.Services[name]
		client := apiclient.NewHTTPClient(apiclient.HTTPConfig{
			BaseURL: svc.BaseURL,
			Headers: svc.Headers(),
			Timeout: svc.Timeout,
		})
		if err := registry.Register(scheduler.NewScheduler(name, client, clk, svc.SchedulerConfig())); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Close waits for background syncs, stops the schedulers and closes the
// database.
func (a *app) Close() error {
	a.manager.Wait()
	a.registry.StopAll()
	return a.db.Close()
}
