package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phrazzld/grimoire/internal/config"
	"github.com/phrazzld/grimoire/internal/platform/metrics"
	"github.com/phrazzld/grimoire/internal/platform/postgres"
	"github.com/phrazzld/grimoire/internal/service"
	"github.com/phrazzld/grimoire/internal/store"
	"github.com/phrazzld/grimoire/internal/subscription"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	eventStore    store.EventStore
	snapshotStore store.SnapshotStore
	cursorStore   store.CursorStore

	// Service interfaces
	eventService    service.EventService
	snapshotService service.SnapshotService

	// Subscription dispatch
	dispatcher *subscription.Dispatcher

	// Instrumentation
	registry *prometheus.Registry
	metrics  *metrics.StoreMetrics
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Instrumentation
	app.registry = prometheus.NewRegistry()
	app.metrics = metrics.New(app.registry)

	// Initialize stores
	eventStore := postgres.NewPostgresEventStore(db, logger)
	if err := eventStore.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}
	app.eventStore = eventStore
	app.snapshotStore = postgres.NewPostgresSnapshotStore(db, logger)
	app.cursorStore = postgres.NewPostgresCursorStore(db, logger)
	logger.Info("Event store initialized")

	// Initialize the subscription dispatcher before the event service so
	// commits can wake live subscribers.
	app.dispatcher = subscription.NewDispatcher(
		app.eventStore,
		app.cursorStore,
		subscription.DispatcherConfig{
			BufferSize:   cfg.Subscription.BufferSize,
			BatchSize:    cfg.Subscription.BatchSize,
			PollInterval: cfg.Subscription.PollInterval,
		},
		app.metrics,
		logger,
	)

	// Initialize services
	app.eventService = service.NewEventService(app.eventStore, app.dispatcher, app.metrics, logger)
	app.snapshotService = service.NewSnapshotService(
		app.snapshotStore,
		app.eventStore,
		cfg.Snapshot.Keep,
		logger,
	)

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// Stop the dispatcher first so subscribers drain before the database
	// connection goes away.
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
