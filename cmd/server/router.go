package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/grimoire/internal/api"
	apiMiddleware "github.com/phrazzld/grimoire/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It accepts the application dependencies to create handlers
// and register routes. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	// Create API handlers using the application's services
	eventHandler := api.NewEventHandler(app.eventService, app.logger)
	snapshotHandler := api.NewSnapshotHandler(app.snapshotService, app.logger)
	subscriptionHandler := api.NewSubscriptionHandler(app.dispatcher, app.cursorStore, app.logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Stream endpoints
		r.Route("/streams/{streamType}/{streamID}", func(r chi.Router) {
			r.Post("/events", eventHandler.AppendEvents)
			r.Get("/events", eventHandler.GetStreamEvents)
			r.Get("/version", eventHandler.GetStreamVersion)
			r.Put("/snapshot", snapshotHandler.SaveSnapshot)
			r.Get("/snapshot", snapshotHandler.GetLatestSnapshot)
		})

		// Global feed
		r.Get("/events", eventHandler.GetAllEvents)

		// Live subscriptions (SSE)
		r.Get("/subscriptions/all", subscriptionHandler.SubscribeAll)
		r.Get("/subscriptions/streams/{streamType}", subscriptionHandler.SubscribeStream)

		// Durable subscriber cursors
		r.Post("/subscribers/{name}/ack", subscriptionHandler.AckCursor)
		r.Get("/subscribers/{name}/cursor", subscriptionHandler.GetCursor)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	return r
}
