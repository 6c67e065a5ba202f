// Package app assembles the components into a running service.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"oscehub/internal/api"
	"oscehub/internal/config"
	"oscehub/internal/database"
	"oscehub/internal/mediator"
	"oscehub/internal/station"
	"oscehub/internal/ws"
)

// Application coordinates all components. Initialization follows dependency
// order: database, station loader, mediator, WebSocket transport, API, HTTP.
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	loader     *station.Loader
	mediator   *mediator.Mediator
	registry   *ws.Registry
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	loader := station.NewLoader(dbManager)

	med := mediator.New(loader, dbManager, mediator.Config{
		GraceWindow:               cfg.Session.GraceWindow,
		TickInterval:              cfg.Session.TickInterval,
		DefaultDurationSeconds:    cfg.Session.DefaultDurationSeconds,
		SubmissionRetryMaxElapsed: cfg.Session.SubmissionRetryMaxElapsed,
		IdleSessionTTL:            cfg.Session.IdleSessionTTL,
		SweepInterval:             cfg.Session.SweepInterval,
	})

	registry := ws.NewRegistry()
	wsHandler := ws.NewHandler(med, registry, cfg.WebSocket)
	apiServer := api.NewServer(med, loader, dbManager, wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		loader:     loader,
		mediator:   med,
		registry:   registry,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the mediator and the HTTP listener, verifying the listener
// did not fail immediately before reporting readiness.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting oscehub on %s", app.httpServer.Addr)

	if err := app.mediator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mediator: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.mediator.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("oscehub started")
		return nil
	case <-ctx.Done():
		app.mediator.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down oscehub")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.mediator.Stop(); err != nil {
		log.Printf("Mediator shutdown error: %v", err)
	}
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("oscehub shutdown complete")
	return nil
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
