// Package app wires the server together and owns startup and shutdown
// ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/api"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/config"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/database"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/hub"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/router"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/session"
	"github.com/tinkertanker/classroom-widgets-sub001/internal/websocket"
	pkgdatabase "github.com/tinkertanker/classroom-widgets-sub001/pkg/database"
)

// Application coordinates all system components
// ARCHITECTURAL DISCOVERY: Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	journal     *database.Manager
	lifecycle   *lifecycleRecorder
	connections *websocket.Registry
	sessions    *session.Registry
	router      *router.Router
	hub         *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server

	mu          sync.Mutex
	stopWorkers context.CancelFunc
}

// NewApplication builds every component. Nothing runs until Start.
// FUNCTIONAL DISCOVERY: Component initialization follows strict dependency order
// Journal → Connections → Sessions → Router → Hub → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Results journal (migrated on open)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	journal, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	// STEP 2: Connection registry, which is also the broadcaster
	connections := websocket.NewRegistry()

	// STEP 3: Session registry, journaled through the lifecycle recorder
	lifecycle := newLifecycleRecorder(journal, cfg.Database.Timeout, dbConfig.WriteQueueSize)
	sessions := session.NewRegistry(connections, session.Options{
		MaxAge:     cfg.Session.MaxAge,
		CodeLength: cfg.Session.CodeLength,
		Observer:   lifecycle,
	})

	// STEP 4: Router and the single event loop in front of it
	eventRouter := router.NewRouter(sessions, journal, router.Options{
		MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
		JournalTimeout:    cfg.Database.Timeout,
	})
	hubOpts := hub.DefaultOptions()
	hubOpts.QueueSize = cfg.Hub.QueueSize
	eventHub := hub.NewHub(eventRouter, hubOpts)

	// STEP 5: WebSocket gateway feeding the hub
	wsHandler := websocket.NewHandler(connections, eventHub, websocket.Options{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	})

	// STEP 6: HTTP surface; the API router mounts /ws
	apiServer := api.NewServer(sessions, journal, connections, http.HandlerFunc(wsHandler.HandleWebSocket))
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		journal:     journal,
		lifecycle:   lifecycle,
		connections: connections,
		sessions:    sessions,
		router:      eventRouter,
		hub:         eventHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Handler is the complete HTTP surface
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// StartWorkers starts the event loop and the session sweeper without
// listening. Start calls it; tests serving Handler themselves call it
// directly.
func (app *Application) StartWorkers(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	if err := app.hub.Start(workerCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.sessions.StartSweeper(workerCtx, app.config.Session.SweepInterval)

	app.mu.Lock()
	app.stopWorkers = cancel
	app.mu.Unlock()
	return nil
}

// Start begins application execution
// FUNCTIONAL DISCOVERY: Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting classroom server on %s", app.httpServer.Addr)

	if err := app.StartWorkers(ctx); err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.haltWorkers()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Classroom server started successfully")
		return nil
	case <-ctx.Done():
		app.haltWorkers()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// FUNCTIONAL DISCOVERY: Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Hub → Sessions → Sockets → Journal
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classroom server")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Stop event processing and the sweeper
	app.haltWorkers()

	// STEP 3: Tell everyone their session is over, then journal it
	app.sessions.CloseAll(session.ReasonShutdown)
	app.lifecycle.Close()

	// STEP 4: Drop the sockets now that session:closed has been queued
	app.connections.CloseAll()

	// STEP 5: Close the journal after its last write
	if err := app.journal.Close(); err != nil {
		log.Printf("Journal shutdown error: %v", err)
	}

	log.Printf("Classroom server shutdown complete")
	return nil
}

func (app *Application) haltWorkers() {
	app.mu.Lock()
	cancel := app.stopWorkers
	app.stopWorkers = nil
	app.mu.Unlock()

	if cancel == nil {
		return
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}
	cancel()
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
