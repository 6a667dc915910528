package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"raidboard/internal/api"
	"raidboard/internal/catalog"
	"raidboard/internal/config"
	"raidboard/internal/database"
	"raidboard/internal/encounter"
	"raidboard/internal/hub"
	"raidboard/internal/session"
	"raidboard/internal/websocket"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	catalog    *catalog.Catalog
	dbManager  *database.Manager
	sessions   *session.Manager
	reaper     *session.Reaper
	registry   *websocket.Registry
	eventHub   *hub.Hub
	limiter    *api.RateLimiter
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Catalog → Database → Sessions → Registry → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Dungeon catalog (built in unless a file is configured)
	dungeons := catalog.Default()
	if cfg.Catalog.Path != "" {
		loaded, err := catalog.LoadFromFile(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		dungeons = loaded
	}
	log.Printf("Catalog loaded: %d dungeons", len(dungeons.List()))

	// STEP 2: Database manager applies pragmas and embedded migrations on open
	dbManager, err := database.NewManager(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 3: Session coordination backed by the player store
	registry := session.NewRegistry(dungeons)
	resolver := encounter.NewResolver(cfg.EncounterConfig())
	sessions := session.NewManager(registry, dbManager, resolver)
	sessions.SetRecorder(dbManager)
	reaper := session.NewReaper(sessions, cfg.ReaperSettings())

	// STEP 4: Live event feed
	connections := websocket.NewRegistry()
	eventHub := hub.NewHub(connections, cfg.WebSocket.EventBuffer)
	sessions.SetPublisher(eventHub)

	wsHandler := websocket.NewHandler(connections, sessions)
	wsHandler.SetHeartbeat(cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout)

	// STEP 5: HTTP API with the feed mounted alongside
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	apiServer := api.NewServer(sessions, dbManager, dungeons, connections, limiter)
	apiServer.Handle("/ws", http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		catalog:    dungeons,
		dbManager:  dbManager,
		sessions:   sessions,
		reaper:     reaper,
		registry:   connections,
		eventHub:   eventHub,
		limiter:    limiter,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first so no transition is published into a stopped queue, then
// the reaper, then the HTTP listener
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if err := app.eventHub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	if err := app.reaper.Start(runCtx); err != nil {
		app.eventHub.Stop()
		cancel()
		return fmt.Errorf("failed to start reaper: %w", err)
	}

	// TECHNICAL DISCOVERY: Binding before serving surfaces port conflicts
	// synchronously and resolves port 0 to the real address
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.reaper.Stop()
		app.eventHub.Stop()
		cancel()
		return fmt.Errorf("HTTP listen error: %w", err)
	}
	app.listener = listener

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	go func() {
		defer app.wg.Done()
		app.cleanupLoop(runCtx)
	}()

	select {
	case <-ctx.Done():
		app.Stop(context.Background())
		return ctx.Err()
	default:
	}

	log.Printf("Raidboard started on %s", listener.Addr())
	return nil
}

// cleanupLoop evicts idle rate-limit state
func (app *Application) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(app.config.RateLimit.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := app.limiter.Cleanup(); removed > 0 {
				log.Printf("Rate limiter cleanup: removed=%d", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Reaper → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down Raidboard")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.reaper.Stop(); err != nil {
		log.Printf("Reaper shutdown error: %v", err)
	}

	if err := app.eventHub.Stop(); err != nil {
		log.Printf("Event hub shutdown error: %v", err)
	}

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Raidboard shutdown complete")
	return nil
}

// GetAddr returns the address the HTTP server is listening on
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Sessions exposes the coordinator for in-process callers
func (app *Application) Sessions() *session.Manager {
	return app.sessions
}

// Players exposes the SQLite player store
func (app *Application) Players() *database.Manager {
	return app.dbManager
}
