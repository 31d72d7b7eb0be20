package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"cohortlive/internal/api"
	"cohortlive/internal/auth"
	"cohortlive/internal/catalog"
	"cohortlive/internal/config"
	"cohortlive/internal/database"
	"cohortlive/internal/hub"
	"cohortlive/internal/joincode"
	"cohortlive/internal/notify"
	"cohortlive/internal/position"
	"cohortlive/internal/presence"
	"cohortlive/internal/session"
	"cohortlive/internal/telemetry"
	"cohortlive/internal/websocket"
	pkgdatabase "cohortlive/pkg/database"
	"cohortlive/pkg/interfaces"
)

// Application coordinates all system components.
// Initialization order: Store → Hub → Notifier → Services → API → HTTP
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	registry   *websocket.Registry
	eventHub   *hub.Hub
	redis      *notify.RedisPublisher
	limiter    *api.RateLimiter
	apiServer  *api.Server
	httpServer *http.Server

	stopLimiter       context.CancelFunc
	stopRelay         context.CancelFunc
	relayDone         <-chan struct{}
	shutdownTelemetry func(context.Context) error
}

// healthCheck reports the store and, when enabled, redis.
type healthCheck struct {
	store *database.Manager
	redis *notify.RedisPublisher
}

func (h healthCheck) HealthCheck(ctx context.Context) error {
	if err := h.store.HealthCheck(ctx); err != nil {
		return err
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

// OpenStore opens the SQLite store named by cfg and brings its schema up to
// date.
func OpenStore(cfg *config.Config) (*database.Manager, error) {
	storeConfig := cfg.Store()
	dbManager, err := database.NewManager(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations, err := pkgdatabase.MigrationsFS(storeConfig)
	if err != nil {
		dbManager.Close()
		return nil, err
	}
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), migrations)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrationManager.ValidateSchema(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}
	log.Println("app: database migrations applied")
	return dbManager, nil
}

// NewApplication builds every component from cfg. Nothing is served until
// Start is called.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Store, schema up to date before anything reads from it
	dbManager, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Database.CatalogFile != "" {
		if _, err := catalog.ImportFile(context.Background(), dbManager, cfg.Database.CatalogFile); err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("failed to import catalog: %w", err)
		}
	}

	// STEP 2: Observer fan-out and change notification
	registry := websocket.NewRegistry()
	eventHub := hub.NewHubWithQueue(registry, cfg.WebSocket.HubQueueSize)

	var notifier interfaces.Notifier = eventHub
	var redisPublisher *notify.RedisPublisher
	if cfg.Redis.Enabled {
		redisPublisher, err = notify.NewRedisPublisher(context.Background(), notify.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		notifier = notify.Multi{eventHub, redisPublisher}
		log.Printf("app: publishing events to redis at %s", cfg.Redis.Addr)
	}
	notifier = notify.NewLogging(notifier)

	// STEP 3: Domain services
	sessions := session.NewRegistry(dbManager, dbManager, dbManager, joincode.NewGenerator(), notifier)
	tracker := presence.NewTracker(sessions, dbManager, dbManager, notifier)
	controller := position.NewController(sessions, dbManager, notifier)

	// STEP 4: Transport
	verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		redisPublisher.Close()
		dbManager.Close()
		return nil, err
	}
	limiter := api.NewRateLimiter(cfg.RateLimit.PerMinute)

	wsHandler := websocket.NewHandler(registry, verifier, sessions, tracker, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	apiServer := api.NewServer(api.Deps{
		Sessions: sessions,
		Presence: tracker,
		Position: controller,
		Verifier: verifier,
		Limiter:  limiter,
		Health:   healthCheck{store: dbManager, redis: redisPublisher},
		Stats:    eventHub,
		Observe:  wsHandler.HandleWebSocket,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		eventHub:   eventHub,
		redis:      redisPublisher,
		limiter:    limiter,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings up tracing and the event hub, then serves HTTP in the
// background. It returns once the listener is up or has failed.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("app: starting cohortlive on %s", app.httpServer.Addr)

	shutdown, err := telemetry.Setup(ctx, app.config.Telemetry)
	if err != nil {
		log.Printf("app: tracing disabled: %v", err)
	}
	app.shutdownTelemetry = shutdown

	// STEP 1: Events flow before any request can produce one
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// Events published by other processes reach this process's observers.
	if app.redis != nil {
		relayCtx, stopRelay := context.WithCancel(context.Background())
		done, err := app.redis.Relay(relayCtx, app.eventHub)
		if err != nil {
			stopRelay()
			app.eventHub.Stop()
			return fmt.Errorf("failed to subscribe to redis: %w", err)
		}
		app.stopRelay = stopRelay
		app.relayDone = done
	}

	limiterCtx, cancel := context.WithCancel(context.Background())
	app.stopLimiter = cancel
	go app.limiter.Run(limiterCtx, app.config.RateLimit.CleanupInterval)

	// STEP 2: Accept connections
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		app.haltRelay()
		app.eventHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("app: cohortlive started")
		return nil
	case <-ctx.Done():
		cancel()
		app.haltRelay()
		app.eventHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP → Relay → Hub → Redis → Store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("app: shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if app.stopLimiter != nil {
		app.stopLimiter()
	}
	app.haltRelay()
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := app.redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close: %w", err))
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}
	if app.shutdownTelemetry != nil {
		if err := app.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}

	log.Printf("app: shutdown complete")
	return errors.Join(errs...)
}

// haltRelay stops the redis relay and waits for it to finish.
func (app *Application) haltRelay() {
	if app.stopRelay == nil {
		return
	}
	app.stopRelay()
	<-app.relayDone
	app.stopRelay = nil
}

// Handler returns the HTTP handler serving the API and observer endpoint.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
