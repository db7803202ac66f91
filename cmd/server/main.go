package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesync/internal/app"
	"ridesync/internal/config"
	"ridesync/internal/feed"
	"ridesync/internal/handler"
	"ridesync/internal/logger"
	"ridesync/internal/maps"
	"ridesync/internal/notify"
	internalRedis "ridesync/internal/redis"
	"ridesync/internal/repository/postgres"
	"ridesync/internal/session"
	"ridesync/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logger.New(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	nrApp := app.NewNewRelic(cfg.NewRelic, log)

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	// Wire dependencies.
	server, sessions := wireServer(db, redisClient, nrApp, cfg, log)

	// Start server in goroutine.
	go func() {
		log.WithField("port", cfg.Server.Port).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	sessions.Close()
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server together with
// the session registry that must be closed on shutdown.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, log *logrus.Logger) (*http.Server, *session.Manager) {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Redis.AuthCacheTTL)

	// Initialize repositories.
	rideRepo := postgres.NewRideRepository(db, log).WithAuthCache(cacheStore)
	profileRepo := postgres.NewProfileRepository(db)

	// Initialize collaborators.
	notifier := notify.NewNotifier(redisClient, log)
	var router store.Router
	if cfg.Maps.APIKey != "" {
		r, err := maps.NewRouter(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Warn("routing disabled")
		} else {
			router = r
		}
	} else {
		log.Warn("maps.api_key not set, adding stops is disabled")
	}

	sessions := session.NewManager(session.Deps{
		Rides:    rideRepo,
		Profiles: profileRepo,
		Router:   router,
		Notifier: notifier,
		Feed:     feed.NewPGListenerSource(cfg.Database.DSN(), log),
		NewPresence: func(userID string) session.Presence {
			return internalRedis.NewPresenceBridge(redisClient, locationStore, log.WithField("user_id", userID))
		},
	}, store.Config{
		Policy:       cfg.Fare.Policy(),
		PollInterval: cfg.Store.PollInterval,
		DedupeWindow: cfg.Store.DedupeWindow,
		NewRelic:     nrApp,
	}, log)

	// Initialize handlers.
	sessionHandler := handler.NewSessionHandler(sessions)
	rideHandler := handler.NewRideHandler(sessions, lockStore, cfg.Store.RequestLockTTL, log)
	streamHandler := handler.NewStreamHandler(sessions, redisClient, log)

	// Create router.
	engine := app.NewRouter(app.RouterDeps{
		SessionHandler: sessionHandler,
		RideHandler:    rideHandler,
		StreamHandler:  streamHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		JWTSecret:      cfg.Auth.JWTSecret,
		Logger:         log,
	})

	// Create HTTP server. No write timeout: the session stream is long-lived
	// and sets a deadline per frame.
	return &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, sessions
}
