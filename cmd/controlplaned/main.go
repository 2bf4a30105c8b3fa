// Command controlplaned is the control plane's process entrypoint: it
// loads configuration, wires storage and the kv layer, constructs every
// business-logic service, and serves the agent and administrator HTTP
// surfaces until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetward/control-plane/internal/audit"
	"github.com/fleetward/control-plane/internal/auth"
	"github.com/fleetward/control-plane/internal/config"
	"github.com/fleetward/control-plane/internal/httpapi"
	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/maintenance"
	"github.com/fleetward/control-plane/internal/platform/database"
	"github.com/fleetward/control-plane/internal/platform/migrations"
	"github.com/fleetward/control-plane/internal/services/commands"
	"github.com/fleetward/control-plane/internal/services/configresolver"
	"github.com/fleetward/control-plane/internal/services/enrollment"
	"github.com/fleetward/control-plane/internal/services/heartbeat"
	"github.com/fleetward/control-plane/internal/services/tasks"
	"github.com/fleetward/control-plane/internal/services/tokens"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/internal/storage/memory"
	"github.com/fleetward/control-plane/internal/storage/postgres"
	"github.com/fleetward/control-plane/pkg/logger"
)

func main() {
	inMemory := flag.Bool("in-memory", false, "use in-memory storage and kv store instead of Postgres/Redis")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	rootCtx := context.Background()

	store, closeStore := mustOpenStore(rootCtx, cfg, log, *inMemory)
	defer closeStore()

	kvStore, closeKV := mustOpenKV(cfg, log, *inMemory)
	defer closeKV()

	rateLimiter := kv.NewRateLimiter(kvStore)
	nonces := kv.NewNonceStore(kvStore, cfg.Security.NonceWindow)
	tokenCache := kv.NewTokenCache(kvStore)
	commandQueue := kv.NewCommandQueue(kvStore)

	tokenSvc := tokens.New(store, tokenCache, logger.NewDefault("tokens"))
	configSvc := configresolver.New(store, logger.NewDefault("configresolver"))
	taskReconciler := tasks.New(store, logger.NewDefault("tasks"))
	commandSvc := commands.New(commandQueue, logger.NewDefault("commands"))

	enrollmentSvc := enrollment.New(store, tokenSvc, configSvc, logger.NewDefault("enrollment"),
		enrollment.WithServerPublicKey(cfg.Security.ServerPublicKey),
		enrollment.WithServerURL(cfg.Server.ServerURL),
		enrollment.WithTestEnvironment(cfg.IsTesting()),
	)

	defaultIntervalS := int(cfg.Security.HeartbeatInterval / time.Second)
	heartbeatSvc := heartbeat.New(store, rateLimiter, nonces, taskReconciler, configSvc, defaultIntervalS, logger.NewDefault("heartbeat"))

	authManager, err := auth.New(auth.Config{
		AdminPassword: cfg.Security.AdminPassword,
		AdminAPIKey:   cfg.Security.AdminAPIKey,
		JWTSecret:     cfg.Security.JWTSecret,
		TokenTTL:      cfg.Server.SessionTimeout,
	})
	if err != nil {
		log.WithField("error", err.Error()).Fatal("construct administrator auth manager")
	}

	auditSvc := audit.New(audit.NoopSink{})

	sweeper, err := maintenance.New(store, commandQueue, logger.NewDefault("maintenance"), maintenance.DefaultSweepSchedule)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("construct maintenance sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &httpapi.Server{
		Devices:     store,
		Enrollment:  enrollmentSvc,
		Heartbeat:   heartbeatSvc,
		Tasks:       taskReconciler,
		Config:      configSvc,
		Tokens:      tokenSvc,
		Commands:    commandSvc,
		Audit:       auditSvc,
		AuthManager: authManager,
		RateLimiter: rateLimiter,
		Nonces:      nonces,
		Log:         log,
		IsTestEnv:   cfg.IsTesting(),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: httpapi.NewRouter(srv),
	}

	go func() {
		log.WithField("addr", addr).Info("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Fatal("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("graceful shutdown failed")
	}
}

// mustOpenStore connects to Postgres and applies embedded migrations, unless
// -in-memory was passed, in which case it returns the in-memory store used
// for local development and tests.
func mustOpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger, inMemory bool) (interface {
	storage.DeviceStore
	storage.TaskStore
	storage.ConfigStore
	storage.TokenStore
}, func()) {
	if inMemory {
		log.Info("using in-memory store")
		return memory.New(), func() {}
	}

	dsn := cfg.Database.ConnectionString()
	db, err := database.Open(ctx, dsn)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("connect to postgres")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := migrations.Apply(ctx, db.DB); err != nil {
		log.WithField("error", err.Error()).Fatal("apply migrations")
	}

	return postgres.New(db), func() { db.Close() }
}

func mustOpenKV(cfg *config.Config, log *logger.Logger, inMemory bool) (kv.Store, func()) {
	if inMemory {
		log.Info("using in-memory kv store")
		return kv.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return kv.NewRedisStore(client), func() { client.Close() }
}
