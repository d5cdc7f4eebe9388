// Package main is the entry point for the pharmapos returns API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmapos/internal/core/numerator"
	"pharmapos/internal/core/tx"
	"pharmapos/internal/domain/auth"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/cache"
	"pharmapos/internal/infrastructure/config"
	v1 "pharmapos/internal/infrastructure/http/v1"
	"pharmapos/internal/infrastructure/http/v1/handlers"
	"pharmapos/internal/infrastructure/http/v1/middleware"
	infranumerator "pharmapos/internal/infrastructure/numerator"
	"pharmapos/internal/infrastructure/storage/memory"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/internal/infrastructure/storage/postgres/returns_repo"
	pkgnumerator "pharmapos/pkg/numerator"
	"pharmapos/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting pharmapos server", "env", cfg.App.Env, "version", version)

	var (
		repo        returns.Repository
		names       returns.NameResolver
		txm         tx.Manager
		seqStore    numerator.Store
		idempotency middleware.IdempotencyStore
		observers   = returns.Observers{returns.LogObserver{}}
		checks      = map[string]handlers.Pinger{}
		mode        = "memory"
	)

	if cfg.UsesPostgres() {
		mode = "postgres"
		pool, err := postgres.NewPool(ctx, cfg.PoolConfig())
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()

		txManager := postgres.NewTxManager(pool)
		pgRepo := returns_repo.New(txManager)
		repo, names, txm = pgRepo, pgRepo, txManager
		seqStore = infranumerator.New(pool)

		audit, err := postgres.NewCommitAudit(txManager, cfg.Returns.AuditCompressAt)
		if err != nil {
			log.Fatalw("failed to create commit audit", "error", err)
		}
		observers = append(observers, audit)
		if cfg.Idempotency.Enabled {
			idempotency = postgres.NewIdempotencyStore(txManager, cfg.Idempotency.TTL)
		}
		checks["database"] = handlers.PingFunc(pool.Ping)
	} else {
		log.Warn("no database url configured, using the in-memory store")
		store := memory.New()
		repo, names, seqStore = store, store, store
		txm = memory.NewTxManager(store)
	}

	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer client.Close()

		names = cache.NewNameCache(client, names, cfg.Redis.NameTTL)
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		log.Infow("inventory name cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.NameTTL)
	}

	allocator := pkgnumerator.New(seqStore)
	opts := cfg.CommitterOptions()
	committer := returns.NewCommitter(repo, txm, allocator, observers, opts)
	service := returns.NewService(repo, names, committer, observers, opts)

	var validator middleware.JWTValidator
	if cfg.JWT.Secret != "" {
		validator = auth.NewJWTService(auth.JWTConfig{
			Secret:         cfg.JWT.Secret,
			Issuer:         cfg.JWT.Issuer,
			AccessTokenTTL: cfg.JWT.AccessTokenTTL,
		})
	} else {
		log.Warn("no jwt secret configured, operators are identified by X-Operator-ID")
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:       log,
		JWTValidator: validator,
		Returns:      service,
		Allocator:    allocator,
		Numbering:    cfg.NumberingConfig,
		Idempotency:  idempotency,
		Health:       handlers.NewHealthHandler(version, mode, checks),
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.App.Port, "mode", mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
