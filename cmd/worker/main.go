// Package main is the entry point for the pharmapos background worker.
// It expires idempotency keys, prunes the commit audit and reports pool health.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pharmapos/internal/infrastructure/config"
	"pharmapos/internal/infrastructure/storage/postgres"
	"pharmapos/pkg/logger"
)

const poolStatsInterval = 5 * time.Minute

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

	if !cfg.UsesPostgres() {
		log.Fatalw("worker requires a database", "env", config.EnvPrefix+"_DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithLogger(ctx, log.WithComponent("worker"))

	log.Info("starting pharmapos worker")

	pool, err := postgres.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)
	audit, err := postgres.NewCommitAudit(txManager, cfg.Returns.AuditCompressAt)
	if err != nil {
		log.Fatalw("failed to create commit audit", "error", err)
	}

	worker := &Worker{
		pool:            pool,
		idempotency:     postgres.NewIdempotencyStore(txManager, cfg.Idempotency.TTL),
		audit:           audit,
		auditRetention:  cfg.Returns.AuditRetention,
		cleanupInterval: cfg.Idempotency.CleanupInterval,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs periodic maintenance against the returns database.
type Worker struct {
	pool            *postgres.Pool
	idempotency     *postgres.IdempotencyStore
	audit           *postgres.CommitAudit
	auditRetention  time.Duration
	cleanupInterval time.Duration
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	cleanupTicker := time.NewTicker(interval)
	defer cleanupTicker.Stop()

	statsTicker := time.NewTicker(poolStatsInterval)
	defer statsTicker.Stop()

	w.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		case <-statsTicker.C:
			w.pool.LogStats(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	n, err := w.idempotency.CleanupExpired(ctx)
	if err != nil {
		logger.Error(ctx, "idempotency cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "cleaned up idempotency keys", "count", n)
	}

	if w.auditRetention <= 0 {
		return
	}
	n, err = w.audit.Purge(ctx, time.Now().Add(-w.auditRetention))
	if err != nil {
		logger.Error(ctx, "commit audit purge failed", "error", err)
	} else if n > 0 {
		logger.Info(ctx, "purged commit audit rows", "count", n)
	}
}
