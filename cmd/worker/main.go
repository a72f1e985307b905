// Package main implements the expiry worker.
// The worker receives expiry messages from the delayed queue and expires
// tasks whose deadline has passed.
//
// Features:
//   - Batches of up to POLL_BATCH_SIZE messages, failures isolated per message
//   - Promotion of delayed messages when the queue backend is Redis
//   - Prometheus metrics on METRICS_ADDR/metrics, liveness on /healthz
//   - Graceful shutdown on SIGINT/SIGTERM
//
// Usage:
//
//	go run ./cmd/worker
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/app"
	"github.com/guido-cesarano/taskexpiry/pkg/config"
	"github.com/guido-cesarano/taskexpiry/pkg/logger"
	"github.com/guido-cesarano/taskexpiry/pkg/queue"
)

// promoteInterval is how often due delayed messages are made visible.
const promoteInterval = 500 * time.Millisecond

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to build worker")
	}
	defer a.Close()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: a.Router()}
	go func() {
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// Setup graceful shutdown handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	if a.Redis != nil {
		go a.Redis.StartScheduler(ctx, promoteInterval)
	}
	if err := a.StartDepthCollector(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Queue depth metrics disabled")
	}

	poller := queue.NewPoller(a.Receiver, a.Consumer().HandleBatch, logger.Component("poller"))
	poller.BatchSize = cfg.PollBatchSize

	logger.Log.Info().Str("queue", cfg.QueueBackend).Msg("Worker started. Waiting for expiry messages...")
	poller.Run(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("Metrics server shutdown")
	}
	logger.Log.Info().Msg("Worker stopped")
}
