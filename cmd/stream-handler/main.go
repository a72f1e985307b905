// Package main implements the stream handler.
// It consumes the task table's change records and schedules an expiry
// message for every task created as Pending.
//
// Inside AWS Lambda it serves the DynamoDB stream trigger; elsewhere it
// consumes the records relayed onto KAFKA_STREAM_TOPIC.
//
// Usage:
//
//	KAFKA_STREAM_TOPIC=todo-tasks-stream go run ./cmd/stream-handler
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/guido-cesarano/taskexpiry/pkg/app"
	"github.com/guido-cesarano/taskexpiry/pkg/config"
	"github.com/guido-cesarano/taskexpiry/pkg/logger"
	"github.com/guido-cesarano/taskexpiry/pkg/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to build stream handler")
	}
	defer a.Close()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		logger.Log.Info().Msg("Serving DynamoDB stream trigger")
		lambda.Start(stream.LambdaHandler(a.Scheduler().HandleBatch, logger.Component("stream")))
		return
	}

	if err := cfg.ValidateStream(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	client, err := stream.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer client.Close()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: a.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down stream handler...")
		cancel()
	}()

	logger.Log.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("topic", cfg.KafkaTopic).
		Msg("Stream handler started")

	source := stream.NewKafkaSource(client, logger.Component("stream"))
	if err := source.Run(ctx, a.Scheduler().HandleBatch); err != nil {
		logger.Log.Error().Err(err).Msg("Stream handler stopped")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
}
