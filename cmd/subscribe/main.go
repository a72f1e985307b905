// Package main subscribes email addresses to expiry notifications.
//
// Usage:
//
//	go run ./cmd/subscribe alice@example.com [bob@example.com ...]
//
// Each address receives a confirmation mail from SNS and, once confirmed,
// only the notifications addressed to it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/app"
	"github.com/guido-cesarano/taskexpiry/pkg/config"
	"github.com/guido-cesarano/taskexpiry/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: subscribe EMAIL...")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to build notifier")
	}
	defer a.Close()
	if a.SNS == nil {
		logger.Log.Fatal().Str("backend", cfg.NotifyBackend).Msg("Subscriptions need NOTIFY_BACKEND=sns")
	}

	failed := false
	for _, email := range os.Args[1:] {
		arn, err := a.SNS.Subscribe(ctx, email)
		if err != nil {
			logger.Log.Error().Err(err).Str("email", email).Msg("Subscription failed")
			failed = true
			continue
		}
		logger.Log.Info().Str("email", email).Str("subscription", arn).Msg("Subscribed")
	}
	if failed {
		os.Exit(1)
	}
}
