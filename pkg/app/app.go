// Package app builds the collaborators of the expiry pipeline from
// configuration. Each process builds one App at start-up and passes its
// parts down; nothing constructs clients per message.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/guido-cesarano/taskexpiry/pkg/config"
	"github.com/guido-cesarano/taskexpiry/pkg/expiry"
	"github.com/guido-cesarano/taskexpiry/pkg/logger"
	"github.com/guido-cesarano/taskexpiry/pkg/notify"
	"github.com/guido-cesarano/taskexpiry/pkg/queue"
	"github.com/guido-cesarano/taskexpiry/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// DepthSchedule is how often queue depths are sampled.
const DepthSchedule = "*/5 * * * * *"

// App owns the clients and pipeline stages one process needs, built from a
// Config.
type App struct {
	Config *config.Config

	Store    *store.DynamoStore
	Sender   queue.Sender
	Receiver queue.Receiver
	// Redis is set when the queue backend is redis.
	Redis    *queue.RedisQueue
	Notifier expiry.Notifier
	// SNS is set when the notification backend is sns.
	SNS *notify.SNSPublisher

	Registry *prometheus.Registry
	Metrics  *expiry.PromMetrics

	cron *cron.Cron
}

// New connects nothing eagerly; AWS and Redis clients dial on first use.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Store:    store.NewDynamoStore(store.NewDynamoClient(awsCfg, cfg.DynamoEndpoint), cfg.DynamoTable),
		Registry: reg,
		Metrics:  expiry.NewPromMetrics(reg),
		cron:     cron.New(cron.WithSeconds()),
	}

	switch cfg.QueueBackend {
	case config.BackendSQS:
		q := queue.NewSQSQueue(queue.NewSQSClient(awsCfg, cfg.AWSEndpoint), cfg.SQSQueueURL)
		q.Visibility = cfg.VisibilityTimeout
		a.Sender, a.Receiver = q, q
	default:
		q := queue.NewRedisQueue(cfg.RedisAddr, logger.Component("queue"))
		q.Visibility = cfg.VisibilityTimeout
		q.MaxReceives = cfg.MaxReceives
		a.Sender, a.Receiver, a.Redis = q, q, q
	}

	switch cfg.NotifyBackend {
	case config.BackendSES:
		a.Notifier = notify.NewSESPublisher(notify.NewSESClient(awsCfg, cfg.AWSEndpoint), cfg.SESFromEmail)
	default:
		a.SNS = notify.NewSNSPublisher(notify.NewSNSClient(awsCfg, cfg.AWSEndpoint), cfg.SNSTopicARN)
		a.Notifier = a.SNS
	}

	return a, nil
}

func (a *App) Dispatcher() *expiry.Dispatcher {
	return expiry.NewDispatcher(a.Sender, a.Metrics, logger.Component("dispatcher"))
}

func (a *App) Scheduler() *expiry.Scheduler {
	return expiry.NewScheduler(a.Dispatcher(), a.Metrics, logger.Component("scheduler"))
}

func (a *App) Consumer() *expiry.Consumer {
	return expiry.NewConsumer(a.Store, a.Dispatcher(), a.Notifier, a.Metrics, logger.Component("consumer"))
}

// Router serves /metrics and /healthz.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if a.Redis != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := a.Redis.Ping(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})
	return r
}

// CollectDepths samples the Redis queue depths into the metrics.
func (a *App) CollectDepths(ctx context.Context) {
	if a.Redis == nil {
		return
	}
	for name, n := range a.Redis.Depths(ctx) {
		a.Metrics.QueueDepth(name, n)
	}
}

// StartDepthCollector samples queue depths on DepthSchedule until Close.
// SQS exposes depth through CloudWatch, so only the redis backend is sampled.
func (a *App) StartDepthCollector(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	if _, err := a.cron.AddFunc(DepthSchedule, func() { a.CollectDepths(ctx) }); err != nil {
		return fmt.Errorf("schedule depth collector: %w", err)
	}
	a.cron.Start()
	return nil
}

// Close stops background jobs and releases connections.
func (a *App) Close() {
	<-a.cron.Stop().Done()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Log.Warn().Err(err).Msg("closing redis")
		}
	}
}
