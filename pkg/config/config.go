// Package config reads process settings from the environment. A .env file
// in the working directory, when present, is loaded first; variables already
// set in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Queue and notification backends.
const (
	BackendRedis = "redis"
	BackendSQS   = "sqs"
	BackendSNS   = "sns"
	BackendSES   = "ses"
)

// MaxPollBatchSize is the largest batch SQS hands out per receive.
const MaxPollBatchSize = 10

// Config holds every setting of the worker, the stream handler and the
// subscribe tool. Load fills it from the environment.
type Config struct {
	Env      string
	LogLevel string

	AWSRegion string
	// AWSEndpoint points every AWS client at LocalStack or similar.
	AWSEndpoint string

	DynamoTable    string
	DynamoEndpoint string

	QueueBackend string
	RedisAddr    string
	SQSQueueURL  string

	NotifyBackend string
	SNSTopicARN   string
	SESFromEmail  string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	MetricsAddr       string
	PollBatchSize     int
	VisibilityTimeout time.Duration
	// MaxReceives bounds redelivery on the redis queue; zero disables the
	// dead list. SQS uses the queue's redrive policy instead.
	MaxReceives int
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AWS_REGION", "eu-central-1")
	v.SetDefault("DYNAMO_TABLE", "TodoTasks")
	v.SetDefault("QUEUE_BACKEND", BackendRedis)
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("NOTIFY_BACKEND", BackendSNS)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "taskexpiry-scheduler")
	v.SetDefault("METRICS_ADDR", ":8080")
	v.SetDefault("POLL_BATCH_SIZE", MaxPollBatchSize)
	v.SetDefault("VISIBILITY_TIMEOUT", "30s")
	v.SetDefault("MAX_RECEIVES", 5)
}

// Load reads the configuration and validates the settings every process
// needs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Env:               v.GetString("APP_ENV"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		AWSRegion:         v.GetString("AWS_REGION"),
		AWSEndpoint:       v.GetString("AWS_ENDPOINT"),
		DynamoTable:       v.GetString("DYNAMO_TABLE"),
		DynamoEndpoint:    v.GetString("DYNAMO_ENDPOINT"),
		QueueBackend:      strings.ToLower(v.GetString("QUEUE_BACKEND")),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		SQSQueueURL:       v.GetString("SQS_QUEUE_URL"),
		NotifyBackend:     strings.ToLower(v.GetString("NOTIFY_BACKEND")),
		SNSTopicARN:       v.GetString("SNS_TOPIC_ARN"),
		SESFromEmail:      v.GetString("SES_FROM_EMAIL"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_STREAM_TOPIC"),
		KafkaGroupID:      v.GetString("KAFKA_GROUP_ID"),
		MetricsAddr:       v.GetString("METRICS_ADDR"),
		PollBatchSize:     v.GetInt("POLL_BATCH_SIZE"),
		VisibilityTimeout: v.GetDuration("VISIBILITY_TIMEOUT"),
		MaxReceives:       v.GetInt("MAX_RECEIVES"),
	}
	if cfg.DynamoEndpoint == "" {
		cfg.DynamoEndpoint = cfg.AWSEndpoint
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings shared by all processes: the queue every
// process sends to and the poll tuning.
func (c *Config) Validate() error {
	var errs []error

	switch c.QueueBackend {
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis queue"))
		}
	case BackendSQS:
		if c.SQSQueueURL == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is required for the sqs queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	if c.PollBatchSize < 1 || c.PollBatchSize > MaxPollBatchSize {
		errs = append(errs, fmt.Errorf("POLL_BATCH_SIZE must be between 1 and %d", MaxPollBatchSize))
	}
	if c.VisibilityTimeout <= 0 {
		errs = append(errs, errors.New("VISIBILITY_TIMEOUT must be positive"))
	}
	if c.MaxReceives < 0 {
		errs = append(errs, errors.New("MAX_RECEIVES must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidateWorker checks the settings of processes that notify users.
func (c *Config) ValidateWorker() error {
	switch c.NotifyBackend {
	case BackendSNS:
		if c.SNSTopicARN == "" {
			return errors.New("SNS_TOPIC_ARN is required for sns notifications")
		}
	case BackendSES:
		if c.SESFromEmail == "" {
			return errors.New("SES_FROM_EMAIL is required for ses notifications")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.NotifyBackend)
	}
	return nil
}

// ValidateStream checks the extra settings of the stream handler when it
// consumes from Kafka.
func (c *Config) ValidateStream() error {
	if c.KafkaTopic == "" {
		return errors.New("KAFKA_STREAM_TOPIC is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
