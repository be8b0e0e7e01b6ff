package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/types"
)

const (
	TransportPubsub = "pubsub"
	TransportSQS    = "sqs"
)

// Config is the worker's runtime configuration.
type Config struct {
	LogLevel        string
	HTTPPort        string
	ShutdownTimeout time.Duration

	QueueName string
	Transport string

	ProjectID       string
	CredentialsFile string

	SubscriptionID    string
	DeadLetterTopicID string
	SQSQueueURL       string

	BatchSize     int
	FlushInterval time.Duration
	Concurrency   int

	RetryCeiling     int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// RetryCeilingByType overrides RetryCeiling per message type.
	RetryCeilingByType map[types.MessageType]int

	// DeadLetterPermanent also routes permanent failures to the dead-letter sinks.
	DeadLetterPermanent bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	TaskCollection string

	BQDatasetID string
	BQTableID   string

	DeadLetterBucket string
	DeadLetterPrefix string
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		HTTPPort:         ":8080",
		ShutdownTimeout:  30 * time.Second,
		QueueName:        "queueworker",
		Transport:        TransportPubsub,
		BatchSize:        10,
		FlushInterval:    time.Second,
		Concurrency:      1,
		RetryCeiling:     5,
		RetryBackoffBase: 10 * time.Second,
		RetryBackoffMax:  15 * time.Minute,
		RedisAddr:        "localhost:6379",
		RedisKeyPrefix:   "queueworker:",
		TaskCollection:   "tasks",
		DeadLetterPrefix: "dead-letters",
	}
}

// LoadConfig builds the configuration from defaults, then environment
// variables, then command-line flags.
func LoadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("queueworker", flag.ContinueOnError)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level")
	fs.StringVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "listen address for /healthz and /stats")
	fs.StringVar(&cfg.QueueName, "queue", cfg.QueueName, "logical queue name")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "pubsub or sqs")
	fs.StringVar(&cfg.ProjectID, "project", cfg.ProjectID, "GCP project ID")
	fs.StringVar(&cfg.SubscriptionID, "subscription", cfg.SubscriptionID, "Pub/Sub subscription ID")
	fs.StringVar(&cfg.SQSQueueURL, "sqs-queue-url", cfg.SQSQueueURL, "SQS queue URL")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "deliveries per batch")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "deliveries processed at once within a batch")
	fs.IntVar(&cfg.RetryCeiling, "retry-ceiling", cfg.RetryCeiling, "attempts before a retryable failure is given up")
	fs.BoolVar(&cfg.DeadLetterPermanent, "dead-letter-permanent", cfg.DeadLetterPermanent, "dead-letter permanent failures too")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected transport requires.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return errors.New("GCP_PROJECT_ID is required for the task store")
	}
	switch c.Transport {
	case TransportPubsub:
		if c.SubscriptionID == "" {
			return errors.New("pubsub transport requires PUBSUB_SUBSCRIPTION_ID")
		}
	case TransportSQS:
		if c.SQSQueueURL == "" {
			return errors.New("sqs transport requires SQS_QUEUE_URL")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.TaskCollection == "" {
		return errors.New("FIRESTORE_TASK_COLLECTION cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_PORT", &c.HTTPPort)
	str("QUEUE_NAME", &c.QueueName)
	str("QUEUE_TRANSPORT", &c.Transport)
	str("GCP_PROJECT_ID", &c.ProjectID)
	str("GCP_CREDENTIALS_FILE", &c.CredentialsFile)
	str("PUBSUB_SUBSCRIPTION_ID", &c.SubscriptionID)
	str("PUBSUB_DEAD_LETTER_TOPIC_ID", &c.DeadLetterTopicID)
	str("SQS_QUEUE_URL", &c.SQSQueueURL)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("REDIS_KEY_PREFIX", &c.RedisKeyPrefix)
	str("FIRESTORE_TASK_COLLECTION", &c.TaskCollection)
	str("BQ_DATASET_ID", &c.BQDatasetID)
	str("BQ_TABLE_ID", &c.BQTableID)
	str("GCS_DEAD_LETTER_BUCKET", &c.DeadLetterBucket)
	str("GCS_DEAD_LETTER_PREFIX", &c.DeadLetterPrefix)

	ints := map[string]*int{
		"BATCH_SIZE":        &c.BatchSize,
		"BATCH_CONCURRENCY": &c.Concurrency,
		"RETRY_CEILING":     &c.RetryCeiling,
		"REDIS_DB":          &c.RedisDB,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"BATCH_FLUSH_INTERVAL": &c.FlushInterval,
		"RETRY_BACKOFF_BASE":   &c.RetryBackoffBase,
		"RETRY_BACKOFF_MAX":    &c.RetryBackoffMax,
		"SHUTDOWN_TIMEOUT":     &c.ShutdownTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("RETRY_CEILING_BY_TYPE"); v != "" {
		byType, err := parseCeilings(v)
		if err != nil {
			return fmt.Errorf("invalid RETRY_CEILING_BY_TYPE: %w", err)
		}
		c.RetryCeilingByType = byType
	}

	if v := os.Getenv("DEAD_LETTER_PERMANENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEAD_LETTER_PERMANENT: %w", err)
		}
		c.DeadLetterPermanent = b
	}
	return nil
}

// parseCeilings reads "task=3,counter=10".
func parseCeilings(v string) (map[types.MessageType]int, error) {
	out := make(map[types.MessageType]int)
	for _, pair := range strings.Split(v, ",") {
		name, num, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("expected type=ceiling, got %q", pair)
		}
		t := types.MessageType(strings.TrimSpace(name))
		if !t.IsKnown() {
			return nil, fmt.Errorf("unknown message type %q", t)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("ceiling for %s must be a positive integer, got %q", t, num)
		}
		out[t] = n
	}
	return out, nil
}
