// Command queueworker consumes typed messages from Pub/Sub or SQS and runs
// them through the queue engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/illmade-knight/go-queueworker/pkg/bqstore"
	"github.com/illmade-knight/go-queueworker/pkg/deadletter"
	"github.com/illmade-knight/go-queueworker/pkg/handlers"
	"github.com/illmade-knight/go-queueworker/pkg/icestore"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/microservice"
	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "queueworker: %v\n", err)
		return 2
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w, err := buildWorker(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build worker.")
		return 1
	}
	defer w.close()

	// The pipeline runs on its own context so a signal stops intake through
	// stop() and lets in-flight batches finish instead of cancelling them.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if err := w.start(runCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to start worker.")
		return 1
	}
	logger.Info().Str("queue", cfg.QueueName).Str("transport", cfg.Transport).Msg("Queue worker running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	err = w.stop(shutdownCtx)
	runCancel()
	if err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown incomplete.")
		return 1
	}
	logger.Info().Msg("Queue worker stopped.")
	return 0
}

func newLogger(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "queueworker").Logger()
}

// worker owns every long-lived component of the process.
type worker struct {
	logger      zerolog.Logger
	service     *messagepipeline.BatchingService
	server      *microservice.BaseServer
	outcomes    *bqstore.OutcomeSink
	dlPublisher *messagepipeline.GoogleSimplePublisher
	closers     []io.Closer
}

func buildWorker(ctx context.Context, cfg *Config, logger zerolog.Logger) (_ *worker, err error) {
	w := &worker{logger: logger}
	defer func() {
		if err != nil {
			w.close()
		}
	}()

	var gcpOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		gcpOpts = append(gcpOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	redisCfg := &handlers.RedisConfig{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
	}
	rdb, err := handlers.NewRedisClient(ctx, redisCfg, logger)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, rdb)

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, gcpOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	w.closers = append(w.closers, fsClient)

	tasks, err := handlers.NewFirestoreTaskStore(&handlers.FirestoreConfig{
		ProjectID:      cfg.ProjectID,
		CollectionName: cfg.TaskCollection,
	}, fsClient, logger)
	if err != nil {
		return nil, err
	}
	counters, err := handlers.NewRedisCounterStore(rdb, redisCfg, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := handlers.NewRedisNotifier(rdb, redisCfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := queueengine.NewRegistry(handlers.Registrations(handlers.Dependencies{
		Tasks:         tasks,
		Counters:      counters,
		Notifications: notifier,
	})...)
	if err != nil {
		return nil, err
	}
	if err := registry.RequireTypes(types.KnownMessageTypes()...); err != nil {
		return nil, err
	}

	var psClient *pubsub.Client
	if cfg.Transport == TransportPubsub || cfg.DeadLetterTopicID != "" {
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID, gcpOpts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		w.closers = append(w.closers, psClient)
	}

	counts := queueengine.NewCountingSink()
	sinks := queueengine.MultiSink{queueengine.NewLogSink(logger), counts}
	if cfg.BQDatasetID != "" && cfg.BQTableID != "" {
		bqClient, err := bqstore.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, bqClient)
		inserter, err := bqstore.NewBigQueryInserter[bqstore.OutcomeRow](ctx, bqClient, &bqstore.BigQueryDatasetConfig{
			ProjectID: cfg.ProjectID,
			DatasetID: cfg.BQDatasetID,
			TableID:   cfg.BQTableID,
		}, logger)
		if err != nil {
			return nil, err
		}
		w.outcomes = bqstore.NewOutcomeSink(bqstore.LoadBatchInserterConfigFromEnv(), inserter, logger)
		sinks = append(sinks, w.outcomes)
	}

	var deadLetters deadletter.Fanout
	if cfg.DeadLetterTopicID != "" {
		w.dlPublisher, err = messagepipeline.NewGoogleSimplePublisher(ctx, psClient, cfg.DeadLetterTopicID, logger)
		if err != nil {
			return nil, err
		}
		sink, err := deadletter.NewPublisherSink(w.dlPublisher, logger)
		if err != nil {
			return nil, err
		}
		deadLetters = append(deadLetters, sink)
	}
	if cfg.DeadLetterBucket != "" {
		gcs, err := storage.NewClient(ctx, gcpOpts...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		w.closers = append(w.closers, gcs)
		archiver, err := icestore.NewArchiver(icestore.NewGCSClientAdapter(gcs), icestore.ArchiverConfig{
			BucketName:   cfg.DeadLetterBucket,
			ObjectPrefix: cfg.DeadLetterPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		deadLetters = append(deadLetters, archiver)
	}

	opts := []queueengine.Option{
		queueengine.WithRetryPolicy(queueengine.RetryPolicy{
			Ceiling: cfg.RetryCeiling,
			PerType: cfg.RetryCeilingByType,
			Backoff: queueengine.ExponentialBackoff(cfg.RetryBackoffBase, 2, cfg.RetryBackoffMax),
		}),
		queueengine.WithOutcomeSink(sinks),
		queueengine.WithConcurrency(cfg.Concurrency),
	}
	if len(deadLetters) > 0 {
		opts = append(opts,
			queueengine.WithDeadLetterSink(deadLetters),
			queueengine.WithDeadLetterPermanent(cfg.DeadLetterPermanent),
		)
	}
	processor, err := queueengine.NewBatchProcessor(registry, logger, opts...)
	if err != nil {
		return nil, err
	}

	consumer, err := newConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return nil, err
	}

	batching := messagepipeline.LoadBatchingServiceConfigFromEnv(cfg.QueueName)
	batching.BatchSize = cfg.BatchSize
	batching.FlushInterval = cfg.FlushInterval
	w.service, err = messagepipeline.NewBatchingService(batching, consumer, processor, logger)
	if err != nil {
		return nil, err
	}
	w.server = microservice.NewBaseServer(logger, cfg.HTTPPort, counts)
	return w, nil
}

func newConsumer(ctx context.Context, cfg *Config, psClient *pubsub.Client, logger zerolog.Logger) (messagepipeline.MessageConsumer, error) {
	switch cfg.Transport {
	case TransportSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return messagepipeline.NewSQSConsumer(messagepipeline.NewSQSConsumerDefaults(cfg.SQSQueueURL), sqs.NewFromConfig(awsCfg), logger)
	default:
		consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		consumerCfg.ProjectID = cfg.ProjectID
		consumerCfg.CredentialsFile = cfg.CredentialsFile
		return messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
	}
}

func (w *worker) start(ctx context.Context) error {
	if w.outcomes != nil {
		w.outcomes.Start(ctx)
	}
	if err := w.server.Start(); err != nil {
		return err
	}
	return w.service.Start(ctx)
}

// stop drains in dependency order: the consumer pipeline first so no new
// outcomes or dead letters are produced, then their sinks, then HTTP.
func (w *worker) stop(ctx context.Context) error {
	var errs []error
	if err := w.service.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("batching service: %w", err))
	}
	if w.outcomes != nil {
		if err := w.outcomes.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("outcome sink: %w", err))
		}
	}
	if w.dlPublisher != nil {
		if err := w.dlPublisher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dead-letter publisher: %w", err))
		}
	}
	if err := w.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	return errors.Join(errs...)
}

func (w *worker) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Error closing client.")
		}
	}
	w.closers = nil
}
