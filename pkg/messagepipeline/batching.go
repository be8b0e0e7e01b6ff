package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/rs/zerolog"
)

// BatchingServiceConfig holds the configuration for a BatchingService.
type BatchingServiceConfig struct {
	// Queue names the source queue on every batch handed to the processor.
	Queue         string
	NumWorkers    int
	BatchSize     int
	FlushInterval time.Duration
}

// LoadBatchingServiceConfigFromEnv applies BATCH_SIZE, BATCH_FLUSH_INTERVAL and
// BATCH_DECODE_WORKERS on top of the defaults.
func LoadBatchingServiceConfigFromEnv(queue string) BatchingServiceConfig {
	cfg := BatchingServiceConfig{
		Queue:         queue,
		NumWorkers:    5,
		BatchSize:     10,
		FlushInterval: time.Second,
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("BATCH_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FlushInterval = d
		}
	}
	if v := os.Getenv("BATCH_DECODE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumWorkers = n
		}
	}
	return cfg
}

// BatchingService consumes messages, decodes their bodies, collects them into
// batches by size or interval and hands each batch to a BatchProcessor. The
// processor is responsible for signalling every delivery of the batch.
type BatchingService struct {
	cfg        BatchingServiceConfig
	consumer   MessageConsumer
	processor  BatchProcessor
	logger     zerolog.Logger
	decodeWg   sync.WaitGroup
	batchWg    sync.WaitGroup
	deliveryCh chan queueengine.Delivery
}

// NewBatchingService creates a new BatchingService.
func NewBatchingService(
	cfg BatchingServiceConfig,
	consumer MessageConsumer,
	processor BatchProcessor,
	logger zerolog.Logger,
) (*BatchingService, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if consumer == nil || processor == nil {
		return nil, errors.New("consumer and processor cannot be nil")
	}

	return &BatchingService{
		cfg:        cfg,
		consumer:   consumer,
		processor:  processor,
		logger:     logger.With().Str("service", "BatchingService").Str("queue", cfg.Queue).Logger(),
		deliveryCh: make(chan queueengine.Delivery, cfg.BatchSize*cfg.NumWorkers),
	}, nil
}

// Start begins the service operation.
func (s *BatchingService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting batching service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.batchWg.Add(1)
	go s.batchWorker(ctx)

	s.logger.Info().Int("worker_count", s.cfg.NumWorkers).Msg("Starting decode workers...")
	s.decodeWg.Add(s.cfg.NumWorkers)
	for i := 0; i < s.cfg.NumWorkers; i++ {
		go s.decodeWorker(ctx, i)
	}

	// The batch channel is closed only after every decode worker, its only
	// writers, has returned.
	go func() {
		s.decodeWg.Wait()
		close(s.deliveryCh)
	}()

	s.logger.Info().Msg("Batching service started successfully.")
	return nil
}

// Stop stops the consumer, lets the workers drain what was already received and
// waits for the final batch, bounded by ctx.
func (s *BatchingService) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping batching service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	allDone := make(chan struct{})
	go func() {
		s.decodeWg.Wait()
		s.batchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		s.logger.Info().Msg("All workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for workers to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Batching service stopped.")
	return nil
}

// decodeWorker turns consumer messages into engine deliveries. A body that is
// not a message envelope can never be processed, so it is acknowledged.
func (s *BatchingService) decodeWorker(ctx context.Context, workerID int) {
	defer s.decodeWg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Decode worker started.")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				return
			}
			d, err := ToDelivery(msg)
			if err != nil {
				s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Undecodable message body, Acking.")
				msg.Acknowledge()
				continue
			}
			s.deliveryCh <- d
		}
	}
}

// ToDelivery decodes a transport message into an engine delivery whose Acker
// is the message itself.
func ToDelivery(msg Message) (queueengine.Delivery, error) {
	body, err := types.Decode(msg.Payload)
	if err != nil {
		return queueengine.Delivery{}, err
	}
	return queueengine.Delivery{
		ID:        msg.ID,
		Timestamp: msg.PublishTime,
		Attempts:  msg.DeliveryAttempt,
		Body:      body,
		Acker:     msg,
	}, nil
}

// batchWorker collects deliveries and flushes them to the processor.
func (s *BatchingService) batchWorker(ctx context.Context) {
	defer s.batchWg.Done()
	s.logger.Debug().Msg("Batch worker started.")

	batch := make([]queueengine.Delivery, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.logger.Debug().Int("batch_size", len(batch)).Msg("Flushing batch.")
		result, err := s.processor.Process(ctx, &queueengine.Batch{Queue: s.cfg.Queue, Deliveries: batch})
		if err != nil {
			s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Batch processor rejected batch, messages will be redelivered.")
		} else {
			s.logger.Info().Int("acknowledged", result.Acknowledged).Int("retried", result.Retried).Msg("Batch flushed.")
		}
		batch = make([]queueengine.Delivery, 0, s.cfg.BatchSize)
		ticker.Reset(s.cfg.FlushInterval)
	}

	for {
		select {
		case d, ok := <-s.deliveryCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, d)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
