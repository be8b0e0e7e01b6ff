package bqstore

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/queueengine"
	"github.com/rs/zerolog"
)

// OutcomeRow is the BigQuery row written for every processed delivery.
type OutcomeRow struct {
	MessageID  string    `bigquery:"message_id"`
	DeliveryID string    `bigquery:"delivery_id"`
	Queue      string    `bigquery:"queue"`
	Type       string    `bigquery:"message_type"`
	Attempt    int       `bigquery:"attempt"`
	ElapsedMs  int64     `bigquery:"elapsed_ms"`
	Action     string    `bigquery:"action"`
	Reason     string    `bigquery:"reason"`
	Error      string    `bigquery:"error"`
	At         time.Time `bigquery:"at"`
}

// NewOutcomeRow converts an engine outcome to its row form.
func NewOutcomeRow(o queueengine.Outcome) *OutcomeRow {
	return &OutcomeRow{
		MessageID:  o.MessageID,
		DeliveryID: o.DeliveryID,
		Queue:      o.Queue,
		Type:       string(o.Type),
		Attempt:    o.Attempt,
		ElapsedMs:  o.Elapsed.Milliseconds(),
		Action:     o.Action.String(),
		Reason:     string(o.Reason),
		Error:      o.Error,
		At:         o.At,
	}
}

// BatchInserterConfig holds configuration for the OutcomeSink.
type BatchInserterConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	InsertTimeout time.Duration // The timeout for a single flush operation.
	// BufferSize bounds the rows waiting to be batched. Rows recorded while the
	// buffer is full are dropped.
	BufferSize int
}

// LoadBatchInserterConfigFromEnv applies BQ_BATCH_SIZE, BQ_FLUSH_INTERVAL and
// BQ_INSERT_TIMEOUT on top of the defaults.
func LoadBatchInserterConfigFromEnv() *BatchInserterConfig {
	cfg := &BatchInserterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
	if v := os.Getenv("BQ_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("BQ_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FlushInterval = d
		}
	}
	if v := os.Getenv("BQ_INSERT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InsertTimeout = d
		}
	}
	return cfg
}

// OutcomeSink implements queueengine.OutcomeSink by batching outcome rows into
// a DataBatchInserter. Record never blocks the processing path.
type OutcomeSink struct {
	config    BatchInserterConfig
	inserter  DataBatchInserter[OutcomeRow]
	logger    zerolog.Logger
	inputChan chan *OutcomeRow
	wg        sync.WaitGroup
	stopOnce  sync.Once
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewOutcomeSink creates an OutcomeSink. Call Start before recording.
func NewOutcomeSink(config *BatchInserterConfig, inserter DataBatchInserter[OutcomeRow], logger zerolog.Logger) *OutcomeSink {
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.BatchSize * 2
	}
	return &OutcomeSink{
		config:    cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "OutcomeSink").Logger(),
		inputChan: make(chan *OutcomeRow, cfg.BufferSize),
	}
}

// Start begins the batching worker.
func (b *OutcomeSink) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting outcome sink worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Record implements queueengine.OutcomeSink.
func (b *OutcomeSink) Record(_ context.Context, o queueengine.Outcome) {
	select {
	case b.inputChan <- NewOutcomeRow(o):
	default:
		if n := b.dropped.Add(1); n == 1 || n%1000 == 0 {
			b.logger.Warn().Int64("dropped_total", n).Msg("Outcome buffer full, dropping row.")
		}
	}
}

// Dropped returns the number of rows dropped because the buffer was full.
func (b *OutcomeSink) Dropped() int64 { return b.dropped.Load() }

// Failed returns the number of rows lost to failed inserts.
func (b *OutcomeSink) Failed() int64 { return b.failed.Load() }

// Stop flushes buffered rows and stops the worker, bounded by ctx. Record must
// not be called after Stop.
func (b *OutcomeSink) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping outcome sink...")
	b.stopOnce.Do(func() { close(b.inputChan) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for outcome sink worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
	}
	b.logger.Info().Int64("dropped", b.Dropped()).Int64("failed", b.Failed()).Msg("Outcome sink stopped.")
	return nil
}

func (b *OutcomeSink) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*OutcomeRow, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), batch)
			return

		case row, ok := <-b.inputChan:
			if !ok {
				b.flush(context.Background(), batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*OutcomeRow, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*OutcomeRow, 0, b.config.BatchSize)
			}
		}
	}
}

// flush inserts one batch. Outcome rows are observability data; a failed
// insert is logged and counted, not retried.
func (b *OutcomeSink) flush(ctx context.Context, batch []*OutcomeRow) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.failed.Add(int64(len(batch)))
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert outcome rows.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed outcome rows.")
}
