package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/prescription"
)

// OutboxEntry is a stored event waiting to be published.
type OutboxEntry struct {
	ID            int64
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	RetryCount    int
	LastError     *string
}

// OutboxWriter records lifecycle events in the outbox table using the
// transaction carried by ctx, so an event commits together with its
// mutation.
type OutboxWriter struct {
	db    *DB
	topic string
}

var _ prescription.EventRecorder = (*OutboxWriter)(nil)

// NewOutboxWriter creates a writer targeting topic.
func NewOutboxWriter(db *DB, topic string) *OutboxWriter {
	return &OutboxWriter{db: db, topic: topic}
}

// Record stores e. The Kafka key is the aggregate id so events of one
// prescription stay ordered.
func (w *OutboxWriter) Record(ctx context.Context, e *prescription.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = w.db.conn(ctx).Exec(ctx, `
		INSERT INTO outbox (event_id, aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AggregateID, e.AggregateType, string(e.EventType), payload, w.topic, e.AggregateID,
	)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// OutboxConfig holds relay settings.
type OutboxConfig struct {
	// BatchSize is the number of entries claimed per poll.
	BatchSize int
	// PollInterval is how often the table is polled.
	PollInterval time.Duration
	// MaxRetries is how many failed publishes move an entry to the dead
	// letter topic.
	MaxRetries int
	// DeadLetterTopic receives entries that exhausted their retries.
	DeadLetterTopic string
	// Unavailable reports publish errors returned without reaching the
	// broker, such as an open circuit breaker. The batch stops and no retry
	// is counted.
	Unavailable func(err error) bool
}

// DefaultOutboxConfig returns relay defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       50,
		PollInterval:    500 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "dead.letter",
	}
}

// OutboxPublisher delivers one message.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox relays pending entries to the broker.
type Outbox struct {
	db        *DB
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	// OnPending, when set, receives the pending count after every poll.
	OnPending func(pending int64)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates a relay.
func NewOutbox(db *DB, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultOutboxConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultOutboxConfig().PollInterval
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = DefaultOutboxConfig().DeadLetterTopic
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		db:        db,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling in the background.
func (o *Outbox) Start() {
	go o.loop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop waits for the current batch to finish and stops polling.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) loop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.ProcessBatch(o.ctx); err != nil {
				o.logger.Error("outbox batch failed", zap.Error(err))
			}
			if _, err := o.MoveToDeadLetter(o.ctx); err != nil {
				o.logger.Error("dead letter sweep failed", zap.Error(err))
			}
			if o.OnPending != nil {
				if stats, err := o.GetStats(o.ctx); err == nil {
					o.OnPending(stats.Pending)
				}
			}
		}
	}
}

// ProcessBatch claims up to BatchSize pending entries, publishes them in
// order and returns how many were delivered. Claimed rows stay locked until
// the batch commits, so concurrent relays never publish the same entry.
func (o *Outbox) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "outbox_process_batch")
	defer span.End()

	delivered := 0
	err := o.db.WithinTx(ctx, func(ctx context.Context) error {
		entries, err := o.claim(ctx)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("batch_size", len(entries)))

		for _, entry := range entries {
			if err := o.deliver(ctx, entry); err != nil {
				if o.unavailable(err) {
					o.logger.Warn("publisher unavailable, deferring batch",
						zap.Int64("id", entry.ID),
						zap.Error(err))
					break
				}
				o.logger.Warn("outbox publish failed",
					zap.Int64("id", entry.ID),
					zap.String("event_type", entry.EventType),
					zap.Int("retry_count", entry.RetryCount+1),
					zap.Error(err))
				continue
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return delivered, err
	}
	return delivered, nil
}

func (o *Outbox) unavailable(err error) bool {
	return o.config.Unavailable != nil && o.config.Unavailable(err)
}

func (o *Outbox) claim(ctx context.Context) ([]*OutboxEntry, error) {
	rows, err := o.db.conn(ctx).Query(ctx, `
		SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	return scanEntries(rows)
}

func (o *Outbox) deliver(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.KafkaTopic, entry.KafkaKey, entry.Payload); err != nil {
		span.RecordError(err)
		if o.unavailable(err) {
			return err
		}
		if _, uerr := o.db.conn(ctx).Exec(ctx, `
			UPDATE outbox SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2`, err.Error(), entry.ID); uerr != nil {
			return fmt.Errorf("record publish failure: %w", uerr)
		}
		return err
	}

	if _, err := o.db.conn(ctx).Exec(ctx, `
		UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MoveToDeadLetter publishes entries that exhausted their retries to the dead
// letter topic and marks them processed.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	var moved int64
	err := o.db.WithinTx(ctx, func(ctx context.Context) error {
		rows, err := o.db.conn(ctx).Query(ctx, `
			SELECT id, event_id, aggregate_id, aggregate_type, event_type, payload,
			       kafka_topic, kafka_key, created_at, retry_count, last_error
			FROM outbox
			WHERE processed_at IS NULL AND retry_count >= $1
			ORDER BY id
			FOR UPDATE SKIP LOCKED`, o.config.MaxRetries)
		if err != nil {
			return fmt.Errorf("query exhausted entries: %w", err)
		}
		entries, err := scanEntries(rows)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			body, err := json.Marshal(map[string]interface{}{
				"original_topic": entry.KafkaTopic,
				"event_id":       entry.EventID,
				"event_type":     entry.EventType,
				"aggregate_id":   entry.AggregateID,
				"payload":        entry.Payload,
				"retry_count":    entry.RetryCount,
				"last_error":     entry.LastError,
				"created_at":     entry.CreatedAt,
			})
			if err != nil {
				return fmt.Errorf("encode dead letter: %w", err)
			}

			if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.KafkaKey, body); err != nil {
				o.logger.Error("dead letter publish failed", zap.Int64("id", entry.ID), zap.Error(err))
				continue
			}
			if _, err := o.db.conn(ctx).Exec(ctx,
				`UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1`, entry.ID); err != nil {
				return fmt.Errorf("mark dead letter: %w", err)
			}
			moved++
		}
		return nil
	})
	if moved > 0 {
		o.logger.Warn("outbox entries moved to dead letter", zap.Int64("count", moved))
	}
	return moved, err
}

// CleanupProcessed deletes entries processed before the given age.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := o.db.conn(ctx).Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OutboxStats summarizes the outbox table.
type OutboxStats struct {
	Pending       int64
	Failed        int64
	OldestPending *time.Time
}

// GetStats returns current outbox counts.
func (o *Outbox) GetStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}
	err := o.db.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < $1),
			COUNT(*) FILTER (WHERE retry_count >= $1),
			MIN(created_at)
		FROM outbox
		WHERE processed_at IS NULL`, o.config.MaxRetries,
	).Scan(&stats.Pending, &stats.Failed, &stats.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return stats, nil
}

func scanEntries(rows pgx.Rows) ([]*OutboxEntry, error) {
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Payload,
			&e.KafkaTopic, &e.KafkaKey, &e.CreatedAt, &e.RetryCount, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
