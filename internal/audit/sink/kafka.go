package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"chronicle/internal/audit/models"
)

// producer is the subset of kgo.Client the sink uses. Tests substitute a
// recording implementation.
type producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaConfig configures the SIEM forwarding sink.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	FlushInterval time.Duration
	BatchSize     int
	BufferSize    int
}

func (c *KafkaConfig) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
}

// Kafka buffers committed events and flushes them to a SIEM topic in
// batches. Records are keyed by tenant so one tenant's stream stays
// ordered within a partition.
type Kafka struct {
	producer producer
	topic    string
	buffer   *RingBuffer
	breaker  *CircuitBreaker
	metrics  *Metrics
	logger   *slog.Logger

	interval  time.Duration
	batchSize int

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	lastDropped int64
}

// NewKafka connects to the brokers and starts the background flusher.
func NewKafka(cfg KafkaConfig, metrics *Metrics, logger *slog.Logger) (*Kafka, error) {
	cfg.applyDefaults()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return newKafka(client, cfg, metrics, logger), nil
}

func newKafka(p producer, cfg KafkaConfig, metrics *Metrics, logger *slog.Logger) *Kafka {
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	k := &Kafka{
		producer:  p,
		topic:     cfg.Topic,
		buffer:    NewRingBuffer(cfg.BufferSize),
		breaker:   NewCircuitBreaker(5, 30*time.Second),
		metrics:   metrics,
		logger:    logger,
		interval:  cfg.FlushInterval,
		batchSize: cfg.BatchSize,
		done:      make(chan struct{}),
	}
	k.cancel = cancel
	go k.run(ctx)
	return k
}

// Publish buffers the event for forwarding. Never blocks.
func (k *Kafka) Publish(event models.Event) {
	k.buffer.Enqueue(event)
	k.metrics.BufferDepth.Set(float64(k.buffer.Len()))
}

// Close flushes what it can within the context deadline and shuts the
// producer down.
func (k *Kafka) Close(ctx context.Context) error {
	k.closeOnce.Do(func() {
		k.cancel()
		select {
		case <-k.done:
		case <-ctx.Done():
		}
		k.flush(ctx)
		k.producer.Close()
	})
	return nil
}

func (k *Kafka) run(ctx context.Context) {
	defer close(k.done)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.flush(ctx)
		}
	}
}

func (k *Kafka) flush(ctx context.Context) {
	k.trackDrops()

	if !k.breaker.Allow() {
		k.metrics.CircuitOpen.Set(1)
		return
	}
	k.metrics.CircuitOpen.Set(0)

	batch := k.buffer.DequeueBatch(k.batchSize)
	if len(batch) == 0 {
		return
	}

	records := make([]*kgo.Record, 0, len(batch))
	for i := range batch {
		payload, err := json.Marshal(&batch[i])
		if err != nil {
			k.logger.Error("marshal sink event", "error", err, "event_id", batch[i].ID.String())
			continue
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(batch[i].TenantID.String()),
			Value: payload,
		})
	}
	if len(records) == 0 {
		return
	}

	if err := k.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		k.breaker.RecordFailure()
		k.metrics.PublishErrors.Inc()
		k.logger.Warn("siem forward failed, re-buffering batch",
			"error", err,
			"batch_size", len(batch),
		)
		// Requeue so a transient outage loses nothing the buffer can hold.
		for i := range batch {
			k.buffer.Enqueue(batch[i])
		}
		return
	}

	k.breaker.RecordSuccess()
	k.metrics.Published.Add(float64(len(records)))
	k.metrics.BufferDepth.Set(float64(k.buffer.Len()))
}

func (k *Kafka) trackDrops() {
	dropped := k.buffer.Dropped()
	if delta := dropped - k.lastDropped; delta > 0 {
		k.metrics.Dropped.Add(float64(delta))
		k.lastDropped = dropped
	}
}
