package redpanda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

// Dead letter headers.
const (
	HeaderError          = "x-error"
	HeaderOriginTopic    = "x-origin-topic"
	HeaderOriginPosition = "x-origin-position"
	HeaderAttempts       = "x-attempts"
)

// ConsumerConfig holds configuration for the Redpanda consumer
type ConsumerConfig struct {
	// Brokers is a list of broker addresses
	Brokers []string
	// GroupID is the consumer group ID
	GroupID string
	// Topics is the list of topics to consume
	Topics []string
	// SessionTimeoutMS is the session timeout
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the heartbeat interval
	HeartbeatIntervalMS int64
	// FetchMaxBytes is the maximum fetch size
	FetchMaxBytes int32
	// StartOffset is the initial offset (earliest or latest)
	StartOffset string
	// MaxAttempts bounds handler calls per record before dead lettering
	MaxAttempts int
	// RetryBackoff grows linearly with each attempt
	RetryBackoff time.Duration
	// DeadLetterTopic receives records that exhausted their attempts.
	// Empty leaves them uncommitted.
	DeadLetterTopic string
	// IsPermanent marks errors that skip the remaining attempts
	IsPermanent func(error) bool
}

// DefaultConsumerConfig returns defaults for inbound HL7 processing
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "stream-converter",
		Topics:              []string{TopicHL7Inbound},
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
		FetchMaxBytes:       52428800, // 50MB
		StartOffset:         "earliest",
		MaxAttempts:         3,
		RetryBackoff:        500 * time.Millisecond,
		DeadLetterTopic:     TopicDeadLetter,
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage represents a consumed Kafka message
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Publisher sends a record; *Producer satisfies it.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// Consumer reads the inbound topics in a consumer group. Partitions of one
// poll are handled concurrently, records of a partition in order.
type Consumer struct {
	client     *kgo.Client
	config     ConsumerConfig
	logger     *zap.Logger
	tracer     trace.Tracer
	handler    MessageHandler
	deadLetter Publisher
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	messagesRead   int64
	bytesRead      int64
	errorCount     int64
	deadLettered   int64
	lastCommitTime time.Time
}

// NewConsumer creates a new Redpanda consumer. deadLetter and m may be nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, deadLetter Publisher, m *metrics.Metrics, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	}

	switch cfg.StartOffset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:     client,
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer("redpanda-consumer"),
		handler:    handler,
		deadLetter: deadLetter,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins consuming messages
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("error committing offsets on stop", zap.Error(err))
	}

	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
			c.incrementErrorCount()
		})

		var wg sync.WaitGroup
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.processPartition(p)
			}()
		})
		wg.Wait()

		if err := c.client.CommitMarkedOffsets(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("failed to commit offsets", zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.lastCommitTime = time.Now()
		c.mu.Unlock()
	}
}

// processPartition handles records in offset order. A record that can be
// neither handled nor dead lettered rewinds the partition to it.
func (c *Consumer) processPartition(p kgo.FetchTopicPartition) {
	for _, record := range p.Records {
		if !c.processRecord(record) {
			c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
				record.Topic: {record.Partition: {Epoch: record.LeaderEpoch, Offset: record.Offset}},
			})
			return
		}
		c.client.MarkCommitRecords(record)
	}
}

func (c *Consumer) processRecord(record *kgo.Record) bool {
	ctx := extractTraceContext(c.ctx, record)
	ctx, span := c.tracer.Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   headerMap(record),
		Timestamp: record.Timestamp,
	}

	attempts, err := c.handle(ctx, msg)
	if err == nil {
		c.incrementMetrics(len(record.Value))
		return true
	}

	span.RecordError(err)
	c.incrementErrorCount()
	if c.ctx.Err() != nil {
		return false
	}
	c.logger.Error("message handler failed",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset),
		zap.Int("attempts", attempts),
		zap.Error(err))

	return c.sendToDeadLetter(ctx, record, attempts, err)
}

// handle calls the handler until it succeeds, fails permanently or runs
// out of attempts.
func (c *Consumer) handle(ctx context.Context, msg *ConsumedMessage) (int, error) {
	var err error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return attempt, nil
		}
		if c.config.IsPermanent != nil && c.config.IsPermanent(err) {
			return attempt, err
		}
		if attempt == c.config.MaxAttempts {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(c.config.RetryBackoff * time.Duration(attempt)):
		}
	}
	return c.config.MaxAttempts, err
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, record *kgo.Record, attempts int, cause error) bool {
	if c.deadLetter == nil || c.config.DeadLetterTopic == "" {
		return false
	}
	headers := DeadLetterHeaders(record, attempts, cause)
	if err := c.deadLetter.PublishWithHeaders(ctx, c.config.DeadLetterTopic, string(record.Key), record.Value, headers); err != nil {
		c.logger.Error("failed to dead letter record",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.deadLettered++
	c.mu.Unlock()
	return true
}

// DeadLetterHeaders describes where a record came from and why it failed.
func DeadLetterHeaders(record *kgo.Record, attempts int, cause error) map[string]string {
	headers := headerMap(record)
	headers[HeaderError] = cause.Error()
	headers[HeaderOriginTopic] = record.Topic
	headers[HeaderOriginPosition] = strconv.Itoa(int(record.Partition)) + "/" + strconv.FormatInt(record.Offset, 10)
	headers[HeaderAttempts] = strconv.Itoa(attempts)
	return headers
}

// ConsumerStats holds consumer statistics
type ConsumerStats struct {
	MessagesRead   int64
	BytesRead      int64
	ErrorCount     int64
	DeadLettered   int64
	LastCommitTime time.Time
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConsumerStats{
		MessagesRead:   c.messagesRead,
		BytesRead:      c.bytesRead,
		ErrorCount:     c.errorCount,
		DeadLettered:   c.deadLettered,
		LastCommitTime: c.lastCommitTime,
	}
}

func (c *Consumer) incrementMetrics(bytes int) {
	c.mu.Lock()
	c.messagesRead++
	c.bytesRead += int64(bytes)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.KafkaMessagesConsumed.Inc()
	}
}

func (c *Consumer) incrementErrorCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}
