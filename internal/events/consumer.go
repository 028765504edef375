package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const (
	headerRetryCount    = "retry_count"
	headerMetadata      = "metadata"
	headerOriginalTopic = "original_topic"
)

type Handler interface {
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

type HandlerFunc func(ctx context.Context, event OrderEvent) error

func (f HandlerFunc) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	return f(ctx, event)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to
// the dead-letter topic.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second}
}

type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type ConsumerMetrics struct {
	Processed    int64 `json:"processed"`
	Retries      int64 `json:"retries"`
	DeadLettered int64 `json:"dead_lettered"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
}

type consumerCounters struct {
	processed, retries, deadLettered, succeeded, failed atomic.Int64
}

// RetryingConsumer reads order events from a consumer group, retries
// transient handler failures with exponential backoff and parks messages
// that still fail on a dead-letter topic.
type RetryingConsumer struct {
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	handler  Handler
	topics   []string
	dlqTopic string
	policy   RetryPolicy
	counters consumerCounters
	logger   *logrus.Logger
}

type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	DLQTopic string
	Policy   RetryPolicy
}

func NewRetryingConsumer(cfg ConsumerConfig, handler Handler, logger *logrus.Logger) (*RetryingConsumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig())
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}
	return newRetryingConsumer(group, producer, cfg, handler, logger), nil
}

func newRetryingConsumer(group sarama.ConsumerGroup, producer sarama.SyncProducer, cfg ConsumerConfig, handler Handler, logger *logrus.Logger) *RetryingConsumer {
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = TopicNotificationsDLQ
	}
	return &RetryingConsumer{
		group:    group,
		producer: producer,
		handler:  handler,
		topics:   cfg.Topics,
		dlqTopic: cfg.DLQTopic,
		policy:   cfg.Policy,
		logger:   logger,
	}
}

// Start blocks consuming until ctx is cancelled.
func (c *RetryingConsumer) Start(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *RetryingConsumer) Close() error {
	if err := c.producer.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.group.Close()
}

func (c *RetryingConsumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Processed:    c.counters.processed.Load(),
		Retries:      c.counters.retries.Load(),
		DeadLettered: c.counters.deadLettered.Load(),
		Succeeded:    c.counters.succeeded.Load(),
		Failed:       c.counters.failed.Load(),
	}
}

func (c *RetryingConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session setup")
	return nil
}

func (c *RetryingConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (c *RetryingConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.processMessage(session.Context(), message); err != nil {
				// Leaving the claim ends the session, so the group rejoins and
				// the unmarked message is delivered again.
				if session.Context().Err() != nil {
					return nil
				}
				return err
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage handles one message end to end. It returns nil once the
// message is settled, meaning handled or dead-lettered, and may then be
// committed. Shutdown during handling and a failed DLQ write leave the
// message unsettled.
func (c *RetryingConsumer) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	c.counters.processed.Add(1)

	err := c.handleWithRetry(ctx, message)
	if err == nil {
		c.counters.succeeded.Add(1)
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.WithField("offset", message.Offset).Info("Shutdown interrupted message, leaving it uncommitted")
		return ctxErr
	}

	c.counters.failed.Add(1)
	c.logger.WithError(err).WithField("topic", message.Topic).Error("Failed to process message after retries")
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return dlqErr
	}
	c.counters.deadLettered.Add(1)
	return nil
}

func (c *RetryingConsumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return Permanent(fmt.Errorf("failed to decode order event: %w", err))
	}

	log := c.logger.WithFields(logrus.Fields{
		"topic":      message.Topic,
		"partition":  message.Partition,
		"offset":     message.Offset,
		"order_id":   event.OrderID,
		"event_type": event.Type,
	})
	log.Debug("Processing order event")

	delay := c.policy.InitialDelay
	var err error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			c.counters.retries.Add(1)
			log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay.String()}).Info("Retrying order event")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.policy.MaxDelay {
				delay = c.policy.MaxDelay
			}
		}

		if err = c.handler.HandleOrderEvent(ctx, event); err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error processing order event")
	}
	return fmt.Errorf("exhausted retries for order %s: %w", event.OrderID, err)
}

func retryCountOf(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == headerRetryCount {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (c *RetryingConsumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	metadata := MessageMetadata{
		RetryCount:    retryCountOf(message) + 1,
		FailedAt:      time.Now(),
		OriginalTopic: message.Topic,
		ErrorMessage:  processingErr.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: c.dlqTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMetadata), Value: metadataBytes},
			{Key: []byte(headerOriginalTopic), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
		},
	}

	partition, offset, err := c.producer.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"dlq_topic":     c.dlqTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingErr.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}
