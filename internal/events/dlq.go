package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// MaxReplays caps how often one message may travel DLQ -> original topic.
const MaxReplays = 3

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

// DLQMonitor logs every dead-lettered message and, when replay is enabled,
// republishes it to the topic it originally failed on.
type DLQMonitor struct {
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	topic    string
	replay   bool
	logger   *logrus.Logger
}

func NewDLQMonitor(brokers []string, groupID, topic string, replay bool, logger *logrus.Logger) (*DLQMonitor, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}
	var producer sarama.SyncProducer
	if replay {
		producer, err = sarama.NewSyncProducer(brokers, newSaramaConfig())
		if err != nil {
			group.Close()
			return nil, fmt.Errorf("failed to create replay producer: %w", err)
		}
	}
	return &DLQMonitor{group: group, producer: producer, topic: topic, replay: replay, logger: logger}, nil
}

func (m *DLQMonitor) Run(ctx context.Context) error {
	m.logger.WithFields(logrus.Fields{"topic": m.topic, "replay": m.replay}).Info("DLQ monitor started")
	for {
		if err := m.group.Consume(ctx, []string{m.topic}, m); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			m.logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (m *DLQMonitor) Close() error {
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close replay producer")
		}
	}
	return m.group.Close()
}

func (m *DLQMonitor) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (m *DLQMonitor) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (m *DLQMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m.Inspect(message)
			if m.replay {
				if err := m.Replay(message); err != nil {
					m.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to replay DLQ message")
				}
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func metadataOf(message *sarama.ConsumerMessage) MessageMetadata {
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == headerMetadata {
			json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	if metadata.OriginalTopic == "" {
		for _, header := range message.Headers {
			if header != nil && string(header.Key) == headerOriginalTopic {
				metadata.OriginalTopic = string(header.Value)
			}
		}
	}
	return metadata
}

// Inspect logs the failure details and the order the message refers to.
func (m *DLQMonitor) Inspect(message *sarama.ConsumerMessage) MessageMetadata {
	metadata := metadataOf(message)
	fields := logrus.Fields{
		"topic":          message.Topic,
		"partition":      message.Partition,
		"offset":         message.Offset,
		"key":            string(message.Key),
		"original_topic": metadata.OriginalTopic,
		"retry_count":    metadata.RetryCount,
		"failed_at":      metadata.FailedAt,
		"error_message":  metadata.ErrorMessage,
	}
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err == nil {
		fields["order_id"] = event.OrderID
		fields["user_id"] = event.UserID
		fields["event_type"] = event.Type
	}
	m.logger.WithFields(fields).Warn("DLQ message detected")
	return metadata
}

func (m *DLQMonitor) Replay(message *sarama.ConsumerMessage) error {
	metadata := metadataOf(message)
	if metadata.RetryCount >= MaxReplays {
		return fmt.Errorf("%w: %d", ErrReplayLimit, metadata.RetryCount)
	}
	if metadata.OriginalTopic == "" {
		return errors.New("DLQ message has no original topic")
	}

	replay := &sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerRetryCount), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
			{Key: []byte("replay_time"), Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}
	partition, offset, err := m.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"replay_topic":     metadata.OriginalTopic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}
