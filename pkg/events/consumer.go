// Package events feeds test completion events from Kafka into the
// reliability event protocol.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reliability-tracker/pkg/config"
	"reliability-tracker/pkg/reliability"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

const (
	defaultPollTimeout  = time.Second
	defaultRetryBackoff = 5 * time.Second
)

// CompletionEvent is the JSON payload of a completion message. When TestID is
// empty the message key is used.
type CompletionEvent struct {
	TestID string `json:"test_id"`
	reliability.UpdateRequest
}

type messageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, timeoutMs int) error
	Close() error
}

type Consumer struct {
	reader      messageReader
	protocol    reliability.EventProtocol
	logger       *slog.Logger
	pollTimeout  time.Duration
	retryBackoff time.Duration
}

// NewConsumer subscribes to cfg.Topic. Offsets are committed manually once a
// message has been applied or rejected; storage failures leave the offset
// uncommitted and the message is read again.
func NewConsumer(cfg config.Kafka, protocol reliability.EventProtocol, logger *slog.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Topic, err)
	}

	return newConsumer(c, protocol, logger), nil
}

func newConsumer(reader messageReader, protocol reliability.EventProtocol, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:       reader,
		protocol:     protocol,
		logger:       logger,
		pollTimeout:  defaultPollTimeout,
		retryBackoff: defaultRetryBackoff,
	}
}

// Run consumes until ctx is cancelled or the broker reports a fatal error.
// The reader is closed on return.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.reader.ReadMessage(c.pollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) {
				if kerr.Code() == kafka.ErrTimedOut {
					continue
				}
				if kerr.IsFatal() {
					return fmt.Errorf("kafka consumer failed: %w", err)
				}
			}
			c.logger.Warn("Error reading kafka message", "error", err)
			continue
		}

		if !c.handle(ctx, msg) {
			if err := c.reader.Seek(msg.TopicPartition, 0); err != nil {
				return fmt.Errorf("failed to rewind to offset %v: %w", msg.TopicPartition.Offset, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryBackoff):
			}
			continue
		}

		if _, err := c.reader.CommitMessage(msg); err != nil {
			c.logger.Warn("Failed to commit kafka offset", "offset", msg.TopicPartition.Offset, "error", err)
		}
	}
}

// handle reports false when the message must be redelivered.
func (c *Consumer) handle(ctx context.Context, msg *kafka.Message) bool {
	logger := c.logger.With("event_id", uuid.NewString(), "offset", msg.TopicPartition.Offset)

	var event CompletionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Error("Skipping undecodable completion event", "error", err)
		return true
	}
	if event.TestID == "" {
		event.TestID = string(msg.Key)
	}
	if event.TestID == "" {
		logger.Error("Skipping completion event without test id")
		return true
	}

	result := c.protocol.Update(ctx, event.TestID, event.UpdateRequest)
	if result.Success {
		logger.Info("Completion event applied", "test_id", event.TestID)
		return true
	}
	if result.Reason == reliability.ReasonStorage {
		logger.Error("Completion event failed, will retry",
			"test_id", event.TestID,
			"message", result.Message)
		return false
	}
	logger.Warn("Completion event rejected",
		"test_id", event.TestID,
		"reason", result.Reason,
		"message", result.Message)
	return true
}
