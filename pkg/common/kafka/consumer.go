package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

type Consumer struct {
	reader *kafka.Reader
}

type EventHandler func(ctx context.Context, event models.StageEvent) error

func NewConsumer(cfg *config.Config, groupID string) *Consumer {
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaStageTopic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

func decodeMessage(message kafka.Message) (models.StageEvent, error) {
	var event models.StageEvent
	err := json.Unmarshal(message.Value, &event)
	return event, err
}

// Consume blocks until ctx is cancelled. Messages whose handler fails are
// left uncommitted so the group redelivers them.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			event, err := decodeMessage(message)
			if err != nil {
				logger.Log.WithError(err).Error("Failed to unmarshal stage event")
				c.reader.CommitMessages(ctx, message)
				continue
			}

			if err := handler(ctx, event); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"event_id":   event.ID,
					"event_type": event.Type,
				}).Error("Failed to process stage event")
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
