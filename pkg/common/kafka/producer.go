package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/decompensation/pkg/common/config"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/common/models"
)

const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"
	HeaderRunID     = "run-id"
)

type Producer struct {
	writer *kafka.Writer
	source string
}

func NewProducer(cfg *config.Config, source string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaStageTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{writer: writer, source: source}
}

// NewStageEvent builds the envelope for one pipeline notification.
func NewStageEvent(eventType, source, runID string, data map[string]interface{}) models.StageEvent {
	return models.StageEvent{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// buildMessage keys subject events by subject id so one subject's
// notifications stay on a single partition.
func buildMessage(event models.StageEvent) (kafka.Message, error) {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal stage event: %w", err)
	}

	key := event.ID
	if subject, ok := event.Data["subject_id"]; ok {
		key = fmt.Sprint(subject)
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderSource, Value: []byte(event.Source)},
	}
	if event.RunID != "" {
		headers = append(headers, kafka.Header{Key: HeaderRunID, Value: []byte(event.RunID)})
	}

	return kafka.Message{Key: []byte(key), Value: eventBytes, Headers: headers}, nil
}

func (p *Producer) Publish(ctx context.Context, eventType, runID string, data map[string]interface{}) error {
	event := NewStageEvent(eventType, p.source, runID, data)
	message, err := buildMessage(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
		}).Error("Failed to publish stage event")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      p.writer.Topic,
	}).Debug("Stage event published")

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
