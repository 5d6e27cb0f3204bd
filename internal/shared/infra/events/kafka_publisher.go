package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/eduflow/internal/shared/infra/platform/bus"
)

// KafkaPublisher publica sobres en Kafka. El writer es genérico (sin topic
// fijo); el topic sale del registro de eventos y la key de partición es el
// aggregateId, lo que preserva el orden por agregado.
type KafkaPublisher struct {
	writer   *kafka.Writer
	registry sharedEvents.Registry
	log      *zap.Logger
}

func NewKafkaPublisher(writer *kafka.Writer, registry sharedEvents.Registry, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, registry: registry, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, env sharedEvents.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	meta, ok := p.registry[env.DetailType]
	if !ok {
		return sharedEvents.ErrUnknownEventType
	}

	msg := kafka.Message{
		Topic: meta.Topic,
		Key:   []byte(env.Detail.AggregateID),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka", zap.String("detail_type", env.DetailType), zap.Error(err))
		return err
	}

	p.log.Debug("Event published successfully",
		zap.String("detail_type", env.DetailType),
		zap.String("aggregate_id", env.Detail.AggregateID),
	)
	return nil
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
