package analytics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/eduflow/internal/analytics/clickhouse"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

const consumerName = "analytics"

// EventSink es el destino de la proyección. Satisfecho por el repo de
// ClickHouse; los tests inyectan uno en memoria.
type EventSink interface {
	LogBatch(ctx context.Context, entries []clickhouse.EventLogEntry) error
}

// Consumer proyecta cada evento publicado a la tabla events_log. Es un
// consumidor puro: la entrega es al-menos-una-vez y la deduplicación por
// (consumer, eventId) evita filas repetidas.
type Consumer struct {
	sink      EventSink
	processed sharedDomain.ProcessedStore
	log       *zap.Logger
}

func NewConsumer(sink EventSink, processed sharedDomain.ProcessedStore, log *zap.Logger) *Consumer {
	return &Consumer{sink: sink, processed: processed, log: log}
}

// HandleMessage procesa un sobre del bus. No necesita el registro de eventos:
// el payload se proyecta como JSON crudo.
func (c *Consumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	var env sharedEvents.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.log.Warn("Failed to unmarshal envelope", zap.String("key", key), zap.Error(err))
		return
	}

	fresh, err := c.processed.SetIfAbsent(ctx, consumerName, env.Detail.EventID)
	if err != nil {
		c.log.Warn("⚠️ Error consultando deduplicación", zap.Error(err))
		return
	}
	if !fresh {
		return
	}

	correlation := ""
	if env.Detail.CorrelationID != nil {
		correlation = env.Detail.CorrelationID.String()
	}

	entry := clickhouse.EventLogEntry{
		EventID:       env.Detail.EventID.String(),
		EventName:     env.DetailType,
		AggregateID:   env.Detail.AggregateID,
		CorrelationID: correlation,
		Source:        env.Source,
		Payload:       string(env.Detail.Payload),
		OccurredAt:    env.Detail.OccurredAt,
		IngestedAt:    time.Now().UTC(),
	}

	if err := c.sink.LogBatch(ctx, []clickhouse.EventLogEntry{entry}); err != nil {
		// Liberar la marca: la reentrega del evento debe reintentar la
		// proyección, no descartarse como duplicado.
		if rerr := c.processed.Release(ctx, consumerName, env.Detail.EventID); rerr != nil {
			c.log.Warn("⚠️ No se pudo liberar la marca de deduplicación", zap.Error(rerr))
		}
		c.log.Warn("⚠️ No se pudo proyectar el evento", zap.String("event_id", entry.EventID), zap.Error(err))
	}
}
