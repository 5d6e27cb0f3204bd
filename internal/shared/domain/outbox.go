package domain

import (
	"context"
	"time"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

// OutboxStatus es el estado de entrega de una entrada del outbox.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
	// OutboxDead: agotados los reintentos. Queda visible para un operador,
	// nunca se descarta en silencio.
	OutboxDead OutboxStatus = "dead"
)

// OutboxEntry representa un evento pendiente de publicar en el bus externo.
// Se crea en la misma transacción que el append del event store, de modo que
// un crash entre ambos no pueda perder ni duplicar el append sin afectar
// también al outbox.
type OutboxEntry struct {
	ID            uuid.UUID // igual al EventID del evento
	Event         sharedEvents.DomainEvent
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OutboxRepository define el contrato que necesita el relayer. La entrega es
// at-least-once: los consumidores deduplican por eventId.
type OutboxRepository interface {
	// ClaimBatch selecciona atómicamente hasta limit entradas pendientes (o
	// fallidas ya vencidas) y las reserva con un lease: otra instancia del
	// relayer no puede reclamarlas hasta que el lease expire. El orden de
	// entrega por agregado es el orden de append.
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]OutboxEntry, error)

	// MarkDelivered confirma la entrega de una entrada concreta.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	// MarkFailed registra un intento fallido y programa el siguiente.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error

	// MarkDead retira la entrada de la rotación tras agotar reintentos.
	MarkDead(ctx context.Context, id uuid.UUID) error
}
