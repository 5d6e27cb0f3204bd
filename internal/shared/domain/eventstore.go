package domain

import (
	"context"
	"errors"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

// ErrConcurrencyConflict lo devuelve Append cuando la versión esperada no
// coincide con la actual del agregado. Es una condición esperada y
// reintentable: el llamante recarga el agregado y repite la operación de
// negocio desde cero.
var ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version mismatch")

// EventStore es el log de eventos append-only, particionado por
// (aggregate_type, aggregate_id). Dentro de una partición los eventos forman
// un orden total por versión, sin huecos; entre particiones no hay garantía
// de orden.
type EventStore interface {
	// Append persiste los eventos de forma atómica (todo o nada) solo si la
	// versión actual del agregado es expectedVersion, y deja sus entradas de
	// outbox en la misma transacción. Devuelve la versión nueva
	// (expectedVersion + len(evts)) o ErrConcurrencyConflict.
	Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, evts []sharedEvents.DomainEvent) (int, error)

	// Load devuelve el histórico completo ordenado por versión. Un agregado
	// sin eventos devuelve un slice vacío, no un error: distinguir "sin
	// histórico" de "no existe" es cosa de la fábrica de agregados.
	Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedEvents.DomainEvent, error)

	// LoadAfter devuelve solo los eventos con versión > version, para
	// consumo incremental.
	LoadAfter(ctx context.Context, aggregateType string, aggregateID uuid.UUID, version int) ([]sharedEvents.DomainEvent, error)
}
