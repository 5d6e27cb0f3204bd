package domain

import (
	"fmt"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

// Root es la base de todo agregado event-sourced. Mantiene la identidad, la
// versión (número de eventos aplicados, históricos + pendientes) y la cola
// de eventos pendientes de persistir. Los agregados concretos la embeben.
type Root struct {
	id            uuid.UUID
	aggregateType string
	version       int
	pending       []sharedEvents.DomainEvent
}

// NewRoot construye la base de un agregado nuevo (versión 0).
func NewRoot(id uuid.UUID, aggregateType string) Root {
	return Root{id: id, aggregateType: aggregateType}
}

func (r *Root) ID() uuid.UUID        { return r.id }
func (r *Root) AggregateType() string { return r.aggregateType }

// Version devuelve el número de eventos aplicados a esta instancia.
// Nunca decrece.
func (r *Root) Version() int { return r.version }

// PendingEvents devuelve la cola pendiente en orden de aplicación, sin
// vaciarla. La capa de persistencia la lee justo antes del append.
func (r *Root) PendingEvents() []sharedEvents.DomainEvent { return r.pending }

func (r *Root) HasPending() bool { return len(r.pending) > 0 }

// Commit vacía la cola pendiente. Solo debe llamarse cuando el event store
// confirmó el append de exactamente esos eventos; antes, un crash los
// perdería en silencio.
func (r *Root) Commit() { r.pending = nil }

// LoadedVersion es la versión con la que el agregado salió del store, es
// decir, la esperada en el próximo append.
func (r *Root) LoadedVersion() int { return r.version - len(r.pending) }

// base permite a Record/Replay acceder a la raíz embebida desde otros
// paquetes sin exponer mutadores.
func (r *Root) base() *Root { return r }

// Aggregate lo cumple cualquier struct que embeba *Root (o Root) e
// implemente su despacho de mutación de estado.
type Aggregate interface {
	base() *Root

	// Mutate aplica el cambio de estado de un evento sobre la memoria del
	// agregado. No hace I/O, no emite eventos nuevos y es determinista: es
	// el mismo camino para eventos vivos y para el replay.
	Mutate(evt sharedEvents.DomainEvent) error
}

// Record aplica un evento nuevo: muta el estado y lo encola como pendiente.
// Es la única vía por la que una operación de negocio cambia el agregado.
func Record(agg Aggregate, evt sharedEvents.DomainEvent) error {
	if err := agg.Mutate(evt); err != nil {
		return err
	}
	r := agg.base()
	r.pending = append(r.pending, evt)
	r.version++
	return nil
}

// Replay reconstruye un agregado desde su histórico. Aplica cada evento por
// el mismo camino de mutación que Record, deja la cola pendiente vacía y la
// versión igual al número de eventos reproducidos. Es libre de efectos:
// reproducir la misma secuencia dos veces da estados idénticos.
//
// Un evento irreconocible corta el replay con un ReplayError (fail-fast):
// ignorarlo reconstruiría otro estado sin que nadie se entere.
func Replay(agg Aggregate, history []sharedEvents.DomainEvent) error {
	r := agg.base()
	if r.version != 0 || len(r.pending) != 0 {
		return fmt.Errorf("replay requires a fresh aggregate (version=%d, pending=%d)", r.version, len(r.pending))
	}
	for _, evt := range history {
		if err := agg.Mutate(evt); err != nil {
			return &ReplayError{AggregateType: r.aggregateType, AggregateID: r.id, EventName: evt.EventName, Err: err}
		}
		r.version++
	}
	return nil
}

// ReplayError envuelve el fallo de reconstrucción de un agregado.
type ReplayError struct {
	AggregateType string
	AggregateID   uuid.UUID
	EventName     string
	Err           error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay of %s/%s failed at event %q: %v", e.AggregateType, e.AggregateID, e.EventName, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }
