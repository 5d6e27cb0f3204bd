package events

import (
	"context"

	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// LocalHandler reacciona a eventos recién persistidos dentro del mismo
// proceso, sin esperar la vuelta por el bus externo.
type LocalHandler interface {
	HandleEvent(ctx context.Context, evt sharedEvents.DomainEvent)
}

// Dispatcher reparte eventos a una lista explícita de handlers locales,
// invocados de forma síncrona tras un append exitoso. Nada de estado global:
// los handlers se registran en el arranque y se inyectan en tests.
type Dispatcher struct {
	handlers []LocalHandler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Register añade un handler. No es seguro llamarlo concurrentemente con
// Dispatch; se hace solo durante el arranque.
func (d *Dispatcher) Register(h LocalHandler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch entrega la lista de eventos a cada handler, en orden de append.
func (d *Dispatcher) Dispatch(ctx context.Context, evts []sharedEvents.DomainEvent) {
	for _, evt := range evts {
		for _, h := range d.handlers {
			h.HandleEvent(ctx, evt)
		}
	}
}
