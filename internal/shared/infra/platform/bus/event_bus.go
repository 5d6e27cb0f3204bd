package bus

import (
	"context"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// EventBus publica sobres de eventos hacia el exterior. El topic y el
// particionado los decide cada adapter a partir del sobre.
type EventBus interface {
	Publish(ctx context.Context, env sharedEvents.Envelope) error
}
