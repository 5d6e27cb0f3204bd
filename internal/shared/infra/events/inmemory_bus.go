package events

import (
	"context"
	"encoding/json"
	"sync"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/eduflow/internal/shared/infra/platform/bus"
)

// InMemoryEventBus implementa el bus con canales de Go, para desarrollo
// local y tests. Los suscriptores reciben el sobre serializado, igual que
// recibirían el mensaje de Kafka.
type InMemoryEventBus struct {
	subscribers []chan []byte
	mu          sync.RWMutex
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make([]chan []byte, 0),
	}
}

// Publish envía el sobre a todos los suscriptores.
func (b *InMemoryEventBus) Publish(ctx context.Context, env sharedEvents.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subChan := range b.subscribers {
		select {
		case subChan <- data:
		default:
			// suscriptor saturado: el sobre se pierde para ese suscriptor.
			// Dimensionar el buffer de Subscribe acorde al tráfico esperado;
			// para garantías de entrega usar Kafka.
		}
	}
	return nil
}

// Subscribe suscribe un nuevo oyente a este bus.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan []byte, bufferSize)
	b.subscribers = append(b.subscribers, subChan)
	return subChan
}

// BackgroundConsumerChan conecta un canal del bus en memoria con un
// MessageHandler, imitando al ConsumerAdapter de Kafka.
func BackgroundConsumerChan(ctx context.Context, ch <-chan []byte, handler MessageHandler) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-ch:
				handler.HandleMessage(ctx, "", payload)
			}
		}
	}()
}
