package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
)

// InMemoryProcessedStore es la alternativa sin Redis, con expiración
// perezosa. Válido para desarrollo local y tests; en un despliegue con
// varias instancias la deduplicación debe ser compartida (Redis).
type InMemoryProcessedStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	lastGC  time.Time
}

func NewInMemoryProcessedStore(ttl time.Duration) *InMemoryProcessedStore {
	return &InMemoryProcessedStore{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		lastGC: time.Now(),
	}
}

func (s *InMemoryProcessedStore) SetIfAbsent(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key := consumer + ":" + eventID.String()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// limpieza perezosa de claves caducadas
	if now.Sub(s.lastGC) > s.ttl {
		for k, exp := range s.seen {
			if now.After(exp) {
				delete(s.seen, k)
			}
		}
		s.lastGC = now
	}

	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return true, nil
}

// Release desmarca la clave para que la reentrega del evento vuelva a
// procesarse (el efecto que protegía la marca falló).
func (s *InMemoryProcessedStore) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, consumer+":"+eventID.String())
	return nil
}

// Verificación estática
var _ sharedDomain.ProcessedStore = (*InMemoryProcessedStore)(nil)
