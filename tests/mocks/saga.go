package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
)

// InMemorySagaStore es un SagaStore en memoria para tests del coordinador.
// Seguro para concurrencia; devuelve copias para que el test pueda inspeccionar
// estados sin carreras con el coordinador.
type InMemorySagaStore struct {
	mu    sync.Mutex
	sagas map[uuid.UUID]*sharedDomain.SagaState
}

var _ sharedDomain.SagaStore = (*InMemorySagaStore)(nil)

func NewInMemorySagaStore() *InMemorySagaStore {
	return &InMemorySagaStore{sagas: make(map[uuid.UUID]*sharedDomain.SagaState)}
}

func (s *InMemorySagaStore) Insert(ctx context.Context, st *sharedDomain.SagaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sagas {
		if existing.SagaType == st.SagaType && existing.CorrelationID == st.CorrelationID {
			return sharedDomain.ErrSagaAlreadyExists
		}
	}
	s.sagas[st.SagaID] = clone(st)
	return nil
}

func (s *InMemorySagaStore) Update(ctx context.Context, st *sharedDomain.SagaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sagas[st.SagaID]; !ok {
		return sharedDomain.ErrSagaNotFound
	}
	s.sagas[st.SagaID] = clone(st)
	return nil
}

func (s *InMemorySagaStore) FindByCorrelation(ctx context.Context, sagaType string, correlationID uuid.UUID) (*sharedDomain.SagaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.sagas {
		if st.SagaType == sagaType && st.CorrelationID == correlationID {
			return clone(st), nil
		}
	}
	return nil, sharedDomain.ErrSagaNotFound
}

func (s *InMemorySagaStore) Due(ctx context.Context, now time.Time, limit int) ([]*sharedDomain.SagaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*sharedDomain.SagaState
	for _, st := range s.sagas {
		if st.Status == sharedDomain.SagaActive && st.NextWakeAt != nil && !st.NextWakeAt.After(now) {
			due = append(due, clone(st))
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

// Get devuelve el estado actual de una saga por ID, para aserciones.
func (s *InMemorySagaStore) Get(sagaID uuid.UUID) (*sharedDomain.SagaState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sagas[sagaID]
	if !ok {
		return nil, false
	}
	return clone(st), true
}

func clone(st *sharedDomain.SagaState) *sharedDomain.SagaState {
	cp := *st
	if st.NextWakeAt != nil {
		t := *st.NextWakeAt
		cp.NextWakeAt = &t
	}
	if st.Data != nil {
		cp.Data = append([]byte(nil), st.Data...)
	}
	return &cp
}
