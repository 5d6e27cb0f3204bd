package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// MockEventStore es un mock de testify para el event store.
type MockEventStore struct {
	mock.Mock
}

var _ sharedDomain.EventStore = (*MockEventStore)(nil)

func (m *MockEventStore) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, evts []sharedEvents.DomainEvent) (int, error) {
	args := m.Called(ctx, aggregateType, aggregateID, expectedVersion, evts)
	return args.Int(0), args.Error(1)
}

func (m *MockEventStore) Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedEvents.DomainEvent, error) {
	args := m.Called(ctx, aggregateType, aggregateID)
	if evts := args.Get(0); evts != nil {
		return evts.([]sharedEvents.DomainEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEventStore) LoadAfter(ctx context.Context, aggregateType string, aggregateID uuid.UUID, afterVersion int) ([]sharedEvents.DomainEvent, error) {
	args := m.Called(ctx, aggregateType, aggregateID, afterVersion)
	switch v := args.Get(0).(type) {
	case nil:
		return nil, args.Error(1)
	case func(context.Context, string, uuid.UUID, int) []sharedEvents.DomainEvent:
		return v(ctx, aggregateType, aggregateID, afterVersion), args.Error(1)
	default:
		return v.([]sharedEvents.DomainEvent), args.Error(1)
	}
}
