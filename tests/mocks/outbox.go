package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedBus "github.com/davicafu/eduflow/internal/shared/infra/platform/bus"
)

// MockOutboxRepository es un mock de testify para el repositorio del outbox.
type MockOutboxRepository struct {
	mock.Mock
}

var _ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)

func (m *MockOutboxRepository) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	args := m.Called(ctx, limit, lease)
	if entries := args.Get(0); entries != nil {
		return entries.([]sharedDomain.OutboxEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOutboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, attempts, nextAttemptAt)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkDead(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPublisher es un mock de testify para el bus de eventos.
type MockPublisher struct {
	mock.Mock
}

var _ sharedBus.EventBus = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, env sharedEvents.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}
