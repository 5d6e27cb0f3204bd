package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/davicafu/eduflow/tests/mocks"
)

func outboxEntry(attempts int) sharedDomain.OutboxEntry {
	evt := sharedEvents.New("enrollment.requested", "enrollment", uuid.New(),
		map[string]interface{}{"student_id": uuid.New().String()}, sharedEvents.Causality{})
	return sharedDomain.OutboxEntry{
		ID:       evt.EventID,
		Event:    evt,
		Status:   sharedDomain.OutboxPending,
		Attempts: attempts,
	}
}

func newTestWorker(repo *mocks.MockOutboxRepository, publisher *mocks.MockPublisher, maxAttempts int) *Worker {
	return NewOutboxWorker(repo, publisher, "eduflow-test", time.Second, 10, maxAttempts, time.Minute, zap.NewNop())
}

func TestOutboxWorker_ProcessBatch_Success(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	entry := outboxEntry(0)

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env sharedEvents.Envelope) bool {
		return env.Source == "eduflow-test" && env.DetailType == entry.Event.EventName && env.Detail.EventID == entry.ID
	})).Return(nil).Once()
	repo.On("MarkDelivered", mock.Anything, entry.ID).Return(nil).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_PublisherFails(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	entry := outboxEntry(0)

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()
	repo.On("MarkFailed", mock.Anything, entry.ID, 1, mock.MatchedBy(func(next time.Time) bool {
		return next.After(time.Now().UTC())
	})).Return(nil).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "MarkDead", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_ExhaustedRetriesGoDead(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	entry := outboxEntry(7) // el siguiente fallo alcanza el máximo

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down")).Once()
	repo.On("MarkDead", mock.Anything, entry.ID).Return(nil).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_PartialFailure(t *testing.T) {
	// ARRANGE: un fallo no arrastra al resto del lote
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	ok := outboxEntry(0)
	bad := outboxEntry(0)

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{ok, bad}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env sharedEvents.Envelope) bool {
		return env.Detail.EventID == ok.ID
	})).Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env sharedEvents.Envelope) bool {
		return env.Detail.EventID == bad.ID
	})).Return(errors.New("broker unreachable")).Once()
	repo.On("MarkDelivered", mock.Anything, ok.ID).Return(nil).Once()
	repo.On("MarkFailed", mock.Anything, bad.ID, 1, mock.Anything).Return(nil).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_MarkDeliveredFailureIsTolerated(t *testing.T) {
	// ARRANGE: el bus ya tiene el evento; el reenvío posterior se deduplica
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)
	entry := outboxEntry(0)

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("MarkDelivered", mock.Anything, entry.ID).Return(errors.New("db hiccup")).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT: no entra en pánico ni marca la entrada como fallida
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_ClaimErrorStopsQuietly(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return(nil, errors.New("db locked")).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_UnserializablePayloadGoesDead(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := new(mocks.MockPublisher)

	evt := sharedEvents.New("enrollment.requested", "enrollment", uuid.New(),
		make(chan int), sharedEvents.Causality{}) // json.Marshal no puede con un canal
	entry := sharedDomain.OutboxEntry{ID: evt.EventID, Event: evt, Status: sharedDomain.OutboxPending}

	repo.On("ClaimBatch", mock.Anything, 10, time.Minute).Return([]sharedDomain.OutboxEntry{entry}, nil).Once()
	repo.On("MarkDead", mock.Anything, entry.ID).Return(nil).Once()

	worker := newTestWorker(repo, publisher, 8)

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	repo.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
