package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	enrollDomain "github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

func setupTestStore(t *testing.T) *EventStoreSQLite {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// el pool abriría una BD en memoria distinta por conexión
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSQLite(db))
	return NewEventStoreSQLite(db, enrollDomain.NewEventRegistry())
}

func requestedEvent(aggregateID uuid.UUID) sharedEvents.DomainEvent {
	return sharedEvents.New(enrollDomain.EnrollmentRequested, enrollDomain.AggregateType, aggregateID,
		enrollDomain.RequestedPayload{StudentID: uuid.New(), CourseID: uuid.New()}, sharedEvents.Causality{})
}

func confirmedEvent(aggregateID uuid.UUID, c sharedEvents.Causality) sharedEvents.DomainEvent {
	return sharedEvents.New(enrollDomain.EnrollmentConfirmed, enrollDomain.AggregateType, aggregateID,
		enrollDomain.ConfirmedPayload{}, c)
}

func TestEventStoreSQLite_AppendAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	first := requestedEvent(aggregateID)
	newVersion, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{first})
	require.NoError(t, err)
	assert.Equal(t, 1, newVersion)

	second := confirmedEvent(aggregateID, sharedEvents.Causality{CorrelationID: first.CorrelationID, CausationID: first.EventID})
	newVersion, err = store.Append(ctx, enrollDomain.AggregateType, aggregateID, 1, []sharedEvents.DomainEvent{second})
	require.NoError(t, err)
	assert.Equal(t, 2, newVersion)

	history, err := store.Load(ctx, enrollDomain.AggregateType, aggregateID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// orden por versión y versiones contiguas desde 1
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
	assert.Equal(t, enrollDomain.EnrollmentRequested, history[0].EventName)
	assert.Equal(t, enrollDomain.EnrollmentConfirmed, history[1].EventName)
	assert.Equal(t, first.EventID, history[0].EventID)
	assert.Equal(t, first.CorrelationID, history[1].CorrelationID)
	assert.Equal(t, first.EventID, history[1].CausationID)

	// el payload vuelve tipado vía el registro
	p, err := sharedEvents.PayloadAs[enrollDomain.RequestedPayload](history[0])
	require.NoError(t, err)
	original := first.Payload.(enrollDomain.RequestedPayload)
	assert.Equal(t, original.StudentID, p.StudentID)
	assert.Equal(t, original.CourseID, p.CourseID)
}

func TestEventStoreSQLite_ConcurrencyConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{requestedEvent(aggregateID)})
	require.NoError(t, err)

	// dos escritores cargaron la versión 1; el primero gana
	winner := confirmedEvent(aggregateID, sharedEvents.Causality{})
	_, err = store.Append(ctx, enrollDomain.AggregateType, aggregateID, 1, []sharedEvents.DomainEvent{winner})
	require.NoError(t, err)

	loser := sharedEvents.New(enrollDomain.EnrollmentCancelled, enrollDomain.AggregateType, aggregateID,
		enrollDomain.CancelledPayload{Reason: "changed my mind"}, sharedEvents.Causality{})
	_, err = store.Append(ctx, enrollDomain.AggregateType, aggregateID, 1, []sharedEvents.DomainEvent{loser})
	assert.ErrorIs(t, err, sharedDomain.ErrConcurrencyConflict)

	// el conflicto no dejó nada escrito
	history, err := store.Load(ctx, enrollDomain.AggregateType, aggregateID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, winner.EventID, history[1].EventID)
}

func TestEventStoreSQLite_LoadAfter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	first := requestedEvent(aggregateID)
	second := confirmedEvent(aggregateID, sharedEvents.Causality{})
	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{first})
	require.NoError(t, err)
	_, err = store.Append(ctx, enrollDomain.AggregateType, aggregateID, 1, []sharedEvents.DomainEvent{second})
	require.NoError(t, err)

	tail, err := store.LoadAfter(ctx, enrollDomain.AggregateType, aggregateID, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, second.EventID, tail[0].EventID)

	empty, err := store.LoadAfter(ctx, enrollDomain.AggregateType, aggregateID, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventStoreSQLite_PartitionsAreIndependent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := store.Append(ctx, enrollDomain.AggregateType, a, 0, []sharedEvents.DomainEvent{requestedEvent(a)})
	require.NoError(t, err)

	// otra partición empieza en versión 0 aunque la primera ya tenga eventos
	_, err = store.Append(ctx, enrollDomain.AggregateType, b, 0, []sharedEvents.DomainEvent{requestedEvent(b)})
	require.NoError(t, err)

	historyA, err := store.Load(ctx, enrollDomain.AggregateType, a)
	require.NoError(t, err)
	require.Len(t, historyA, 1)
	assert.Equal(t, a, historyA[0].AggregateID)
}

func TestEventStoreSQLite_OutboxClaimAndLease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	evt := requestedEvent(aggregateID)
	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{evt})
	require.NoError(t, err)

	entries, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, evt.EventID, entries[0].ID)
	assert.Equal(t, sharedDomain.OutboxPending, entries[0].Status)
	assert.Equal(t, evt.EventName, entries[0].Event.EventName)

	// con el lease vigente nadie más se la lleva
	again, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEventStoreSQLite_OutboxLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	evt := requestedEvent(aggregateID)
	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{evt})
	require.NoError(t, err)

	entries, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// fallo de publicación: reintento programado en el pasado -> reclamable
	require.NoError(t, store.MarkFailed(ctx, evt.EventID, 1, time.Now().UTC().Add(-time.Second)))
	entries, err = store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sharedDomain.OutboxFailed, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempts)

	// entregada: sale de la rotación
	require.NoError(t, store.MarkDelivered(ctx, evt.EventID))
	entries, err = store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEventStoreSQLite_OutboxMarkDead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	evt := requestedEvent(aggregateID)
	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{evt})
	require.NoError(t, err)

	require.NoError(t, store.MarkDead(ctx, evt.EventID))

	entries, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEventStoreSQLite_OutboxPreservesAppendOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	aggregateID := uuid.New()

	first := requestedEvent(aggregateID)
	second := confirmedEvent(aggregateID, sharedEvents.Causality{})
	_, err := store.Append(ctx, enrollDomain.AggregateType, aggregateID, 0, []sharedEvents.DomainEvent{first, second})
	require.NoError(t, err)

	entries, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.EventID, entries[0].ID)
	assert.Equal(t, second.EventID, entries[1].ID)
}
