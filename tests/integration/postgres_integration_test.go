package integration

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enrollDomain "github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/davicafu/eduflow/internal/shared/infra/db/postgres"

	// Driver de PostgreSQL
	_ "github.com/jackc/pgx/v5/stdlib"
)

// setupPostgresTestDB se conecta a Postgres, crea el esquema y limpia las
// tablas para aislar cada test.
func setupPostgresTestDB(t *testing.T) *sql.DB {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL no está configurada, saltando test de integración con Postgres")
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, postgres.InitPostgres(db))

	_, err = db.Exec(`TRUNCATE TABLE events, outbox, sagas`)
	require.NoError(t, err)

	return db
}

func TestPostgresIntegration_EventStoreRoundTrip(t *testing.T) {
	db := setupPostgresTestDB(t)
	defer db.Close()

	store := postgres.NewEventStorePostgres(db, enrollDomain.NewEventRegistry())
	ctx := context.Background()
	aggID := uuid.New()

	evt := sharedEvents.New(enrollDomain.EnrollmentRequested, enrollDomain.AggregateType, aggID,
		enrollDomain.RequestedPayload{StudentID: uuid.New(), CourseID: uuid.New()}, sharedEvents.Causality{})

	// --- 1. Append con versión esperada 0 ---
	version, err := store.Append(ctx, enrollDomain.AggregateType, aggID, 0, []sharedEvents.DomainEvent{evt})
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	// --- 2. Un segundo escritor con la misma versión esperada pierde ---
	stale := sharedEvents.New(enrollDomain.EnrollmentConfirmed, enrollDomain.AggregateType, aggID,
		enrollDomain.ConfirmedPayload{}, sharedEvents.Causality{CorrelationID: evt.CorrelationID})
	_, err = store.Append(ctx, enrollDomain.AggregateType, aggID, 0, []sharedEvents.DomainEvent{stale})
	assert.ErrorIs(t, err, sharedDomain.ErrConcurrencyConflict)

	// --- 3. El histórico reconstruye el payload tipado ---
	history, err := store.Load(ctx, enrollDomain.AggregateType, aggID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, evt.EventID, history[0].EventID)
	_, err = sharedEvents.PayloadAs[enrollDomain.RequestedPayload](history[0])
	require.NoError(t, err)

	// --- 4. El evento quedó también en el outbox, listo para publicar ---
	entries, err := store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, evt.EventID, entries[0].Event.EventID)

	require.NoError(t, store.MarkDelivered(ctx, entries[0].ID))
	entries, err = store.ClaimBatch(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostgresIntegration_SagaStoreRoundTrip(t *testing.T) {
	db := setupPostgresTestDB(t)
	defer db.Close()

	store := postgres.NewSagaStorePostgres(db)
	ctx := context.Background()

	wake := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	st := &sharedDomain.SagaState{
		SagaID:        uuid.New(),
		SagaType:      "enrollment-saga",
		CorrelationID: uuid.New(),
		Step:          1,
		Status:        sharedDomain.SagaActive,
		Data:          []byte(`{"enrollment_id":"00000000-0000-0000-0000-000000000001"}`),
		TriggerAt:     time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:     time.Now().UTC().Truncate(time.Millisecond),
		NextWakeAt:    &wake,
	}
	require.NoError(t, store.Insert(ctx, st))

	// --- la misma correlación no crea una segunda instancia ---
	dup := *st
	dup.SagaID = uuid.New()
	assert.ErrorIs(t, store.Insert(ctx, &dup), sharedDomain.ErrSagaAlreadyExists)

	// --- búsqueda por correlación y barrido de vencidas ---
	got, err := store.FindByCorrelation(ctx, st.SagaType, st.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, st.SagaID, got.SagaID)
	assert.Equal(t, 1, got.Step)
	assert.JSONEq(t, string(st.Data), string(got.Data))

	due, err := store.Due(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// --- completar la saga la saca del barrido ---
	got.Status = sharedDomain.SagaCompleted
	got.NextWakeAt = nil
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Update(ctx, got))

	due, err = store.Due(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
