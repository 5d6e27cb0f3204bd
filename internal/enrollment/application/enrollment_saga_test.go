package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	courseDomain "github.com/davicafu/eduflow/internal/course/domain"
	enrollDomain "github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/davicafu/eduflow/internal/shared/infra/dedup"
	infraSaga "github.com/davicafu/eduflow/internal/shared/infra/saga"
	"github.com/davicafu/eduflow/tests/mocks"
)

// fakeCourses registra los comandos de curso que la saga dispara.
type fakeCourses struct {
	reserved []uuid.UUID
	released []uuid.UUID
	err      error
}

func (f *fakeCourses) ReserveSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	if f.err != nil {
		return f.err
	}
	f.reserved = append(f.reserved, enrollmentID)
	return nil
}

func (f *fakeCourses) ReleaseSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	f.released = append(f.released, enrollmentID)
	return nil
}

// fakeEnrollments simula el servicio de matrículas visto desde la saga.
type fakeEnrollments struct {
	status    enrollDomain.Status
	cancelled []string
	expired   int
}

func (f *fakeEnrollments) CancelEnrollment(ctx context.Context, id uuid.UUID, reason string, c sharedEvents.Causality) (*enrollDomain.Enrollment, error) {
	f.cancelled = append(f.cancelled, reason)
	f.status = enrollDomain.StatusCancelled
	return nil, nil
}

func (f *fakeEnrollments) ExpireEnrollment(ctx context.Context, id uuid.UUID, c sharedEvents.Causality) (*enrollDomain.Enrollment, error) {
	f.expired++
	f.status = enrollDomain.StatusExpired
	return nil, nil
}

func (f *fakeEnrollments) GetEnrollment(ctx context.Context, id uuid.UUID) (*enrollDomain.Enrollment, error) {
	return &enrollDomain.Enrollment{Status: f.status}, nil
}

type sagaFixture struct {
	coordinator *infraSaga.Coordinator
	store       *mocks.InMemorySagaStore
	enrollments *fakeEnrollments
	courses     *fakeCourses
	trigger     sharedEvents.DomainEvent
	enrollID    uuid.UUID
}

func newSagaFixture(t *testing.T, window time.Duration) *sagaFixture {
	t.Helper()

	store := mocks.NewInMemorySagaStore()
	enrollments := &fakeEnrollments{status: enrollDomain.StatusRequested}
	courses := &fakeCourses{}

	coordinator := infraSaga.NewCoordinator(store, dedup.NewInMemoryProcessedStore(time.Hour),
		sharedEvents.Registry{}, time.Hour, 3, zap.NewNop())
	coordinator.Register(NewEnrollmentSaga(enrollments, courses, window))

	enrollID := uuid.New()
	trigger := sharedEvents.New(enrollDomain.EnrollmentRequested, enrollDomain.AggregateType, enrollID,
		enrollDomain.RequestedPayload{StudentID: uuid.New(), CourseID: uuid.New()}, sharedEvents.Causality{})

	return &sagaFixture{
		coordinator: coordinator,
		store:       store,
		enrollments: enrollments,
		courses:     courses,
		trigger:     trigger,
		enrollID:    enrollID,
	}
}

func (f *sagaFixture) state(t *testing.T) *sharedDomain.SagaState {
	t.Helper()
	st, err := f.store.FindByCorrelation(context.Background(), EnrollmentSagaName, f.trigger.CorrelationID)
	require.NoError(t, err)
	return st
}

func (f *sagaFixture) courseEvent(name string, payload any) sharedEvents.DomainEvent {
	return sharedEvents.New(name, courseDomain.AggregateType, uuid.New(), payload,
		sharedEvents.Causality{CorrelationID: f.trigger.CorrelationID})
}

func TestEnrollmentSaga_HappyPath(t *testing.T) {
	f := newSagaFixture(t, 24*time.Hour)
	ctx := context.Background()

	// la solicitud dispara la reserva de plaza
	f.coordinator.HandleEvent(ctx, f.trigger)
	require.Len(t, f.courses.reserved, 1)
	assert.Equal(t, f.enrollID, f.courses.reserved[0])
	assert.Equal(t, sharedDomain.SagaActive, f.state(t).Status)

	// plaza confirmada por el curso: queda abierta la ventana de confirmación
	f.coordinator.HandleEvent(ctx, f.courseEvent(courseDomain.SeatReserved,
		courseDomain.SeatReservedPayload{EnrollmentID: f.enrollID}))
	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaActive, st.Status)
	require.NotNil(t, st.NextWakeAt)
	assert.WithinDuration(t, f.trigger.OccurredAt.Add(24*time.Hour), *st.NextWakeAt, time.Second)

	// el estudiante confirma dentro del plazo
	confirmed := sharedEvents.New(enrollDomain.EnrollmentConfirmed, enrollDomain.AggregateType, f.enrollID,
		enrollDomain.ConfirmedPayload{}, sharedEvents.Causality{CorrelationID: f.trigger.CorrelationID})
	f.coordinator.HandleEvent(ctx, confirmed)

	assert.Equal(t, sharedDomain.SagaCompleted, f.state(t).Status)
	assert.Empty(t, f.enrollments.cancelled)
	assert.Zero(t, f.enrollments.expired)
	assert.Empty(t, f.courses.released)
}

func TestEnrollmentSaga_ReservationRejectedCancelsEnrollment(t *testing.T) {
	f := newSagaFixture(t, 24*time.Hour)
	ctx := context.Background()

	f.coordinator.HandleEvent(ctx, f.trigger)
	f.coordinator.HandleEvent(ctx, f.courseEvent(courseDomain.ReservationRejected,
		courseDomain.ReservationRejectedPayload{EnrollmentID: f.enrollID, Reason: "course full"}))

	// proceso cerrado con la matrícula cancelada; nada que compensar
	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaCompleted, st.Status)
	require.Len(t, f.enrollments.cancelled, 1)
	assert.Equal(t, "course full", f.enrollments.cancelled[0])
	assert.Empty(t, f.courses.released)
}

func TestEnrollmentSaga_RejectionForAnotherEnrollmentIsIgnored(t *testing.T) {
	f := newSagaFixture(t, 24*time.Hour)
	ctx := context.Background()

	f.coordinator.HandleEvent(ctx, f.trigger)
	f.coordinator.HandleEvent(ctx, f.courseEvent(courseDomain.ReservationRejected,
		courseDomain.ReservationRejectedPayload{EnrollmentID: uuid.New(), Reason: "course full"}))

	// la saga sigue esperando su propio resultado
	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaActive, st.Status)
	assert.Equal(t, 1, st.Step)
	assert.Empty(t, f.enrollments.cancelled)
}

func TestEnrollmentSaga_WindowTimeoutExpiresAndReleasesSeat(t *testing.T) {
	f := newSagaFixture(t, time.Millisecond)
	ctx := context.Background()

	f.coordinator.HandleEvent(ctx, f.trigger)
	f.coordinator.HandleEvent(ctx, f.courseEvent(courseDomain.SeatReserved,
		courseDomain.SeatReservedPayload{EnrollmentID: f.enrollID}))

	time.Sleep(5 * time.Millisecond)
	f.coordinator.WakeDue(ctx)

	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaCompleted, st.Status)
	assert.Equal(t, 1, f.enrollments.expired)
	require.Len(t, f.courses.released, 1)
	assert.Equal(t, f.enrollID, f.courses.released[0])

	// un re-disparo del timer tras crash no expira dos veces
	f.coordinator.WakeDue(ctx)
	assert.Equal(t, 1, f.enrollments.expired)
}

func TestEnrollmentSaga_TimerAfterConfirmationIsNoOp(t *testing.T) {
	f := newSagaFixture(t, time.Millisecond)
	ctx := context.Background()

	f.coordinator.HandleEvent(ctx, f.trigger)
	f.coordinator.HandleEvent(ctx, f.courseEvent(courseDomain.SeatReserved,
		courseDomain.SeatReservedPayload{EnrollmentID: f.enrollID}))

	// el estudiante confirmó, pero el evento aún no llegó a la saga
	f.enrollments.status = enrollDomain.StatusConfirmed

	time.Sleep(5 * time.Millisecond)
	f.coordinator.WakeDue(ctx)

	// el timer comprueba el estado real y no expira nada
	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaCompleted, st.Status)
	assert.Zero(t, f.enrollments.expired)
	assert.Empty(t, f.courses.released)
}

func TestEnrollmentSaga_ReservationTimeoutCancelsEnrollment(t *testing.T) {
	f := newSagaFixture(t, time.Millisecond)
	ctx := context.Background()

	// la reserva se pidió pero el resultado del curso nunca llega
	f.coordinator.HandleEvent(ctx, f.trigger)

	time.Sleep(5 * time.Millisecond)
	f.coordinator.WakeDue(ctx)

	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaCompleted, st.Status)
	require.Len(t, f.enrollments.cancelled, 1)
	assert.Equal(t, "reservation timed out", f.enrollments.cancelled[0])
	// se libera por si la reserva sí se registró y su evento se perdió
	assert.Len(t, f.courses.released, 1)
}

func TestEnrollmentSaga_ReserveFailureRetriesWithBackoff(t *testing.T) {
	f := newSagaFixture(t, 24*time.Hour)
	f.courses.err = assert.AnError
	ctx := context.Background()

	f.coordinator.HandleEvent(ctx, f.trigger)

	// primer intento fallido: reintento programado, la saga sigue activa
	st := f.state(t)
	assert.Equal(t, sharedDomain.SagaActive, st.Status)
	assert.Equal(t, 0, st.Step)
	assert.Equal(t, 1, st.Attempts)
	require.NotNil(t, st.NextWakeAt)
	assert.True(t, st.NextWakeAt.After(time.Now().UTC()))
}
