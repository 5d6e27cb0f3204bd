package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	courseDomain "github.com/davicafu/eduflow/internal/course/domain"
	enrollDomain "github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	sharedSaga "github.com/davicafu/eduflow/internal/shared/infra/saga"
)

const EnrollmentSagaName = "enrollment-saga"

// CourseCommands son los comandos del contexto de cursos que necesita la
// saga. Interfaz pequeña para poder inyectar un fake en tests.
type CourseCommands interface {
	ReserveSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error
	ReleaseSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error
}

// EnrollmentCommands son los comandos de matrícula que usa la saga.
type EnrollmentCommands interface {
	CancelEnrollment(ctx context.Context, id uuid.UUID, reason string, c sharedEvents.Causality) (*enrollDomain.Enrollment, error)
	ExpireEnrollment(ctx context.Context, id uuid.UUID, c sharedEvents.Causality) (*enrollDomain.Enrollment, error)
	GetEnrollment(ctx context.Context, id uuid.UUID) (*enrollDomain.Enrollment, error)
}

// enrollmentSagaData son los datos locales de cada instancia.
type enrollmentSagaData struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	StudentID    uuid.UUID `json:"student_id"`
	CourseID     uuid.UUID `json:"course_id"`
}

// NewEnrollmentSaga declara el proceso de matrícula:
//
//  1. reserve-seat: al recibir enrollment.requested, reservar plaza.
//  2. await-reservation: esperar course.seat_reserved (seguir) o
//     course.reservation_rejected (cancelar la matrícula y terminar). Si no
//     llega ningún resultado dentro del plazo, cancelar la matrícula y
//     liberar la plaza por si la reserva sí llegó a registrarse.
//  3. confirmation-window: esperar enrollment.confirmed dentro del plazo;
//     si vence el temporizador primero, expirar la matrícula y liberar la
//     plaza (compensación).
//
// Cada paso es idempotente: repetir un evento o un timer sobre una saga ya
// avanzada no produce un segundo efecto.
func NewEnrollmentSaga(enrollments EnrollmentCommands, courses CourseCommands, window time.Duration) sharedSaga.Definition {
	return sharedSaga.Definition{
		Name:    EnrollmentSagaName,
		Trigger: enrollDomain.EnrollmentRequested,
		Init: func(evt sharedEvents.DomainEvent) (json.RawMessage, error) {
			p, err := sharedEvents.PayloadAs[enrollDomain.RequestedPayload](evt)
			if err != nil {
				return nil, err
			}
			return json.Marshal(enrollmentSagaData{
				EnrollmentID: evt.AggregateID,
				StudentID:    p.StudentID,
				CourseID:     p.CourseID,
			})
		},
		Steps: []sharedSaga.Step{
			{
				Name: "reserve-seat",
				Run: func(ctx context.Context, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) (sharedSaga.StepResult, error) {
					data, err := sagaData(st)
					if err != nil {
						return sharedSaga.StepFail, err
					}
					c := causalityFrom(st, evt)
					if err := courses.ReserveSeat(ctx, data.CourseID, data.EnrollmentID, c); err != nil {
						return sharedSaga.StepAdvance, err // reintento con backoff
					}
					return sharedSaga.StepAdvance, nil
				},
			},
			{
				Name:     "await-reservation",
				After:    window,
				OnEvents: []string{courseDomain.SeatReserved, courseDomain.ReservationRejected},
				Run: func(ctx context.Context, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) (sharedSaga.StepResult, error) {
					data, err := sagaData(st)
					if err != nil {
						return sharedSaga.StepFail, err
					}

					if evt == nil {
						// venció el plazo sin resultado de la reserva, o es el
						// reintento de un fallo previo: resolver mirando el
						// estado real de la matrícula
						e, err := enrollments.GetEnrollment(ctx, data.EnrollmentID)
						if err != nil {
							return sharedSaga.StepAdvance, err
						}
						if e.Status != enrollDomain.StatusRequested {
							return sharedSaga.StepComplete, nil
						}
						c := causalityFrom(st, nil)
						if _, err := enrollments.CancelEnrollment(ctx, data.EnrollmentID, "reservation timed out", c); err != nil {
							if !errors.Is(err, enrollDomain.ErrInvalidTransition) {
								return sharedSaga.StepAdvance, err
							}
						}
						// por si la reserva llegó a registrarse y el evento se
						// perdió; liberar sin reserva es un no-op
						if err := courses.ReleaseSeat(ctx, data.CourseID, data.EnrollmentID, c); err != nil {
							return sharedSaga.StepAdvance, err
						}
						return sharedSaga.StepComplete, nil
					}

					if evt.EventName == courseDomain.ReservationRejected {
						p, err := sharedEvents.PayloadAs[courseDomain.ReservationRejectedPayload](*evt)
						if err != nil {
							return sharedSaga.StepFail, err
						}
						if p.EnrollmentID != data.EnrollmentID {
							// rechazo de otra matrícula del mismo curso
							return sharedSaga.StepIgnore, nil
						}
						c := causalityFrom(st, evt)
						if _, err := enrollments.CancelEnrollment(ctx, data.EnrollmentID, p.Reason, c); err != nil {
							if !errors.Is(err, enrollDomain.ErrInvalidTransition) {
								return sharedSaga.StepAdvance, err
							}
						}
						// proceso cerrado con resultado negativo de negocio
						return sharedSaga.StepComplete, nil
					}

					p, err := sharedEvents.PayloadAs[courseDomain.SeatReservedPayload](*evt)
					if err != nil {
						return sharedSaga.StepFail, err
					}
					if p.EnrollmentID != data.EnrollmentID {
						return sharedSaga.StepIgnore, nil
					}
					return sharedSaga.StepAdvance, nil
				},
			},
			{
				Name:     "confirmation-window",
				After:    window,
				OnEvents: []string{enrollDomain.EnrollmentConfirmed},
				Run: func(ctx context.Context, st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) (sharedSaga.StepResult, error) {
					data, err := sagaData(st)
					if err != nil {
						return sharedSaga.StepFail, err
					}

					if evt != nil {
						// el estudiante confirmó dentro del plazo
						return sharedSaga.StepComplete, nil
					}

					// venció el plazo: comprobar el estado real antes de actuar
					// (el timer puede re-dispararse tras un crash)
					e, err := enrollments.GetEnrollment(ctx, data.EnrollmentID)
					if err != nil {
						return sharedSaga.StepAdvance, err
					}
					if e.Status != enrollDomain.StatusRequested {
						return sharedSaga.StepComplete, nil
					}

					c := causalityFrom(st, nil)
					if _, err := enrollments.ExpireEnrollment(ctx, data.EnrollmentID, c); err != nil {
						if !errors.Is(err, enrollDomain.ErrInvalidTransition) {
							return sharedSaga.StepAdvance, err
						}
					}
					if err := courses.ReleaseSeat(ctx, data.CourseID, data.EnrollmentID, c); err != nil {
						return sharedSaga.StepAdvance, err
					}
					return sharedSaga.StepComplete, nil
				},
			},
		},
	}
}

func sagaData(st *sharedDomain.SagaState) (enrollmentSagaData, error) {
	var data enrollmentSagaData
	err := json.Unmarshal(st.Data, &data)
	return data, err
}

func causalityFrom(st *sharedDomain.SagaState, evt *sharedEvents.DomainEvent) sharedEvents.Causality {
	c := sharedEvents.Causality{CorrelationID: st.CorrelationID}
	if evt != nil {
		c.CausationID = evt.EventID
	}
	return c
}
