package domain

import (
	"errors"
	"fmt"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------

// Una transición inválida es un error de programación (el flujo llamó al
// comando equivocado), no una condición operacional: falla en alto y sin
// reintentos.
var ErrInvalidTransition = errors.New("invalid enrollment transition")

// ---------- Estado ----------

type Status string

const (
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Enrollment es la matrícula de un estudiante en un curso. Agregado
// event-sourced: su estado es la suma de sus eventos.
type Enrollment struct {
	sharedDomain.Root

	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"` // motivo de cancelación/expiración
}

func newEnrollment(id uuid.UUID) *Enrollment {
	return &Enrollment{Root: sharedDomain.NewRoot(id, AggregateType)}
}

// Request crea una matrícula nueva emitiendo su primer evento.
func Request(id, studentID, courseID uuid.UUID, c sharedEvents.Causality) (*Enrollment, error) {
	e := newEnrollment(id)
	evt := sharedEvents.New(EnrollmentRequested, AggregateType, id, RequestedPayload{
		StudentID: studentID,
		CourseID:  courseID,
	}, c)
	if err := sharedDomain.Record(e, evt); err != nil {
		return nil, err
	}
	return e, nil
}

// FromHistory reconstruye una matrícula desde su histórico de eventos.
func FromHistory(id uuid.UUID, history []sharedEvents.DomainEvent) (*Enrollment, error) {
	e := newEnrollment(id)
	if err := sharedDomain.Replay(e, history); err != nil {
		return nil, err
	}
	return e, nil
}

// ---------- Operaciones de negocio ----------

func (e *Enrollment) Confirm(c sharedEvents.Causality) error {
	if e.Status != StatusRequested {
		return fmt.Errorf("%w: confirm from %q", ErrInvalidTransition, e.Status)
	}
	return sharedDomain.Record(e, sharedEvents.New(EnrollmentConfirmed, AggregateType, e.ID(), ConfirmedPayload{}, c))
}

func (e *Enrollment) Cancel(reason string, c sharedEvents.Causality) error {
	if e.Status != StatusRequested && e.Status != StatusConfirmed {
		return fmt.Errorf("%w: cancel from %q", ErrInvalidTransition, e.Status)
	}
	return sharedDomain.Record(e, sharedEvents.New(EnrollmentCancelled, AggregateType, e.ID(), CancelledPayload{Reason: reason}, c))
}

func (e *Enrollment) Expire(c sharedEvents.Causality) error {
	if e.Status != StatusRequested {
		return fmt.Errorf("%w: expire from %q", ErrInvalidTransition, e.Status)
	}
	return sharedDomain.Record(e, sharedEvents.New(EnrollmentExpired, AggregateType, e.ID(), ExpiredPayload{Reason: "confirmation window elapsed"}, c))
}

// ---------- Mutación de estado ----------

// mutations es la tabla de despacho event_name -> mutación. El mismo camino
// sirve para eventos vivos y para el replay.
var mutations = map[string]func(*Enrollment, sharedEvents.DomainEvent) error{
	EnrollmentRequested: func(e *Enrollment, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[RequestedPayload](evt)
		if err != nil {
			return err
		}
		e.StudentID = p.StudentID
		e.CourseID = p.CourseID
		e.Status = StatusRequested
		return nil
	},
	EnrollmentConfirmed: func(e *Enrollment, evt sharedEvents.DomainEvent) error {
		e.Status = StatusConfirmed
		return nil
	},
	EnrollmentCancelled: func(e *Enrollment, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[CancelledPayload](evt)
		if err != nil {
			return err
		}
		e.Status = StatusCancelled
		e.Reason = p.Reason
		return nil
	},
	EnrollmentExpired: func(e *Enrollment, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[ExpiredPayload](evt)
		if err != nil {
			return err
		}
		e.Status = StatusExpired
		e.Reason = p.Reason
		return nil
	},
}

func (e *Enrollment) Mutate(evt sharedEvents.DomainEvent) error {
	fn, ok := mutations[evt.EventName]
	if !ok {
		return sharedEvents.ErrUnknownEventType
	}
	return fn(e, evt)
}

// Verificación estática
var _ sharedDomain.Aggregate = (*Enrollment)(nil)
