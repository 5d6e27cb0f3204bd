package domain

import (
	"errors"
	"fmt"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------

var (
	ErrInvalidCourse     = errors.New("invalid course")
	ErrCourseClosed      = errors.New("course is closed")
	ErrNoSuchReservation = errors.New("no reservation for that enrollment")
)

// Course es un curso con un cupo de plazas. Agregado event-sourced: el
// contador de plazas reservadas se reconstruye de los eventos.
type Course struct {
	sharedDomain.Root

	Title    string `json:"title"`
	Capacity int    `json:"capacity"`
	Closed   bool   `json:"closed"`

	// matrículas con plaza reservada actualmente
	reservations map[uuid.UUID]bool
}

func newCourse(id uuid.UUID) *Course {
	return &Course{
		Root:         sharedDomain.NewRoot(id, AggregateType),
		reservations: make(map[uuid.UUID]bool),
	}
}

// Create crea un curso nuevo emitiendo su primer evento.
func Create(id uuid.UUID, title string, capacity int, c sharedEvents.Causality) (*Course, error) {
	if title == "" || capacity <= 0 {
		return nil, ErrInvalidCourse
	}
	course := newCourse(id)
	evt := sharedEvents.New(CourseCreated, AggregateType, id, CreatedPayload{Title: title, Capacity: capacity}, c)
	if err := sharedDomain.Record(course, evt); err != nil {
		return nil, err
	}
	return course, nil
}

// FromHistory reconstruye un curso desde su histórico de eventos.
func FromHistory(id uuid.UUID, history []sharedEvents.DomainEvent) (*Course, error) {
	course := newCourse(id)
	if err := sharedDomain.Replay(course, history); err != nil {
		return nil, err
	}
	return course, nil
}

func (co *Course) Reserved() int { return len(co.reservations) }

func (co *Course) HasReservation(enrollmentID uuid.UUID) bool {
	return co.reservations[enrollmentID]
}

// ---------- Operaciones de negocio ----------

// ReserveSeat intenta reservar plaza para una matrícula. Sin cupo o con el
// curso cerrado no falla: emite un rechazo, que es un hecho de negocio que
// la saga necesita ver. Repetir la reserva de una matrícula que ya tiene
// plaza es un no-op (idempotencia del comando).
func (co *Course) ReserveSeat(enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	if co.reservations[enrollmentID] {
		return nil
	}
	if co.Closed {
		return sharedDomain.Record(co, sharedEvents.New(ReservationRejected, AggregateType, co.ID(),
			ReservationRejectedPayload{EnrollmentID: enrollmentID, Reason: "course closed"}, c))
	}
	if len(co.reservations) >= co.Capacity {
		return sharedDomain.Record(co, sharedEvents.New(ReservationRejected, AggregateType, co.ID(),
			ReservationRejectedPayload{EnrollmentID: enrollmentID, Reason: "course full"}, c))
	}
	return sharedDomain.Record(co, sharedEvents.New(SeatReserved, AggregateType, co.ID(),
		SeatReservedPayload{EnrollmentID: enrollmentID}, c))
}

// ReleaseSeat libera la plaza de una matrícula. Liberar dos veces es un
// no-op, no un error: la compensación de la saga puede llegar duplicada.
func (co *Course) ReleaseSeat(enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	if !co.reservations[enrollmentID] {
		return nil
	}
	return sharedDomain.Record(co, sharedEvents.New(SeatReleased, AggregateType, co.ID(),
		SeatReleasedPayload{EnrollmentID: enrollmentID}, c))
}

func (co *Course) Close(c sharedEvents.Causality) error {
	if co.Closed {
		return fmt.Errorf("%w: already closed", ErrCourseClosed)
	}
	return sharedDomain.Record(co, sharedEvents.New(CourseClosed, AggregateType, co.ID(), ClosedPayload{}, c))
}

// ---------- Mutación de estado ----------

var mutations = map[string]func(*Course, sharedEvents.DomainEvent) error{
	CourseCreated: func(co *Course, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[CreatedPayload](evt)
		if err != nil {
			return err
		}
		co.Title = p.Title
		co.Capacity = p.Capacity
		return nil
	},
	SeatReserved: func(co *Course, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[SeatReservedPayload](evt)
		if err != nil {
			return err
		}
		co.reservations[p.EnrollmentID] = true
		return nil
	},
	SeatReleased: func(co *Course, evt sharedEvents.DomainEvent) error {
		p, err := sharedEvents.PayloadAs[SeatReleasedPayload](evt)
		if err != nil {
			return err
		}
		delete(co.reservations, p.EnrollmentID)
		return nil
	},
	ReservationRejected: func(co *Course, evt sharedEvents.DomainEvent) error {
		// el rechazo no cambia el estado del curso, solo queda en el log
		return nil
	},
	CourseClosed: func(co *Course, evt sharedEvents.DomainEvent) error {
		co.Closed = true
		return nil
	},
}

func (co *Course) Mutate(evt sharedEvents.DomainEvent) error {
	fn, ok := mutations[evt.EventName]
	if !ok {
		return sharedEvents.ErrUnknownEventType
	}
	return fn(co, evt)
}

// Verificación estática
var _ sharedDomain.Aggregate = (*Course)(nil)
