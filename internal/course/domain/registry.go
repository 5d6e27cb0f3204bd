package domain

import (
	"reflect"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

const AggregateType = "course"

const (
	CourseCreated       = "course.created"
	SeatReserved        = "course.seat_reserved"
	SeatReleased        = "course.seat_released"
	ReservationRejected = "course.reservation_rejected"
	CourseClosed        = "course.closed"
)

const CourseTopic = "course-events"

// ---------- Payloads ----------

type CreatedPayload struct {
	Title    string `json:"title"`
	Capacity int    `json:"capacity"`
}

type SeatReservedPayload struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
}

type SeatReleasedPayload struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
}

type ReservationRejectedPayload struct {
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	Reason       string    `json:"reason"`
}

type ClosedPayload struct{}

func NewEventRegistry() sharedEvents.Registry {
	return sharedEvents.Registry{
		CourseCreated: {
			PayloadType: reflect.TypeOf(CreatedPayload{}),
			Topic:       CourseTopic,
		},
		SeatReserved: {
			PayloadType: reflect.TypeOf(SeatReservedPayload{}),
			Topic:       CourseTopic,
		},
		SeatReleased: {
			PayloadType: reflect.TypeOf(SeatReleasedPayload{}),
			Topic:       CourseTopic,
		},
		ReservationRejected: {
			PayloadType: reflect.TypeOf(ReservationRejectedPayload{}),
			Topic:       CourseTopic,
		},
		CourseClosed: {
			PayloadType: reflect.TypeOf(ClosedPayload{}),
			Topic:       CourseTopic,
		},
	}
}
