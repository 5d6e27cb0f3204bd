package domain

import (
	"reflect"

	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
	"github.com/google/uuid"
)

const AggregateType = "enrollment"

// Las constantes de los tipos de evento se definen aquí, como valores string.
const (
	EnrollmentRequested = "enrollment.requested"
	EnrollmentConfirmed = "enrollment.confirmed"
	EnrollmentCancelled = "enrollment.cancelled"
	EnrollmentExpired   = "enrollment.expired"
)

const EnrollmentTopic = "enrollment-events"

// ---------- Payloads ----------

type RequestedPayload struct {
	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
}

type ConfirmedPayload struct{}

type CancelledPayload struct {
	Reason string `json:"reason"`
}

type ExpiredPayload struct {
	Reason string `json:"reason"`
}

func NewEventRegistry() sharedEvents.Registry {
	return sharedEvents.Registry{
		EnrollmentRequested: {
			PayloadType: reflect.TypeOf(RequestedPayload{}),
			Topic:       EnrollmentTopic,
		},
		EnrollmentConfirmed: {
			PayloadType: reflect.TypeOf(ConfirmedPayload{}),
			Topic:       EnrollmentTopic,
		},
		EnrollmentCancelled: {
			PayloadType: reflect.TypeOf(CancelledPayload{}),
			Topic:       EnrollmentTopic,
		},
		EnrollmentExpired: {
			PayloadType: reflect.TypeOf(ExpiredPayload{}),
			Topic:       EnrollmentTopic,
		},
	}
}
