package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSagaNotFound      = errors.New("saga not found")
	ErrSagaAlreadyExists = errors.New("saga already exists for that correlation")
)

// SagaStatus es el estado de ciclo de vida de una instancia de saga.
type SagaStatus string

const (
	SagaActive    SagaStatus = "active"
	SagaCompleted SagaStatus = "completed"
	// SagaFailed: paso agotado o abortado. Marca visible que requiere acción
	// manual o compensación de operador; nunca se queda colgada sin rastro.
	SagaFailed SagaStatus = "failed"
)

// SagaState es el estado persistido de una instancia de proceso de negocio.
// Los temporizadores viven aquí (NextWakeAt), no en memoria: tras un
// reinicio el coordinador los reconstruye desde la base de datos.
type SagaState struct {
	SagaID        uuid.UUID
	SagaType      string
	CorrelationID uuid.UUID // enlaza con la cadena de eventos que la disparó
	Step          int
	Status        SagaStatus
	Data          json.RawMessage // datos locales del paso, específicos de cada saga
	Attempts      int
	TriggerAt     time.Time  // occurredAt del evento disparador; los retrasos se miden desde aquí
	NextWakeAt    *time.Time // nil si no hay temporizador armado
	UpdatedAt     time.Time
}

// SagaStore persiste instancias de saga, indexadas por (saga_type,
// correlation_id).
type SagaStore interface {
	// Insert crea la instancia; ErrSagaAlreadyExists si la correlación ya
	// tiene una (el disparador llegó duplicado).
	Insert(ctx context.Context, st *SagaState) error

	Update(ctx context.Context, st *SagaState) error

	// FindByCorrelation devuelve la instancia o ErrSagaNotFound.
	FindByCorrelation(ctx context.Context, sagaType string, correlationID uuid.UUID) (*SagaState, error)

	// Due devuelve sagas activas con temporizador vencido, para re-disparar
	// pasos retrasados (también tras un reinicio del proceso).
	Due(ctx context.Context, now time.Time, limit int) ([]*SagaState, error)
}

// ProcessedStore registra eventIds ya procesados por un consumidor. Es la
// pieza que convierte la entrega at-least-once en consumo idempotente.
type ProcessedStore interface {
	// SetIfAbsent marca el par (consumer, eventID) como procesado. Devuelve
	// false si ya lo estaba: el evento es un duplicado y se ignora.
	SetIfAbsent(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)

	// Release desmarca el par. Se llama cuando el efecto protegido por la
	// marca falló tras SetIfAbsent: sin liberar la marca, la reentrega del
	// evento se descartaría y el trabajo se perdería para siempre.
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}
