package events

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// DomainEvent es un hecho inmutable sobre un agregado. Una vez creado nunca
// se modifica ni se borra: el estado del agregado se reconstruye re-aplicando
// la secuencia completa de eventos.
type DomainEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	EventName     string    `json:"event_name"` // etiqueta de negocio en pasado, ej. "enrollment.confirmed"
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	Version       int       `json:"version"` // lo asigna el event store en el append
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID uuid.UUID `json:"correlation_id"` // uuid.Nil si no aplica
	CausationID   uuid.UUID `json:"causation_id"`   // uuid.Nil si no aplica
	Payload       any       `json:"payload"`
}

// Causality agrupa los identificadores de la cadena de peticiones.
type Causality struct {
	CorrelationID uuid.UUID
	CausationID   uuid.UUID
}

// New crea un DomainEvent con identidad y timestamp nuevos. Propaga la
// correlación recibida; si viene vacía, el evento inicia su propia cadena.
func New(name, aggregateType string, aggregateID uuid.UUID, payload any, c Causality) DomainEvent {
	evt := DomainEvent{
		EventID:       uuid.New(),
		EventName:     name,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: c.CorrelationID,
		CausationID:   c.CausationID,
		Payload:       payload,
	}
	if evt.CorrelationID == uuid.Nil {
		evt.CorrelationID = evt.EventID
	}
	return evt
}

// Metadata describe un tipo de evento registrado: el tipo Go de su payload
// (para decodificar al cargar del store) y el topic donde se publica.
type Metadata struct {
	PayloadType reflect.Type
	Topic       string
}

// Registry mapea event_name -> Metadata. Cada contexto aporta el suyo con
// NewEventRegistry() y en el arranque se fusionan todos.
type Registry map[string]Metadata

// Merge combina varios registros en uno. Los nombres de evento llevan el
// prefijo del contexto, así que no hay colisiones.
func Merge(registries ...Registry) Registry {
	merged := make(Registry)
	for _, r := range registries {
		for name, meta := range r {
			merged[name] = meta
		}
	}
	return merged
}

// DecodePayload reconstruye el payload tipado de un evento a partir de su
// JSON persistido, usando el tipo registrado para ese event_name.
func (r Registry) DecodePayload(eventName string, raw []byte) (any, error) {
	meta, ok := r[eventName]
	if !ok {
		return nil, ErrUnknownEventType
	}
	payload := reflect.New(meta.PayloadType).Interface()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ---------------- Forma de cable hacia el bus externo ----------------

// Envelope es la forma exacta con la que un evento viaja por el bus.
type Envelope struct {
	Source     string         `json:"source"`
	DetailType string         `json:"detailType"`
	Detail     EnvelopeDetail `json:"detail"`
}

type EnvelopeDetail struct {
	EventID       uuid.UUID       `json:"eventId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	AggregateID   string          `json:"aggregateId"`
	CorrelationID *uuid.UUID      `json:"correlationId"`
	CausationID   *uuid.UUID      `json:"causationId"`
	Payload       json.RawMessage `json:"payload"`
}

// ToEnvelope serializa un DomainEvent a su forma de cable.
func ToEnvelope(source string, evt DomainEvent) (Envelope, error) {
	payloadBytes, err := json.Marshal(evt.Payload)
	if err != nil {
		return Envelope{}, err
	}

	var correlation, causation *uuid.UUID
	if evt.CorrelationID != uuid.Nil {
		c := evt.CorrelationID
		correlation = &c
	}
	if evt.CausationID != uuid.Nil {
		c := evt.CausationID
		causation = &c
	}

	return Envelope{
		Source:     source,
		DetailType: evt.EventName,
		Detail: EnvelopeDetail{
			EventID:       evt.EventID,
			OccurredAt:    evt.OccurredAt,
			AggregateID:   evt.AggregateID.String(),
			CorrelationID: correlation,
			CausationID:   causation,
			Payload:       payloadBytes,
		},
	}, nil
}

// FromEnvelope reconstruye un DomainEvent consumido del bus. El payload se
// decodifica con el registro; un detailType desconocido devuelve
// ErrUnknownEventType y el consumidor decide qué hacer con él.
func FromEnvelope(env Envelope, registry Registry) (DomainEvent, error) {
	payload, err := registry.DecodePayload(env.DetailType, env.Detail.Payload)
	if err != nil {
		return DomainEvent{}, err
	}

	aggregateID, err := uuid.Parse(env.Detail.AggregateID)
	if err != nil {
		return DomainEvent{}, err
	}

	evt := DomainEvent{
		EventID:     env.Detail.EventID,
		EventName:   env.DetailType,
		AggregateID: aggregateID,
		OccurredAt:  env.Detail.OccurredAt,
		Payload:     payload,
	}
	if env.Detail.CorrelationID != nil {
		evt.CorrelationID = *env.Detail.CorrelationID
	}
	if env.Detail.CausationID != nil {
		evt.CausationID = *env.Detail.CausationID
	}
	return evt, nil
}
