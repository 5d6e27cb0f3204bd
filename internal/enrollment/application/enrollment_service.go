package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

var ErrEnrollmentNotFound = errors.New("enrollment not found")

// EventDispatcher reparte eventos recién persistidos a los handlers locales.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evts []sharedEvents.DomainEvent)
}

// EnrollmentService define los casos de uso de matrícula. Cada comando carga
// el agregado desde el event store (replay), ejecuta la operación de negocio
// y persiste los eventos nuevos con chequeo de versión.
type EnrollmentService struct {
	store      sharedDomain.EventStore
	dispatcher EventDispatcher
	maxRetries int
	log        *zap.Logger
}

func NewEnrollmentService(store sharedDomain.EventStore, dispatcher EventDispatcher, maxRetries int, log *zap.Logger) *EnrollmentService {
	return &EnrollmentService{
		store:      store,
		dispatcher: dispatcher,
		maxRetries: maxRetries,
		log:        log,
	}
}

// RequestEnrollment crea una matrícula nueva (versión 0 -> 1).
func (s *EnrollmentService) RequestEnrollment(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, error) {
	e, err := domain.Request(uuid.New(), studentID, courseID, sharedEvents.Causality{})
	if err != nil {
		return nil, err
	}

	pending := e.PendingEvents()
	if _, err := s.store.Append(ctx, domain.AggregateType, e.ID(), 0, pending); err != nil {
		return nil, err
	}
	e.Commit()
	s.dispatcher.Dispatch(ctx, pending)

	s.log.Info("📚 Matrícula solicitada",
		zap.String("enrollment_id", e.ID().String()),
		zap.String("course_id", courseID.String()),
	)
	return e, nil
}

func (s *EnrollmentService) ConfirmEnrollment(ctx context.Context, id uuid.UUID, c sharedEvents.Causality) (*domain.Enrollment, error) {
	return s.execute(ctx, id, func(e *domain.Enrollment) error {
		return e.Confirm(c)
	})
}

func (s *EnrollmentService) CancelEnrollment(ctx context.Context, id uuid.UUID, reason string, c sharedEvents.Causality) (*domain.Enrollment, error) {
	return s.execute(ctx, id, func(e *domain.Enrollment) error {
		return e.Cancel(reason, c)
	})
}

func (s *EnrollmentService) ExpireEnrollment(ctx context.Context, id uuid.UUID, c sharedEvents.Causality) (*domain.Enrollment, error) {
	return s.execute(ctx, id, func(e *domain.Enrollment) error {
		return e.Expire(c)
	})
}

// GetEnrollment reconstruye la matrícula desde su histórico.
func (s *EnrollmentService) GetEnrollment(ctx context.Context, id uuid.UUID) (*domain.Enrollment, error) {
	history, err := s.store.Load(ctx, domain.AggregateType, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrEnrollmentNotFound
	}
	return domain.FromHistory(id, history)
}

// execute es el ciclo cargar -> mutar -> persistir. Un conflicto de
// concurrencia recarga el agregado y repite la operación de negocio desde
// cero, hasta maxRetries veces.
func (s *EnrollmentService) execute(ctx context.Context, id uuid.UUID, op func(e *domain.Enrollment) error) (*domain.Enrollment, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		history, err := s.store.Load(ctx, domain.AggregateType, id)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			return nil, ErrEnrollmentNotFound
		}

		e, err := domain.FromHistory(id, history)
		if err != nil {
			return nil, err
		}

		expected := e.Version()
		if err := op(e); err != nil {
			return nil, err
		}

		pending := e.PendingEvents()
		if len(pending) == 0 {
			// operación idempotente sin efecto nuevo
			return e, nil
		}

		_, err = s.store.Append(ctx, domain.AggregateType, id, expected, pending)
		if err == nil {
			e.Commit()
			s.dispatcher.Dispatch(ctx, pending)
			return e, nil
		}

		if errors.Is(err, sharedDomain.ErrConcurrencyConflict) {
			s.log.Debug("Conflicto de concurrencia, recargando matrícula",
				zap.String("enrollment_id", id.String()),
				zap.Int("attempt", attempt+1),
			)
			lastErr = err
			continue
		}

		// Fallo ambiguo (p.ej. timeout): antes de rendirse, comprobar si el
		// append llegó a aplicarse; reintentarlo a ciegas duplicaría eventos.
		if landed, lerr := s.appendLanded(ctx, id, expected, pending); lerr == nil && landed {
			e.Commit()
			s.dispatcher.Dispatch(ctx, pending)
			return e, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("enrollment %s: retries exhausted: %w", id, lastErr)
}

// appendLanded comprueba si los eventos pendientes ya figuran en el store a
// partir de la versión esperada.
func (s *EnrollmentService) appendLanded(ctx context.Context, id uuid.UUID, expected int, pending []sharedEvents.DomainEvent) (bool, error) {
	stored, err := s.store.LoadAfter(ctx, domain.AggregateType, id, expected)
	if err != nil {
		return false, err
	}
	if len(stored) < len(pending) {
		return false, nil
	}
	for i := range pending {
		if stored[i].EventID != pending[i].EventID {
			return false, nil
		}
	}
	return true, nil
}
