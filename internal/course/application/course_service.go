package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eduflow/internal/course/domain"
	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

var ErrCourseNotFound = errors.New("course not found")

// EventDispatcher reparte eventos recién persistidos a los handlers locales.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evts []sharedEvents.DomainEvent)
}

// CourseService define los casos de uso del catálogo de cursos.
type CourseService struct {
	store      sharedDomain.EventStore
	dispatcher EventDispatcher
	maxRetries int
	log        *zap.Logger
}

func NewCourseService(store sharedDomain.EventStore, dispatcher EventDispatcher, maxRetries int, log *zap.Logger) *CourseService {
	return &CourseService{
		store:      store,
		dispatcher: dispatcher,
		maxRetries: maxRetries,
		log:        log,
	}
}

func (s *CourseService) CreateCourse(ctx context.Context, title string, capacity int) (*domain.Course, error) {
	course, err := domain.Create(uuid.New(), title, capacity, sharedEvents.Causality{})
	if err != nil {
		return nil, err
	}

	pending := course.PendingEvents()
	if _, err := s.store.Append(ctx, domain.AggregateType, course.ID(), 0, pending); err != nil {
		return nil, err
	}
	course.Commit()
	s.dispatcher.Dispatch(ctx, pending)

	s.log.Info("🎓 Curso creado",
		zap.String("course_id", course.ID().String()),
		zap.String("title", title),
	)
	return course, nil
}

// ReserveSeat reserva plaza para una matrícula. El cupo es el punto de
// contención del curso: dos reservas simultáneas se resuelven por
// concurrencia optimista, nunca bloqueando.
func (s *CourseService) ReserveSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	_, err := s.execute(ctx, courseID, func(co *domain.Course) error {
		return co.ReserveSeat(enrollmentID, c)
	})
	return err
}

func (s *CourseService) ReleaseSeat(ctx context.Context, courseID, enrollmentID uuid.UUID, c sharedEvents.Causality) error {
	_, err := s.execute(ctx, courseID, func(co *domain.Course) error {
		return co.ReleaseSeat(enrollmentID, c)
	})
	return err
}

func (s *CourseService) CloseCourse(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	return s.execute(ctx, courseID, func(co *domain.Course) error {
		return co.Close(sharedEvents.Causality{})
	})
}

func (s *CourseService) GetCourse(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	history, err := s.store.Load(ctx, domain.AggregateType, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrCourseNotFound
	}
	return domain.FromHistory(id, history)
}

// execute es el mismo ciclo cargar -> mutar -> persistir que en matrículas.
func (s *CourseService) execute(ctx context.Context, id uuid.UUID, op func(co *domain.Course) error) (*domain.Course, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		history, err := s.store.Load(ctx, domain.AggregateType, id)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			return nil, ErrCourseNotFound
		}

		course, err := domain.FromHistory(id, history)
		if err != nil {
			return nil, err
		}

		expected := course.Version()
		if err := op(course); err != nil {
			return nil, err
		}

		pending := course.PendingEvents()
		if len(pending) == 0 {
			return course, nil
		}

		_, err = s.store.Append(ctx, domain.AggregateType, id, expected, pending)
		if err == nil {
			course.Commit()
			s.dispatcher.Dispatch(ctx, pending)
			return course, nil
		}

		if errors.Is(err, sharedDomain.ErrConcurrencyConflict) {
			s.log.Debug("Conflicto de concurrencia, recargando curso",
				zap.String("course_id", id.String()),
				zap.Int("attempt", attempt+1),
			)
			lastErr = err
			continue
		}

		if landed, lerr := s.appendLanded(ctx, id, expected, pending); lerr == nil && landed {
			course.Commit()
			s.dispatcher.Dispatch(ctx, pending)
			return course, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("course %s: retries exhausted: %w", id, lastErr)
}

func (s *CourseService) appendLanded(ctx context.Context, id uuid.UUID, expected int, pending []sharedEvents.DomainEvent) (bool, error) {
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
