package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/eduflow/internal/enrollment/application"
	"github.com/davicafu/eduflow/internal/enrollment/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// EnrollmentHandler encapsula los endpoints HTTP de matrículas
type EnrollmentHandler struct {
	service *application.EnrollmentService
}

func NewEnrollmentHandler(service *application.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: service}
}

// enrollmentResponse es la vista HTTP del agregado (los campos internos del
// agregado no se serializan directamente).
type enrollmentResponse struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	CourseID  uuid.UUID `json:"course_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Version   int       `json:"version"`
}

func toEnrollmentResponse(e *domain.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:        e.ID(),
		StudentID: e.StudentID,
		CourseID:  e.CourseID,
		Status:    string(e.Status),
		Reason:    e.Reason,
		Version:   e.Version(),
	}
}

// ---------------- Handlers ----------------

// RequestEnrollment endpoint POST /enrollments
func (h *EnrollmentHandler) RequestEnrollment(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		CourseID  string `json:"course_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student_id"})
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course_id"})
		return
	}

	e, err := h.service.RequestEnrollment(c.Request.Context(), studentID, courseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toEnrollmentResponse(e))
}

// ConfirmEnrollment endpoint POST /enrollments/:id/confirm
func (h *EnrollmentHandler) ConfirmEnrollment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid enrollment id"})
		return
	}

	e, err := h.service.ConfirmEnrollment(c.Request.Context(), id, sharedEvents.Causality{})
	if err != nil {
		writeEnrollmentError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEnrollmentResponse(e))
}

// CancelEnrollment endpoint POST /enrollments/:id/cancel
func (h *EnrollmentHandler) CancelEnrollment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid enrollment id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	e, err := h.service.CancelEnrollment(c.Request.Context(), id, req.Reason, sharedEvents.Causality{})
	if err != nil {
		writeEnrollmentError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEnrollmentResponse(e))
}

// GetEnrollment endpoint GET /enrollments/:id
func (h *EnrollmentHandler) GetEnrollment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid enrollment id"})
		return
	}

	e, err := h.service.GetEnrollment(c.Request.Context(), id)
	if err != nil {
		writeEnrollmentError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEnrollmentResponse(e))
}

func writeEnrollmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, application.ErrEnrollmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "enrollment not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
