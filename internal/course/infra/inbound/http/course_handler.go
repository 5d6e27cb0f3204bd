package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/eduflow/internal/course/application"
	"github.com/davicafu/eduflow/internal/course/domain"
)

// CourseHandler encapsula los endpoints HTTP de cursos
type CourseHandler struct {
	service *application.CourseService
}

func NewCourseHandler(service *application.CourseService) *CourseHandler {
	return &CourseHandler{service: service}
}

type courseResponse struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Capacity int       `json:"capacity"`
	Reserved int       `json:"reserved"`
	Closed   bool      `json:"closed"`
	Version  int       `json:"version"`
}

func toCourseResponse(co *domain.Course) courseResponse {
	return courseResponse{
		ID:       co.ID(),
		Title:    co.Title,
		Capacity: co.Capacity,
		Reserved: co.Reserved(),
		Closed:   co.Closed,
		Version:  co.Version(),
	}
}

// ---------------- Handlers ----------------

// CreateCourse endpoint POST /courses
func (h *CourseHandler) CreateCourse(c *gin.Context) {
	var req struct {
		Title    string `json:"title" binding:"required"`
		Capacity int    `json:"capacity" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	co, err := h.service.CreateCourse(c.Request.Context(), req.Title, req.Capacity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toCourseResponse(co))
}

// CloseCourse endpoint POST /courses/:id/close
func (h *CourseHandler) CloseCourse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}

	co, err := h.service.CloseCourse(c.Request.Context(), id)
	if err != nil {
		writeCourseError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCourseResponse(co))
}

// GetCourse endpoint GET /courses/:id
func (h *CourseHandler) GetCourse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return
	}

	co, err := h.service.GetCourse(c.Request.Context(), id)
	if err != nil {
		writeCourseError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCourseResponse(co))
}

func writeCourseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, application.ErrCourseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
