package http

import "github.com/gin-gonic/gin"

func RegisterEnrollmentRoutes(r *gin.Engine, handler *EnrollmentHandler) {
	enrollments := r.Group("/enrollments")
	{
		enrollments.POST("/", handler.RequestEnrollment)
		enrollments.GET("/:id", handler.GetEnrollment)
		enrollments.POST("/:id/confirm", handler.ConfirmEnrollment)
		enrollments.POST("/:id/cancel", handler.CancelEnrollment)
	}
}
