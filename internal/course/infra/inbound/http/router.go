package http

import "github.com/gin-gonic/gin"

func RegisterCourseRoutes(r *gin.Engine, handler *CourseHandler) {
	courses := r.Group("/courses")
	{
		courses.POST("/", handler.CreateCourse)
		courses.GET("/:id", handler.GetCourse)
		courses.POST("/:id/close", handler.CloseCourse)
	}
}
