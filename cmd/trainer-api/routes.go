package main

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-ledger-api/internal/handler"
)

type routeHandlers struct {
	auth      *handler.AuthHandler
	students  *handler.StudentHandler
	dashboard *handler.DashboardHandler
	live      *handler.LiveHandler
	exports   *handler.ExportHandler
	requireAuth   gin.HandlerFunc
}

func registerRoutes(api *gin.RouterGroup, h routeHandlers) {
	api.POST("/auth/login", h.auth.Login)

	secured := api.Group("")
	secured.Use(h.requireAuth)

	secured.GET("/auth/me", h.auth.Me)

	students := secured.Group("/students")
	students.GET("", h.students.List)
	students.POST("", h.students.Create)
	students.GET("/export.csv", h.exports.Roster)
	students.GET("/:id", h.students.Get)
	students.PATCH("/:id", h.students.Update)
	students.DELETE("/:id", h.students.Delete)
	students.POST("/:id/check-in", h.students.CheckIn)
	students.POST("/:id/lessons/deduct", h.students.DeductLesson)
	students.POST("/:id/payments", h.students.RecordPayment)
	students.GET("/:id/history", h.students.History)
	students.GET("/:id/measurements", h.students.Measurements)
	students.POST("/:id/measurements", h.students.AddMeasurement)
	students.GET("/:id/statement.pdf", h.exports.Statement)

	secured.GET("/dashboard", h.dashboard.Summary)

	live := secured.Group("/live")
	live.GET("/dashboard", h.live.Dashboard)
	live.GET("/students/:id", h.live.Student)
}
