package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
	"github.com/noah-isme/trainer-ledger-api/pkg/response"
)

type ledgerCommands interface {
	CreateStudent(ctx context.Context, req models.CreateStudentRequest) (*models.StudentDetail, error)
	GetStudent(ctx context.Context, id string) (*models.StudentDetail, error)
	ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error)
	ConsumeLesson(ctx context.Context, id string) (*models.StudentDetail, error)
	CheckIn(ctx context.Context, id string) (*models.StudentDetail, error)
	RecordPayment(ctx context.Context, id string, req models.PaymentRequest) (*models.StudentDetail, error)
	EditStudent(ctx context.Context, id string, req models.EditStudentRequest) (*models.StudentDetail, error)
	DeleteStudent(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
	AddMeasurement(ctx context.Context, id string, req models.MeasurementRequest) (*models.MeasurementEntry, error)
	Measurements(ctx context.Context, id string) (*models.MeasurementHistory, error)
}

// StudentHandler exposes student ledger endpoints.
type StudentHandler struct {
	ledger ledgerCommands
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(ledger ledgerCommands) *StudentHandler {
	return &StudentHandler{ledger: ledger}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or phone"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	students, pagination, err := h.ledger.ListStudents(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail with derived debt
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.ledger.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Register a student with a lesson package
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body models.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req models.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid payload"))
		return
	}
	student, err := h.ledger.CreateStudent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Edit student details
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.EditStudentRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [patch]
func (h *StudentHandler) Update(c *gin.Context) {
	var req models.EditStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid payload"))
		return
	}
	student, err := h.ledger.EditStudent(c.Request.Context(), c.Param("id"), req)
	respondCommand(c, student, err)
}

// Delete godoc
// @Summary Delete student record
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.ledger.DeleteStudent(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckIn godoc
// @Summary Record an attended lesson
// @Description Deducts one lesson; rejected when no lessons remain.
// @Tags Lessons
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/check-in [post]
func (h *StudentHandler) CheckIn(c *gin.Context) {
	student, err := h.ledger.CheckIn(c.Request.Context(), c.Param("id"))
	respondCommand(c, student, err)
}

// DeductLesson godoc
// @Summary Manually deduct a lesson
// @Description Deducts one lesson even when the package is exhausted.
// @Tags Lessons
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/lessons/deduct [post]
func (h *StudentHandler) DeductLesson(c *gin.Context) {
	student, err := h.ledger.ConsumeLesson(c.Request.Context(), c.Param("id"))
	respondCommand(c, student, err)
}

// RecordPayment godoc
// @Summary Record a payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.PaymentRequest true "Payment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /students/{id}/payments [post]
func (h *StudentHandler) RecordPayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid payment payload"))
		return
	}
	student, err := h.ledger.RecordPayment(c.Request.Context(), c.Param("id"), req)
	respondCommand(c, student, err)
}

// History godoc
// @Summary List a student's history, newest first
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/history [get]
func (h *StudentHandler) History(c *gin.Context) {
	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Measurements godoc
// @Summary List body measurements with trend
// @Tags Measurements
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/measurements [get]
func (h *StudentHandler) Measurements(c *gin.Context) {
	result, err := h.ledger.Measurements(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AddMeasurement godoc
// @Summary Add a body measurement
// @Tags Measurements
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.MeasurementRequest true "Metrics"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/measurements [post]
func (h *StudentHandler) AddMeasurement(c *gin.Context) {
	var req models.MeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid measurement payload"))
		return
	}
	entry, err := h.ledger.AddMeasurement(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// respondCommand renders a ledger command result. A partially applied command still returns
// the updated student next to the error.
func respondCommand(c *gin.Context, student *models.StudentDetail, err error) {
	if err != nil {
		if student != nil && errors.Is(err, appErrors.ErrPartiallyApplied) {
			response.ErrorWithData(c, err, student)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
