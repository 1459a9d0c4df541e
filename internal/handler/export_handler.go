package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainer-ledger-api/pkg/response"
)

type exportService interface {
	RosterCSV(ctx context.Context) ([]byte, error)
	Statement(ctx context.Context, id string) ([]byte, error)
}

// ExportHandler serves downloadable roster and statement files.
type ExportHandler struct {
	service exportService
	now     func() time.Time
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service, now: time.Now}
}

// Roster godoc
// @Summary Download the student roster as CSV
// @Tags Exports
// @Produce text/csv
// @Router /students/export.csv [get]
func (h *ExportHandler) Roster(c *gin.Context) {
	payload, err := h.service.RosterCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "students-" + h.now().UTC().Format("20060102") + ".csv"
	response.Attachment(c, filename, "text/csv; charset=utf-8", payload)
}

// Statement godoc
// @Summary Download a student's statement as PDF
// @Tags Exports
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Router /students/{id}/statement.pdf [get]
func (h *ExportHandler) Statement(c *gin.Context) {
	id := c.Param("id")
	payload, err := h.service.Statement(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "statement-"+id+".pdf", "application/pdf", payload)
}
