package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

type fakeExportService struct {
	err    error
	lastID string
}

func (f *fakeExportService) RosterCSV(context.Context) ([]byte, error) {
	return []byte("name,phone\nAyşe,555\n"), f.err
}

func (f *fakeExportService) Statement(_ context.Context, id string) ([]byte, error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3"), nil
}

func TestExportHandlerRoster(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewExportHandler(&fakeExportService{})
	handler.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/students/export.csv", nil)
	handler.Roster(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="students-20260309.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "Ayşe")
}

func TestExportHandlerStatementNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeExportService{err: appErrors.Clone(appErrors.ErrNotFound, "student not found")}
	handler := NewExportHandler(svc)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/students/s9/statement.pdf", nil)
	c.Params = gin.Params{{Key: "id", Value: "s9"}}
	handler.Statement(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "s9", svc.lastID)
}
