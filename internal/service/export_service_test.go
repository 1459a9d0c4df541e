package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
	"github.com/noah-isme/trainer-ledger-api/pkg/export"
)

type capturingPDF struct {
	doc export.Document
}

func (c *capturingPDF) Render(doc export.Document) ([]byte, error) {
	c.doc = doc
	return []byte("%PDF-1.3"), nil
}

func TestExportServiceRosterCSV(t *testing.T) {
	store := newFakeStore()
	ledgerSvc, _ := newLedgerServiceForTest(store)
	_, err := ledgerSvc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Zeynep", TotalLessons: 8, TotalFee: feePtr(1200), InitialPayment: 200})
	require.NoError(t, err)
	_, err = ledgerSvc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Ali", TotalLessons: 4})
	require.NoError(t, err)

	svc := NewExportService(store, ledger.NewEngine(ledger.Config{Locale: "en"}), zap.NewNop(), nil, nil)
	payload, err := svc.RosterCSV(context.Background())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, NewRosterExporter().Headers(), records[0])
	assert.Equal(t, "debt", records[0][6])
	assert.Equal(t, "Ali", records[1][0])
	assert.Equal(t, "", records[1][4])
	assert.Equal(t, []string{"Zeynep", "", "8", "8", "1200", "200", "1000"}, records[2])
}

func TestExportServiceStatement(t *testing.T) {
	store := newFakeStore()
	ledgerSvc, _ := newLedgerServiceForTest(store)
	student, err := ledgerSvc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Ayşe", TotalLessons: 10, TotalFee: feePtr(1000)})
	require.NoError(t, err)
	_, err = ledgerSvc.RecordPayment(context.Background(), student.ID, models.PaymentRequest{Amount: 400})
	require.NoError(t, err)

	pdf := &capturingPDF{}
	svc := NewExportService(store, ledger.NewEngine(ledger.Config{Locale: "en", Currency: "TRY"}), nil, nil, pdf)
	payload, err := svc.Statement(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3", string(payload))

	assert.Contains(t, pdf.doc.Summary, export.Field{Label: "Debt", Value: "600 TRY"})
	assert.Contains(t, pdf.doc.Summary, export.Field{Label: "Lessons", Value: "10 / 10 remaining"})
	require.Len(t, pdf.doc.Table.Rows, 1)
	assert.Equal(t, "PAYMENT_RECEIVED", pdf.doc.Table.Rows[0]["action"])

	_, err = svc.Statement(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
