package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
	"github.com/noah-isme/trainer-ledger-api/pkg/export"
)

type exportStore interface {
	ListStudents(ctx context.Context) ([]models.Student, error)
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	ListHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error)
}

type csvRenderer interface {
	Render(rows []models.StudentDetail) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

var rosterColumns = []export.Column[models.StudentDetail]{
	{Header: "name", Value: func(d models.StudentDetail) string { return d.Name }},
	{Header: "phone", Value: func(d models.StudentDetail) string { return d.Phone }},
	{Header: "total_lessons", Value: func(d models.StudentDetail) string { return strconv.Itoa(d.TotalLessons) }},
	{Header: "remaining_lessons", Value: func(d models.StudentDetail) string { return strconv.Itoa(d.RemainingLessons) }},
	{Header: "total_fee", Value: func(d models.StudentDetail) string {
		if d.TotalFee == nil {
			return ""
		}
		return formatFloat(*d.TotalFee)
	}},
	{Header: "balance", Value: func(d models.StudentDetail) string { return formatFloat(d.Balance) }},
	{Header: "debt", Value: func(d models.StudentDetail) string { return formatFloat(d.Debt) }},
}

// NewRosterExporter returns the CSV layout used for the student roster.
func NewRosterExporter() *export.CSVExporter[models.StudentDetail] {
	return export.NewCSVExporter(rosterColumns...)
}

// ExportService renders the student roster and per-student statements.
type ExportService struct {
	store  exportStore
	engine *ledger.Engine
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(store exportStore, engine *ledger.Engine, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = ledger.NewEngine(ledger.Config{})
	}
	if csv == nil {
		csv = NewRosterExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{store: store, engine: engine, csv: csv, pdf: pdf, logger: logger}
}

// RosterCSV renders every student, sorted by name, with derived debt.
func (s *ExportService) RosterCSV(ctx context.Context) ([]byte, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}
	s.engine.SortStudents(students)

	rows := make([]models.StudentDetail, 0, len(students))
	for _, student := range students {
		rows = append(rows, ledger.Detail(student))
	}

	payload, err := s.csv.Render(rows)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render roster")
	}
	s.logger.Debug("roster exported", zap.Int("students", len(students)))
	return payload, nil
}

// Statement renders a PDF with the student's ledger summary and history.
func (s *ExportService) Statement(ctx context.Context, id string) ([]byte, error) {
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to load student")
	}
	history, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list history")
	}

	currency := s.engine.Currency()
	fee := "-"
	if student.TotalFee != nil {
		fee = s.engine.FormatAmount(*student.TotalFee) + " " + currency
	}
	doc := export.Document{
		Title: "Student Statement",
		Summary: []export.Field{
			{Label: "Student", Value: student.Name},
			{Label: "Phone", Value: student.Phone},
			{Label: "Lessons", Value: fmt.Sprintf("%d / %d remaining", student.RemainingLessons, student.TotalLessons)},
			{Label: "Package fee", Value: fee},
			{Label: "Paid", Value: s.engine.FormatAmount(student.Balance) + " " + currency},
			{Label: "Debt", Value: s.engine.FormatAmount(ledger.RemainingDebt(*student)) + " " + currency},
		},
		Table: export.Dataset{Headers: []string{"date", "action", "note"}},
	}
	for _, entry := range history {
		doc.Table.Rows = append(doc.Table.Rows, map[string]string{
			"date":   entry.Date.UTC().Format(time.DateTime),
			"action": string(entry.Action),
			"note":   entry.Note,
		})
	}

	payload, err := s.pdf.Render(doc)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render statement")
	}
	return payload, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
