package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	"github.com/noah-isme/trainer-ledger-api/internal/realtime"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

type ledgerStore interface {
	CreateStudent(ctx context.Context, student *models.Student) error
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	UpdateStudent(ctx context.Context, id string, mutation models.StudentMutation) (*models.Student, error)
	DeleteStudent(ctx context.Context, id string) (bool, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	ListHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error)
	AppendMeasurement(ctx context.Context, entry *models.MeasurementEntry) error
	ListMeasurements(ctx context.Context, studentID string) ([]models.MeasurementEntry, error)
}

const (
	defaultStudentPageSize = 20
	maxStudentPageSize     = 100
)

// Command outcomes reported to metrics.
const (
	outcomeOK         = "ok"
	outcomeValidation = "validation"
	outcomeStoreError = "store_error"
	outcomePartial    = "partially_applied"
)

// LedgerServiceParams groups constructor dependencies.
type LedgerServiceParams struct {
	Store     ledgerStore
	Engine    *ledger.Engine
	Notifier  realtime.Notifier
	Cache     *CacheService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// LedgerService runs the student commands: every write updates the record first, then
// appends history, then tells live subscribers and drops the cached dashboard.
type LedgerService struct {
	store     ledgerStore
	engine    *ledger.Engine
	notifier  realtime.Notifier
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(params LedgerServiceParams) *LedgerService {
	engine := params.Engine
	if engine == nil {
		engine = ledger.NewEngine(ledger.Config{})
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		store:     params.Store,
		engine:    engine,
		notifier:  params.Notifier,
		cache:     params.Cache,
		metrics:   params.Metrics,
		validator: validate,
		logger:    logger,
	}
}

// Engine exposes the rule engine used by this service.
func (s *LedgerService) Engine() *ledger.Engine {
	return s.engine
}

// CreateStudent registers a student with a full package. An initial payment seeds the balance.
func (s *LedgerService) CreateStudent(ctx context.Context, req models.CreateStudentRequest) (*models.StudentDetail, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validator.Struct(req); err != nil {
		return nil, s.reject("create", appErrors.Validation(err, "invalid student payload"))
	}
	if req.TotalFee != nil {
		if err := ledger.ValidateFee(*req.TotalFee); err != nil {
			return nil, s.reject("create", err)
		}
	}
	if req.InitialPayment != 0 {
		if err := ledger.ValidatePaymentAmount(req.InitialPayment); err != nil {
			return nil, s.reject("create", err)
		}
	}

	student := &models.Student{
		Name:             req.Name,
		Phone:            req.Phone,
		TotalLessons:     req.TotalLessons,
		RemainingLessons: req.TotalLessons,
		TotalFee:         req.TotalFee,
		Balance:          req.InitialPayment,
	}
	if err := s.store.CreateStudent(ctx, student); err != nil {
		s.metrics.ObserveLedgerCommand("create", outcomeStoreError)
		return nil, appErrors.Internal(err, "failed to create student")
	}

	s.logger.Info("student created", zap.String("student_id", student.ID), zap.Int("total_lessons", student.TotalLessons))
	s.afterWrite(ctx, student.ID)
	s.metrics.ObserveLedgerCommand("create", outcomeOK)
	detail := ledger.Detail(*student)
	return &detail, nil
}

// GetStudent returns one student with derived debt.
func (s *LedgerService) GetStudent(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to load student")
	}
	detail := ledger.Detail(*student)
	return &detail, nil
}

// ListStudents returns students sorted by name, filtered by a case-insensitive search on
// name or phone, one page at a time.
func (s *LedgerService) ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}

	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		matched := students[:0]
		for _, student := range students {
			if strings.Contains(strings.ToLower(student.Name), search) || strings.Contains(strings.ToLower(student.Phone), search) {
				matched = append(matched, student)
			}
		}
		students = matched
	}
	s.engine.SortStudents(students)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultStudentPageSize
	}
	if size > maxStudentPageSize {
		size = maxStudentPageSize
	}
	start := (page - 1) * size
	if start > len(students) {
		start = len(students)
	}
	end := start + size
	if end > len(students) {
		end = len(students)
	}

	details := make([]models.StudentDetail, 0, end-start)
	for _, student := range students[start:end] {
		details = append(details, ledger.Detail(student))
	}
	return details, &models.Pagination{Page: page, PageSize: size, TotalCount: len(students)}, nil
}

// ConsumeLesson deducts one lesson without checking the remaining credits, so a trainer can
// correct a student into negative credit.
func (s *LedgerService) ConsumeLesson(ctx context.Context, id string) (*models.StudentDetail, error) {
	return s.applyWithHistory(ctx, "consume_lesson", id,
		models.StudentMutation{RemainingLessonsDelta: -1},
		models.HistoryLessonConsumed, s.engine.LessonConsumedNote())
}

// CheckIn deducts one lesson only when the student still has credits left.
func (s *LedgerService) CheckIn(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		s.metrics.ObserveLedgerCommand("check_in", outcomeStoreError)
		return nil, storeError(err, "failed to load student")
	}
	if !ledger.CanConsumeLesson(*student) {
		return nil, s.reject("check_in", appErrors.Clone(appErrors.ErrValidation, "no lessons remaining in package"))
	}
	return s.applyWithHistory(ctx, "check_in", id,
		models.StudentMutation{RemainingLessonsDelta: -1},
		models.HistoryLessonConsumed, s.engine.LessonConsumedNote())
}

// RecordPayment adds a positive amount to the student's balance.
func (s *LedgerService) RecordPayment(ctx context.Context, id string, req models.PaymentRequest) (*models.StudentDetail, error) {
	if err := ledger.ValidatePaymentAmount(req.Amount); err != nil {
		return nil, s.reject("record_payment", err)
	}
	return s.applyWithHistory(ctx, "record_payment", id,
		models.StudentMutation{BalanceDelta: req.Amount},
		models.HistoryPaymentReceived, s.engine.PaymentNote(req.Amount))
}

// EditStudent overwrites the supplied fields and leaves the rest untouched.
func (s *LedgerService) EditStudent(ctx context.Context, id string, req models.EditStudentRequest) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, s.reject("edit", appErrors.Validation(err, "invalid student payload"))
	}
	var mutation models.StudentMutation
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, s.reject("edit", appErrors.Clone(appErrors.ErrValidation, "name must not be empty"))
		}
		mutation.Name = &name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		mutation.Phone = &phone
	}
	if req.TotalFee != nil {
		if err := ledger.ValidateFee(*req.TotalFee); err != nil {
			return nil, s.reject("edit", err)
		}
		mutation.TotalFee = req.TotalFee
	}
	if mutation.Empty() {
		return nil, s.reject("edit", appErrors.Clone(appErrors.ErrValidation, "no fields to update"))
	}
	return s.applyWithHistory(ctx, "edit", id, mutation, models.HistoryInfoUpdated, s.engine.InfoUpdatedNote())
}

// DeleteStudent removes the student record. Its history and measurements stay behind.
func (s *LedgerService) DeleteStudent(ctx context.Context, id string) error {
	deleted, err := s.store.DeleteStudent(ctx, id)
	if err != nil {
		s.metrics.ObserveLedgerCommand("delete", outcomeStoreError)
		return appErrors.Internal(err, "failed to delete student")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	s.afterWrite(ctx, id)
	s.metrics.ObserveLedgerCommand("delete", outcomeOK)
	return nil
}

// History lists the student's audit entries, newest first.
func (s *LedgerService) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list history")
	}
	return entries, nil
}

// AddMeasurement stores a body measurement for an existing student. No history is written.
func (s *LedgerService) AddMeasurement(ctx context.Context, id string, req models.MeasurementRequest) (*models.MeasurementEntry, error) {
	if err := ledger.ValidateMeasurement(req.Weight, req.BodyFatPct, req.Waist, req.Hip); err != nil {
		return nil, s.reject("add_measurement", err)
	}
	if _, err := s.store.GetStudent(ctx, id); err != nil {
		s.metrics.ObserveLedgerCommand("add_measurement", outcomeStoreError)
		return nil, storeError(err, "failed to load student")
	}

	entry := &models.MeasurementEntry{
		StudentID:  id,
		Weight:     req.Weight,
		BodyFatPct: req.BodyFatPct,
		Waist:      req.Waist,
		Hip:        req.Hip,
	}
	if err := s.store.AppendMeasurement(ctx, entry); err != nil {
		s.metrics.ObserveLedgerCommand("add_measurement", outcomeStoreError)
		return nil, appErrors.Internal(err, "failed to store measurement")
	}
	s.notify(ctx, realtime.MeasurementsTopic(id))
	s.metrics.ObserveLedgerCommand("add_measurement", outcomeOK)
	return entry, nil
}

// Measurements lists the student's measurements with the change since the previous entry.
func (s *LedgerService) Measurements(ctx context.Context, id string) (*models.MeasurementHistory, error) {
	entries, err := s.store.ListMeasurements(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list measurements")
	}
	return &models.MeasurementHistory{Entries: entries, Trend: ledger.MeasurementTrend(entries)}, nil
}

// applyWithHistory is the two-step write shared by the commands. A failed update leaves no
// trace. A failed history append after a confirmed update returns the updated student
// together with a PARTIALLY_APPLIED error.
func (s *LedgerService) applyWithHistory(ctx context.Context, command, id string, mutation models.StudentMutation, action models.HistoryAction, note string) (*models.StudentDetail, error) {
	student, err := s.store.UpdateStudent(ctx, id, mutation)
	if err != nil {
		s.metrics.ObserveLedgerCommand(command, outcomeStoreError)
		s.logger.Warn("student update failed", zap.String("command", command), zap.String("student_id", id), zap.Error(err))
		return nil, storeError(err, "failed to update student")
	}

	entry := &models.HistoryEntry{StudentID: id, Action: action, Note: note}
	historyErr := s.store.AppendHistory(ctx, entry)
	s.afterWrite(ctx, id)

	detail := ledger.Detail(*student)
	if historyErr != nil {
		s.metrics.ObserveLedgerCommand(command, outcomePartial)
		s.logger.Error("history append failed after student update",
			zap.String("command", command),
			zap.String("student_id", id),
			zap.String("action", string(action)),
			zap.Error(historyErr),
		)
		return &detail, appErrors.Wrap(historyErr, appErrors.ErrPartiallyApplied.Code, appErrors.ErrPartiallyApplied.Status,
			"student was updated but the history entry was not recorded")
	}
	s.metrics.ObserveLedgerCommand(command, outcomeOK)
	return &detail, nil
}

func (s *LedgerService) afterWrite(ctx context.Context, id string) {
	s.notify(ctx, realtime.StudentTopics(id)...)
	invalidateDashboard(ctx, s.cache, s.logger)
}

func (s *LedgerService) notify(ctx context.Context, topics ...realtime.Topic) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, topics...)
}

func (s *LedgerService) reject(command string, err error) error {
	s.metrics.ObserveLedgerCommand(command, outcomeValidation)
	return err
}

func storeError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return appErrors.Internal(err, message)
}
