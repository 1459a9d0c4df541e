package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/models"
	"github.com/noah-isme/trainer-ledger-api/internal/realtime"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

type fakeStore struct {
	mu           sync.Mutex
	students     map[string]models.Student
	history      map[string][]models.HistoryEntry
	measurements map[string][]models.MeasurementEntry
	seq          int

	createErr  error
	updateErr  error
	historyErr error
	listErr    error
	updates    int
	appends    int

	// onList runs after ListStudents has read the store, outside the lock.
	onList func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		students:     map[string]models.Student{},
		history:      map[string][]models.HistoryEntry{},
		measurements: map[string][]models.MeasurementEntry{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) CreateStudent(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if student.ID == "" {
		student.ID = f.nextID("student")
	}
	student.CreatedAt = time.Date(2024, 1, 1, 0, 0, f.seq, 0, time.UTC)
	student.UpdatedAt = student.CreatedAt
	f.students[student.ID] = *student
	return nil
}

func (f *fakeStore) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	student, ok := f.students[id]
	if !ok {
		return nil, fmt.Errorf("get student %s: %w", id, sql.ErrNoRows)
	}
	return &student, nil
}

func (f *fakeStore) UpdateStudent(ctx context.Context, id string, m models.StudentMutation) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	student, ok := f.students[id]
	if !ok {
		return nil, fmt.Errorf("update student %s: %w", id, sql.ErrNoRows)
	}
	if m.Name != nil {
		student.Name = *m.Name
	}
	if m.Phone != nil {
		student.Phone = *m.Phone
	}
	if m.TotalFee != nil {
		fee := *m.TotalFee
		student.TotalFee = &fee
	}
	student.RemainingLessons += m.RemainingLessonsDelta
	student.Balance += m.BalanceDelta
	f.students[id] = student
	return &student, nil
}

func (f *fakeStore) DeleteStudent(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.students[id]; !ok {
		return false, nil
	}
	delete(f.students, id)
	return true, nil
}

func (f *fakeStore) ListStudents(ctx context.Context) ([]models.Student, error) {
	f.mu.Lock()
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	out := make([]models.Student, 0, len(f.students))
	for _, s := range f.students {
		out = append(out, s)
	}
	hook := f.onList
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.historyErr != nil {
		return f.historyErr
	}
	entry.ID = f.nextID("history")
	entry.Date = time.Now().UTC()
	f.history[entry.StudentID] = append([]models.HistoryEntry{*entry}, f.history[entry.StudentID]...)
	return nil
}

func (f *fakeStore) ListHistory(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.HistoryEntry{}, f.history[id]...), nil
}

func (f *fakeStore) AppendMeasurement(ctx context.Context, entry *models.MeasurementEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.nextID("measurement")
	entry.Date = time.Date(2024, 1, 1, 0, 0, f.seq, 0, time.UTC)
	f.measurements[entry.StudentID] = append([]models.MeasurementEntry{*entry}, f.measurements[entry.StudentID]...)
	return nil
}

func (f *fakeStore) ListMeasurements(ctx context.Context, id string) ([]models.MeasurementEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MeasurementEntry{}, f.measurements[id]...), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	topics []realtime.Topic
}

func (n *recordingNotifier) Notify(ctx context.Context, topics ...realtime.Topic) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topics...)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}

func feePtr(v float64) *float64 { return &v }

func newLedgerServiceForTest(store *fakeStore) (*LedgerService, *recordingNotifier) {
	notifier := &recordingNotifier{}
	svc := NewLedgerService(LedgerServiceParams{
		Store:    store,
		Engine:   ledger.NewEngine(ledger.Config{Locale: "en", Currency: "TRY"}),
		Notifier: notifier,
	})
	return svc, notifier
}

func seedStudent(t *testing.T, svc *LedgerService, lessons int, fee *float64) *models.StudentDetail {
	t.Helper()
	detail, err := svc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Ayşe", TotalLessons: lessons, TotalFee: fee})
	require.NoError(t, err)
	return detail
}

func TestLedgerServiceCreateStudent(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newLedgerServiceForTest(store)

	detail, err := svc.CreateStudent(context.Background(), models.CreateStudentRequest{
		Name:           "  Ayşe  ",
		TotalLessons:   10,
		TotalFee:       feePtr(1000),
		InitialPayment: 250,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ayşe", detail.Name)
	assert.Equal(t, 10, detail.RemainingLessons)
	assert.Equal(t, 250.0, detail.Balance)
	assert.Equal(t, 750.0, detail.Debt)
	assert.True(t, detail.CanConsumeLesson)
	assert.Zero(t, store.appends, "creation writes no history")
	assert.Positive(t, notifier.count())
}

func TestLedgerServiceCreateStudentValidation(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)

	cases := []models.CreateStudentRequest{
		{Name: "", TotalLessons: 10},
		{Name: "Ece", TotalLessons: -1},
		{Name: "Ece", TotalLessons: 1001},
		{Name: "Ece", TotalLessons: 5, TotalFee: feePtr(-1)},
		{Name: "Ece", TotalLessons: 5, InitialPayment: -10},
	}
	for _, req := range cases {
		_, err := svc.CreateStudent(context.Background(), req)
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	}
	assert.Empty(t, store.students)
}

func TestLedgerServiceCreateStudentWithEmptyPackage(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)

	detail, err := svc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Ece", TotalLessons: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, detail.TotalLessons)
	assert.Equal(t, 0, detail.RemainingLessons)
	assert.False(t, detail.CanConsumeLesson)

	students, err := store.ListStudents(context.Background())
	require.NoError(t, err)
	attention := svc.Engine().ComputeAttentionList(students)
	require.Len(t, attention, 1)
	assert.Equal(t, models.AttentionPackageFinished, attention[0].Reason)
	assert.Equal(t, detail.ID, attention[0].StudentID)
}

func TestLedgerServiceConsumeLessonUnguarded(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 1, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.ConsumeLesson(context.Background(), student.ID)
		require.NoError(t, err)
	}

	got, err := svc.GetStudent(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, got.RemainingLessons)
	assert.False(t, got.CanConsumeLesson)

	history, err := svc.History(context.Background(), student.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, entry := range history {
		assert.Equal(t, models.HistoryLessonConsumed, entry.Action)
		assert.Equal(t, "1 lesson manually deducted.", entry.Note)
	}
}

func TestLedgerServiceCheckInGuarded(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 1, nil)

	detail, err := svc.CheckIn(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Zero(t, detail.RemainingLessons)

	_, err = svc.CheckIn(context.Background(), student.ID)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 1, store.updates)
	assert.Equal(t, 1, store.appends)

	history := store.history[student.ID]
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryLessonConsumed, history[0].Action)
}

func TestLedgerServiceRecordPaymentRejectsNonPositive(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 10, feePtr(1000))

	for _, amount := range []float64{-5, 0} {
		_, err := svc.RecordPayment(context.Background(), student.ID, models.PaymentRequest{Amount: amount})
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	}
	assert.Zero(t, store.updates)
	assert.Zero(t, store.appends)

	got, err := svc.GetStudent(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Balance)
}

func TestLedgerServicePaymentClearsDebt(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 10, feePtr(1000))
	assert.Equal(t, 1000.0, student.Debt)

	detail, err := svc.RecordPayment(context.Background(), student.ID, models.PaymentRequest{Amount: 1000})
	require.NoError(t, err)
	assert.Zero(t, detail.Debt)
	assert.Equal(t, 1000.0, detail.Balance)

	history, err := svc.History(context.Background(), student.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryPaymentReceived, history[0].Action)
	assert.Equal(t, "1,000 TRY added.", history[0].Note)
}

func TestLedgerServiceUpdateFailureWritesNoHistory(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 10, nil)
	before := notifier.count()

	store.updateErr = errors.New("connection reset")
	_, err := svc.RecordPayment(context.Background(), student.ID, models.PaymentRequest{Amount: 100})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.Zero(t, store.appends)
	assert.Equal(t, before, notifier.count())
}

func TestLedgerServiceHistoryFailureIsPartiallyApplied(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 10, nil)
	before := notifier.count()

	store.historyErr = errors.New("quota exceeded")
	detail, err := svc.ConsumeLesson(context.Background(), student.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPartiallyApplied)
	require.NotNil(t, detail)
	assert.Equal(t, 9, detail.RemainingLessons)
	assert.Greater(t, notifier.count(), before, "confirmed update is still broadcast")
}

func TestLedgerServiceMissingStudent(t *testing.T) {
	svc, _ := newLedgerServiceForTest(newFakeStore())

	_, err := svc.ConsumeLesson(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = svc.CheckIn(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteStudent(context.Background(), "missing"), appErrors.ErrNotFound)
	_, err = svc.AddMeasurement(context.Background(), "missing", models.MeasurementRequest{Weight: feePtr(70)})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestLedgerServiceEditStudent(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 10, nil)

	phone := " 0555 "
	detail, err := svc.EditStudent(context.Background(), student.ID, models.EditStudentRequest{Phone: &phone, TotalFee: feePtr(800)})
	require.NoError(t, err)
	assert.Equal(t, "0555", detail.Phone)
	assert.Equal(t, "Ayşe", detail.Name)
	assert.Equal(t, 800.0, detail.Debt)

	history, err := svc.History(context.Background(), student.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryInfoUpdated, history[0].Action)

	_, err = svc.EditStudent(context.Background(), student.ID, models.EditStudentRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	blank := "   "
	_, err = svc.EditStudent(context.Background(), student.ID, models.EditStudentRequest{Name: &blank})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestLedgerServiceListStudents(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	for _, name := range []string{"Zeynep", "ayla", "Burak"} {
		_, err := svc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: name, TotalLessons: 3})
		require.NoError(t, err)
	}

	list, pagination, err := svc.ListStudents(context.Background(), models.StudentFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ayla", list[0].Name)
	assert.Equal(t, "Burak", list[1].Name)
	assert.Equal(t, 3, pagination.TotalCount)

	list, _, err = svc.ListStudents(context.Background(), models.StudentFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Zeynep", list[0].Name)

	list, pagination, err = svc.ListStudents(context.Background(), models.StudentFilter{Search: "ZEY"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	_, err = svc.CreateStudent(context.Background(), models.CreateStudentRequest{Name: "Cem", Phone: "0555 123 Ext 7", TotalLessons: 3})
	require.NoError(t, err)
	list, _, err = svc.ListStudents(context.Background(), models.StudentFilter{Search: "ext 7"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Cem", list[0].Name)

	list, _, err = svc.ListStudents(context.Background(), models.StudentFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLedgerServiceDeleteKeepsHistory(t *testing.T) {
	store := newFakeStore()
	svc, _ := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 3, nil)
	_, err := svc.ConsumeLesson(context.Background(), student.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteStudent(context.Background(), student.ID))
	_, err = svc.GetStudent(context.Background(), student.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	history, err := svc.History(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedgerServiceMeasurements(t *testing.T) {
	store := newFakeStore()
	svc, notifier := newLedgerServiceForTest(store)
	student := seedStudent(t, svc, 3, nil)

	_, err := svc.AddMeasurement(context.Background(), student.ID, models.MeasurementRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.AddMeasurement(context.Background(), student.ID, models.MeasurementRequest{Weight: feePtr(82)})
	require.NoError(t, err)
	before := notifier.count()
	latest, err := svc.AddMeasurement(context.Background(), student.ID, models.MeasurementRequest{Weight: feePtr(80.5)})
	require.NoError(t, err)
	assert.Greater(t, notifier.count(), before)

	result, err := svc.Measurements(context.Background(), student.ID)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, latest.ID, result.Trend.LatestID)
	require.NotNil(t, result.Trend.Weight)
	assert.Equal(t, -1.5, *result.Trend.Weight)
	assert.Zero(t, store.appends, "measurements write no history")
}
