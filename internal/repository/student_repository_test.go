package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	"github.com/noah-isme/trainer-ledger-api/pkg/database"
)

func newSQLiteStore(t *testing.T) *DocumentStore {
	t.Helper()
	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return NewDocumentStore(db)
}

func floatPtr(v float64) *float64 { return &v }

func TestDocumentStoreStudentLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	student := &models.Student{Name: "Ayşe", Phone: "555", TotalLessons: 10, RemainingLessons: 10, TotalFee: floatPtr(1000)}
	require.NoError(t, store.CreateStudent(ctx, student))
	require.NotEmpty(t, student.ID)
	assert.False(t, student.CreatedAt.IsZero())

	got, err := store.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ayşe", got.Name)
	require.NotNil(t, got.TotalFee)
	assert.Equal(t, 1000.0, *got.TotalFee)
	assert.WithinDuration(t, student.CreatedAt, got.CreatedAt, time.Millisecond)

	updated, err := store.UpdateStudent(ctx, student.ID, models.StudentMutation{BalanceDelta: 400})
	require.NoError(t, err)
	assert.Equal(t, 400.0, updated.Balance)
	assert.Equal(t, 10, updated.RemainingLessons)

	name := "Ayşe Yılmaz"
	updated, err = store.UpdateStudent(ctx, student.ID, models.StudentMutation{Name: &name, BalanceDelta: 100})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 500.0, updated.Balance)
	assert.Equal(t, "555", updated.Phone)

	deleted, err := store.DeleteStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetStudent(ctx, student.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	deleted, err = store.DeleteStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDocumentStoreDecrementGoesNegative(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	student := &models.Student{Name: "Can", TotalLessons: 1, RemainingLessons: 1}
	require.NoError(t, store.CreateStudent(ctx, student))

	for i := 0; i < 2; i++ {
		_, err := store.UpdateStudent(ctx, student.ID, models.StudentMutation{RemainingLessonsDelta: -1})
		require.NoError(t, err)
	}
	got, err := store.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, got.RemainingLessons)
}

func TestDocumentStoreUpdateMissingStudent(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.UpdateStudent(context.Background(), "missing", models.StudentMutation{BalanceDelta: 10})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDocumentStoreChildrenNewestFirst(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	student := &models.Student{Name: "Ece", TotalLessons: 4, RemainingLessons: 4}
	require.NoError(t, store.CreateStudent(ctx, student))

	first := &models.HistoryEntry{StudentID: student.ID, Action: models.HistoryPaymentReceived, Note: "100 TRY added."}
	second := &models.HistoryEntry{StudentID: student.ID, Action: models.HistoryLessonConsumed, Note: "1 lesson manually deducted."}
	require.NoError(t, store.AppendHistory(ctx, first))
	require.NoError(t, store.AppendHistory(ctx, second))

	history, err := store.ListHistory(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, models.HistoryLessonConsumed, history[0].Action)

	require.NoError(t, store.AppendMeasurement(ctx, &models.MeasurementEntry{StudentID: student.ID, Weight: floatPtr(82)}))
	latest := &models.MeasurementEntry{StudentID: student.ID, Weight: floatPtr(80.5), Hip: floatPtr(99)}
	require.NoError(t, store.AppendMeasurement(ctx, latest))

	measurements, err := store.ListMeasurements(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, measurements, 2)
	assert.Equal(t, latest.ID, measurements[0].ID)
	assert.Nil(t, measurements[0].Waist)
	require.NotNil(t, measurements[1].Weight)
	assert.Equal(t, 82.0, *measurements[1].Weight)

	deleted, err := store.DeleteStudent(ctx, student.ID)
	require.NoError(t, err)
	require.True(t, deleted)
	history, err = store.ListHistory(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "history is kept after the record is deleted")
}

func TestDocumentStoreRejectsUnknownAction(t *testing.T) {
	store := newSQLiteStore(t)
	err := store.AppendHistory(context.Background(), &models.HistoryEntry{StudentID: "s", Action: "REFUND"})
	assert.Error(t, err)
}

func TestDocumentStoreListStudents(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	students, err := store.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, students)

	require.NoError(t, store.CreateStudent(ctx, &models.Student{Name: "Zeynep"}))
	require.NoError(t, store.CreateStudent(ctx, &models.Student{Name: "Ali"}))
	students, err = store.ListStudents(ctx)
	require.NoError(t, err)
	assert.Len(t, students, 2)
}

func TestDocumentStoreUpdateRebindsForPostgres(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer raw.Close()
	store := NewDocumentStore(sqlx.NewDb(raw, "postgres"))

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "phone", "total_lessons", "remaining_lessons", "total_fee", "balance", "created_at", "updated_at"}).
		AddRow("s1", "Ayşe", "", 10, 9, 1000.0, 0.0, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE students SET updated_at = $1, remaining_lessons = remaining_lessons + $2 WHERE id = $3 RETURNING`)).
		WithArgs(sqlmock.AnyArg(), -1, "s1").
		WillReturnRows(rows)

	student, err := store.UpdateStudent(context.Background(), "s1", models.StudentMutation{RemainingLessonsDelta: -1})
	require.NoError(t, err)
	assert.Equal(t, 9, student.RemainingLessons)
	assert.NoError(t, mock.ExpectationsWereMet())
}
