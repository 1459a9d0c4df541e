package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
)

const studentColumns = `id, name, phone, total_lessons, remaining_lessons, total_fee, balance, created_at, updated_at`

// DocumentStore persists students with their history and measurement children. Queries use
// `?` placeholders and are rebound for the active driver. Lookups of missing records return
// sql.ErrNoRows wrapped with context.
type DocumentStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDocumentStore constructs a DocumentStore.
func NewDocumentStore(db *sqlx.DB) *DocumentStore {
	return &DocumentStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// newID returns a time-ordered identifier so equal timestamps still sort by insertion.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *DocumentStore) timestamp() time.Time {
	return s.now().Truncate(time.Microsecond)
}

// CreateStudent inserts the record, assigning its ID and timestamps.
func (s *DocumentStore) CreateStudent(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = newID()
	}
	now := s.timestamp()
	student.CreatedAt = now
	student.UpdatedAt = now

	query := s.db.Rebind(`INSERT INTO students (` + studentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		student.ID, student.Name, student.Phone, student.TotalLessons, student.RemainingLessons,
		student.TotalFee, student.Balance, student.CreatedAt, student.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// GetStudent returns one student.
func (s *DocumentStore) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	query := s.db.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE id = ?`)
	var student models.Student
	if err := s.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, fmt.Errorf("get student %s: %w", id, err)
	}
	return &student, nil
}

// UpdateStudent applies the mutation in one statement. Counter deltas are added store-side
// so concurrent writers never lose an increment. The updated record is returned.
func (s *DocumentStore) UpdateStudent(ctx context.Context, id string, mutation models.StudentMutation) (*models.Student, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{s.timestamp()}

	if mutation.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *mutation.Name)
	}
	if mutation.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *mutation.Phone)
	}
	if mutation.TotalFee != nil {
		sets = append(sets, "total_fee = ?")
		args = append(args, *mutation.TotalFee)
	}
	if mutation.RemainingLessonsDelta != 0 {
		sets = append(sets, "remaining_lessons = remaining_lessons + ?")
		args = append(args, mutation.RemainingLessonsDelta)
	}
	if mutation.BalanceDelta != 0 {
		sets = append(sets, "balance = balance + ?")
		args = append(args, mutation.BalanceDelta)
	}
	args = append(args, id)

	query := s.db.Rebind(fmt.Sprintf(`UPDATE students SET %s WHERE id = ? RETURNING %s`, strings.Join(sets, ", "), studentColumns))
	var student models.Student
	if err := s.db.GetContext(ctx, &student, query, args...); err != nil {
		return nil, fmt.Errorf("update student %s: %w", id, err)
	}
	return &student, nil
}

// DeleteStudent removes the student record. History and measurements are left in place.
func (s *DocumentStore) DeleteStudent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM students WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete student %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete student %s: %w", id, err)
	}
	return affected > 0, nil
}

// ListStudents returns every student, oldest first.
func (s *DocumentStore) ListStudents(ctx context.Context) ([]models.Student, error) {
	students := make([]models.Student, 0)
	query := `SELECT ` + studentColumns + ` FROM students ORDER BY created_at ASC, id ASC`
	if err := s.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// AppendHistory stores an audit entry under the student, stamping its ID and date.
func (s *DocumentStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("append history: unknown action %q", entry.Action)
	}
	entry.ID = newID()
	entry.Date = s.timestamp()

	query := s.db.Rebind(`INSERT INTO student_history (id, student_id, action, note, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, entry.ID, entry.StudentID, entry.Action, entry.Note, entry.Date); err != nil {
		return fmt.Errorf("append history for %s: %w", entry.StudentID, err)
	}
	return nil
}

// ListHistory returns a student's history, newest first.
func (s *DocumentStore) ListHistory(ctx context.Context, studentID string) ([]models.HistoryEntry, error) {
	entries := make([]models.HistoryEntry, 0)
	query := s.db.Rebind(`SELECT id, student_id, action, note, created_at FROM student_history WHERE student_id = ? ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list history for %s: %w", studentID, err)
	}
	return entries, nil
}

// AppendMeasurement stores a measurement under the student, stamping its ID and date.
func (s *DocumentStore) AppendMeasurement(ctx context.Context, entry *models.MeasurementEntry) error {
	entry.ID = newID()
	entry.Date = s.timestamp()

	query := s.db.Rebind(`INSERT INTO student_measurements (id, student_id, weight, body_fat_pct, waist, hip, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.StudentID, entry.Weight, entry.BodyFatPct, entry.Waist, entry.Hip, entry.Date,
	); err != nil {
		return fmt.Errorf("append measurement for %s: %w", entry.StudentID, err)
	}
	return nil
}

// ListMeasurements returns a student's measurements, newest first.
func (s *DocumentStore) ListMeasurements(ctx context.Context, studentID string) ([]models.MeasurementEntry, error) {
	entries := make([]models.MeasurementEntry, 0)
	query := s.db.Rebind(`SELECT id, student_id, weight, body_fat_pct, waist, hip, created_at FROM student_measurements WHERE student_id = ? ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list measurements for %s: %w", studentID, err)
	}
	return entries, nil
}
