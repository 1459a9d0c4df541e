package models

import "time"

// HistoryAction is the closed set of audit events recorded per student.
type HistoryAction string

const (
	HistoryLessonConsumed  HistoryAction = "LESSON_CONSUMED"
	HistoryPaymentReceived HistoryAction = "PAYMENT_RECEIVED"
	HistoryInfoUpdated     HistoryAction = "INFO_UPDATED"
)

// Valid reports whether the action belongs to the known set.
func (a HistoryAction) Valid() bool {
	switch a {
	case HistoryLessonConsumed, HistoryPaymentReceived, HistoryInfoUpdated:
		return true
	default:
		return false
	}
}

// HistoryEntry is an immutable audit record appended to a student.
type HistoryEntry struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	Action    HistoryAction `db:"action" json:"action"`
	Note      string        `db:"note" json:"note"`
	Date      time.Time     `db:"created_at" json:"date"`
}
