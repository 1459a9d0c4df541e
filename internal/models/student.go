package models

import "time"

// Student is a client of the trainer holding a lesson package and a payment balance.
type Student struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Phone            string    `db:"phone" json:"phone"`
	TotalLessons     int       `db:"total_lessons" json:"total_lessons"`
	RemainingLessons int       `db:"remaining_lessons" json:"remaining_lessons"`
	TotalFee         *float64  `db:"total_fee" json:"total_fee,omitempty"`
	Balance          float64   `db:"balance" json:"balance"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// StudentMutation is a partial update. Nil fields keep their stored value and the deltas
// are applied store-side as increments.
type StudentMutation struct {
	Name                  *string
	Phone                 *string
	TotalFee              *float64
	RemainingLessonsDelta int
	BalanceDelta          float64
}

// Empty reports whether the mutation would leave the record untouched.
func (m StudentMutation) Empty() bool {
	return m.Name == nil && m.Phone == nil && m.TotalFee == nil && m.RemainingLessonsDelta == 0 && m.BalanceDelta == 0
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search   string
	Page     int
	PageSize int
}

// StudentDetail enriches a student with derived ledger state.
type StudentDetail struct {
	Student
	Debt             float64 `json:"debt"`
	CanConsumeLesson bool    `json:"can_consume_lesson"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// CreateStudentRequest is the payload for registering a student with a lesson package.
type CreateStudentRequest struct {
	Name           string   `json:"name" validate:"required,max=120"`
	Phone          string   `json:"phone" validate:"omitempty,max=32"`
	TotalLessons   int      `json:"total_lessons" validate:"gte=0,lte=1000"`
	TotalFee       *float64 `json:"total_fee" validate:"omitempty,gte=0"`
	InitialPayment float64  `json:"initial_payment" validate:"gte=0"`
}

// EditStudentRequest is a partial update of a student's details.
type EditStudentRequest struct {
	Name     *string  `json:"name" validate:"omitempty,min=1,max=120"`
	Phone    *string  `json:"phone" validate:"omitempty,max=32"`
	TotalFee *float64 `json:"total_fee" validate:"omitempty,gte=0"`
}

// PaymentRequest records money received from a student.
type PaymentRequest struct {
	Amount float64 `json:"amount"`
}

// MeasurementRequest carries the metrics of a new measurement; at least one is required.
type MeasurementRequest struct {
	Weight     *float64 `json:"weight"`
	BodyFatPct *float64 `json:"body_fat_pct"`
	Waist      *float64 `json:"waist"`
	Hip        *float64 `json:"hip"`
}
