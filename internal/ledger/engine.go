// Package ledger holds the lesson-credit and payment rules applied to students: debt
// derivation, dashboard aggregates, and the prioritised attention list. Everything here is
// pure and safe to call on every snapshot.
package ledger

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

const (
	defaultLocale             = "tr"
	defaultCurrency           = "TRY"
	defaultLowLessonThreshold = 2
)

// Config tunes message rendering and the low-lesson warning.
type Config struct {
	Locale             string
	Currency           string
	LowLessonThreshold int
}

// Engine evaluates ledger rules for one locale.
type Engine struct {
	tag       language.Tag
	currency  string
	threshold int
}

// NewEngine builds an Engine, falling back to defaults for empty or invalid settings.
func NewEngine(cfg Config) *Engine {
	locale := strings.TrimSpace(cfg.Locale)
	if locale == "" {
		locale = defaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Turkish
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	threshold := cfg.LowLessonThreshold
	if threshold <= 0 {
		threshold = defaultLowLessonThreshold
	}
	return &Engine{tag: tag, currency: currency, threshold: threshold}
}

// RemainingDebt is max(totalFee - balance, 0); a missing fee counts as zero.
func RemainingDebt(student models.Student) float64 {
	var fee float64
	if student.TotalFee != nil {
		fee = *student.TotalFee
	}
	debt := fee - student.Balance
	if debt <= 0 || math.IsNaN(debt) {
		return 0
	}
	return debt
}

// CanConsumeLesson gates the check-in control: true iff credits remain.
// ConsumeLesson itself stays unguarded so a trainer can correct into negative territory.
func CanConsumeLesson(student models.Student) bool {
	return student.RemainingLessons > 0
}

// ValidatePaymentAmount accepts finite amounts strictly above zero.
func ValidatePaymentAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return appErrors.Clone(appErrors.ErrValidation, "payment amount must be a finite number")
	}
	if amount <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "payment amount must be greater than zero")
	}
	return nil
}

// ValidateFee accepts finite fees of zero or more.
func ValidateFee(fee float64) error {
	if math.IsNaN(fee) || math.IsInf(fee, 0) {
		return appErrors.Clone(appErrors.ErrValidation, "total fee must be a finite number")
	}
	if fee < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "total fee must not be negative")
	}
	return nil
}

// Detail attaches the derived ledger fields to a student.
func Detail(student models.Student) models.StudentDetail {
	return models.StudentDetail{
		Student:          student,
		Debt:             RemainingDebt(student),
		CanConsumeLesson: CanConsumeLesson(student),
	}
}

// ComputeDashboard aggregates the student list. Revenue is the sum of balances (payments
// received), not of debt.
func (e *Engine) ComputeDashboard(students []models.Student) models.DashboardStats {
	stats := models.DashboardStats{TotalStudents: len(students)}
	if len(students) == 0 {
		return stats
	}
	var remaining int
	for _, student := range students {
		stats.TotalRevenue += student.Balance
		remaining += student.RemainingLessons
	}
	stats.AvgRemainingLessons = roundTo(float64(remaining)/float64(len(students)), 1)
	return stats
}

// ComputeAttentionList yields at most one item per student, first matching rule wins:
// package finished, then debt, then running low. Items sort by priority then name.
func (e *Engine) ComputeAttentionList(students []models.Student) []models.AttentionItem {
	items := make([]models.AttentionItem, 0)
	for _, student := range students {
		item, ok := e.attentionFor(student)
		if ok {
			items = append(items, item)
		}
	}

	c := e.collator()
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		if cmp := c.CompareString(items[i].StudentName, items[j].StudentName); cmp != 0 {
			return cmp < 0
		}
		return items[i].StudentID < items[j].StudentID
	})
	return items
}

func (e *Engine) attentionFor(student models.Student) (models.AttentionItem, bool) {
	item := models.AttentionItem{StudentID: student.ID, StudentName: student.Name}
	switch debt := RemainingDebt(student); {
	case student.RemainingLessons <= 0:
		item.Reason = models.AttentionPackageFinished
		item.Priority = models.AttentionPriorityUrgent
		item.Message = "Package fully finished"
	case debt > 0:
		item.Reason = models.AttentionInDebt
		item.Priority = models.AttentionPriorityUrgent
		item.Message = e.FormatAmount(debt) + " " + e.currency + " owed"
	case student.RemainingLessons <= e.threshold:
		item.Reason = models.AttentionLessonsRunningLow
		item.Priority = models.AttentionPriorityAdvisory
		if student.RemainingLessons == 1 {
			item.Message = "Only 1 lesson left"
		} else {
			item.Message = e.printer().Sprintf("Only %d lessons left", student.RemainingLessons)
		}
	default:
		return models.AttentionItem{}, false
	}
	return item, true
}

// SortStudents orders students by name with the same collation as the attention list.
func (e *Engine) SortStudents(students []models.Student) {
	c := e.collator()
	sort.SliceStable(students, func(i, j int) bool {
		if cmp := c.CompareString(students[i].Name, students[j].Name); cmp != 0 {
			return cmp < 0
		}
		return students[i].ID < students[j].ID
	})
}

// LessonConsumedNote is the history note for one deducted lesson.
func (e *Engine) LessonConsumedNote() string {
	return "1 lesson manually deducted."
}

// PaymentNote is the history note for a received payment.
func (e *Engine) PaymentNote(amount float64) string {
	return e.FormatAmount(amount) + " " + e.currency + " added."
}

// InfoUpdatedNote is the history note for an edit of the student's details.
func (e *Engine) InfoUpdatedNote() string {
	return "Student info updated."
}

// FormatAmount renders a money amount with locale grouping and up to two decimals.
func (e *Engine) FormatAmount(amount float64) string {
	return e.printer().Sprint(number.Decimal(amount, number.MaxFractionDigits(2)))
}

// Currency returns the configured currency label.
func (e *Engine) Currency() string {
	return e.currency
}

// collate.Collator and message.Printer keep internal buffers, so each call gets its own.
func (e *Engine) collator() *collate.Collator {
	return collate.New(e.tag)
}

func (e *Engine) printer() *message.Printer {
	return message.NewPrinter(e.tag)
}

func roundTo(value float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(value*pow) / pow
}
