package models

// AttentionReason explains why a student is surfaced to the trainer.
type AttentionReason string

const (
	AttentionPackageFinished   AttentionReason = "PACKAGE_FINISHED"
	AttentionInDebt            AttentionReason = "IN_DEBT"
	AttentionLessonsRunningLow AttentionReason = "LESSONS_RUNNING_LOW"
)

// Attention priorities; lower sorts first.
const (
	AttentionPriorityUrgent   = 1
	AttentionPriorityAdvisory = 2
)

// AttentionItem is a derived alert; it is never persisted.
type AttentionItem struct {
	StudentID   string          `json:"student_id"`
	StudentName string          `json:"student_name"`
	Reason      AttentionReason `json:"reason"`
	Priority    int             `json:"priority"`
	Message     string          `json:"message"`
}

// DashboardStats aggregates the whole student list.
type DashboardStats struct {
	TotalStudents       int     `json:"total_students"`
	TotalRevenue        float64 `json:"total_revenue"`
	AvgRemainingLessons float64 `json:"avg_remaining_lessons"`
}

// DashboardSummary is the dashboard payload served over HTTP and the live stream.
type DashboardSummary struct {
	Stats          DashboardStats  `json:"stats"`
	Attention      []AttentionItem `json:"attention"`
	RecentStudents []Student       `json:"recent_students"`
}
