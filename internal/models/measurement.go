package models

import "time"

// MeasurementEntry is one body-measurement record. Absent metrics stay nil rather than zero.
type MeasurementEntry struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Weight     *float64  `db:"weight" json:"weight"`
	BodyFatPct *float64  `db:"body_fat_pct" json:"body_fat_pct"`
	Waist      *float64  `db:"waist" json:"waist"`
	Hip        *float64  `db:"hip" json:"hip"`
	Date       time.Time `db:"created_at" json:"date"`
}

// MeasurementTrend holds the change of each metric between the newest entry and the
// immediately previous entry. A metric absent from either entry has no trend.
type MeasurementTrend struct {
	LatestID   string   `json:"latest_id,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
	BodyFatPct *float64 `json:"body_fat_pct,omitempty"`
	Waist      *float64 `json:"waist,omitempty"`
	Hip        *float64 `json:"hip,omitempty"`
}

// MeasurementHistory is the measurement listing returned to clients.
type MeasurementHistory struct {
	Entries []MeasurementEntry `json:"entries"`
	Trend   MeasurementTrend   `json:"trend"`
}
