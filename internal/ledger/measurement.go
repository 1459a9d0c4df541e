package ledger

import (
	"math"
	"sort"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	appErrors "github.com/noah-isme/trainer-ledger-api/pkg/errors"
)

// ValidateMeasurement requires at least one metric and every supplied metric to be a
// finite positive number.
func ValidateMeasurement(weight, bodyFatPct, waist, hip *float64) error {
	metrics := []struct {
		name  string
		value *float64
	}{
		{"weight", weight},
		{"body_fat_pct", bodyFatPct},
		{"waist", waist},
		{"hip", hip},
	}
	var supplied int
	for _, metric := range metrics {
		if metric.value == nil {
			continue
		}
		supplied++
		v := *metric.value
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return appErrors.Clone(appErrors.ErrValidation, metric.name+" must be a positive number")
		}
	}
	if supplied == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one measurement is required")
	}
	return nil
}

// SortMeasurements orders entries newest first, breaking ties by ID.
func SortMeasurements(entries []models.MeasurementEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ID > entries[j].ID
	})
}

// MeasurementTrend compares the newest entry against the one before it. A metric missing
// from either entry has no trend.
func MeasurementTrend(entries []models.MeasurementEntry) models.MeasurementTrend {
	if len(entries) == 0 {
		return models.MeasurementTrend{}
	}
	ordered := make([]models.MeasurementEntry, len(entries))
	copy(ordered, entries)
	SortMeasurements(ordered)

	latest := ordered[0]
	trend := models.MeasurementTrend{LatestID: latest.ID}
	if len(ordered) < 2 {
		return trend
	}
	previous := ordered[1]
	trend.Weight = delta(latest.Weight, previous.Weight)
	trend.BodyFatPct = delta(latest.BodyFatPct, previous.BodyFatPct)
	trend.Waist = delta(latest.Waist, previous.Waist)
	trend.Hip = delta(latest.Hip, previous.Hip)
	return trend
}

func delta(latest, previous *float64) *float64 {
	if latest == nil || previous == nil {
		return nil
	}
	change := roundTo(*latest-*previous, 2)
	return &change
}
