package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"season-planner/backend/pkg/models"
)

// DefaultVarianceThresholdPct triggers a re-forecast when exceeded. The
// threshold is a deployment setting, not a per-workflow one.
const DefaultVarianceThresholdPct = 20.0

// ErrDuplicateWeek is returned when variance is recomputed for a week that
// already has a record and the caller did not ask for an explicit correction.
var ErrDuplicateWeek = errors.New("variance already recorded for this week")

// VarianceMonitor computes forecast-vs-actual deviation per monitoring period
// and decides whether the deviation warrants a re-forecast.
type VarianceMonitor struct {
	thresholdPct float64
}

// NewVarianceMonitor creates a monitor with the given trigger threshold in
// percent. Non-positive values fall back to the default.
func NewVarianceMonitor(thresholdPct float64) *VarianceMonitor {
	if thresholdPct <= 0 {
		thresholdPct = DefaultVarianceThresholdPct
	}
	return &VarianceMonitor{thresholdPct: thresholdPct}
}

// ThresholdPct returns the configured re-forecast trigger threshold.
func (m *VarianceMonitor) ThresholdPct() float64 {
	return m.thresholdPct
}

// Record computes the variance record for one week and appends it to the
// workflow's history. A week that already has a record is rejected unless
// correction is set, in which case the existing record is replaced rather
// than silently duplicated.
func (m *VarianceMonitor) Record(wf *models.Workflow, week int, forecastUnits, actualUnits float64, correction bool) (models.VarianceRecord, error) {
	if week <= 0 {
		return models.VarianceRecord{}, fmt.Errorf("week_number must be positive, got %d", week)
	}
	if forecastUnits <= 0 {
		return models.VarianceRecord{}, fmt.Errorf("forecast_units must be positive, got %v", forecastUnits)
	}

	existing := -1
	for i, r := range wf.VarianceHistory {
		if r.WeekNumber == week {
			existing = i
			break
		}
	}
	if existing >= 0 && !correction {
		return models.VarianceRecord{}, fmt.Errorf("week %d: %w", week, ErrDuplicateWeek)
	}

	variancePct := math.Abs(actualUnits-forecastUnits) / forecastUnits * 100
	direction := models.VarianceUnder
	if actualUnits > forecastUnits {
		direction = models.VarianceOver
	}

	record := models.VarianceRecord{
		WorkflowID:          wf.ID,
		WeekNumber:          week,
		ForecastUnits:       forecastUnits,
		ActualUnits:         actualUnits,
		VariancePct:         variancePct,
		Direction:           direction,
		ReforecastTriggered: variancePct > m.thresholdPct,
		Correction:          correction,
		Timestamp:           time.Now().UTC(),
	}

	if existing >= 0 {
		wf.VarianceHistory[existing] = record
	} else {
		wf.VarianceHistory = append(wf.VarianceHistory, record)
	}
	return record, nil
}
