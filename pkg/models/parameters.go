package models

import (
	"fmt"
	"time"
)

// ReplenishmentStrategy controls whether and how often held-back units are
// pushed to stores during the season.
type ReplenishmentStrategy string

const (
	ReplenishmentNone     ReplenishmentStrategy = "none"
	ReplenishmentWeekly   ReplenishmentStrategy = "weekly"
	ReplenishmentBiWeekly ReplenishmentStrategy = "bi-weekly"
)

// CadenceWeeks returns the replenishment interval in weeks, or 0 for none.
func (s ReplenishmentStrategy) CadenceWeeks() int {
	switch s {
	case ReplenishmentWeekly:
		return 1
	case ReplenishmentBiWeekly:
		return 2
	default:
		return 0
	}
}

// ParameterContext is the validated, immutable configuration governing which
// phases run and how. It is created once when parameters are confirmed and
// never mutated afterwards.
type ParameterContext struct {
	ForecastHorizonWeeks   int                   `json:"forecast_horizon_weeks"`
	SeasonStartDate        time.Time             `json:"season_start_date"`
	SeasonEndDate          time.Time             `json:"season_end_date"`
	ReplenishmentStrategy  ReplenishmentStrategy `json:"replenishment_strategy"`
	DCHoldbackPercentage   float64               `json:"dc_holdback_percentage"`
	MarkdownCheckpointWeek *int                  `json:"markdown_checkpoint_week,omitempty"`
	MarkdownThreshold      *float64              `json:"markdown_threshold,omitempty"`
}

// Validate rejects malformed or out-of-range parameters before a workflow is
// created. Validation failures never enter the state machine.
func (p *ParameterContext) Validate() error {
	if p.ForecastHorizonWeeks <= 0 {
		return fmt.Errorf("forecast_horizon_weeks must be positive, got %d", p.ForecastHorizonWeeks)
	}
	if p.SeasonStartDate.IsZero() || p.SeasonEndDate.IsZero() {
		return fmt.Errorf("season_start_date and season_end_date are required")
	}
	if !p.SeasonEndDate.After(p.SeasonStartDate) {
		return fmt.Errorf("season_end_date must be after season_start_date")
	}
	switch p.ReplenishmentStrategy {
	case ReplenishmentNone, ReplenishmentWeekly, ReplenishmentBiWeekly:
	default:
		return fmt.Errorf("unknown replenishment_strategy %q", p.ReplenishmentStrategy)
	}
	if p.DCHoldbackPercentage < 0 || p.DCHoldbackPercentage > 1 {
		return fmt.Errorf("dc_holdback_percentage must be in [0,1], got %v", p.DCHoldbackPercentage)
	}
	if p.MarkdownCheckpointWeek != nil {
		if *p.MarkdownCheckpointWeek <= 0 {
			return fmt.Errorf("markdown_checkpoint_week must be positive, got %d", *p.MarkdownCheckpointWeek)
		}
		if *p.MarkdownCheckpointWeek > p.ForecastHorizonWeeks {
			return fmt.Errorf("markdown_checkpoint_week %d exceeds forecast horizon %d",
				*p.MarkdownCheckpointWeek, p.ForecastHorizonWeeks)
		}
	}
	if p.MarkdownThreshold != nil && (*p.MarkdownThreshold < 0 || *p.MarkdownThreshold > 1) {
		return fmt.Errorf("markdown_threshold must be in [0,1], got %v", *p.MarkdownThreshold)
	}
	return nil
}

// Warnings reports inconsistencies that do not block workflow creation.
// A markdown checkpoint without a threshold (or the reverse) is a warning,
// not a hard error.
func (p *ParameterContext) Warnings() []string {
	var warnings []string
	if (p.MarkdownCheckpointWeek == nil) != (p.MarkdownThreshold == nil) {
		warnings = append(warnings,
			"markdown_checkpoint_week and markdown_threshold should be set together; the markdown phase uses a default threshold when unset")
	}
	return warnings
}

// MarkdownEnabled reports whether the markdown checkpoint phase should run.
func (p *ParameterContext) MarkdownEnabled() bool {
	return p.MarkdownCheckpointWeek != nil
}
