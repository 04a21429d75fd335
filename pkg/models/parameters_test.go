package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validParams() ParameterContext {
	return ParameterContext{
		ForecastHorizonWeeks:  12,
		SeasonStartDate:       time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		SeasonEndDate:         time.Date(2026, time.May, 24, 0, 0, 0, 0, time.UTC),
		ReplenishmentStrategy: ReplenishmentNone,
		DCHoldbackPercentage:  0.2,
	}
}

func TestParameterContextValidate(t *testing.T) {
	t.Run("valid minimal", func(t *testing.T) {
		p := validParams()
		assert.NoError(t, p.Validate())
	})

	t.Run("valid with markdown pair", func(t *testing.T) {
		p := validParams()
		week := 6
		threshold := 0.6
		p.MarkdownCheckpointWeek = &week
		p.MarkdownThreshold = &threshold
		assert.NoError(t, p.Validate())
	})

	t.Run("zero horizon", func(t *testing.T) {
		p := validParams()
		p.ForecastHorizonWeeks = 0
		assert.ErrorContains(t, p.Validate(), "forecast_horizon_weeks")
	})

	t.Run("end before start", func(t *testing.T) {
		p := validParams()
		p.SeasonEndDate = p.SeasonStartDate.AddDate(0, 0, -1)
		assert.ErrorContains(t, p.Validate(), "season_end_date")
	})

	t.Run("unknown replenishment strategy", func(t *testing.T) {
		p := validParams()
		p.ReplenishmentStrategy = "monthly"
		assert.ErrorContains(t, p.Validate(), "replenishment_strategy")
	})

	t.Run("holdback out of range", func(t *testing.T) {
		p := validParams()
		p.DCHoldbackPercentage = 1.5
		assert.ErrorContains(t, p.Validate(), "dc_holdback_percentage")
	})

	t.Run("checkpoint beyond horizon", func(t *testing.T) {
		p := validParams()
		week := 13
		p.MarkdownCheckpointWeek = &week
		assert.ErrorContains(t, p.Validate(), "exceeds forecast horizon")
	})

	t.Run("threshold out of range", func(t *testing.T) {
		p := validParams()
		week := 6
		threshold := 1.2
		p.MarkdownCheckpointWeek = &week
		p.MarkdownThreshold = &threshold
		assert.ErrorContains(t, p.Validate(), "markdown_threshold")
	})
}

func TestParameterContextWarnings(t *testing.T) {
	t.Run("checkpoint without threshold warns but validates", func(t *testing.T) {
		p := validParams()
		week := 6
		p.MarkdownCheckpointWeek = &week
		assert.NoError(t, p.Validate())
		assert.Len(t, p.Warnings(), 1)
	})

	t.Run("consistent pair has no warnings", func(t *testing.T) {
		p := validParams()
		assert.Empty(t, p.Warnings())
	})
}

func TestReplenishmentCadence(t *testing.T) {
	assert.Equal(t, 0, ReplenishmentNone.CadenceWeeks())
	assert.Equal(t, 1, ReplenishmentWeekly.CadenceWeeks())
	assert.Equal(t, 2, ReplenishmentBiWeekly.CadenceWeeks())
}

func TestMarkdownEnabled(t *testing.T) {
	p := validParams()
	assert.False(t, p.MarkdownEnabled())
	week := 6
	p.MarkdownCheckpointWeek = &week
	assert.True(t, p.MarkdownEnabled())
}
