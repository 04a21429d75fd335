package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"season-planner/backend/pkg/models"
)

func TestDecidePhaseReplenishment(t *testing.T) {
	t.Run("none strategy skips", func(t *testing.T) {
		p := models.ParameterContext{
			ReplenishmentStrategy: models.ReplenishmentNone,
			DCHoldbackPercentage:  0.2,
		}
		d := DecidePhase(models.PhaseReplenishment, p)
		assert.False(t, d.Execute)
		assert.Contains(t, d.Reasoning, "skip replenishment")
		assert.Contains(t, d.Reasoning, "20%", "reasoning should name the holdback")
	})

	t.Run("weekly strategy executes", func(t *testing.T) {
		p := models.ParameterContext{
			ReplenishmentStrategy: models.ReplenishmentWeekly,
			DCHoldbackPercentage:  0.3,
		}
		d := DecidePhase(models.PhaseReplenishment, p)
		assert.True(t, d.Execute)
		assert.Contains(t, d.Reasoning, "1-week cadence")
	})

	t.Run("bi-weekly strategy executes", func(t *testing.T) {
		p := models.ParameterContext{ReplenishmentStrategy: models.ReplenishmentBiWeekly}
		d := DecidePhase(models.PhaseReplenishment, p)
		assert.True(t, d.Execute)
		assert.Contains(t, d.Reasoning, "2-week cadence")
	})
}

func TestDecidePhaseMarkdown(t *testing.T) {
	t.Run("no checkpoint skips", func(t *testing.T) {
		d := DecidePhase(models.PhaseMarkdownCheck, models.ParameterContext{})
		assert.False(t, d.Execute)
		assert.Contains(t, d.Reasoning, "skip the markdown check")
	})

	t.Run("checkpoint with threshold executes", func(t *testing.T) {
		week := 6
		threshold := 0.6
		p := models.ParameterContext{MarkdownCheckpointWeek: &week, MarkdownThreshold: &threshold}
		d := DecidePhase(models.PhaseMarkdownCheck, p)
		assert.True(t, d.Execute)
		assert.Contains(t, d.Reasoning, "week 6")
		assert.Contains(t, d.Reasoning, "0.60")
	})

	t.Run("checkpoint without threshold executes with default", func(t *testing.T) {
		week := 8
		p := models.ParameterContext{MarkdownCheckpointWeek: &week}
		d := DecidePhase(models.PhaseMarkdownCheck, p)
		assert.True(t, d.Execute)
		assert.Contains(t, d.Reasoning, "engine default")
	})
}

// Identical parameters must always produce the identical decision.
func TestDecidePhaseDeterminism(t *testing.T) {
	week := 6
	p := models.ParameterContext{
		ReplenishmentStrategy:  models.ReplenishmentWeekly,
		DCHoldbackPercentage:   0.25,
		MarkdownCheckpointWeek: &week,
	}
	for _, phase := range []models.Phase{models.PhaseReplenishment, models.PhaseMarkdownCheck} {
		first := DecidePhase(phase, p)
		for i := 0; i < 10; i++ {
			again := DecidePhase(phase, p)
			assert.Equal(t, first.Execute, again.Execute)
			assert.Equal(t, first.Reasoning, again.Reasoning)
		}
	}
}

func TestDecidePhaseMandatory(t *testing.T) {
	d := DecidePhase(models.PhaseForecasting, models.ParameterContext{})
	assert.True(t, d.Execute)
}
