package services

import (
	"fmt"
	"time"

	"season-planner/backend/pkg/models"
)

// DecidePhase is the pure execute-or-skip decision for an optional phase.
// No side effects, no I/O: identical parameters always yield the identical
// decision, which is what makes phase-skip behavior testable without running
// the workflow.
func DecidePhase(phase models.Phase, p models.ParameterContext) models.PhaseDecision {
	decision := models.PhaseDecision{PhaseID: phase, DecidedAt: time.Now().UTC()}

	switch phase {
	case models.PhaseReplenishment:
		if p.ReplenishmentStrategy == models.ReplenishmentNone {
			decision.Execute = false
			decision.Reasoning = fmt.Sprintf(
				"Replenishment strategy is none: skip replenishment. The %.0f%% DC holdback ships with the initial allocation.",
				p.DCHoldbackPercentage*100)
		} else {
			decision.Execute = true
			decision.Reasoning = fmt.Sprintf(
				"Replenishment strategy is %s: execute replenishment on a %d-week cadence, releasing the %.0f%% DC holdback.",
				p.ReplenishmentStrategy, p.ReplenishmentStrategy.CadenceWeeks(), p.DCHoldbackPercentage*100)
		}

	case models.PhaseMarkdownCheck:
		if !p.MarkdownEnabled() {
			decision.Execute = false
			decision.Reasoning = "No markdown checkpoint week configured: skip the markdown check."
		} else {
			decision.Execute = true
			if p.MarkdownThreshold != nil {
				decision.Reasoning = fmt.Sprintf(
					"Markdown checkpoint at week %d with sell-through threshold %.2f: execute the markdown check.",
					*p.MarkdownCheckpointWeek, *p.MarkdownThreshold)
			} else {
				decision.Reasoning = fmt.Sprintf(
					"Markdown checkpoint at week %d with no threshold configured: execute the markdown check with the engine default.",
					*p.MarkdownCheckpointWeek)
			}
		}

	default:
		// Mandatory phases always run.
		decision.Execute = true
		decision.Reasoning = fmt.Sprintf("Phase %s is mandatory.", phase)
	}

	return decision
}
