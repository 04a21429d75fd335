// Command seed creates demo season-planning workflows in the configured
// store so a fresh environment has data to explore.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"season-planner/backend/internal/config"
	"season-planner/backend/internal/logging"
	"season-planner/backend/internal/repository"
	"season-planner/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresWorkflowStore(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	existing, err := store.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	if len(existing) > 0 {
		logger.Info("Store already has workflows; skipping seed", "count", len(existing))
		return
	}

	springStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	fallStart := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	checkpoint := 6
	threshold := 0.6

	seeds := []struct {
		name   string
		params models.ParameterContext
	}{
		{
			name: "spring basics, no replenishment",
			params: models.ParameterContext{
				ForecastHorizonWeeks:  12,
				SeasonStartDate:       springStart,
				SeasonEndDate:         springStart.AddDate(0, 0, 12*7),
				ReplenishmentStrategy: models.ReplenishmentNone,
				DCHoldbackPercentage:  0.2,
			},
		},
		{
			name: "fall fashion with markdown checkpoint",
			params: models.ParameterContext{
				ForecastHorizonWeeks:   16,
				SeasonStartDate:        fallStart,
				SeasonEndDate:          fallStart.AddDate(0, 0, 16*7),
				ReplenishmentStrategy:  models.ReplenishmentBiWeekly,
				DCHoldbackPercentage:   0.3,
				MarkdownCheckpointWeek: &checkpoint,
				MarkdownThreshold:      &threshold,
			},
		},
	}

	for _, s := range seeds {
		wf := newSeedWorkflow(s.params)
		if err := store.Create(ctx, wf); err != nil {
			log.Printf("Failed to seed workflow %q: %v", s.name, err)
			continue
		}
		logger.Info("Seeded workflow", "name", s.name, "id", wf.ID)
	}
	logger.Info("Seeding complete!")
}

func newSeedWorkflow(params models.ParameterContext) *models.Workflow {
	now := time.Now().UTC()
	return &models.Workflow{
		ID:           uuid.New().String(),
		Type:         models.WorkflowTypeSeasonPlan,
		Status:       models.WorkflowStatusRunning,
		CurrentPhase: models.PhaseParametersExtracted,
		ProgressPct:  5,
		Parameters:   params,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
