package jobs

import (
	"fmt"
	"log"

	"FieldOpsKPI/internal/logger"
	"FieldOpsKPI/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CronService struct {
	config map[string]interface{}
	db     *pgxpool.Pool
}

func NewCronService(cfg map[string]interface{}, db *pgxpool.Pool) serviceiface.Service {
	return &CronService{
		config: cfg,
		db:     db,
	}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	sweepConfig := NewDefaultStaleBatchConfig()

	// Override from services.yaml if provided
	if s.config != nil {
		if schedule, ok := s.config["sweep_schedule"].(string); ok && schedule != "" {
			sweepConfig.Schedule = schedule
		}
		if hours, ok := s.config["stale_cutoff_hours"].(int); ok && hours > 0 {
			sweepConfig.CutoffHours = hours
		}
	}

	if err := RunStaleBatchSweeper(sweepConfig, s.db); err != nil {
		return fmt.Errorf("failed to start stale batch sweeper: %v", err)
	}

	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit("Stale batch sweeper scheduled")
	}
	log.Println("Cron service started, stale batch sweeper scheduled")
	return nil
}

func (s *CronService) Stop() error {
	// Implement stop logic if needed
	return nil
}
