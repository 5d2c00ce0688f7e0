package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"FieldOpsKPI/internal/config"
	"FieldOpsKPI/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

// StaleBatchConfig holds configuration for the stale-batch sweep.
type StaleBatchConfig struct {
	Schedule    string
	CutoffHours int
	TimeZone    string
}

func NewDefaultStaleBatchConfig() *StaleBatchConfig {
	return &StaleBatchConfig{
		Schedule:    config.DefaultSweepSchedule,
		CutoffHours: config.StaleCommittingHours,
		TimeZone:    config.DefaultTimeZone,
	}
}

// RunStaleBatchSweeper schedules the sweep that flags batches stuck in
// COMMITTING. The sweeper only annotates such batches for operator attention;
// it never retries or deletes them. Retry stays caller-driven.
func RunStaleBatchSweeper(cfg *StaleBatchConfig, db *pgxpool.Pool) error {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultSweepSchedule
	}
	if cfg.CutoffHours == 0 {
		cfg.CutoffHours = config.StaleCommittingHours
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = config.DefaultTimeZone
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))

	_, err = c.AddFunc(cfg.Schedule, func() {
		if err := FlagStaleCommittingBatches(db, cfg.CutoffHours); err != nil {
			if logger.GlobalLogger != nil {
				logger.GlobalLogger.LogAudit(fmt.Sprintf("Stale batch sweep failed: %v", err))
			}
			log.Printf("[JOBS-SWEEP] stale batch sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("unable to schedule stale batch sweeper: %v", err)
	}

	c.Start()
	return nil
}

// FlagStaleCommittingBatches appends a note to batches that have sat in
// COMMITTING beyond the cutoff.
func FlagStaleCommittingBatches(db *pgxpool.Pool, cutoffHours int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-time.Duration(cutoffHours) * time.Hour)
	tag, err := db.Exec(ctx, `
		UPDATE fieldopskpi.ingest_batch
		SET note = CONCAT(COALESCE(note, ''), ' [stale: committing since ', updated_at, ']'),
		    updated_at = now()
		WHERE status = 'COMMITTING'
		  AND updated_at < $1
		  AND (note IS NULL OR note NOT LIKE '%[stale:%')
	`, cutoff)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Printf("[JOBS-SWEEP] flagged %d stale committing batch(es)", n)
	}
	return nil
}
