package reports

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/internal/serviceiface"
)

type ReportsService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
}

func NewReportsService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &ReportsService{config: cfg, pool: pool}
}

func (s *ReportsService) Name() string {
	return "reports"
}

func (s *ReportsService) Start() error {
	go StartReportsService(s.pool)
	return nil
}

func (s *ReportsService) Stop() error {
	// Implement stop logic if needed
	return nil
}
