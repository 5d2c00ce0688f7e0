package rules

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/internal/serviceiface"
)

type RulesService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
}

func NewRulesService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &RulesService{config: cfg, pool: pool}
}

func (s *RulesService) Name() string {
	return "rules"
}

func (s *RulesService) Start() error {
	go StartRulesService(s.pool)
	return nil
}

func (s *RulesService) Stop() error {
	// Implement stop logic if needed
	return nil
}
