package ingest

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/internal/serviceiface"
)

type IngestService struct {
	config  map[string]interface{}
	pool    *pgxpool.Pool
	store   ObjectStore
	regions RegionProvider
}

func NewIngestService(cfg map[string]interface{}, pool *pgxpool.Pool, store ObjectStore, regions RegionProvider) serviceiface.Service {
	return &IngestService{config: cfg, pool: pool, store: store, regions: regions}
}

func (s *IngestService) Name() string {
	return "ingest"
}

func (s *IngestService) Start() error {
	go StartIngestService(s.pool, s.store, s.regions)
	return nil
}

func (s *IngestService) Stop() error {
	// Implement stop logic if needed
	return nil
}
