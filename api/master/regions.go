package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
)

// ErrNoRegions means the region master table is empty. Callers treat this as
// a hard stop: validation and commit never proceed against an empty
// authoritative list.
var ErrNoRegions = errors.New("region master is empty")

// RegionMaster is the authoritative region provider. It satisfies the
// ingest package's RegionProvider interface.
type RegionMaster struct {
	pool *pgxpool.Pool
}

func NewRegionMaster(pool *pgxpool.Pool) *RegionMaster {
	return &RegionMaster{pool: pool}
}

// ActiveRegions returns the active region display names in name order; the
// detector's "first match wins" tie behavior is therefore deterministic.
func (m *RegionMaster) ActiveRegions(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT region_name
		FROM fieldopskpi.master_region
		WHERE is_active = true
		ORDER BY region_name
	`)
	if err != nil {
		return nil, fmt.Errorf("load region master: %w", err)
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		regions = append(regions, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, ErrNoRegions
	}
	return regions, nil
}

// ListRegionsHandler handles GET /master/regions.
func ListRegionsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	m := NewRegionMaster(pool)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		regions, err := m.ActiveRegions(r.Context())
		if err != nil {
			if errors.Is(err, ErrNoRegions) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			log.Printf("[MASTER] region list failed: %v", err)
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    regions,
		})
	}
}
