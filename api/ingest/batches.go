package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/api/utils"
)

// BatchInfo is one batch row as returned by the list endpoint, joined with
// its pin when present.
type BatchInfo struct {
	BatchID           string     `json:"batch_id"`
	UploadSetID       string     `json:"upload_set_id"`
	SourceSystem      string     `json:"source_system"`
	FiscalMonthAnchor time.Time  `json:"fiscal_month_anchor"`
	Status            string     `json:"status"`
	StoragePrefix     string     `json:"storage_prefix"`
	ManifestPath      *string    `json:"manifest_path,omitempty"`
	Note              *string    `json:"note,omitempty"`
	RubricVersionID   *int64     `json:"rubric_version_id,omitempty"`
	SettingsPinnedAt  *time.Time `json:"settings_pinned_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// ListBatchesHandler handles GET /ingest/batches, newest first, paginated.
func ListBatchesHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		params, err := utils.ExtractPagination(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := r.Context()

		total, err := utils.CountTotal(ctx, pool, `SELECT COUNT(*) FROM fieldopskpi.ingest_batch`)
		if err != nil {
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		params.SetPaginationStats(total)

		rows, err := pool.Query(ctx, `
			SELECT b.batch_id, b.upload_set_id, b.source_system, b.fiscal_month_anchor,
			       b.status, b.storage_prefix, b.manifest_path, b.note,
			       p.rubric_version_id, p.settings_pinned_at,
			       b.created_at, b.updated_at
			FROM fieldopskpi.ingest_batch b
			LEFT JOIN fieldopskpi.batch_pin p ON p.batch_id = b.batch_id
			ORDER BY b.created_at DESC
			LIMIT $1 OFFSET $2
		`, params.Limit, params.Offset)
		if err != nil {
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		batches := make([]BatchInfo, 0)
		for rows.Next() {
			var b BatchInfo
			if err := rows.Scan(
				&b.BatchID, &b.UploadSetID, &b.SourceSystem, &b.FiscalMonthAnchor,
				&b.Status, &b.StoragePrefix, &b.ManifestPath, &b.Note,
				&b.RubricVersionID, &b.SettingsPinnedAt,
				&b.CreatedAt, &b.UpdatedAt,
			); err != nil {
				http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
				return
			}
			batches = append(batches, b)
		}
		if rows.Err() != nil {
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}

		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    true,
			"data":       batches,
			"pagination": params,
		})
	}
}
