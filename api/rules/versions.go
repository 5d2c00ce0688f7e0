package rules

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/api/utils"
)

type bandInput struct {
	Metric string  `json:"metric"`
	Band   string  `json:"band"`
	Min    *string `json:"min"`
	Max    *string `json:"max"`
}

// CommitVersionHandler handles POST /rules/versions: an admin commits a new
// rubric version with its threshold bands, effective from a fiscal month
// anchor. Versions are append-only; editing thresholds means committing a new
// version, which never rewrites months already pinned to older versions.
func CommitVersionHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Scope             string      `json:"scope"`
			SourceSystem      string      `json:"source_system"`
			FiscalMonthAnchor string      `json:"fiscal_month_anchor"`
			CommittedBy       string      `json:"committed_by"`
			Bands             []bandInput `json:"bands"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" || req.SourceSystem == "" || len(req.Bands) == 0 {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		anchor, err := time.ParseInLocation(constants.DateFormat, strings.TrimSpace(req.FiscalMonthAnchor), time.UTC)
		if err != nil {
			http.Error(w, constants.ErrBadFiscalAnchor, http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		tx, err := pool.Begin(ctx)
		if err != nil {
			http.Error(w, constants.ErrTxStartFailed+err.Error(), http.StatusInternalServerError)
			return
		}
		defer tx.Rollback(ctx)

		var versionID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO fieldopskpi.rubric_version (scope, source_system, fiscal_month_anchor, active, committed_at, committed_by)
			VALUES ($1, $2, $3, true, now(), $4)
			RETURNING rubric_version_id
		`, req.Scope, req.SourceSystem, anchor, req.CommittedBy).Scan(&versionID)
		if err != nil {
			log.Printf("[RULES] version insert failed: %v", err)
			http.Error(w, constants.ErrDB, http.StatusInternalServerError)
			return
		}
		for _, b := range req.Bands {
			if strings.TrimSpace(b.Metric) == "" || strings.TrimSpace(b.Band) == "" {
				http.Error(w, "every band needs metric and band", http.StatusBadRequest)
				return
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO fieldopskpi.rubric_band (rubric_version_id, metric, band, min_score, max_score)
				VALUES ($1, $2, $3, $4::numeric, $5::numeric)
			`, versionID, b.Metric, b.Band, b.Min, b.Max)
			if err != nil {
				log.Printf("[RULES] band insert failed: %v", err)
				http.Error(w, constants.ErrDB, http.StatusInternalServerError)
				return
			}
		}
		if err := tx.Commit(ctx); err != nil {
			http.Error(w, constants.ErrTxCommitFailed+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":           true,
			"rubric_version_id": versionID,
			"bands":             len(req.Bands),
		})
	}
}

// ListVersionsHandler handles GET /rules/versions with pagination.
func ListVersionsHandler(pool *pgxpool.Pool) http.HandlerFunc {
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

		total, err := utils.CountTotal(ctx, pool, `SELECT COUNT(*) FROM fieldopskpi.rubric_version`)
		if err != nil {
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		params.SetPaginationStats(total)

		rows, err := pool.Query(ctx, `
			SELECT rubric_version_id, scope, source_system, fiscal_month_anchor, active, committed_at, COALESCE(committed_by, '')
			FROM fieldopskpi.rubric_version
			ORDER BY committed_at DESC
			LIMIT $1 OFFSET $2
		`, params.Limit, params.Offset)
		if err != nil {
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		versions := make([]RubricVersion, 0)
		for rows.Next() {
			var v RubricVersion
			if err := rows.Scan(&v.ID, &v.Scope, &v.SourceSystem, &v.FiscalMonthAnchor, &v.Active, &v.CommittedAt, &v.CommittedBy); err != nil {
				http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
				return
			}
			versions = append(versions, v)
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    true,
			"data":       versions,
			"pagination": params,
		})
	}
}
