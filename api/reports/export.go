package reports

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
)

var scorecardCSVHeader = []string{
	"tech_id", "technician_name", "region", "rows",
	"jobs_completed", "tnps", "tnps_band", "ftr", "ftr_band",
	"tool_usage", "tool_usage_band", "repeat_calls", "reportable",
}

// scorecardCSVRecord flattens one TechScore into a CSV record.
func scorecardCSVRecord(s TechScore) []string {
	tnps, ftr, tool := "", "", ""
	if s.TNPS != nil {
		tnps = s.TNPS.String()
	}
	if s.FTR != nil {
		ftr = s.FTR.String()
	}
	if s.ToolUsage != nil {
		tool = s.ToolUsage.String()
	}
	return []string{
		s.TechID,
		s.Name,
		s.Region,
		fmt.Sprintf("%d", s.Rows),
		s.Jobs.String(),
		tnps,
		s.Bands[MetricTNPS],
		ftr,
		s.Bands[MetricFTR],
		tool,
		s.Bands[MetricToolUsage],
		s.RepeatCalls.String(),
		fmt.Sprintf("%t", s.Reportable),
	}
}

// ScorecardCSVHandler handles GET /reports/scorecard/csv with query params
// scope, source_system, fiscal_month_anchor and optional region.
func ScorecardCSVHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		scope := q.Get("scope")
		sourceSystem := q.Get("source_system")
		if scope == "" || sourceSystem == "" {
			http.Error(w, constants.ErrMissingScope, http.StatusBadRequest)
			return
		}
		anchor, err := time.ParseInLocation(constants.DateFormat, strings.TrimSpace(q.Get("fiscal_month_anchor")), time.UTC)
		if err != nil {
			http.Error(w, constants.ErrBadFiscalAnchor, http.StatusBadRequest)
			return
		}

		scores, err := loadScorecard(r.Context(), pool, scope, sourceSystem, anchor, q.Get("region"))
		if err != nil {
			log.Printf("[REPORTS] scorecard csv load failed: %v", err)
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}

		fileName := fmt.Sprintf("scorecard_%s_%s.csv", sourceSystem, anchor.Format(constants.DateFormat))
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeCSV)
		w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)

		cw := csv.NewWriter(w)
		if err := cw.Write(scorecardCSVHeader); err != nil {
			return
		}
		for _, s := range scores {
			if err := cw.Write(scorecardCSVRecord(s)); err != nil {
				return
			}
		}
		cw.Flush()
	}
}
