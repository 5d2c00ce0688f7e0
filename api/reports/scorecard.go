package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/api/rules"
)

// Metric keys used in rubric bands and scorecard output.
const (
	MetricTNPS      = "tnps"
	MetricFTR       = "ftr"
	MetricToolUsage = "tool_usage"
)

// Payload column names the rollup reads. These are the declared expected
// headers of the ingestion schema.
const (
	colTechID    = "Tech ID"
	colTechName  = "Technician Name"
	colJobs      = "Jobs Completed"
	colTNPS      = "tNPS Score"
	colFTR       = "FTR %"
	colToolUsage = "Tool Usage %"
	colRepeat    = "Repeat Calls"
)

var parenNumberRe = regexp.MustCompile(`^\((.+)\)$`)

// ParseMetricNumber normalizes a raw spreadsheet cell into a decimal:
// thousands separators and percent signs are stripped, and accounting-style
// parenthesized numbers are negative, e.g. "(12.5)" -> -12.5.
func ParseMetricNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric cell")
	}
	neg := false
	if m := parenNumberRe.FindStringSubmatch(s); m != nil {
		neg = true
		s = m[1]
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad numeric cell %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// techRow is one committed raw row flattened for aggregation.
type techRow struct {
	TechID          string
	Name            string
	Region          string
	Jobs            *decimal.Decimal
	TNPS            *decimal.Decimal
	FTR             *decimal.Decimal
	ToolUsage       *decimal.Decimal
	RepeatCalls     *decimal.Decimal
	RubricVersionID int64
}

// TechScore is the per-technician monthly rollup.
type TechScore struct {
	TechID          string            `json:"tech_id"`
	Name            string            `json:"technician_name"`
	Region          string            `json:"region"`
	Rows            int               `json:"rows"`
	Jobs            decimal.Decimal   `json:"jobs_completed"`
	TNPS            *decimal.Decimal  `json:"tnps,omitempty"`
	FTR             *decimal.Decimal  `json:"ftr,omitempty"`
	ToolUsage       *decimal.Decimal  `json:"tool_usage,omitempty"`
	RepeatCalls     decimal.Decimal   `json:"repeat_calls"`
	Bands           map[string]string `json:"bands"`
	Reportable      bool              `json:"reportable"`
	RubricVersionID int64             `json:"rubric_version_id"`
}

// aggregateScores rolls raw rows up per tech_id: job and repeat-call counts
// sum, score metrics average over the rows that carried a value.
func aggregateScores(rows []techRow) []TechScore {
	type acc struct {
		score                    TechScore
		tnpsSum, ftrSum, toolSum decimal.Decimal
		tnpsN, ftrN, toolN       int
	}
	byTech := make(map[string]*acc)
	var order []string
	for _, r := range rows {
		a, ok := byTech[r.TechID]
		if !ok {
			a = &acc{score: TechScore{
				TechID:          r.TechID,
				Name:            r.Name,
				Region:          r.Region,
				Bands:           map[string]string{},
				RubricVersionID: r.RubricVersionID,
			}}
			byTech[r.TechID] = a
			order = append(order, r.TechID)
		}
		a.score.Rows++
		if r.Jobs != nil {
			a.score.Jobs = a.score.Jobs.Add(*r.Jobs)
		}
		if r.RepeatCalls != nil {
			a.score.RepeatCalls = a.score.RepeatCalls.Add(*r.RepeatCalls)
		}
		if r.TNPS != nil {
			a.tnpsSum = a.tnpsSum.Add(*r.TNPS)
			a.tnpsN++
		}
		if r.FTR != nil {
			a.ftrSum = a.ftrSum.Add(*r.FTR)
			a.ftrN++
		}
		if r.ToolUsage != nil {
			a.toolSum = a.toolSum.Add(*r.ToolUsage)
			a.toolN++
		}
	}

	out := make([]TechScore, 0, len(order))
	for _, id := range order {
		a := byTech[id]
		if a.tnpsN > 0 {
			v := a.tnpsSum.DivRound(decimal.NewFromInt(int64(a.tnpsN)), 2)
			a.score.TNPS = &v
		}
		if a.ftrN > 0 {
			v := a.ftrSum.DivRound(decimal.NewFromInt(int64(a.ftrN)), 2)
			a.score.FTR = &v
		}
		if a.toolN > 0 {
			v := a.toolSum.DivRound(decimal.NewFromInt(int64(a.toolN)), 2)
			a.score.ToolUsage = &v
		}
		a.score.Reportable = a.score.Jobs.GreaterThan(decimal.Zero)
		out = append(out, a.score)
	}
	return out
}

// assignBand returns the first band of the metric whose [min, max] interval
// contains v; either bound may be open.
func assignBand(bands []rules.Band, metric string, v decimal.Decimal) string {
	for _, b := range bands {
		if b.Metric != metric {
			continue
		}
		if b.Min != nil && v.LessThan(*b.Min) {
			continue
		}
		if b.Max != nil && v.GreaterThan(*b.Max) {
			continue
		}
		return b.Band
	}
	return ""
}

// applyBands fills each score's band map from its pinned rubric version.
// Bands come from the version recorded on the batch pin at commit time, so
// editing thresholds later never rewrites a historical scorecard.
func applyBands(scores []TechScore, bandsByVersion map[int64][]rules.Band) {
	for i := range scores {
		bands := bandsByVersion[scores[i].RubricVersionID]
		if bands == nil {
			continue
		}
		if scores[i].TNPS != nil {
			if b := assignBand(bands, MetricTNPS, *scores[i].TNPS); b != "" {
				scores[i].Bands[MetricTNPS] = b
			}
		}
		if scores[i].FTR != nil {
			if b := assignBand(bands, MetricFTR, *scores[i].FTR); b != "" {
				scores[i].Bands[MetricFTR] = b
			}
		}
		if scores[i].ToolUsage != nil {
			if b := assignBand(bands, MetricToolUsage, *scores[i].ToolUsage); b != "" {
				scores[i].Bands[MetricToolUsage] = b
			}
		}
	}
}

func metricPtr(payload map[string]string, col string) *decimal.Decimal {
	raw, ok := payload[col]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := ParseMetricNumber(raw)
	if err != nil {
		return nil
	}
	return &d
}

// loadScorecard pulls committed rows joined through the batch pin and rolls
// them up. Only batches whose status is committed (with or without per-file
// errors) are visible; a COMMITTING batch never leaks into a report.
func loadScorecard(ctx context.Context, pool *pgxpool.Pool, scope, sourceSystem string, anchor time.Time, region string) ([]TechScore, error) {
	query := `
		SELECT r.tech_id, r.region, r.payload, p.rubric_version_id
		FROM fieldopskpi.ingest_raw_row r
		JOIN fieldopskpi.ingest_batch b ON b.batch_id = r.batch_id
		JOIN fieldopskpi.batch_pin p ON p.batch_id = b.batch_id
		WHERE b.status IN ($1, $2)
		  AND p.scope = $3 AND p.source_system = $4 AND p.fiscal_month_anchor = $5
	`
	args := []interface{}{"COMMITTED", "COMMITTED_WITH_ERRORS", scope, sourceSystem, anchor}
	if region != "" {
		query += ` AND r.region = $6`
		args = append(args, region)
	}
	query += ` ORDER BY r.tech_id, r.row_num`

	dbRows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load committed rows: %w", err)
	}
	defer dbRows.Close()

	var rows []techRow
	versionIDs := make(map[int64]bool)
	for dbRows.Next() {
		var (
			techID, rowRegion string
			payloadJSON       []byte
			versionID         int64
		)
		if err := dbRows.Scan(&techID, &rowRegion, &payloadJSON, &versionID); err != nil {
			return nil, err
		}
		var payload map[string]string
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("bad payload for tech %s: %w", techID, err)
		}
		rows = append(rows, techRow{
			TechID:          techID,
			Name:            payload[colTechName],
			Region:          rowRegion,
			Jobs:            metricPtr(payload, colJobs),
			TNPS:            metricPtr(payload, colTNPS),
			FTR:             metricPtr(payload, colFTR),
			ToolUsage:       metricPtr(payload, colToolUsage),
			RepeatCalls:     metricPtr(payload, colRepeat),
			RubricVersionID: versionID,
		})
		versionIDs[versionID] = true
	}
	if err := dbRows.Err(); err != nil {
		return nil, err
	}

	scores := aggregateScores(rows)

	bandsByVersion := make(map[int64][]rules.Band, len(versionIDs))
	for id := range versionIDs {
		bands, err := rules.LoadBands(ctx, pool, id)
		if err != nil {
			return nil, err
		}
		bandsByVersion[id] = bands
	}
	applyBands(scores, bandsByVersion)
	return scores, nil
}

type scorecardRequest struct {
	Scope             string `json:"scope"`
	SourceSystem      string `json:"source_system"`
	FiscalMonthAnchor string `json:"fiscal_month_anchor"`
	Region            string `json:"region,omitempty"`
}

// ScorecardHandler handles POST /reports/scorecard.
func ScorecardHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req scorecardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" || req.SourceSystem == "" {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		anchor, err := time.ParseInLocation(constants.DateFormat, strings.TrimSpace(req.FiscalMonthAnchor), time.UTC)
		if err != nil {
			http.Error(w, constants.ErrBadFiscalAnchor, http.StatusBadRequest)
			return
		}
		scores, err := loadScorecard(r.Context(), pool, req.Scope, req.SourceSystem, anchor, req.Region)
		if err != nil {
			log.Printf("[REPORTS] scorecard load failed: %v", err)
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    scores,
			"count":   len(scores),
		})
	}
}
