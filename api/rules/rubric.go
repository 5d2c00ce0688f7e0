package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"FieldOpsKPI/api/constants"
)

// ErrNoEffectiveVersion means no active rubric version has an effective-from
// anchor at or before the requested month. Commits must fail on this: a batch
// is never allowed to commit without a pinnable rubric.
var ErrNoEffectiveVersion = errors.New("no active rubric version effective for the requested month")

// Queryer is the slice of pgx both *pgxpool.Pool and pgx.Tx satisfy; rule
// resolution runs inside the commit transaction as well as standalone.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RubricVersion is a named, dated set of scoring-band thresholds.
type RubricVersion struct {
	ID                int64     `json:"rubric_version_id"`
	Scope             string    `json:"scope"`
	SourceSystem      string    `json:"source_system"`
	FiscalMonthAnchor time.Time `json:"fiscal_month_anchor"`
	Active            bool      `json:"active"`
	CommittedAt       time.Time `json:"committed_at"`
	CommittedBy       string    `json:"committed_by,omitempty"`
}

// Band is one scoring-band threshold of a rubric version. Min/Max bound the
// metric value for the band; either side may be open.
type Band struct {
	Metric string           `json:"metric"`
	Band   string           `json:"band"`
	Min    *decimal.Decimal `json:"min,omitempty"`
	Max    *decimal.Decimal `json:"max,omitempty"`
}

// pickEffective selects, from the active versions of one scope/source, the
// version with the greatest effective-from anchor that is still <= asOf.
// This is the point-in-time rule of the whole system: callers always say
// "effective as of month M", never "current".
func pickEffective(versions []RubricVersion, asOf time.Time) *RubricVersion {
	var best *RubricVersion
	for i := range versions {
		v := &versions[i]
		if !v.Active || v.FiscalMonthAnchor.After(asOf) {
			continue
		}
		if best == nil || v.FiscalMonthAnchor.After(best.FiscalMonthAnchor) {
			best = v
		}
	}
	return best
}

// EffectiveRubric resolves the rubric version effective for fiscal month
// asOf. Returns ErrNoEffectiveVersion when nothing qualifies.
func EffectiveRubric(ctx context.Context, q Queryer, scope, sourceSystem string, asOf time.Time) (*RubricVersion, error) {
	rows, err := q.Query(ctx, `
		SELECT rubric_version_id, scope, source_system, fiscal_month_anchor, active, committed_at, COALESCE(committed_by, '')
		FROM fieldopskpi.rubric_version
		WHERE scope = $1 AND source_system = $2 AND active = true
	`, scope, sourceSystem)
	if err != nil {
		return nil, fmt.Errorf("load rubric versions: %w", err)
	}
	defer rows.Close()

	var versions []RubricVersion
	for rows.Next() {
		var v RubricVersion
		if err := rows.Scan(&v.ID, &v.Scope, &v.SourceSystem, &v.FiscalMonthAnchor, &v.Active, &v.CommittedAt, &v.CommittedBy); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	best := pickEffective(versions, asOf)
	if best == nil {
		return nil, ErrNoEffectiveVersion
	}
	return best, nil
}

// LoadBands returns the threshold bands of one rubric version.
func LoadBands(ctx context.Context, q Queryer, rubricVersionID int64) ([]Band, error) {
	// numeric columns come back as text and go through decimal to keep
	// threshold comparisons exact.
	rows, err := q.Query(ctx, `
		SELECT metric, band, min_score::text, max_score::text
		FROM fieldopskpi.rubric_band
		WHERE rubric_version_id = $1
		ORDER BY metric, band_id
	`, rubricVersionID)
	if err != nil {
		return nil, fmt.Errorf("load rubric bands: %w", err)
	}
	defer rows.Close()

	var bands []Band
	for rows.Next() {
		var (
			b          Band
			minS, maxS *string
		)
		if err := rows.Scan(&b.Metric, &b.Band, &minS, &maxS); err != nil {
			return nil, err
		}
		if minS != nil {
			d, err := decimal.NewFromString(*minS)
			if err != nil {
				return nil, fmt.Errorf("bad min_score %q: %w", *minS, err)
			}
			b.Min = &d
		}
		if maxS != nil {
			d, err := decimal.NewFromString(*maxS)
			if err != nil {
				return nil, fmt.Errorf("bad max_score %q: %w", *maxS, err)
			}
			b.Max = &d
		}
		bands = append(bands, b)
	}
	return bands, rows.Err()
}

// EffectiveHandler handles POST /rules/effective: point-in-time rubric
// resolution, used by the commit pinning step and by reporting readers.
func EffectiveHandler(q Queryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Scope             string `json:"scope"`
			SourceSystem      string `json:"source_system"`
			FiscalMonthAnchor string `json:"fiscal_month_anchor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" || req.SourceSystem == "" {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		asOf, err := time.ParseInLocation(constants.DateFormat, strings.TrimSpace(req.FiscalMonthAnchor), time.UTC)
		if err != nil {
			http.Error(w, constants.ErrBadFiscalAnchor, http.StatusBadRequest)
			return
		}

		ver, err := EffectiveRubric(r.Context(), q, req.Scope, req.SourceSystem, asOf)
		if err != nil {
			if errors.Is(err, ErrNoEffectiveVersion) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			log.Printf("[RULES] effective rubric lookup failed: %v", err)
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		bands, err := LoadBands(r.Context(), q, ver.ID)
		if err != nil {
			log.Printf("[RULES] band load failed: %v", err)
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"version": ver,
			"bands":   bands,
		})
	}
}
