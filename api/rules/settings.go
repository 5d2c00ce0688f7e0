package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
)

// ErrNoSettings means no settings row exists yet for a scope/source pair.
// Like the rubric, a commit cannot pin without one.
var ErrNoSettings = errors.New("no report settings exist for scope/source_system")

// Settings is one append-only settings record. Pinning captures updated_at;
// rows are never updated in place, so a pinned timestamp always identifies
// exactly the content that was live at commit time.
type Settings struct {
	ID           int64           `json:"settings_id"`
	Scope        string          `json:"scope"`
	SourceSystem string          `json:"source_system"`
	Settings     json.RawMessage `json:"settings"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EffectiveSettings returns the most recent settings row for a scope/source.
func EffectiveSettings(ctx context.Context, q Queryer, scope, sourceSystem string) (*Settings, error) {
	var s Settings
	err := q.QueryRow(ctx, `
		SELECT settings_id, scope, source_system, settings, updated_at
		FROM fieldopskpi.report_settings
		WHERE scope = $1 AND source_system = $2
		ORDER BY updated_at DESC, settings_id DESC
		LIMIT 1
	`, scope, sourceSystem).Scan(&s.ID, &s.Scope, &s.SourceSystem, &s.Settings, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSettings
		}
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &s, nil
}

// SettingsAsOf returns the settings row a batch pin captured: the newest row
// with updated_at <= pinnedAt. Reporting readers use this, never the latest.
func SettingsAsOf(ctx context.Context, q Queryer, scope, sourceSystem string, pinnedAt time.Time) (*Settings, error) {
	var s Settings
	err := q.QueryRow(ctx, `
		SELECT settings_id, scope, source_system, settings, updated_at
		FROM fieldopskpi.report_settings
		WHERE scope = $1 AND source_system = $2 AND updated_at <= $3
		ORDER BY updated_at DESC, settings_id DESC
		LIMIT 1
	`, scope, sourceSystem, pinnedAt).Scan(&s.ID, &s.Scope, &s.SourceSystem, &s.Settings, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSettings
		}
		return nil, fmt.Errorf("load settings as of %s: %w", pinnedAt.Format(constants.DateTimeFormat), err)
	}
	return &s, nil
}

// UpsertSettingsHandler handles POST /rules/settings. "Update" inserts a new
// row with a fresh updated_at; history stays intact for pinned batches.
func UpsertSettingsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Scope        string          `json:"scope"`
			SourceSystem string          `json:"source_system"`
			Settings     json.RawMessage `json:"settings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" || req.SourceSystem == "" || len(req.Settings) == 0 {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		var (
			id        int64
			updatedAt time.Time
		)
		err := pool.QueryRow(r.Context(), `
			INSERT INTO fieldopskpi.report_settings (scope, source_system, settings, updated_at)
			VALUES ($1, $2, $3, now())
			RETURNING settings_id, updated_at
		`, req.Scope, req.SourceSystem, req.Settings).Scan(&id, &updatedAt)
		if err != nil {
			log.Printf("[RULES] settings insert failed: %v", err)
			http.Error(w, constants.ErrDB, http.StatusInternalServerError)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     true,
			"settings_id": id,
			"updated_at":  updatedAt,
		})
	}
}

// GetSettingsHandler handles GET /rules/settings?scope=&source_system=.
func GetSettingsHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		sourceSystem := r.URL.Query().Get("source_system")
		if scope == "" || sourceSystem == "" {
			http.Error(w, constants.ErrMissingScope, http.StatusBadRequest)
			return
		}
		s, err := EffectiveSettings(r.Context(), pool, scope, sourceSystem)
		if err != nil {
			if errors.Is(err, ErrNoSettings) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, constants.ErrFailedToQuery, http.StatusInternalServerError)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    s,
		})
	}
}
