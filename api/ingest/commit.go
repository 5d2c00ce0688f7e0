package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/api/rules"
	"FieldOpsKPI/internal/config"
)

// commitStore is the statement surface the commit and undo step sequences
// run against. pgx.Tx and *pgxpool.Pool both provide it.
type commitStore interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// commitDB adds transaction start on top of commitStore. *pgxpool.Pool
// satisfies it.
type commitDB interface {
	commitStore
	Begin(ctx context.Context) (pgx.Tx, error)
}

// rulePinner resolves the rubric version and settings snapshot a batch pins
// to. The production implementation reads through the commit transaction so
// the pin and the status flip see the same rule state.
type rulePinner interface {
	EffectiveRubric(ctx context.Context, scope, sourceSystem string, asOf time.Time) (*rules.RubricVersion, error)
	EffectiveSettings(ctx context.Context, scope, sourceSystem string) (*rules.Settings, error)
}

type txRulePinner struct {
	q rules.Queryer
}

func (p txRulePinner) EffectiveRubric(ctx context.Context, scope, sourceSystem string, asOf time.Time) (*rules.RubricVersion, error) {
	return rules.EffectiveRubric(ctx, p.q, scope, sourceSystem, asOf)
}

func (p txRulePinner) EffectiveSettings(ctx context.Context, scope, sourceSystem string) (*rules.Settings, error) {
	return rules.EffectiveSettings(ctx, p.q, scope, sourceSystem)
}

// DefaultScope is the scorecard scope batches pin under unless the caller
// names another one.
const DefaultScope = "tech_scorecard"

const manifestFileName = "manifest.json"

// CommitRequest identifies the green-lit upload set to commit.
type CommitRequest struct {
	UploadSetID       string `json:"upload_set_id"`
	SourceSystem      string `json:"source_system"`
	FiscalMonthAnchor string `json:"fiscal_month_anchor"`
	Scope             string `json:"scope,omitempty"`
	Note              string `json:"note,omitempty"`
}

// commitRegionAllowlist reads the optional stricter commit-time region
// allowlist from COMMIT_REGION_ALLOWLIST (comma separated). Empty means the
// commit defers entirely to the authoritative master list.
func commitRegionAllowlist() []string {
	raw := strings.TrimSpace(os.Getenv("COMMIT_REGION_ALLOWLIST"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CommitUploadSet runs the commit protocol for one upload set:
//
//  1. resolve batch identity (upsert on unique upload_set_id, status COMMITTING)
//  2. list stored source files
//  3. parse and extract each .xlsx (header check re-run here, not trusted
//     from the caller's gate), writing a JSONL extract per file (best-effort)
//  4. bulk-insert rows in chunks
//  5. write the manifest (best-effort)
//  6. delete superseded rows of other batches for the same source+region+month
//  7. pin the batch to the effective rubric version and settings timestamp
//  8. flip batch status
//
// Steps 4-8 run inside one transaction holding an advisory lock on the
// upload_set_id, so concurrent re-invocations serialize instead of racing.
// Any failure before step 8 leaves the batch in COMMITTING; re-invoking is
// safe and retries from a clean slate. The one terminal exception: an upload
// set whose files yield zero insertable rows is marked FAILED, since
// retrying the same stored files cannot produce a different outcome.
func CommitUploadSet(ctx context.Context, db commitDB, store ObjectStore, regions []string, req CommitRequest) (*CommitResult, error) {
	if strings.TrimSpace(req.UploadSetID) == "" {
		return nil, errors.New(constants.ErrMissingUploadSetID)
	}
	if strings.TrimSpace(req.SourceSystem) == "" {
		return nil, errMissingSourceSystem
	}
	anchor, err := ParseAnchor(req.FiscalMonthAnchor)
	if err != nil {
		return nil, err
	}
	anchorStr := AnchorString(anchor)
	scope := strings.TrimSpace(req.Scope)
	if scope == "" {
		scope = DefaultScope
	}

	srcPrefix := uploadPrefix(req.SourceSystem, anchorStr, req.UploadSetID)
	cmtPrefix := commitPrefix(req.SourceSystem, anchorStr, req.UploadSetID)

	// Step 1: batch identity. Committed in its own transaction so a later
	// failure leaves a durable COMMITTING marker behind for the sweeper and
	// for idempotent retry.
	batchID, err := resolveBatchIdentity(ctx, db, req, anchor, srcPrefix)
	if err != nil {
		return nil, fmt.Errorf(constants.ErrFailedToResolveBatch, err)
	}
	log.Printf("[INGEST-COMMIT] upload_set=%s batch=%s anchor=%s status=%s", req.UploadSetID, batchID, anchorStr, StatusCommitting)

	// Step 2: file listing.
	objects, err := store.List(ctx, srcPrefix)
	if err != nil {
		return nil, fmt.Errorf("list upload prefix: %w", err)
	}
	var sources []StoredObject
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Name, cmtPrefix) {
			sources = append(sources, obj)
		}
	}
	if len(sources) == 0 {
		return nil, errNoStoredObjects
	}

	// Step 3: per-file parse and extract. Structural failures are per-file;
	// sibling files keep processing.
	var (
		allRows     []RawRow
		fileResults []CommitFileResult
		failedFiles int
	)
	for _, obj := range sources {
		fr, rows := commitExtractFile(ctx, store, regions, cmtPrefix, obj)
		if !fr.Success {
			failedFiles++
		}
		allRows = append(allRows, rows...)
		fileResults = append(fileResults, fr)
	}
	if len(allRows) == 0 {
		// Terminal: the stored files cannot yield rows no matter how often
		// commit retries. A fresh commit request for the same upload set
		// still resets the batch to COMMITTING through step 1.
		if _, uErr := db.Exec(ctx, `
			UPDATE fieldopskpi.ingest_batch
			SET status = $2, updated_at = now()
			WHERE batch_id = $1
		`, batchID, StatusFailed); uErr != nil {
			log.Printf("[INGEST-COMMIT] failed-status update for batch %s: %v", batchID, uErr)
		}
		return nil, fmt.Errorf("no data rows extracted (%d of %d files failed)", failedFiles, len(sources))
	}

	// Stricter commit-time safety net on top of the master list.
	if allow := commitRegionAllowlist(); len(allow) > 0 {
		allowed := make(map[string]bool, len(allow))
		for _, a := range allow {
			allowed[NormalizeRegionText(a)] = true
		}
		for _, region := range distinctRegions(allRows) {
			if !allowed[NormalizeRegionText(region)] {
				return nil, fmt.Errorf("%w: %q", errRegionNotAllowed, region)
			}
		}
	}

	// Step 5: manifest. Storage-resident audit record, written before the
	// transaction so a retry overwrites any stale copy; its write failure is
	// a warning, never a commit blocker.
	manifest := CommitManifest{
		ManifestVersion:   1,
		OK:                failedFiles == 0,
		SourceSystem:      req.SourceSystem,
		UploadSetID:       req.UploadSetID,
		BatchID:           batchID,
		FiscalMonthAnchor: anchorStr,
		SourcePrefix:      srcPrefix,
		CommitPrefix:      cmtPrefix,
		Counts: manifestCounts{
			Listed:      len(sources),
			CommittedOK: len(sources) - failedFiles,
			Failed:      failedFiles,
			TotalRows:   len(allRows),
		},
		Files:     fileResults,
		CreatedAt: time.Now().UTC(),
	}
	manifestPath := cmtPrefix + manifestFileName
	if data, mErr := json.Marshal(manifest); mErr != nil {
		log.Printf("[INGEST-COMMIT] manifest marshal failed for batch %s: %v", batchID, mErr)
		manifestPath = ""
	} else if _, pErr := store.Put(ctx, manifestPath, data, constants.ContentTypeJSON); pErr != nil {
		log.Printf("[INGEST-COMMIT] manifest write failed for batch %s: %v", batchID, pErr)
		manifestPath = ""
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s%v", constants.ErrTxStartFailed, err)
	}
	defer tx.Rollback(ctx)

	outcome, err := applyCommitSteps(ctx, tx, txRulePinner{q: tx}, commitPlan{
		batchID:      batchID,
		uploadSetID:  req.UploadSetID,
		sourceSystem: req.SourceSystem,
		scope:        scope,
		anchor:       anchor,
		rows:         allRows,
		failedFiles:  failedFiles,
		manifestPath: manifestPath,
		commitPrefix: cmtPrefix,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s%v", constants.ErrTxCommitFailed, err)
	}

	log.Printf("[INGEST-COMMIT] batch=%s status=%s rows=%d failed_files=%d rubric_version=%d settings_pinned_at=%s",
		batchID, outcome.status, len(allRows), failedFiles, outcome.rubric.ID, outcome.settings.UpdatedAt.Format(constants.DateTimeFormat))

	return &CommitResult{
		BatchID:           batchID,
		UploadSetID:       req.UploadSetID,
		Status:            outcome.status,
		FiscalMonthAnchor: anchorStr,
		TotalRows:         len(allRows),
		FailedFiles:       failedFiles,
		ManifestPath:      manifestPath,
		CommitPrefix:      cmtPrefix,
		Files:             fileResults,
	}, nil
}

// commitPlan carries the resolved inputs of one commit attempt into the
// transactional step sequence.
type commitPlan struct {
	batchID      string
	uploadSetID  string
	sourceSystem string
	scope        string
	anchor       time.Time
	rows         []RawRow
	failedFiles  int
	manifestPath string
	commitPrefix string
}

// commitOutcome reports the status and pinned rule state a successful step
// sequence produced.
type commitOutcome struct {
	status   string
	rubric   *rules.RubricVersion
	settings *rules.Settings
}

// applyCommitSteps runs the transactional core of the commit protocol,
// steps 4 and 6-8, against q. The caller owns the transaction; any error
// here must roll it back, which leaves the batch in COMMITTING.
func applyCommitSteps(ctx context.Context, q commitStore, pins rulePinner, plan commitPlan) (*commitOutcome, error) {
	anchorStr := AnchorString(plan.anchor)

	// Serialize concurrent commits of the same upload set for the life of
	// this transaction.
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, plan.uploadSetID); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	// Step 4: bulk row insert in chunks. Re-commit replaces: clear any rows
	// a previous attempt left for this batch first.
	if _, err := q.Exec(ctx, `DELETE FROM fieldopskpi.ingest_raw_row WHERE batch_id = $1`, plan.batchID); err != nil {
		return nil, fmt.Errorf(constants.ErrFailedToInsertRawRows, err)
	}
	for _, chunk := range chunkRows(plan.rows, config.CommitChunkSize) {
		if err := insertRowChunk(ctx, q, plan.batchID, chunk); err != nil {
			return nil, fmt.Errorf(constants.ErrFailedToInsertRawRows, err)
		}
	}

	// Step 6: housekeeping. Only the latest commit per source+region+month
	// stays live; superseded batches lose their rows but keep batch row, pin
	// history removal happens through undo, and storage artifacts remain.
	// Scoped to this batch's source_system: sibling source systems keep
	// their committed rows for the same region and month.
	for _, region := range distinctRegions(plan.rows) {
		tag, err := q.Exec(ctx, `
			DELETE FROM fieldopskpi.ingest_raw_row r
			USING fieldopskpi.ingest_batch b
			WHERE r.batch_id = b.batch_id
			  AND b.source_system = $1
			  AND b.fiscal_month_anchor = $2
			  AND r.region = $3
			  AND r.batch_id <> $4
		`, plan.sourceSystem, plan.anchor, region, plan.batchID)
		if err != nil {
			return nil, fmt.Errorf(constants.ErrFailedToHousekeep, err)
		}
		if n := tag.RowsAffected(); n > 0 {
			log.Printf("[INGEST-COMMIT] superseded %d rows for source=%s region=%s month=%s", n, plan.sourceSystem, region, anchorStr)
		}
	}

	// Step 7: historical rule pinning. Must complete before the status flip;
	// a batch must never read as committed without its pin.
	rubric, err := pins.EffectiveRubric(ctx, plan.scope, plan.sourceSystem, plan.anchor)
	if err != nil {
		if errors.Is(err, rules.ErrNoEffectiveVersion) {
			return nil, fmt.Errorf("%w (scope=%s source=%s month=%s)", ErrNoPinnableRubric, plan.scope, plan.sourceSystem, anchorStr)
		}
		return nil, fmt.Errorf(constants.ErrFailedToResolveRubric, err)
	}
	settings, err := pins.EffectiveSettings(ctx, plan.scope, plan.sourceSystem)
	if err != nil {
		if errors.Is(err, rules.ErrNoSettings) {
			return nil, fmt.Errorf("%w (scope=%s source=%s)", ErrNoPinnableSettings, plan.scope, plan.sourceSystem)
		}
		return nil, fmt.Errorf(constants.ErrFailedToResolveSettings, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO fieldopskpi.batch_pin (batch_id, scope, source_system, fiscal_month_anchor, rubric_version_id, settings_pinned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id) DO UPDATE SET
			scope = EXCLUDED.scope,
			source_system = EXCLUDED.source_system,
			fiscal_month_anchor = EXCLUDED.fiscal_month_anchor,
			rubric_version_id = EXCLUDED.rubric_version_id,
			settings_pinned_at = EXCLUDED.settings_pinned_at
	`, plan.batchID, plan.scope, plan.sourceSystem, plan.anchor, rubric.ID, settings.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf(constants.ErrFailedToPinBatch, err)
	}

	// Step 8: finalize.
	status := StatusCommitted
	if plan.failedFiles > 0 {
		status = StatusCommittedWithErrors
	}
	_, err = q.Exec(ctx, `
		UPDATE fieldopskpi.ingest_batch
		SET status = $2, commit_prefix = $3, manifest_path = $4, updated_at = now()
		WHERE batch_id = $1
	`, plan.batchID, status, plan.commitPrefix, plan.manifestPath)
	if err != nil {
		return nil, fmt.Errorf(constants.ErrFailedToFinalizeBatch, err)
	}

	return &commitOutcome{status: status, rubric: rubric, settings: settings}, nil
}

// resolveBatchIdentity upserts the batch row keyed by unique upload_set_id
// and returns the durable batch_id. Re-running commit for the same upload set
// reuses the same batch.
func resolveBatchIdentity(ctx context.Context, q commitStore, req CommitRequest, anchor time.Time, srcPrefix string) (string, error) {
	var batchID string
	err := q.QueryRow(ctx, `
		INSERT INTO fieldopskpi.ingest_batch (batch_id, upload_set_id, source_system, fiscal_month_anchor, status, storage_prefix, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_set_id) DO UPDATE SET
			status = $5,
			fiscal_month_anchor = EXCLUDED.fiscal_month_anchor,
			note = EXCLUDED.note,
			updated_at = now()
		RETURNING batch_id
	`, uuid.New().String(), req.UploadSetID, req.SourceSystem, anchor, StatusCommitting, srcPrefix, req.Note).Scan(&batchID)
	if err != nil {
		return "", errors.New(pgUserFriendlyMessage(err))
	}
	return batchID, nil
}

// commitExtractFile parses one stored source file for commit. Commit accepts
// only the canonical .xlsx format; the header fingerprint check is re-run
// here regardless of what the caller's validation gate reported.
func commitExtractFile(ctx context.Context, store ObjectStore, regions []string, cmtPrefix string, obj StoredObject) (CommitFileResult, []RawRow) {
	fileName := path.Base(obj.Name)
	fr := CommitFileResult{FileName: fileName, Key: obj.Name}

	if getFileExt(fileName) != ".xlsx" {
		fr.Error = fmt.Sprintf("unsupported file type %q: commit requires .xlsx", getFileExt(fileName))
		return fr, nil
	}
	data, err := store.Get(ctx, obj.Name)
	if err != nil {
		fr.Error = "fetch failed: " + err.Error()
		return fr, nil
	}
	wb, err := readXLSX(data)
	if err != nil {
		fr.Error = err.Error()
		return fr, nil
	}
	sheetName, got, ok := matchHeaderRows(wb.sheetOrder, wb.sheets)
	if !ok {
		fr.Error = fmt.Sprintf("%s (attempted %q, expected %q)", errHeaderMismatch.Error(), got, ExpectedFingerprint())
		return fr, nil
	}
	fr.MatchedSheet = sheetName

	rows := wb.sheets[sheetName]
	region := DetectRegion(titleText(rows), regions)
	if region == "" {
		region = DetectRegion(fileName, regions)
	}
	extracted, stats := ExtractRows(fileName, sheetName, rows, ExpectedHeaders, extractOptions{detectedRegion: region})
	fr.RowsExtracted = stats.RowsKept
	fr.Success = true

	// JSONL extract is a best-effort artifact; its failure downgrades the
	// file to a warning, never a failure.
	artifactPath := cmtPrefix + fileName + ".jsonl"
	if jsonl, err := rowsToJSONL(extracted); err != nil {
		fr.Warning = "jsonl encode failed: " + err.Error()
	} else if _, err := store.Put(ctx, artifactPath, jsonl, "application/x-ndjson"); err != nil {
		fr.Warning = "jsonl write failed: " + err.Error()
	} else {
		fr.ArtifactPath = artifactPath
	}
	return fr, extracted
}

func rowsToJSONL(rows []RawRow) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// chunkRows splits rows into insert chunks of at most size.
func chunkRows(rows []RawRow, size int) [][]RawRow {
	if size <= 0 {
		return [][]RawRow{rows}
	}
	var chunks [][]RawRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// distinctRegions returns the sorted distinct region keys present in rows.
// The empty region is a key of its own so unregioned rows supersede too.
func distinctRegions(rows []RawRow) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		seen[r.Region] = true
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// execer is the statement-execution capability insertRowChunk needs; pgx.Tx
// provides it.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertRowChunk bulk-inserts one chunk with a multi-row VALUES statement.
func insertRowChunk(ctx context.Context, q execer, batchID string, chunk []RawRow) error {
	valueStrings := make([]string, 0, len(chunk))
	valueArgs := make([]interface{}, 0, len(chunk)*7)
	for i, r := range chunk {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			i*7+1, i*7+2, i*7+3, i*7+4, i*7+5, i*7+6, i*7+7))
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return err
		}
		valueArgs = append(valueArgs, batchID, r.SourceFile, r.SheetName, r.RowNum, r.TechID, r.Region, string(payload))
	}
	stmt := `INSERT INTO fieldopskpi.ingest_raw_row (batch_id, source_file, sheet_name, row_num, tech_id, region, payload) VALUES ` +
		strings.Join(valueStrings, ",")
	_, err := q.Exec(ctx, stmt, valueArgs...)
	return err
}

// CommitHandler handles POST /ingest/commit.
func CommitHandler(pool *pgxpool.Pool, store ObjectStore, regions RegionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req CommitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadSetID == "" {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		// An erroring region master is a hard stop, never "no restrictions":
		// committing without the authoritative list would key rows on
		// whatever region text the raw payload carries.
		regionList, err := regions.ActiveRegions(r.Context())
		if err != nil {
			log.Printf("[INGEST-COMMIT] region master lookup failed for upload_set=%s: %v", req.UploadSetID, err)
			w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "authoritative region list unavailable; commit refused",
			})
			return
		}
		res, err := CommitUploadSet(r.Context(), pool, store, regionList, req)
		if err != nil {
			log.Printf("[INGEST-COMMIT] commit failed for upload_set=%s: %v", req.UploadSetID, err)
			w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    res,
		})
	}
}
