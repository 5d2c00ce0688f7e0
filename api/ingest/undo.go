package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
)

// UndoScopeCommit is the only undo scope currently supported: rewind a
// commit, keep the uploaded artifacts.
const UndoScopeCommit = "commit"

// UndoRequest identifies the committed batch to rewind.
type UndoRequest struct {
	UploadSetID string `json:"upload_set_id"`
	Scope       string `json:"scope"`
	// PurgeArtifacts additionally deletes the commit-prefix JSONL/manifest
	// objects. Uploaded source files are never touched.
	PurgeArtifacts bool `json:"purge_artifacts,omitempty"`
}

// UndoCommit rewinds a commit: deletes the batch's raw rows and its pin,
// resets the batch row to UPLOADED, and leaves the upload artifacts in
// storage so a subsequent commit can re-populate rows and pin from them.
func UndoCommit(ctx context.Context, db commitDB, store ObjectStore, req UndoRequest) (*UndoResult, error) {
	if strings.TrimSpace(req.UploadSetID) == "" {
		return nil, errors.New(constants.ErrMissingUploadSetID)
	}
	if scope := strings.TrimSpace(req.Scope); scope != "" && scope != UndoScopeCommit {
		return nil, fmt.Errorf("unsupported undo scope %q", req.Scope)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s%v", constants.ErrTxStartFailed, err)
	}
	defer tx.Rollback(ctx)

	res, commitPfx, err := applyUndoSteps(ctx, tx, req.UploadSetID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s%v", constants.ErrTxCommitFailed, err)
	}

	// Optional artifact cleanup runs after the DB rewind; a storage failure
	// here does not un-undo anything.
	if req.PurgeArtifacts && commitPfx != "" {
		objects, err := store.List(ctx, commitPfx)
		if err != nil {
			log.Printf("[INGEST-UNDO] artifact list failed for batch %s: %v", res.BatchID, err)
		} else {
			for _, obj := range objects {
				if err := store.Delete(ctx, obj.Name); err != nil {
					log.Printf("[INGEST-UNDO] artifact delete failed for %s: %v", obj.Name, err)
					continue
				}
				res.RemovedArtifacts++
			}
		}
	}

	log.Printf("[INGEST-UNDO] batch=%s upload_set=%s deleted_rows=%d pin_removed=%t artifacts_removed=%d",
		res.BatchID, req.UploadSetID, res.DeletedRows, res.PinRemoved, res.RemovedArtifacts)
	return res, nil
}

// applyUndoSteps runs the transactional rewind against q: delete the batch's
// raw rows and pin, reset the batch row to UPLOADED, clear the manifest path.
// Returns the commit prefix the batch carried so the caller can purge
// artifacts after the transaction commits.
func applyUndoSteps(ctx context.Context, q commitStore, uploadSetID string) (*UndoResult, string, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, uploadSetID); err != nil {
		return nil, "", fmt.Errorf("advisory lock: %w", err)
	}

	var batchID, commitPfx string
	err := q.QueryRow(ctx, `
		SELECT batch_id, COALESCE(commit_prefix, '')
		FROM fieldopskpi.ingest_batch
		WHERE upload_set_id = $1
	`, uploadSetID).Scan(&batchID, &commitPfx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrBatchNotFound
		}
		return nil, "", fmt.Errorf(constants.ErrFailedToUndoBatch, err)
	}

	rowTag, err := q.Exec(ctx, `DELETE FROM fieldopskpi.ingest_raw_row WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, "", fmt.Errorf(constants.ErrFailedToUndoBatch, err)
	}
	pinTag, err := q.Exec(ctx, `DELETE FROM fieldopskpi.batch_pin WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, "", fmt.Errorf(constants.ErrFailedToUndoBatch, err)
	}
	_, err = q.Exec(ctx, `
		UPDATE fieldopskpi.ingest_batch
		SET status = $2, manifest_path = NULL, updated_at = now()
		WHERE batch_id = $1
	`, batchID, StatusUploaded)
	if err != nil {
		return nil, "", fmt.Errorf(constants.ErrFailedToUndoBatch, err)
	}

	return &UndoResult{
		BatchID:     batchID,
		UploadSetID: uploadSetID,
		DeletedRows: rowTag.RowsAffected(),
		PinRemoved:  pinTag.RowsAffected() > 0,
	}, commitPfx, nil
}

// UndoHandler handles POST /ingest/undo.
func UndoHandler(pool *pgxpool.Pool, store ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req UndoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadSetID == "" {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		res, err := UndoCommit(r.Context(), pool, store, req)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, ErrBatchNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    res,
		})
	}
}
