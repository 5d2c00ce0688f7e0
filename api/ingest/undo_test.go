package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func undoFakeStore(commitPfx string) *fakeCommitStore {
	return &fakeCommitStore{
		rowFor: func(_ string, _ []any) fakeRow {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "b-1"
				*(dest[1].(*string)) = commitPfx
				return nil
			}}
		},
		tagFor: func(sql string) pgconn.CommandTag {
			switch {
			case strings.Contains(sql, "ingest_raw_row"):
				return pgconn.NewCommandTag("DELETE 5")
			case strings.Contains(sql, "batch_pin"):
				return pgconn.NewCommandTag("DELETE 1")
			}
			return pgconn.NewCommandTag("OK 0")
		},
	}
}

func TestApplyUndoStepsRewindsBatch(t *testing.T) {
	store := undoFakeStore("fieldops/2025-04-21/u-1/commit/")

	res, pfx, err := applyUndoSteps(context.Background(), store, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", res.BatchID)
	assert.Equal(t, int64(5), res.DeletedRows)
	assert.True(t, res.PinRemoved)
	assert.Equal(t, "fieldops/2025-04-21/u-1/commit/", pfx)

	reset := stmtIndex(store.stmts, "SET status")
	require.GreaterOrEqual(t, reset, 0)
	assert.Equal(t, StatusUploaded, store.stmts[reset].args[1],
		"undo rewinds to the pre-commit state")
	assert.Contains(t, store.stmts[reset].sql, "manifest_path = NULL")

	assert.GreaterOrEqual(t, stmtIndex(store.stmts, "DELETE FROM fieldopskpi.ingest_raw_row"), 0)
	assert.GreaterOrEqual(t, stmtIndex(store.stmts, "DELETE FROM fieldopskpi.batch_pin"), 0)
}

func TestApplyUndoStepsUnknownUploadSet(t *testing.T) {
	store := &fakeCommitStore{
		rowFor: func(_ string, _ []any) fakeRow {
			return fakeRow{err: pgx.ErrNoRows}
		},
	}
	_, _, err := applyUndoSteps(context.Background(), store, "missing")
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestUndoCommitPurgesArtifactsKeepsSources(t *testing.T) {
	ctx := context.Background()
	objects := newMemStore()
	pfx := commitPrefix("fieldops", "2025-04-21", "u-1")
	_, err := objects.Put(ctx, pfx+"manifest.json", []byte("{}"), "application/json")
	require.NoError(t, err)
	_, err = objects.Put(ctx, pfx+"report.xlsx.jsonl", []byte("{}"), "application/x-ndjson")
	require.NoError(t, err)
	srcKey := uploadPrefix("fieldops", "2025-04-21", "u-1") + "report.xlsx"
	_, err = objects.Put(ctx, srcKey, []byte("source"), "application/octet-stream")
	require.NoError(t, err)

	tx := &fakeTx{fakeCommitStore: undoFakeStore(pfx)}
	db := &fakeCommitDB{tx: tx}

	res, err := UndoCommit(ctx, db, objects, UndoRequest{UploadSetID: "u-1", PurgeArtifacts: true})
	require.NoError(t, err)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	assert.Equal(t, 2, res.RemovedArtifacts)

	_, err = objects.Get(ctx, srcKey)
	assert.NoError(t, err, "uploaded sources survive the purge")
	_, err = objects.Get(ctx, pfx+"manifest.json")
	assert.Error(t, err, "commit artifacts are gone")
}
