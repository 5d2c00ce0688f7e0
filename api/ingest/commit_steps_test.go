package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FieldOpsKPI/api/rules"
)

// recordedStmt is one statement issued against the fake store.
type recordedStmt struct {
	sql  string
	args []any
}

// fakeCommitStore records statements and serves canned rows so the
// transactional step sequences run without a database.
type fakeCommitStore struct {
	stmts   []recordedStmt
	execErr func(sql string) error
	tagFor  func(sql string) pgconn.CommandTag
	rowFor  func(sql string, args []any) fakeRow
}

func (f *fakeCommitStore) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, recordedStmt{sql: sql, args: args})
	if f.execErr != nil {
		if err := f.execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	if f.tagFor != nil {
		return f.tagFor(sql), nil
	}
	return pgconn.NewCommandTag("OK 0"), nil
}

func (f *fakeCommitStore) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.stmts = append(f.stmts, recordedStmt{sql: sql, args: args})
	if f.rowFor == nil {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return f.rowFor(sql, args)
}

// fakeRow satisfies pgx.Row.
type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scan != nil {
		return r.scan(dest...)
	}
	return nil
}

// fakeTx satisfies pgx.Tx over a fakeCommitStore. Methods the step sequences
// never touch report errors instead of panicking.
type fakeTx struct {
	*fakeCommitStore
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested begin not supported")
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("copy not supported")
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("prepare not supported")
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported")
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeCommitDB satisfies commitDB: QueryRow/Exec hit the embedded store,
// Begin hands out the configured transaction.
type fakeCommitDB struct {
	fakeCommitStore
	tx *fakeTx
}

func (d *fakeCommitDB) Begin(context.Context) (pgx.Tx, error) {
	if d.tx == nil {
		return nil, errors.New("no transaction expected")
	}
	return d.tx, nil
}

// fakeRulePinner serves canned rubric/settings resolutions.
type fakeRulePinner struct {
	rubric      *rules.RubricVersion
	rubricErr   error
	settings    *rules.Settings
	settingsErr error
}

func (p fakeRulePinner) EffectiveRubric(context.Context, string, string, time.Time) (*rules.RubricVersion, error) {
	return p.rubric, p.rubricErr
}

func (p fakeRulePinner) EffectiveSettings(context.Context, string, string) (*rules.Settings, error) {
	return p.settings, p.settingsErr
}

func stmtIndex(stmts []recordedStmt, substr string) int {
	for i, s := range stmts {
		if strings.Contains(s.sql, substr) {
			return i
		}
	}
	return -1
}

var aprilAnchor = time.Date(2025, time.April, 21, 0, 0, 0, 0, time.UTC)

func aprilPlan(failedFiles int) commitPlan {
	return commitPlan{
		batchID:      "b-1",
		uploadSetID:  "u-1",
		sourceSystem: "fieldops",
		scope:        DefaultScope,
		anchor:       aprilAnchor,
		rows: []RawRow{
			{SourceFile: "a.xlsx", SheetName: "Data", RowNum: 3, TechID: "T1", Region: "DALLAS"},
			{SourceFile: "a.xlsx", SheetName: "Data", RowNum: 4, TechID: "T2", Region: "HOUSTON"},
		},
		failedFiles:  failedFiles,
		manifestPath: "fieldops/2025-04-21/u-1/commit/manifest.json",
		commitPrefix: "fieldops/2025-04-21/u-1/commit/",
	}
}

func healthyPinner() fakeRulePinner {
	return fakeRulePinner{
		rubric:   &rules.RubricVersion{ID: 7, Scope: DefaultScope, SourceSystem: "fieldops"},
		settings: &rules.Settings{ID: 3, UpdatedAt: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestApplyCommitStepsStatementSequence(t *testing.T) {
	store := &fakeCommitStore{}
	outcome, err := applyCommitSteps(context.Background(), store, healthyPinner(), aprilPlan(0))
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, outcome.status)
	require.NotNil(t, outcome.rubric)
	assert.Equal(t, int64(7), outcome.rubric.ID)

	lock := stmtIndex(store.stmts, "pg_advisory_xact_lock")
	clear := stmtIndex(store.stmts, "DELETE FROM fieldopskpi.ingest_raw_row WHERE batch_id")
	insert := stmtIndex(store.stmts, "INSERT INTO fieldopskpi.ingest_raw_row")
	housekeep := stmtIndex(store.stmts, "USING fieldopskpi.ingest_batch b")
	pin := stmtIndex(store.stmts, "INSERT INTO fieldopskpi.batch_pin")
	finalize := stmtIndex(store.stmts, "SET status")

	require.GreaterOrEqual(t, lock, 0)
	assert.Equal(t, "u-1", store.stmts[lock].args[0], "lock keys on the upload set")
	require.True(t, lock < clear && clear < insert && insert < housekeep && housekeep < pin && pin < finalize,
		"lock, clear, insert, housekeep, pin, finalize in that order")

	pinArgs := store.stmts[pin].args
	assert.Equal(t, "b-1", pinArgs[0])
	assert.Equal(t, int64(7), pinArgs[4], "pin carries the resolved rubric version")

	finArgs := store.stmts[finalize].args
	assert.Equal(t, "b-1", finArgs[0])
	assert.Equal(t, StatusCommitted, finArgs[1])
}

func TestApplyCommitStepsMarksErrorsWhenFilesFailed(t *testing.T) {
	store := &fakeCommitStore{}
	outcome, err := applyCommitSteps(context.Background(), store, healthyPinner(), aprilPlan(1))
	require.NoError(t, err)
	assert.Equal(t, StatusCommittedWithErrors, outcome.status)

	finalize := stmtIndex(store.stmts, "SET status")
	require.GreaterOrEqual(t, finalize, 0)
	assert.Equal(t, StatusCommittedWithErrors, store.stmts[finalize].args[1])
}

func TestApplyCommitStepsHousekeepsPerSourceAndRegion(t *testing.T) {
	store := &fakeCommitStore{}
	_, err := applyCommitSteps(context.Background(), store, healthyPinner(), aprilPlan(0))
	require.NoError(t, err)

	var housekeeping []recordedStmt
	for _, s := range store.stmts {
		if strings.Contains(s.sql, "USING fieldopskpi.ingest_batch b") {
			housekeeping = append(housekeeping, s)
		}
	}
	require.Len(t, housekeeping, 2, "one sweep per distinct region")
	for i, region := range []string{"DALLAS", "HOUSTON"} {
		assert.Contains(t, housekeeping[i].sql, "b.source_system = $1",
			"sweep never crosses source systems")
		assert.Equal(t, "fieldops", housekeeping[i].args[0])
		assert.Equal(t, aprilAnchor, housekeeping[i].args[1])
		assert.Equal(t, region, housekeeping[i].args[2])
		assert.Equal(t, "b-1", housekeeping[i].args[3], "the committing batch keeps its own rows")
	}
}

func TestApplyCommitStepsPinFailureBlocksFinalize(t *testing.T) {
	store := &fakeCommitStore{}
	pins := healthyPinner()
	pins.rubric = nil
	pins.rubricErr = rules.ErrNoEffectiveVersion

	_, err := applyCommitSteps(context.Background(), store, pins, aprilPlan(0))
	require.ErrorIs(t, err, ErrNoPinnableRubric)
	assert.Equal(t, -1, stmtIndex(store.stmts, "batch_pin"), "no pin row without a rubric")
	assert.Equal(t, -1, stmtIndex(store.stmts, "SET status"), "status stays COMMITTING for retry")
}

func TestApplyCommitStepsSettingsFailureBlocksFinalize(t *testing.T) {
	store := &fakeCommitStore{}
	pins := healthyPinner()
	pins.settings = nil
	pins.settingsErr = rules.ErrNoSettings

	_, err := applyCommitSteps(context.Background(), store, pins, aprilPlan(0))
	require.ErrorIs(t, err, ErrNoPinnableSettings)
	assert.Equal(t, -1, stmtIndex(store.stmts, "batch_pin"))
	assert.Equal(t, -1, stmtIndex(store.stmts, "SET status"))
}

func TestApplyCommitStepsReplacesPriorAttemptRows(t *testing.T) {
	store := &fakeCommitStore{}
	_, err := applyCommitSteps(context.Background(), store, healthyPinner(), aprilPlan(0))
	require.NoError(t, err)

	clear := stmtIndex(store.stmts, "DELETE FROM fieldopskpi.ingest_raw_row WHERE batch_id")
	insert := stmtIndex(store.stmts, "INSERT INTO fieldopskpi.ingest_raw_row")
	require.GreaterOrEqual(t, clear, 0)
	assert.Equal(t, "b-1", store.stmts[clear].args[0])
	assert.Less(t, clear, insert, "a re-commit clears its prior attempt before inserting")
}

func TestResolveBatchIdentityReusesBatch(t *testing.T) {
	store := &fakeCommitStore{
		rowFor: func(_ string, _ []any) fakeRow {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "b-77"
				return nil
			}}
		},
	}
	req := CommitRequest{UploadSetID: "u-1", SourceSystem: "fieldops", FiscalMonthAnchor: "2025-04-21"}

	first, err := resolveBatchIdentity(context.Background(), store, req, aprilAnchor, "fieldops/2025-04-21/u-1/")
	require.NoError(t, err)
	second, err := resolveBatchIdentity(context.Background(), store, req, aprilAnchor, "fieldops/2025-04-21/u-1/")
	require.NoError(t, err)
	assert.Equal(t, first, second, "re-running commit reuses the batch identity")

	require.Len(t, store.stmts, 2)
	assert.Contains(t, store.stmts[0].sql, "ON CONFLICT (upload_set_id)")
	assert.Equal(t, "u-1", store.stmts[0].args[1])
	assert.Equal(t, StatusCommitting, store.stmts[0].args[4], "the upsert rearms the COMMITTING marker")
}

func TestCommitUploadSetMarksBatchFailedWhenNothingExtracts(t *testing.T) {
	db := &fakeCommitDB{
		fakeCommitStore: fakeCommitStore{
			rowFor: func(_ string, _ []any) fakeRow {
				return fakeRow{scan: func(dest ...any) error {
					*(dest[0].(*string)) = "b-9"
					return nil
				}}
			},
		},
	}
	store := newMemStore()
	prefix := uploadPrefix("fieldops", "2025-04-21", "u-9")
	_, err := store.Put(context.Background(), prefix+"report.csv", []byte("Tech ID,Region\nT1,DALLAS\n"), "text/csv")
	require.NoError(t, err)

	_, err = CommitUploadSet(context.Background(), db, store, []string{"DALLAS"}, CommitRequest{
		UploadSetID:       "u-9",
		SourceSystem:      "fieldops",
		FiscalMonthAnchor: "2025-04-21",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data rows extracted")

	failed := stmtIndex(db.stmts, "SET status")
	require.GreaterOrEqual(t, failed, 0, "zero extractable rows flips the batch terminal")
	assert.Equal(t, "b-9", db.stmts[failed].args[0])
	assert.Equal(t, StatusFailed, db.stmts[failed].args[1])
}

func TestCommitHandlerRefusesWhenRegionMasterUnavailable(t *testing.T) {
	h := CommitHandler(nil, newMemStore(), staticRegions{err: errors.New("connection refused")})

	body := `{"upload_set_id":"u-1","source_system":"fieldops","fiscal_month_anchor":"2025-04-21"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/commit", strings.NewReader(body))
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"].(string), "region list unavailable")
}
