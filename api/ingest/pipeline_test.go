package ingest

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"FieldOpsKPI/api/constants"
)

// memStore is the in-memory ObjectStore test double.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte{}, body...)
	return "mem://" + key, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("not found: " + key)
	}
	return b, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredObject
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, StoredObject{Name: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// staticRegions is the RegionProvider test double.
type staticRegions struct {
	regions []string
	err     error
}

func (s staticRegions) ActiveRegions(context.Context) ([]string, error) {
	return s.regions, s.err
}

// buildWorkbook renders a single-sheet xlsx with the given title, header and
// data rows.
func buildWorkbook(t *testing.T, title string, headers []string, dataRows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{title}))

	hdr := make([]interface{}, len(headers))
	for i, h := range headers {
		hdr[i] = h
	}
	require.NoError(t, f.SetSheetRow(sheet, "A2", &hdr))

	for i, row := range dataRows {
		cells := make([]interface{}, len(row))
		for j, c := range row {
			cells[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &cells))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func goodWorkbook(t *testing.T, title string) []byte {
	return buildWorkbook(t, title, ExpectedHeaders, [][]string{
		{"1001", "Jane Doe", "DALLAS", "2025-03", "42", "61", "88%", "93%", "2"},
		{"1002", "John Roe", "DALLAS", "2025-03", "17", "55", "81%", "90%", "1"},
		{"GRAND TOTAL", "", "", "", "1000"},
	})
}

func TestUploadFilesStoresUnderAnchorPrefix(t *testing.T) {
	store := newMemStore()
	res, err := UploadFiles(context.Background(), store, "fieldops", "2025-03-30",
		[]UploadFile{
			{Name: "dallas_kpi.xlsx", Data: goodWorkbook(t, "KPI Dallas")},
			{Name: "notes.txt", Data: []byte("skip me")},
		})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StoredCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, "2025-04-21", res.FiscalMonthAnchor, "the 30th rolls onto the next month's anchor")

	objects, err := store.List(context.Background(), res.StoragePrefix)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.True(t, strings.HasSuffix(objects[0].Name, "/dallas_kpi.xlsx"))
}

func TestUploadFilesRejectsMissingInput(t *testing.T) {
	store := newMemStore()
	_, err := UploadFiles(context.Background(), store, "", "2025-03-10", []UploadFile{{Name: "a.xlsx"}})
	assert.Error(t, err)

	_, err = UploadFiles(context.Background(), store, "fieldops", "2025-03-10", nil)
	assert.Error(t, err)

	_, err = UploadFiles(context.Background(), store, "fieldops", "", []UploadFile{{Name: "a.xlsx"}})
	assert.Error(t, err)
}

func TestParseUploadSetRequiresUploadSetID(t *testing.T) {
	_, err := ParseUploadSet(context.Background(), newMemStore(), nil, ParseRequest{
		UploadSetID:       "  ",
		SourceSystem:      "fieldops",
		FiscalMonthAnchor: "2025-03-21",
	})
	require.Error(t, err)
	assert.EqualError(t, err, constants.ErrMissingUploadSetID)
}

func TestParseUploadSetReportsDiagnostics(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	regions := []string{"DALLAS", "HOUSTON"}

	up, err := UploadFiles(ctx, store, "fieldops", "2025-03-10", []UploadFile{
		{Name: "dallas_kpi.xlsx", Data: goodWorkbook(t, "Monthly KPI Report - Dallas")},
		{Name: "broken.xlsx", Data: buildWorkbook(t, "Oops", []string{"Wrong", "Columns"}, nil)},
	})
	require.NoError(t, err)

	parse, err := ParseUploadSet(ctx, store, regions, ParseRequest{
		UploadSetID:       up.UploadSetID,
		SourceSystem:      up.SourceSystem,
		FiscalMonthAnchor: up.FiscalMonthAnchor,
	})
	require.NoError(t, err)
	require.Len(t, parse.Files, 2)

	byName := map[string]ParseFileResult{}
	for _, f := range parse.Files {
		byName[f.FileName] = f
	}

	good := byName["dallas_kpi.xlsx"]
	assert.True(t, good.HeaderMatch)
	assert.Equal(t, "DALLAS", good.DetectedRegion)
	assert.Equal(t, 2, good.EstimatedRows, "footer row must not count")

	bad := byName["broken.xlsx"]
	assert.False(t, bad.HeaderMatch)
	assert.NotEmpty(t, bad.Error)
}

func TestParseUploadSetIgnoresCommitArtifacts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	up, err := UploadFiles(ctx, store, "fieldops", "2025-03-10", []UploadFile{
		{Name: "dallas_kpi.xlsx", Data: goodWorkbook(t, "Monthly KPI Report - Dallas")},
	})
	require.NoError(t, err)

	// Simulate leftovers from an earlier commit run.
	cp := commitPrefix(up.SourceSystem, up.FiscalMonthAnchor, up.UploadSetID)
	_, err = store.Put(ctx, cp+"dallas_kpi.xlsx.jsonl", []byte("{}\n"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, cp+"manifest.json", []byte("{}"), "")
	require.NoError(t, err)

	parse, err := ParseUploadSet(ctx, store, []string{"DALLAS"}, ParseRequest{
		UploadSetID:       up.UploadSetID,
		SourceSystem:      up.SourceSystem,
		FiscalMonthAnchor: up.FiscalMonthAnchor,
	})
	require.NoError(t, err)
	assert.Len(t, parse.Files, 1)
}

func TestRunPipelineStopsAtSoftFail(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	run := RunPipeline(ctx, nil, store, staticRegions{regions: []string{"HOUSTON"}},
		"fieldops", "2025-03-10", "",
		[]UploadFile{{Name: "dallas_kpi.xlsx", Data: goodWorkbook(t, "Monthly KPI Report - Dallas")}})

	require.NotNil(t, run.Gate)
	assert.Equal(t, GateSoftFail, run.Gate.Verdict)
	assert.False(t, run.Committed)

	steps := stepStatuses(run)
	assert.Equal(t, StepOK, steps[StepUpload])
	assert.Equal(t, StepOK, steps[StepParse])
	assert.Equal(t, StepWarn, steps[StepValidate])
	assert.Equal(t, StepSkipped, steps[StepCommit])
}

func TestRunPipelineStopsAtHardFail(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	run := RunPipeline(ctx, nil, store, staticRegions{regions: []string{"DALLAS"}},
		"fieldops", "2025-03-10", "",
		[]UploadFile{{Name: "dallas_kpi.xlsx", Data: buildWorkbook(t, "Oops", []string{"Wrong", "Columns"}, nil)}})

	require.NotNil(t, run.Gate)
	assert.Equal(t, GateHardFail, run.Gate.Verdict)
	assert.False(t, run.Committed)
	assert.Equal(t, StepSkipped, stepStatuses(run)[StepCommit])
}

func TestRunPipelineHardStopsWithoutRegionMaster(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	run := RunPipeline(ctx, nil, store, staticRegions{err: errors.New("db down")},
		"fieldops", "2025-03-10", "",
		[]UploadFile{{Name: "dallas_kpi.xlsx", Data: goodWorkbook(t, "Monthly KPI Report - Dallas")}})

	require.NotNil(t, run.Gate)
	assert.Equal(t, GateHardFail, run.Gate.Verdict)
}

func TestRunPipelineFailsUploadStep(t *testing.T) {
	run := RunPipeline(context.Background(), nil, newMemStore(),
		staticRegions{regions: []string{"DALLAS"}}, "fieldops", "bad-date", "", nil)
	assert.Equal(t, StepFailed, stepStatuses(run)[StepUpload])
	assert.Equal(t, StepPending, stepStatuses(run)[StepParse])
}

func stepStatuses(run *PipelineRun) map[string]string {
	out := make(map[string]string, len(run.Steps))
	for _, s := range run.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func TestCommitExtractFileRejectsNonXLSX(t *testing.T) {
	store := newMemStore()
	fr, rows := commitExtractFile(context.Background(), store, []string{"DALLAS"},
		"p/commit/", StoredObject{Name: "p/dallas.csv"})
	assert.False(t, fr.Success)
	assert.Contains(t, fr.Error, "requires .xlsx")
	assert.Nil(t, rows)
}

func TestCommitExtractFileExtractsAndWritesArtifact(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	key := "fieldops/2025-03-21/u1/dallas_kpi.xlsx"
	_, err := store.Put(ctx, key, goodWorkbook(t, "Monthly KPI Report - Dallas"), "")
	require.NoError(t, err)

	cp := "fieldops/2025-03-21/u1/commit/"
	fr, rows := commitExtractFile(ctx, store, []string{"DALLAS"}, cp, StoredObject{Name: key})
	require.True(t, fr.Success, fr.Error)
	assert.Len(t, rows, 2)
	assert.Equal(t, "DALLAS", rows[0].Region)
	assert.Equal(t, cp+"dallas_kpi.xlsx.jsonl", fr.ArtifactPath)

	artifact, err := store.Get(ctx, fr.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(artifact, []byte("\n")))
}

func TestCommitExtractFileReRunsHeaderCheck(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	key := "fieldops/2025-03-21/u1/broken.xlsx"
	_, err := store.Put(ctx, key, buildWorkbook(t, "Oops", []string{"Wrong", "Columns"}, nil), "")
	require.NoError(t, err)

	fr, rows := commitExtractFile(ctx, store, []string{"DALLAS"}, "fieldops/2025-03-21/u1/commit/", StoredObject{Name: key})
	assert.False(t, fr.Success)
	assert.Contains(t, fr.Error, "header fingerprint mismatch")
	assert.Nil(t, rows)
}
