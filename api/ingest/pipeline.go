package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/internal/config"
)

// Pipeline step states.
const (
	StepPending = "PENDING"
	StepRunning = "RUNNING"
	StepOK      = "OK"
	StepWarn    = "WARN"
	StepFailed  = "FAILED"
	StepSkipped = "SKIPPED"
)

// Pipeline step names, in execution order.
const (
	StepUpload   = "upload"
	StepParse    = "parse"
	StepValidate = "validate"
	StepCommit   = "commit"
)

// PipelineStep is one stage's state in the step ledger the orchestrator
// returns to the operator UI.
type PipelineStep struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PipelineRun is the full outcome of one orchestrated ingestion run.
type PipelineRun struct {
	UploadSetID       string         `json:"upload_set_id,omitempty"`
	FiscalMonthAnchor string         `json:"fiscal_month_anchor,omitempty"`
	Steps             []PipelineStep `json:"steps"`
	Upload            *UploadResult  `json:"upload,omitempty"`
	Parse             *ParseResult   `json:"parse,omitempty"`
	Gate              *GateDecision  `json:"gate,omitempty"`
	Commit            *CommitResult  `json:"commit,omitempty"`
	Committed         bool           `json:"committed"`
}

type pipelineLedger struct {
	steps []PipelineStep
}

func newPipelineLedger() *pipelineLedger {
	l := &pipelineLedger{}
	for _, name := range []string{StepUpload, StepParse, StepValidate, StepCommit} {
		l.steps = append(l.steps, PipelineStep{Name: name, Status: StepPending})
	}
	return l
}

func (l *pipelineLedger) begin(name string) {
	now := time.Now().UTC()
	for i := range l.steps {
		if l.steps[i].Name == name {
			l.steps[i].Status = StepRunning
			l.steps[i].StartedAt = &now
		}
	}
}

func (l *pipelineLedger) finish(name, status, detail string) {
	now := time.Now().UTC()
	for i := range l.steps {
		if l.steps[i].Name == name {
			l.steps[i].Status = status
			l.steps[i].Detail = detail
			l.steps[i].FinishedAt = &now
		}
	}
}

// RunPipeline drives upload, parse, validation gate and commit in sequence
// for one set of files, recording per-step state. The run stops at the gate
// unless the verdict is green; a soft fail leaves the upload set parked for
// operator review (parse and upload artifacts stay available for a manual
// commit after intervention).
func RunPipeline(ctx context.Context, pool *pgxpool.Pool, store ObjectStore, regions RegionProvider, sourceSystem, fiscalRefDate, scope string, files []UploadFile) *PipelineRun {
	run := &PipelineRun{}
	ledger := newPipelineLedger()
	defer func() { run.Steps = ledger.steps }()

	ledger.begin(StepUpload)
	upload, err := UploadFiles(ctx, store, sourceSystem, fiscalRefDate, files)
	if err != nil {
		ledger.finish(StepUpload, StepFailed, err.Error())
		return run
	}
	run.Upload = upload
	run.UploadSetID = upload.UploadSetID
	run.FiscalMonthAnchor = upload.FiscalMonthAnchor
	if upload.StoredCount == 0 {
		ledger.finish(StepUpload, StepFailed, "no files stored")
		return run
	}
	uploadStatus := StepOK
	uploadDetail := ""
	if upload.FailedCount > 0 {
		uploadStatus = StepWarn
		uploadDetail = "some files failed to store"
	}
	ledger.finish(StepUpload, uploadStatus, uploadDetail)

	regionList, err := regions.ActiveRegions(ctx)
	if err != nil {
		log.Printf("[INGEST-PIPELINE] region master unavailable: %v", err)
		regionList = nil
	}

	ledger.begin(StepParse)
	parse, err := ParseUploadSet(ctx, store, regionList, ParseRequest{
		UploadSetID:       upload.UploadSetID,
		SourceSystem:      upload.SourceSystem,
		FiscalMonthAnchor: upload.FiscalMonthAnchor,
	})
	if err != nil {
		ledger.finish(StepParse, StepFailed, err.Error())
		return run
	}
	run.Parse = parse
	ledger.finish(StepParse, StepOK, "")

	ledger.begin(StepValidate)
	gate := EvaluateGate(parse, regionList)
	run.Gate = &gate
	switch gate.Verdict {
	case GateGreen:
		ledger.finish(StepValidate, StepOK, "")
	case GateSoftFail:
		ledger.finish(StepValidate, StepWarn, gate.Reason)
		ledger.finish(StepCommit, StepSkipped, "operator intervention required")
		return run
	default:
		ledger.finish(StepValidate, StepFailed, gate.Reason)
		ledger.finish(StepCommit, StepSkipped, "hard validation failure")
		return run
	}

	ledger.begin(StepCommit)
	commit, err := CommitUploadSet(ctx, pool, store, regionList, CommitRequest{
		UploadSetID:       upload.UploadSetID,
		SourceSystem:      upload.SourceSystem,
		FiscalMonthAnchor: upload.FiscalMonthAnchor,
		Scope:             scope,
	})
	if err != nil {
		ledger.finish(StepCommit, StepFailed, err.Error())
		return run
	}
	run.Commit = commit
	run.Committed = true
	if commit.Status == StatusCommittedWithErrors {
		ledger.finish(StepCommit, StepWarn, "committed with per-file errors")
	} else {
		ledger.finish(StepCommit, StepOK, "")
	}
	return run
}

// PipelineHandler handles POST /ingest/run (multipart form: source_system,
// fiscal_ref_date, optional scope, files[]).
func PipelineHandler(pool *pgxpool.Pool, store ObjectStore, regions RegionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(config.MaxUploadBytes); err != nil {
			http.Error(w, "Failed to parse multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		fileHeaders := r.MultipartForm.File["files"]
		if len(fileHeaders) == 0 {
			fileHeaders = r.MultipartForm.File["file"]
		}
		files := make([]UploadFile, 0, len(fileHeaders))
		for _, fh := range fileHeaders {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "Failed to open file: "+fh.Filename, http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "Failed to read file: "+fh.Filename, http.StatusBadRequest)
				return
			}
			files = append(files, UploadFile{Name: fh.Filename, Data: data})
		}

		run := RunPipeline(r.Context(), pool, store, regions,
			r.FormValue("source_system"), r.FormValue("fiscal_ref_date"), r.FormValue("scope"), files)

		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    run,
		})
	}
}
