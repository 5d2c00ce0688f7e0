package ingest

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StartIngestService wires the pipeline stage handlers onto the ingestion
// service's mux and serves them.
func StartIngestService(pool *pgxpool.Pool, store ObjectStore, regions RegionProvider) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ingest Service is active"))
	})
	mux.HandleFunc("/ingest/upload", UploadHandler(store))
	mux.HandleFunc("/ingest/parse", ParseHandler(store, regions))
	mux.HandleFunc("/ingest/validate", ValidateHandler(store, regions))
	mux.HandleFunc("/ingest/commit", CommitHandler(pool, store, regions))
	mux.HandleFunc("/ingest/undo", UndoHandler(pool, store))
	mux.HandleFunc("/ingest/run", PipelineHandler(pool, store, regions))
	mux.HandleFunc("/ingest/batches", ListBatchesHandler(pool))

	log.Println("Ingest Service started on :6143")
	err := http.ListenAndServe(":6143", mux)
	if err != nil {
		log.Fatalf("Ingest Service failed: %v", err)
	}
}
