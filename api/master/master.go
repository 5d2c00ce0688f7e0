package master

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

func StartMasterService(pool *pgxpool.Pool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Master Service is active"))
	})
	mux.HandleFunc("/master/regions", ListRegionsHandler(pool))

	log.Println("Master Service started on :2143")
	err := http.ListenAndServe(":2143", mux)
	if err != nil {
		log.Fatalf("Master Service failed: %v", err)
	}
}
