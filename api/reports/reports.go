package reports

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

func StartReportsService(pool *pgxpool.Pool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reports/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Reports Service is active"))
	})
	mux.HandleFunc("/reports/scorecard", ScorecardHandler(pool))
	mux.HandleFunc("/reports/scorecard/csv", ScorecardCSVHandler(pool))

	log.Println("Reports Service started on :4143")
	err := http.ListenAndServe(":4143", mux)
	if err != nil {
		log.Fatalf("Reports Service failed: %v", err)
	}
}
