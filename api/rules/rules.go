package rules

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

func StartRulesService(pool *pgxpool.Pool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Rules Service is active"))
	})
	mux.HandleFunc("/rules/effective", EffectiveHandler(pool))
	mux.HandleFunc("/rules/versions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			ListVersionsHandler(pool)(w, r)
			return
		}
		CommitVersionHandler(pool)(w, r)
	})
	mux.HandleFunc("/rules/settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			GetSettingsHandler(pool)(w, r)
			return
		}
		UpsertSettingsHandler(pool)(w, r)
	})

	log.Println("Rules Service started on :5143")
	err := http.ListenAndServe(":5143", mux)
	if err != nil {
		log.Fatalf("Rules Service failed: %v", err)
	}
}
