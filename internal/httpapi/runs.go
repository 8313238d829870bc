package httpapi

import (
	"net/http"

	"meteo-ingest/internal/modules/wind/types"
)

type RunSource interface {
	Latest() (types.RunSummary, bool)
}

func registerRuns(mux *http.ServeMux, runs RunSource) {
	mux.HandleFunc("GET /api/v1/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		summary, ok := runs.Latest()
		if !ok {
			respondError(w, http.StatusNotFound, codeNoRuns, "no run has completed yet")
			return
		}
		respond(w, http.StatusOK, summary)
	})
}
