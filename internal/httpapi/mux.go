package httpapi

import "net/http"

func NewMux(db Pinger, runs RunSource) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db)
	registerRuns(mux, runs)
	return mux
}
