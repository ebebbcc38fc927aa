package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter registers every route on a new router and wraps it in the
// request middleware.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", h.Index).Methods(http.MethodGet)
	r.HandleFunc("/comando", h.SetLED).Methods(http.MethodPost)
	r.HandleFunc("/mensagem", h.SetMessage).Methods(http.MethodPost)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/esp32", h.Ingest).Methods(http.MethodPost)
	api.HandleFunc("/registros", h.ListReadings).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return withRecovery(h.logger, withRequestLog(h.logger, r))
}
