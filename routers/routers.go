package routers

import (
	"forks-project/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the HTTP routes of the operator API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Root, highest slot, checkpoint counts and snapshot marks
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	// Catalogued snapshot archives
	r.HandleFunc("/snapshots", h.ListSnapshots).Methods("GET")
	r.HandleFunc("/snapshots/latest", h.GetLatestSnapshot).Methods("GET")
	r.HandleFunc("/snapshots/{slot}", h.GetSnapshot).Methods("GET")

	// Liveness probe and Prometheus scrape endpoint
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
