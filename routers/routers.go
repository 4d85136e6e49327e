package routers

import (
	"github.com/gorilla/mux"

	"referral-tree/handlers"
	"referral-tree/metrics"
)

// RegisterRoutes sets up all the HTTP routes for the referral dashboard
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Loads an address from the chain (or the valid cache) and returns it
	r.HandleFunc("/nodes/{address}", h.GetNode).Methods("GET")

	// Reloads the current address, ignoring the cache
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")

	// Display tree with the current filters applied
	r.HandleFunc("/tree", h.GetTree).Methods("GET")
	r.HandleFunc("/tree/rows", h.GetTreeRows).Methods("GET")
	r.HandleFunc("/tree/{address}/toggle", h.ToggleNode).Methods("POST")
	r.HandleFunc("/stats", h.GetStats).Methods("GET")

	// View state, persisted across restarts
	r.HandleFunc("/filters", h.SetFilters).Methods("PUT")
	r.HandleFunc("/filters", h.ClearFilters).Methods("DELETE")
	r.HandleFunc("/view", h.SetView).Methods("PUT")

	r.HandleFunc("/cache", h.GetCache).Methods("GET")
	r.HandleFunc("/cache", h.ClearCache).Methods("DELETE")

	// csv, json, pdf or svg download of the loaded tree
	r.HandleFunc("/export", h.Export).Methods("GET")

	// Live update subscriptions on the socket connection
	r.HandleFunc("/subscriptions/{address}", h.Subscribe).Methods("POST")
	r.HandleFunc("/subscriptions/{address}", h.Unsubscribe).Methods("DELETE")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")
}
