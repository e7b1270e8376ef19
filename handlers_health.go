package main

import (
	"encoding/json"
	"net/http"
)

// handleHealth reports liveness plus which app configuration this instance
// is serving digests for.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":   "healthy",
		"app":      s.cfg.AppName,
		"base_url": s.cfg.BaseURL,
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
