package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kwv/hybridsam/hybrid"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *hybrid.EstimateTracker) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status       string    `json:"status"`
			Timestamp    time.Time `json:"timestamp"`
			HasEstimates bool      `json:"hasEstimates"`
		}{
			Status:       "ok",
			Timestamp:    time.Now(),
			HasEstimates: tracker.HasEstimates(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest MAP estimate per robot
	mux.HandleFunc("/estimate.json", func(w http.ResponseWriter, r *http.Request) {
		estimates := tracker.Estimates()
		if len(estimates) == 0 {
			http.Error(w, "No estimates available", http.StatusServiceUnavailable)
			return
		}

		payload := make(map[string]*hybrid.EstimateMessage, len(estimates))
		for robotID, hv := range estimates {
			payload[robotID] = hybrid.NewEstimateMessage(robotID, hv)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding estimates: %v", err)
		}
	})

	// Retained discrete hypotheses per robot, heaviest first
	mux.HandleFunc("/hypotheses.json", func(w http.ResponseWriter, r *http.Request) {
		robots := tracker.Robots()
		if len(robots) == 0 {
			http.Error(w, "No estimates available", http.StatusServiceUnavailable)
			return
		}

		payload := make(map[string][]hybrid.HypothesisReport, len(robots))
		for _, robotID := range robots {
			if reports := tracker.Hypotheses(robotID); reports != nil {
				payload[robotID] = reports
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding hypotheses: %v", err)
		}
	})

	return mux
}
