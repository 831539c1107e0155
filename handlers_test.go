package main

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kwv/hybridsam/hybrid"
)

// solvedTracker builds a tracker holding one solved robot: a two-state chain
// with a two-mode switch whose mode 0 branch matches the priors.
func solvedTracker(t *testing.T) *hybrid.EstimateTracker {
	t.Helper()
	tracker := hybrid.NewEstimateTracker(hybrid.EngineConfig{MaxHypotheses: 8})
	_, err := tracker.ApplyBatch("rob-a", &hybrid.MeasurementBatch{
		Robot: "rob-a",
		Measurements: []hybrid.Measurement{
			{Type: "prior", Index: 1, Value: -1.0, Sigma: 0.1},
			{Type: "prior", Index: 2, Value: -1.0, Sigma: 0.1},
			{Type: "switch", From: 1, To: 2, Mode: 1, Deltas: []float64{0.0, 1.0}, Sigma: 0.5},
		},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	return tracker
}

func TestHealth_NoEstimates(t *testing.T) {
	server := newHTTPServer(hybrid.NewEstimateTracker(hybrid.EngineConfig{MaxHypotheses: 8}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var status struct {
		Status       string `json:"status"`
		HasEstimates bool   `json:"hasEstimates"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.HasEstimates {
		t.Error("hasEstimates should be false with no batches applied")
	}
}

func TestHealth_WithEstimates(t *testing.T) {
	server := newHTTPServer(solvedTracker(t))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var status struct {
		HasEstimates bool `json:"hasEstimates"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !status.HasEstimates {
		t.Error("hasEstimates should be true after a solved batch")
	}
}

func TestEndpoints_NoEstimates_503(t *testing.T) {
	server := newHTTPServer(hybrid.NewEstimateTracker(hybrid.EngineConfig{MaxHypotheses: 8}))

	for _, path := range []string{"/estimate.json", "/hypotheses.json"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestEstimateJSON(t *testing.T) {
	server := newHTTPServer(solvedTracker(t))

	req := httptest.NewRequest("GET", "/estimate.json", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var payload map[string]*hybrid.EstimateMessage
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decode estimates: %v", err)
	}
	msg, ok := payload["rob-a"]
	if !ok {
		t.Fatalf("payload missing rob-a: %v", payload)
	}
	if msg.Modes["m1"] != 0 {
		t.Errorf("m1 = %d, want 0", msg.Modes["m1"])
	}
	if got := msg.States["x1"][0]; math.Abs(got-(-1.0)) > 1e-4 {
		t.Errorf("x1 = %g, want -1", got)
	}
}

func TestHypothesesJSON(t *testing.T) {
	server := newHTTPServer(solvedTracker(t))

	req := httptest.NewRequest("GET", "/hypotheses.json", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var payload map[string][]hybrid.HypothesisReport
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decode hypotheses: %v", err)
	}
	reports, ok := payload["rob-a"]
	if !ok || len(reports) != 2 {
		t.Fatalf("payload[rob-a] = %v, want 2 hypotheses", reports)
	}

	total := 0.0
	for _, r := range reports {
		total += r.Weight
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("weights sum to %g, want 1", total)
	}
	if reports[0].Weight < reports[1].Weight {
		t.Error("hypotheses should be sorted heaviest first")
	}
	if reports[0].Modes["m1"] != 0 {
		t.Errorf("heaviest hypothesis m1 = %d, want 0", reports[0].Modes["m1"])
	}
}
