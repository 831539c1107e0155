package hybrid

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

// trackerBatches is a two-batch feed for one robot: anchored first state,
// then a second state reached through a two-mode switch whose mode 0 branch
// agrees with the priors.
func trackerBatches() []*MeasurementBatch {
	return []*MeasurementBatch{
		{
			Robot: "rob-a",
			Measurements: []Measurement{
				{Type: "prior", Index: 1, Value: -1.0, Sigma: 0.1},
			},
		},
		{
			Robot: "rob-a",
			Measurements: []Measurement{
				{Type: "prior", Index: 2, Value: -1.0, Sigma: 0.1},
				{Type: "switch", From: 1, To: 2, Mode: 1, Deltas: []float64{0.0, 1.0}, Sigma: 0.5},
			},
		},
	}
}

func applyAll(t *testing.T, tracker *EstimateTracker, robotID string, batches []*MeasurementBatch) HybridValues {
	t.Helper()
	var hv HybridValues
	var err error
	for i, batch := range batches {
		hv, err = tracker.ApplyBatch(robotID, batch)
		if err != nil {
			t.Fatalf("ApplyBatch %d: %v", i, err)
		}
	}
	return hv
}

func TestTrackerApplyBatchAndEstimate(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8})

	if _, ok := tracker.Estimate("rob-a"); ok {
		t.Error("Estimate should report false before any batch")
	}

	hv := applyAll(t, tracker, "rob-a", trackerBatches())

	if got := hv.Discrete()[M(1)]; got != 0 {
		t.Errorf("MAP mode m1 = %d, want 0", got)
	}
	for _, k := range []Key{X(1), X(2)} {
		if got := hv.Continuous()[k][0]; math.Abs(got-(-1.0)) > 1e-4 {
			t.Errorf("state %s = %g, want -1", k, got)
		}
	}

	stored, ok := tracker.Estimate("rob-a")
	if !ok {
		t.Fatal("Estimate should report true after batches")
	}
	if !stored.Continuous().Equal(hv.Continuous(), 1e-12) {
		t.Error("stored estimate differs from the ApplyBatch result")
	}
}

func TestTrackerHypothesesNormalized(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8})
	applyAll(t, tracker, "rob-a", trackerBatches())

	reports := tracker.Hypotheses("rob-a")
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}

	total := 0.0
	for _, r := range reports {
		total += r.Weight
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("weights sum to %g, want 1", total)
	}
	if reports[0].Weight < reports[1].Weight {
		t.Error("reports should be sorted heaviest first")
	}
	if reports[0].Modes["m1"] != 0 {
		t.Errorf("heaviest hypothesis m1 = %d, want 0", reports[0].Modes["m1"])
	}

	if got := tracker.Hypotheses("unknown"); got != nil {
		t.Errorf("Hypotheses for unknown robot = %v, want nil", got)
	}
}

func TestTrackerPruneCadence(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 1, PruneEvery: 1})
	hv := applyAll(t, tracker, "rob-a", trackerBatches())

	reports := tracker.Hypotheses("rob-a")
	if len(reports) != 1 {
		t.Fatalf("len(reports) after pruning = %d, want 1", len(reports))
	}
	if reports[0].Modes["m1"] != 0 {
		t.Errorf("surviving hypothesis m1 = %d, want 0", reports[0].Modes["m1"])
	}
	if got := hv.Discrete()[M(1)]; got != 0 {
		t.Errorf("MAP mode m1 = %d, want 0", got)
	}
}

func TestTrackerMultipleRobots(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8})

	if tracker.HasEstimates() {
		t.Error("HasEstimates should be false for a fresh tracker")
	}

	applyAll(t, tracker, "rob-b", trackerBatches())
	applyAll(t, tracker, "rob-a", trackerBatches())

	robots := tracker.Robots()
	if len(robots) != 2 || robots[0] != "rob-a" || robots[1] != "rob-b" {
		t.Errorf("Robots() = %v, want [rob-a rob-b]", robots)
	}
	if !tracker.HasEstimates() {
		t.Error("HasEstimates should be true after batches")
	}
	if len(tracker.Estimates()) != 2 {
		t.Errorf("len(Estimates()) = %d, want 2", len(tracker.Estimates()))
	}
}

func TestTrackerSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")

	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8, SnapshotPath: path})
	want := applyAll(t, tracker, "rob-a", trackerBatches())

	// A fresh tracker pointed at the same file restores the solved tree.
	restored := NewEstimateTracker(EngineConfig{MaxHypotheses: 8, SnapshotPath: path})
	got, ok := restored.Estimate("rob-a")
	if !ok {
		t.Fatal("restored tracker has no estimate for rob-a")
	}
	if got.Discrete()[M(1)] != want.Discrete()[M(1)] {
		t.Errorf("restored m1 = %d, want %d", got.Discrete()[M(1)], want.Discrete()[M(1)])
	}
	if !got.Continuous().Equal(want.Continuous(), 1e-9) {
		t.Errorf("restored states = %v, want %v", got.Continuous(), want.Continuous())
	}

	// The restored solver keeps accepting batches.
	if _, err := restored.ApplyBatch("rob-a", &MeasurementBatch{
		Robot: "rob-a",
		Measurements: []Measurement{
			{Type: "prior", Index: 3, Value: -1.0, Sigma: 0.1},
			{Type: "odometry", From: 2, To: 3, Delta: 0.0, Sigma: 0.5},
		},
	}); err != nil {
		t.Fatalf("ApplyBatch after restore: %v", err)
	}
}

func TestTrackerBearingLandmark(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8})
	applyAll(t, tracker, "rob-a", trackerBatches())

	// Crossing rays from (0,0) and (2,0) meet at (1,1). The batch shares no
	// keys with the pose chain, so the earlier states must stay in the
	// estimate alongside the new landmark.
	hv, err := tracker.ApplyBatch("rob-a", &MeasurementBatch{
		Robot: "rob-a",
		Measurements: []Measurement{
			{Type: "bearing", Landmark: 1, Sigma: 0.5, Observations: []BearingObservation{
				{Pose: orb.Point{0, 0}, Bearing: math.Pi / 4},
				{Pose: orb.Point{2, 0}, Bearing: 3 * math.Pi / 4},
			}},
		},
	})
	if err != nil {
		t.Fatalf("ApplyBatch with bearing: %v", err)
	}

	l, ok := hv.Continuous()[L(1)]
	if !ok {
		t.Fatal("landmark l1 missing from estimate")
	}
	if len(l) != 2 || math.Abs(l[0]-1.0) > 1e-6 || math.Abs(l[1]-1.0) > 1e-6 {
		t.Errorf("landmark l1 = %v, want [1 1]", l)
	}
	for _, k := range []Key{X(1), X(2)} {
		if got, ok := hv.Continuous()[k]; !ok || math.Abs(got[0]-(-1.0)) > 1e-4 {
			t.Errorf("state %s = %v, want [-1]", k, got)
		}
	}
}

func TestTrackerRejectsBadBatch(t *testing.T) {
	tracker := NewEstimateTracker(EngineConfig{MaxHypotheses: 8})

	_, err := tracker.ApplyBatch("rob-a", &MeasurementBatch{
		Robot: "rob-a",
		Measurements: []Measurement{
			{Type: "bearing", Landmark: 1, Sigma: 0.5, Observations: []BearingObservation{
				{Pose: orb.Point{0, 0}, Bearing: 0},
				{Pose: orb.Point{0, 1}, Bearing: 0},
			}},
		},
	})
	if err == nil {
		t.Fatal("expected error for parallel bearing rays")
	}
}
