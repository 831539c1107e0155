package hybrid

import (
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

func TestDecodeBatch(t *testing.T) {
	payload := []byte(`{
		"robot": "r1",
		"measurements": [
			{"type": "prior", "index": 1, "value": -1.0, "sigma": 0.1},
			{"type": "odometry", "from": 1, "to": 2, "delta": 0.5, "sigma": 0.2},
			{"type": "switch", "from": 2, "to": 3, "mode": 2, "deltas": [0, -1], "sigma": 0.2}
		]
	}`)

	batch, err := DecodeBatch(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if batch.Robot != "r1" || len(batch.Measurements) != 3 {
		t.Fatalf("batch = %+v", batch)
	}

	g, err := batch.FactorGraph()
	if err != nil {
		t.Fatalf("factor graph: %v", err)
	}
	if g.Size() != 3 {
		t.Fatalf("graph has %d factors, want 3", g.Size())
	}

	modes := g.DiscreteKeySet()
	if len(modes) != 1 || modes[0].Key != M(2) || modes[0].Cardinality != 2 {
		t.Errorf("discrete keys = %v", modes)
	}
	cont := g.ContinuousKeys()
	want := []Key{X(1), X(2), X(3)}
	if len(cont) != len(want) {
		t.Fatalf("continuous keys = %v, want %v", cont, want)
	}
	for i, k := range want {
		if cont[i] != k {
			t.Errorf("continuous key %d = %s, want %s", i, cont[i], k)
		}
	}
}

func TestDecodeBatchValidation(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"bad json", `{`, "parsing measurement batch"},
		{"missing robot", `{"measurements":[{"type":"prior","sigma":1}]}`, "missing robot id"},
		{"empty", `{"robot":"r1","measurements":[]}`, "is empty"},
		{"bad sigma", `{"robot":"r1","measurements":[{"type":"prior","sigma":0}]}`, "sigma must be positive"},
		{"unknown type", `{"robot":"r1","measurements":[{"type":"gps","sigma":1}]}`, "unknown measurement type"},
		{"self loop", `{"robot":"r1","measurements":[{"type":"odometry","from":2,"to":2,"sigma":1}]}`, "from and to are both"},
		{"one delta", `{"robot":"r1","measurements":[{"type":"switch","from":1,"to":2,"deltas":[0],"sigma":1}]}`, "at least 2 deltas"},
		{"one bearing", `{"robot":"r1","measurements":[{"type":"bearing","landmark":1,"observations":[{"pose":[0,0],"bearing":0}],"sigma":1}]}`, "at least 2 observations"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(tc.payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestBearingMeasurementFactor(t *testing.T) {
	batch := &MeasurementBatch{
		Robot: "r1",
		Measurements: []Measurement{{
			Type:     "bearing",
			Landmark: 7,
			Observations: []BearingObservation{
				{Pose: orb.Point{0, 0}, Bearing: math.Pi / 4},
				{Pose: orb.Point{2, 0}, Bearing: 3 * math.Pi / 4},
			},
			Sigma: 0.3,
		}},
	}

	g, err := batch.FactorGraph()
	if err != nil {
		t.Fatalf("factor graph: %v", err)
	}
	bn, _, err := EliminateSequential(g, Ordering{L(7)})
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	hv, err := bn.Optimize()
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	want := VectorValues{L(7): {1, 1}}
	if !hv.Continuous().Equal(want, 1e-9) {
		t.Errorf("landmark = %s, want %s", hv.Continuous(), want)
	}
}

func TestDegenerateBearingRejected(t *testing.T) {
	batch := &MeasurementBatch{
		Robot: "r1",
		Measurements: []Measurement{{
			Type:     "bearing",
			Landmark: 1,
			Observations: []BearingObservation{
				{Pose: orb.Point{0, 0}, Bearing: 0},
				{Pose: orb.Point{0, 1}, Bearing: 0},
			},
			Sigma: 0.3,
		}},
	}

	_, err := batch.FactorGraph()
	if err == nil || !strings.Contains(err.Error(), "triangulation degenerate") {
		t.Fatalf("expected degenerate triangulation error, got %v", err)
	}
}
