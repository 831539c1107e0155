package hybrid

import (
	"encoding/json"
	"fmt"
)

// Measurement is one observation in a batch. Type selects which fields are
// meaningful:
//
//	"prior":    Index, Value, Sigma. Anchor on state x[Index].
//	"odometry": From, To, Delta, Sigma. x[To] - x[From] = Delta.
//	"switch":   From, To, Mode, Deltas, Sigma. Mode-indexed odometry,
//	            one Delta per mode value.
//	"bearing":  Landmark, Observations, Sigma. Triangulated landmark prior.
type Measurement struct {
	Type         string               `json:"type"`
	Index        int                  `json:"index,omitempty"`
	Value        float64              `json:"value,omitempty"`
	From         int                  `json:"from,omitempty"`
	To           int                  `json:"to,omitempty"`
	Delta        float64              `json:"delta,omitempty"`
	Mode         int                  `json:"mode,omitempty"`
	Deltas       []float64            `json:"deltas,omitempty"`
	Landmark     int                  `json:"landmark,omitempty"`
	Observations []BearingObservation `json:"observations,omitempty"`
	Sigma        float64              `json:"sigma"`
}

// MeasurementBatch is one MQTT payload: a robot's measurements since the
// previous batch.
type MeasurementBatch struct {
	Robot        string        `json:"robot"`
	Measurements []Measurement `json:"measurements"`
}

// DecodeBatch parses and validates a measurement batch payload.
func DecodeBatch(payload []byte) (*MeasurementBatch, error) {
	var batch MeasurementBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("parsing measurement batch: %w", err)
	}
	if batch.Robot == "" {
		return nil, fmt.Errorf("measurement batch missing robot id")
	}
	if len(batch.Measurements) == 0 {
		return nil, fmt.Errorf("measurement batch for %s is empty", batch.Robot)
	}
	for i, m := range batch.Measurements {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("measurement[%d]: %w", i, err)
		}
	}
	return &batch, nil
}

func (m Measurement) validate() error {
	if m.Sigma <= 0 {
		return fmt.Errorf("sigma must be positive, got %g", m.Sigma)
	}
	switch m.Type {
	case "prior":
		if m.Index < 0 {
			return fmt.Errorf("prior index must not be negative, got %d", m.Index)
		}
	case "odometry":
		if m.From == m.To {
			return fmt.Errorf("odometry from and to are both %d", m.From)
		}
	case "switch":
		if m.From == m.To {
			return fmt.Errorf("switch from and to are both %d", m.From)
		}
		if len(m.Deltas) < 2 {
			return fmt.Errorf("switch needs at least 2 deltas, got %d", len(m.Deltas))
		}
	case "bearing":
		if len(m.Observations) < 2 {
			return fmt.Errorf("bearing needs at least 2 observations, got %d", len(m.Observations))
		}
	default:
		return fmt.Errorf("unknown measurement type %q", m.Type)
	}
	return nil
}

// FactorGraph converts the batch into factors over the standard key space:
// X(i) for robot states, M(i) for switch modes, L(i) for landmarks. Bearing
// measurements are triangulated first; a non-valid triangulation is an
// error rather than a silent drop.
func (b *MeasurementBatch) FactorGraph() (*HybridFactorGraph, error) {
	g := NewHybridFactorGraph()
	for i, m := range b.Measurements {
		switch m.Type {
		case "prior":
			g.Push(NewScalarPrior(X(m.Index), m.Value, m.Sigma))
		case "odometry":
			g.Push(NewScalarBetween(X(m.From), X(m.To), m.Delta, m.Sigma))
		case "switch":
			mode := DiscreteKey{Key: M(m.Mode), Cardinality: len(m.Deltas)}
			mf, err := NewScalarSwitchBetween(X(m.From), X(m.To), mode, m.Deltas, m.Sigma)
			if err != nil {
				return nil, fmt.Errorf("measurement[%d]: %w", i, err)
			}
			g.Push(mf)
		case "bearing":
			result := Triangulate(m.Observations)
			factor, ok := result.Factor(L(m.Landmark), m.Sigma)
			if !ok {
				return nil, fmt.Errorf("measurement[%d]: triangulation %s for landmark %d",
					i, result.Status, m.Landmark)
			}
			g.Push(factor)
		}
	}
	return g, nil
}
