package hybrid

import (
	"math"
	"testing"
)

func TestDiscreteFactorValue(t *testing.T) {
	keys := DiscreteKeys{{Key: M(1), Cardinality: 2}, {Key: M(2), Cardinality: 3}}
	// Row-major, first key most significant: index = m1*3 + m2.
	table := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	f, err := NewDiscreteFactor(keys, table)
	if err != nil {
		t.Fatalf("new factor: %v", err)
	}

	cases := []struct {
		m1, m2 int
		want   float64
	}{
		{0, 0, 0.1},
		{0, 2, 0.3},
		{1, 0, 0.4},
		{1, 2, 0.6},
	}
	for _, tc := range cases {
		got, err := f.Value(DiscreteValues{M(1): tc.m1, M(2): tc.m2})
		if err != nil {
			t.Fatalf("value(%d,%d): %v", tc.m1, tc.m2, err)
		}
		if got != tc.want {
			t.Errorf("value(%d,%d) = %g, want %g", tc.m1, tc.m2, got, tc.want)
		}
	}

	_, err = f.Value(DiscreteValues{M(1): 0})
	if err == nil {
		t.Error("expected error for missing assignment")
	}
}

func TestDiscreteFactorMultiplySumOut(t *testing.T) {
	a, _ := NewDiscreteFactor(DiscreteKeys{{Key: M(1), Cardinality: 2}}, []float64{0.3, 0.7})
	b, _ := NewDiscreteFactor(DiscreteKeys{{Key: M(1), Cardinality: 2}, {Key: M(2), Cardinality: 2}},
		[]float64{0.5, 0.5, 0.2, 0.8})

	prod := a.Multiply(b)
	got, _ := prod.Value(DiscreteValues{M(1): 1, M(2): 1})
	if math.Abs(got-0.7*0.8) > 1e-12 {
		t.Errorf("product value = %g, want %g", got, 0.7*0.8)
	}

	marg := prod.SumOut(M(2))
	got, _ = marg.Value(DiscreteValues{M(1): 0})
	if math.Abs(got-0.3) > 1e-12 {
		t.Errorf("marginal value = %g, want 0.3", got)
	}
}

func TestMaxAssignmentLexicographicTie(t *testing.T) {
	// Two equal maxima: (m1=0, m2=1) and (m1=1, m2=0). The lexicographically
	// smaller assignment must win.
	f, _ := NewDiscreteFactor(DiscreteKeys{{Key: M(1), Cardinality: 2}, {Key: M(2), Cardinality: 2}},
		[]float64{0.1, 0.4, 0.4, 0.1})

	best, weight := f.MaxAssignment()
	if weight != 0.4 {
		t.Fatalf("max weight = %g, want 0.4", weight)
	}
	want := DiscreteValues{M(1): 0, M(2): 1}
	if !best.Equal(want) {
		t.Errorf("max assignment = %s, want %s", best, want)
	}
}

func TestEliminateDiscrete(t *testing.T) {
	joint, _ := NewDiscreteFactor(DiscreteKeys{{Key: M(1), Cardinality: 2}, {Key: M(2), Cardinality: 2}},
		[]float64{0.1, 0.3, 0.2, 0.4})

	cond, marginal, err := eliminateDiscrete([]*DiscreteFactor{joint}, M(1))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if cond.FrontalKey() != M(1) {
		t.Errorf("frontal = %s, want m1", cond.FrontalKey())
	}

	// P(m1=0 | m2=0) = 0.1 / (0.1 + 0.2)
	p, err := cond.Prob(DiscreteValues{M(1): 0, M(2): 0})
	if err != nil {
		t.Fatalf("prob: %v", err)
	}
	if math.Abs(p-0.1/0.3) > 1e-12 {
		t.Errorf("P(m1=0|m2=0) = %g, want %g", p, 0.1/0.3)
	}

	m, err := marginal.Value(DiscreteValues{M(2): 1})
	if err != nil {
		t.Fatalf("marginal: %v", err)
	}
	if math.Abs(m-0.7) > 1e-12 {
		t.Errorf("marginal(m2=1) = %g, want 0.7", m)
	}
}

func TestEliminateDiscreteNoFactors(t *testing.T) {
	_, _, err := eliminateDiscrete(nil, M(1))
	if err == nil {
		t.Fatal("expected error for empty factor set")
	}
}
