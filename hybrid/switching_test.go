package hybrid

import (
	"errors"
	"math"
	"testing"
)

// switchingChain builds a chain of n continuous states linked by two-mode
// switch factors. Every state carries a prior at -1. For step i the branch
// matching pattern[i-1] asserts a zero offset between neighbors and the
// other branch asserts +1, so the maximum-probability modes are exactly the
// pattern and every state solves to -1.
func switchingChain(t *testing.T, n int, pattern []int) *HybridFactorGraph {
	t.Helper()
	if len(pattern) != n-1 {
		t.Fatalf("pattern length %d does not match %d chain steps", len(pattern), n-1)
	}

	g := NewHybridFactorGraph()
	for i := 1; i <= n; i++ {
		g.Push(NewScalarPrior(X(i), -1.0, 0.1))
	}
	for i := 1; i < n; i++ {
		deltas := []float64{1.0, 1.0}
		deltas[pattern[i-1]] = 0.0
		mf, err := NewScalarSwitchBetween(X(i), X(i+1), DiscreteKey{Key: M(i), Cardinality: 2}, deltas, 0.5)
		if err != nil {
			t.Fatalf("building switch factor %d: %v", i, err)
		}
		g.Push(mf)
	}
	return g
}

func chainPattern() []int { return []int{1, 0, 1} }

func checkChainSolution(t *testing.T, hv HybridValues, pattern []int) {
	t.Helper()
	for i, want := range pattern {
		got, ok := hv.Discrete()[M(i + 1)]
		if !ok {
			t.Fatalf("mode m%d missing from solution", i+1)
		}
		if got != want {
			t.Errorf("mode m%d = %d, want %d", i+1, got, want)
		}
	}
	for i := 1; i <= len(pattern)+1; i++ {
		x, ok := hv.Continuous()[X(i)]
		if !ok {
			t.Fatalf("state x%d missing from solution", i)
		}
		if len(x) != 1 || math.Abs(x[0]-(-1.0)) > 1e-4 {
			t.Errorf("state x%d = %v, want [-1]", i, x)
		}
	}
}

func TestSwitchingChainSequential(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	bn, remaining, err := EliminateSequential(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if remaining.Size() != 0 {
		t.Fatalf("expected empty remainder, got %d factors", remaining.Size())
	}

	hv, err := bn.Optimize()
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	checkChainSolution(t, hv, chainPattern())
}

func TestSwitchingChainMultifrontal(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	tree, remaining, err := EliminateMultifrontal(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if remaining.Size() != 0 {
		t.Fatalf("expected empty remainder, got %d factors", remaining.Size())
	}
	if err := tree.CheckRunningIntersection(); err != nil {
		t.Fatalf("running intersection: %v", err)
	}

	hv, err := tree.Optimize()
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	checkChainSolution(t, hv, chainPattern())
}

func TestSwitchingChainOrderingInvariance(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	base := HybridOrdering(g)
	// Reverse the continuous prefix; discrete keys stay last.
	alt := make(Ordering, len(base))
	copy(alt, base)
	for i, j := 0, 3; i < j; i, j = i+1, j-1 {
		alt[i], alt[j] = alt[j], alt[i]
	}

	bnA, _, err := EliminateSequential(g, base)
	if err != nil {
		t.Fatalf("eliminate base ordering: %v", err)
	}
	bnB, _, err := EliminateSequential(g, alt)
	if err != nil {
		t.Fatalf("eliminate alt ordering: %v", err)
	}

	hvA, err := bnA.Optimize()
	if err != nil {
		t.Fatalf("optimize base: %v", err)
	}
	hvB, err := bnB.Optimize()
	if err != nil {
		t.Fatalf("optimize alt: %v", err)
	}

	if !hvA.Discrete().Equal(hvB.Discrete()) {
		t.Errorf("discrete optima differ: %s vs %s", hvA.Discrete(), hvB.Discrete())
	}
	if !hvA.Continuous().Equal(hvB.Continuous(), 1e-8) {
		t.Errorf("continuous optima differ: %s vs %s", hvA.Continuous(), hvB.Continuous())
	}
}

func TestSwitchingChainParallelMatchesSerial(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	ordering := HybridOrdering(g)

	serial, _, err := EliminateSequentialWith(g, ordering, EliminationOptions{})
	if err != nil {
		t.Fatalf("serial eliminate: %v", err)
	}
	parallel, _, err := EliminateSequentialWith(g, ordering, EliminationOptions{ParallelBranches: true})
	if err != nil {
		t.Fatalf("parallel eliminate: %v", err)
	}

	if !serial.Equal(parallel, 1e-12) {
		t.Error("parallel elimination produced a different Bayes net")
	}
}

func TestDensityPreservation(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	bn, _, err := EliminateSequential(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	// The gap between graph density and Bayes net density must be the same
	// constant for every discrete assignment, or elimination lost mass.
	modes := DiscreteKeys{
		{Key: M(1), Cardinality: 2},
		{Key: M(2), Cardinality: 2},
		{Key: M(3), Cardinality: 2},
	}
	var offset float64
	first := true
	for _, dv := range assignmentsOf(modes) {
		vv, err := bn.OptimizeWith(dv)
		if err != nil {
			t.Fatalf("solve for %s: %v", dv, err)
		}
		hv := NewHybridValues(dv, vv)

		graphLog, err := g.LogDensity(hv)
		if err != nil {
			t.Fatalf("graph density for %s: %v", dv, err)
		}
		netLog, err := bn.EvaluateLog(hv)
		if err != nil {
			t.Fatalf("net density for %s: %v", dv, err)
		}

		if first {
			offset = netLog - graphLog
			first = false
			continue
		}
		if math.Abs((netLog-graphLog)-offset) > 1e-6 {
			t.Errorf("normalization gap for %s is %.9f, want %.9f", dv, netLog-graphLog, offset)
		}
	}
}

func TestChooseSolveEquivalence(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	bn, _, err := EliminateSequential(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	dv := DiscreteValues{M(1): 1, M(2): 0, M(3): 1}
	gbn, err := bn.Choose(dv)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	chosen, err := gbn.Optimize()
	if err != nil {
		t.Fatalf("gaussian optimize: %v", err)
	}
	direct, err := bn.OptimizeWith(dv)
	if err != nil {
		t.Fatalf("optimize with assignment: %v", err)
	}

	if !chosen.Equal(direct, 0) {
		t.Errorf("choose+solve %s differs from direct solve %s", chosen, direct)
	}
}

func TestOptimizeWithMissingAssignment(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())

	bn, _, err := EliminateSequential(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	_, err = bn.OptimizeWith(DiscreteValues{M(1): 0})
	var missing *MissingAssignmentError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingAssignmentError, got %v", err)
	}
}
