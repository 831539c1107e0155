package hybrid

import (
	"testing"
)

func liveHypotheses(t *testing.T, tree *HybridBayesTree) []hypothesis {
	t.Helper()
	joint := tree.discreteJoint()
	if joint == nil {
		return nil
	}
	var live []hypothesis
	for _, dv := range assignmentsOf(joint.keys) {
		if w := joint.table[tableIndex(joint.keys, dv)]; w > 0 {
			live = append(live, hypothesis{dv: dv, weight: w})
		}
	}
	return live
}

func TestPruneKeepsAtMostMaxLeaves(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	tree, _, err := EliminateMultifrontal(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	before := liveHypotheses(t, tree)
	if len(before) != 8 {
		t.Fatalf("expected 8 live hypotheses before pruning, got %d", len(before))
	}

	if err := tree.Prune(3); err != nil {
		t.Fatalf("prune: %v", err)
	}
	after := liveHypotheses(t, tree)
	if len(after) > 3 {
		t.Fatalf("prune(3) left %d hypotheses", len(after))
	}
	if err := tree.CheckRunningIntersection(); err != nil {
		t.Fatalf("running intersection after prune: %v", err)
	}
}

func TestPruneKeepsHeaviestAndMAP(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	tree, _, err := EliminateMultifrontal(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	wantHV, err := tree.Optimize()
	if err != nil {
		t.Fatalf("optimize before prune: %v", err)
	}

	if err := tree.Prune(2); err != nil {
		t.Fatalf("prune: %v", err)
	}

	hv, err := tree.Optimize()
	if err != nil {
		t.Fatalf("optimize after prune: %v", err)
	}
	if !hv.Discrete().Equal(wantHV.Discrete()) {
		t.Errorf("MAP modes changed by pruning: %s vs %s", hv.Discrete(), wantHV.Discrete())
	}
	if !hv.Continuous().Equal(wantHV.Continuous(), 1e-9) {
		t.Errorf("MAP states changed by pruning: %s vs %s", hv.Continuous(), wantHV.Continuous())
	}

	// No surviving hypothesis may be lighter than a discarded one.
	after := liveHypotheses(t, tree)
	minKept := after[0].weight
	for _, h := range after {
		if h.weight < minKept {
			minKept = h.weight
		}
	}
	full, _, err := EliminateMultifrontal(switchingChain(t, 4, chainPattern()), HybridOrdering(g))
	if err != nil {
		t.Fatalf("re-eliminate: %v", err)
	}
	keptSet := make(map[string]bool)
	modes := full.DiscreteKeySet()
	for _, h := range after {
		sig, _ := h.dv.signature(modes)
		keptSet[sig] = true
	}
	for _, h := range liveHypotheses(t, full) {
		sig, _ := h.dv.signature(modes)
		if !keptSet[sig] && h.weight > minKept {
			t.Errorf("discarded hypothesis %s outweighs a kept one: %g > %g", h.dv, h.weight, minKept)
		}
	}
}

func TestPruneMonotonic(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	tree, _, err := EliminateMultifrontal(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	if err := tree.Prune(4); err != nil {
		t.Fatalf("prune(4): %v", err)
	}
	countAt4 := len(liveHypotheses(t, tree))

	if err := tree.Prune(2); err != nil {
		t.Fatalf("prune(2): %v", err)
	}
	countAt2 := len(liveHypotheses(t, tree))

	if countAt2 > countAt4 {
		t.Errorf("tighter prune increased hypotheses: %d -> %d", countAt4, countAt2)
	}
	if countAt2 > 2 {
		t.Errorf("prune(2) left %d hypotheses", countAt2)
	}
}

func TestPrunedBranchInfeasible(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	bn, _, err := EliminateSequential(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	if err := bn.Prune(1); err != nil {
		t.Fatalf("prune: %v", err)
	}

	// The single surviving hypothesis is the MAP pattern; any other
	// assignment must now be infeasible.
	wrong := DiscreteValues{M(1): 0, M(2): 1, M(3): 0}
	_, err = bn.Choose(wrong)
	if err != ErrNoFeasibleAssignment {
		t.Fatalf("expected ErrNoFeasibleAssignment, got %v", err)
	}

	hv, err := bn.Optimize()
	if err != nil {
		t.Fatalf("optimize after prune: %v", err)
	}
	checkChainSolution(t, hv, chainPattern())
}

func TestPruneRejectsBadMaxLeaves(t *testing.T) {
	g := switchingChain(t, 4, chainPattern())
	tree, _, err := EliminateMultifrontal(g, HybridOrdering(g))
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if err := tree.Prune(0); err == nil {
		t.Fatal("expected error for maxLeaves of 0")
	}
}
