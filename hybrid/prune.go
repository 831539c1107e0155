package hybrid

import (
	"fmt"
	"sort"
)

// Prune keeps at most maxLeaves discrete hypotheses: the joint discrete
// distribution is ranked, the top leaves survive, and every conditional is
// trimmed to match. Surviving entries keep their weights unchanged, so the
// relative order of the kept hypotheses is preserved. Mixture branches that
// no surviving hypothesis can reach are removed; choosing them afterwards
// reports no feasible assignment.
func (bn *HybridBayesNet) Prune(maxLeaves int) error {
	var discretes []*DiscreteConditional
	var mixtures []*MixtureConditional
	for _, cond := range bn.conditionals {
		switch v := cond.(type) {
		case *DiscreteConditional:
			discretes = append(discretes, v)
		case *MixtureConditional:
			mixtures = append(mixtures, v)
		}
	}
	return pruneHypotheses(maxLeaves, discretes, mixtures)
}

// Prune is the Bayes tree counterpart of HybridBayesNet.Prune.
func (t *HybridBayesTree) Prune(maxLeaves int) error {
	var discretes []*DiscreteConditional
	for _, c := range t.cliques {
		for _, cond := range c.conditionals {
			if dc, ok := cond.(*DiscreteConditional); ok {
				discretes = append(discretes, dc)
			}
		}
	}
	return pruneHypotheses(maxLeaves, discretes, t.mixtureConditionals())
}

type hypothesis struct {
	dv     DiscreteValues
	weight float64
}

func pruneHypotheses(maxLeaves int, discretes []*DiscreteConditional, mixtures []*MixtureConditional) error {
	if maxLeaves < 1 {
		return fmt.Errorf("prune: maxLeaves must be at least 1, got %d", maxLeaves)
	}
	var joint *DiscreteFactor
	for _, dc := range discretes {
		f := dc.AsFactor()
		if joint == nil {
			joint = f
		} else {
			joint = joint.Multiply(f)
		}
	}
	if joint == nil {
		return nil
	}

	var live []hypothesis
	for _, dv := range assignmentsOf(joint.keys) {
		w := joint.table[tableIndex(joint.keys, dv)]
		if w > 0 {
			live = append(live, hypothesis{dv: dv, weight: w})
		}
	}
	if len(live) <= maxLeaves {
		return nil
	}
	// assignmentsOf enumerates lexicographically, so a stable sort breaks
	// weight ties in lexicographic order.
	sort.SliceStable(live, func(i, j int) bool { return live[i].weight > live[j].weight })
	kept := live[:maxLeaves]

	allowed := func(dv DiscreteValues) bool {
		for _, h := range kept {
			if agreesOn(h.dv, dv) {
				return true
			}
		}
		return false
	}

	for _, dc := range discretes {
		for _, dv := range assignmentsOf(dc.joint.keys) {
			if !allowed(dv) {
				dc.joint.table[tableIndex(dc.joint.keys, dv)] = 0
			}
		}
	}
	for _, mc := range mixtures {
		for _, dv := range assignmentsOf(mc.discreteParents) {
			if allowed(dv) {
				continue
			}
			sig, ok := dv.signature(mc.discreteParents)
			if !ok {
				continue
			}
			mc.removeBranch(sig)
		}
	}
	return nil
}

// agreesOn reports whether the full hypothesis extends the partial
// assignment: they match on every key both carry.
func agreesOn(leaf, partial DiscreteValues) bool {
	for k, v := range partial {
		if lv, ok := leaf[k]; ok && lv != v {
			return false
		}
	}
	return true
}
