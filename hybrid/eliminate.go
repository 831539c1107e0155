package hybrid

import (
	"math"
	"sort"
	"sync"
)

// Conditional is the result of eliminating one variable: a distribution over
// that variable given the separator. Concrete types are DiscreteConditional,
// GaussianConditional, and MixtureConditional; consumers type-switch
// exhaustively.
type Conditional interface {
	FrontalKey() Key
	ParentKeys() []Key
}

// EliminationOptions tunes the engine without changing results.
type EliminationOptions struct {
	// ParallelBranches runs the per-assignment Gaussian eliminations of a
	// hybrid step on separate goroutines. Branch results land in indexed
	// slots, so the output is identical to the serial path.
	ParallelBranches bool
}

// DefaultEliminationOptions returns the serial configuration.
func DefaultEliminationOptions() EliminationOptions {
	return EliminationOptions{}
}

// eliminationStep records one eliminated variable: its conditional and the
// full symbolic separator (conditional parents plus any orphan-connectivity
// keys). The separator drives Bayes tree assembly.
type eliminationStep struct {
	key     Key
	cond    Conditional
	sepKeys []Key
}

// EliminateSequential eliminates the ordering keys one at a time, producing
// a hybrid Bayes net and the graph of factors over the remaining
// (uneliminated) variables.
func EliminateSequential(g *HybridFactorGraph, ordering Ordering) (*HybridBayesNet, *HybridFactorGraph, error) {
	return EliminateSequentialWith(g, ordering, DefaultEliminationOptions())
}

// EliminateSequentialWith is EliminateSequential with explicit options.
func EliminateSequentialWith(g *HybridFactorGraph, ordering Ordering, opts EliminationOptions) (*HybridBayesNet, *HybridFactorGraph, error) {
	steps, remaining, err := eliminationRun(g, ordering, opts)
	if err != nil {
		return nil, nil, err
	}
	bn := NewHybridBayesNet()
	for _, st := range steps {
		bn.Push(st.cond)
	}
	return bn, remaining, nil
}

// EliminateMultifrontal eliminates the ordering keys and assembles the
// resulting conditionals into a clique tree.
func EliminateMultifrontal(g *HybridFactorGraph, ordering Ordering) (*HybridBayesTree, *HybridFactorGraph, error) {
	return EliminateMultifrontalWith(g, ordering, DefaultEliminationOptions())
}

// EliminateMultifrontalWith is EliminateMultifrontal with explicit options.
func EliminateMultifrontalWith(g *HybridFactorGraph, ordering Ordering, opts EliminationOptions) (*HybridBayesTree, *HybridFactorGraph, error) {
	steps, remaining, err := eliminationRun(g, ordering, opts)
	if err != nil {
		return nil, nil, err
	}
	tree, err := assembleBayesTree(steps, ordering)
	if err != nil {
		return nil, nil, err
	}
	return tree, remaining, nil
}

// eliminationRun is the shared core: one eliminationStep per ordering key,
// plus the leftover factor graph. Symbolic connectivity factors are consumed
// internally and never appear in the remainder.
func eliminationRun(g *HybridFactorGraph, ordering Ordering, opts EliminationOptions) ([]eliminationStep, *HybridFactorGraph, error) {
	discreteSet := g.DiscreteKeySet()
	work := append([]Factor(nil), g.Factors()...)

	steps := make([]eliminationStep, 0, len(ordering))
	for _, key := range ordering {
		var touching, rest []Factor
		for _, f := range work {
			if containsKey(f.Keys(), key) {
				touching = append(touching, f)
			} else {
				rest = append(rest, f)
			}
		}

		step, produced, err := eliminateOne(key, touching, discreteSet, opts)
		if err != nil {
			return nil, nil, err
		}
		work = append(rest, produced...)
		steps = append(steps, step)
	}

	remaining := NewHybridFactorGraph()
	for _, f := range work {
		if _, ok := f.(*symbolicFactor); ok {
			continue
		}
		remaining.Push(f)
	}
	return steps, remaining, nil
}

// eliminateOne combines the factors touching key and splits them into a
// conditional on key plus separator factors, applying the hybrid combination
// rule from the elimination contract.
func eliminateOne(key Key, touching []Factor, discreteSet DiscreteKeys, opts EliminationOptions) (eliminationStep, []Factor, error) {
	var discreteFs []*DiscreteFactor
	var gaussianFs []*GaussianFactor
	var mixtureFs []*MixtureFactor
	var symbolicKeys []Key
	for _, f := range touching {
		switch v := f.(type) {
		case *DiscreteFactor:
			discreteFs = append(discreteFs, v)
		case *GaussianFactor:
			gaussianFs = append(gaussianFs, v)
		case *MixtureFactor:
			mixtureFs = append(mixtureFs, v)
		case *symbolicFactor:
			symbolicKeys = append(symbolicKeys, v.keys...)
		}
	}

	var step eliminationStep
	var produced []Factor
	var err error
	if discreteSet.Contains(key) {
		step, produced, err = eliminateDiscreteKey(key, discreteFs, mixtureFs, gaussianFs)
	} else {
		step, produced, err = eliminateContinuousKey(key, gaussianFs, mixtureFs, opts)
	}
	if err != nil {
		return eliminationStep{}, nil, err
	}

	// Thread orphan-connectivity keys through the separator so they stay
	// adjacent for the rest of the run.
	if len(symbolicKeys) > 0 {
		sepSet := KeySet{}
		for _, k := range step.sepKeys {
			sepSet.Add(k)
		}
		for _, k := range symbolicKeys {
			if k != key {
				sepSet.Add(k)
			}
		}
		step.sepKeys = sepSet.Sorted()
		if len(step.sepKeys) > 0 {
			produced = append(produced, &symbolicFactor{keys: step.sepKeys})
		}
	}
	return step, produced, nil
}

func eliminateDiscreteKey(key Key, discreteFs []*DiscreteFactor, mixtureFs []*MixtureFactor, gaussianFs []*GaussianFactor) (eliminationStep, []Factor, error) {
	if len(mixtureFs) > 0 || len(gaussianFs) > 0 {
		return eliminationStep{}, nil, &orderingError{Key: key}
	}
	cond, marginal, err := eliminateDiscrete(discreteFs, key)
	if err != nil {
		return eliminationStep{}, nil, err
	}
	var produced []Factor
	if marginal != nil && len(marginal.Keys()) > 0 {
		produced = append(produced, marginal)
	}
	return eliminationStep{key: key, cond: cond, sepKeys: cond.ParentKeys()}, produced, nil
}

func eliminateContinuousKey(key Key, gaussianFs []*GaussianFactor, mixtureFs []*MixtureFactor, opts EliminationOptions) (eliminationStep, []Factor, error) {
	if len(gaussianFs) == 0 && len(mixtureFs) == 0 {
		return eliminationStep{}, nil, &UnderconstrainedError{Key: key}
	}

	// Purely Gaussian: one QR split, no discrete bookkeeping. The log
	// weight is assignment-independent here and cancels in MAP selection.
	if len(mixtureFs) == 0 {
		cond, marginal, _, err := eliminateGaussian(gaussianFs, key)
		if err != nil {
			return eliminationStep{}, nil, err
		}
		var produced []Factor
		if marginal != nil {
			produced = append(produced, marginal)
		}
		return eliminationStep{key: key, cond: cond, sepKeys: cond.ParentKeys()}, produced, nil
	}

	// Hybrid: eliminate once per assignment of the union of discrete keys
	// conditioning the Gaussian part. Summing out must preserve the total
	// unnormalized density for every assignment, so each branch's residual
	// and determinant feed the separator weight.
	dkeys := DiscreteKeys{}
	for _, mf := range mixtureFs {
		dkeys = mergeDiscreteKeys(dkeys, mf.DiscreteKeys())
	}
	assignments := assignmentsOf(dkeys)

	type branchResult struct {
		sig      string
		cond     *GaussianConditional
		marginal *GaussianFactor
		logW     float64
		pruned   bool
		err      error
	}
	results := make([]branchResult, len(assignments))

	runBranch := func(i int) {
		dv := assignments[i]
		sig, _ := dv.signature(dkeys)
		results[i].sig = sig

		branchFactors := append([]*GaussianFactor(nil), gaussianFs...)
		inConst := 0.0
		for _, mf := range mixtureFs {
			gf, logC, ok, err := mf.Branch(dv)
			if err != nil {
				results[i].err = err
				return
			}
			if !ok {
				results[i].pruned = true
				return
			}
			branchFactors = append(branchFactors, gf)
			inConst += logC
		}
		cond, marginal, lw, err := eliminateGaussian(branchFactors, key)
		if err != nil {
			results[i].err = err
			return
		}
		results[i] = branchResult{sig: sig, cond: cond, marginal: marginal, logW: lw + inConst}
	}

	if opts.ParallelBranches && len(assignments) > 1 {
		var wg sync.WaitGroup
		for i := range assignments {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				runBranch(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range assignments {
			runBranch(i)
		}
	}

	mc := &MixtureConditional{
		key:             key,
		discreteParents: dkeys,
		branches:        make(map[string]*GaussianConditional),
	}
	var sepMarginals map[string]*mixtureBranch
	var sepContinuous []Key
	logWeights := make(map[string]float64, len(assignments))
	anyBranch := false
	for _, res := range results {
		if res.err != nil {
			return eliminationStep{}, nil, res.err
		}
		if res.pruned {
			continue
		}
		anyBranch = true
		mc.branches[res.sig] = res.cond
		if mc.continuousParents == nil {
			mc.continuousParents = append([]Key(nil), res.cond.ParentKeys()...)
			mc.dim = res.cond.Dim()
		}
		logWeights[res.sig] = res.logW
		if res.marginal != nil {
			if sepMarginals == nil {
				sepMarginals = make(map[string]*mixtureBranch)
				sepContinuous = append([]Key(nil), res.marginal.Keys()...)
				sort.Slice(sepContinuous, func(i, j int) bool { return sepContinuous[i] < sepContinuous[j] })
			}
			sepMarginals[res.sig] = &mixtureBranch{factor: res.marginal, logConstant: res.logW}
		}
	}
	if !anyBranch {
		return eliminationStep{}, nil, &UnderconstrainedError{Key: key}
	}

	var produced []Factor
	if sepMarginals != nil {
		produced = append(produced, &MixtureFactor{
			continuousKeys: sepContinuous,
			discreteKeys:   dkeys,
			branches:       sepMarginals,
		})
	} else {
		// Continuous part fully resolved: the separator is a discrete
		// factor whose entries are the per-assignment elimination weights,
		// scaled by the largest so the table stays in floating range.
		maxLW := math.Inf(-1)
		for _, lw := range logWeights {
			if lw > maxLW {
				maxLW = lw
			}
		}
		table := make([]float64, 0, len(assignments))
		for _, dv := range assignmentsOf(dkeys) {
			sig, _ := dv.signature(dkeys)
			if lw, ok := logWeights[sig]; ok {
				table = append(table, math.Exp(lw-maxLW))
			} else {
				table = append(table, 0)
			}
		}
		df, err := NewDiscreteFactor(dkeys, table)
		if err != nil {
			return eliminationStep{}, nil, err
		}
		produced = append(produced, df)
	}

	return eliminationStep{key: key, cond: mc, sepKeys: mc.ParentKeys()}, produced, nil
}
