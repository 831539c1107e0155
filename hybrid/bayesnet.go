package hybrid

import "math"

// HybridBayesNet is an ordered sequence of conditionals, earliest eliminated
// first: the output of sequential elimination. Later conditionals never
// depend on earlier-eliminated variables.
type HybridBayesNet struct {
	conditionals []Conditional
}

// NewHybridBayesNet returns an empty net.
func NewHybridBayesNet() *HybridBayesNet {
	return &HybridBayesNet{}
}

// Push appends a conditional.
func (bn *HybridBayesNet) Push(c Conditional) {
	bn.conditionals = append(bn.conditionals, c)
}

// Size returns the number of conditionals.
func (bn *HybridBayesNet) Size() int { return len(bn.conditionals) }

// At returns the i-th conditional.
func (bn *HybridBayesNet) At(i int) Conditional { return bn.conditionals[i] }

// AtDiscrete returns the i-th conditional as a discrete conditional, or nil.
func (bn *HybridBayesNet) AtDiscrete(i int) *DiscreteConditional {
	c, _ := bn.conditionals[i].(*DiscreteConditional)
	return c
}

// AtMixture returns the i-th conditional as a mixture conditional, or nil.
func (bn *HybridBayesNet) AtMixture(i int) *MixtureConditional {
	c, _ := bn.conditionals[i].(*MixtureConditional)
	return c
}

// Choose selects the pure Gaussian Bayes net matching a discrete assignment:
// mixture conditionals collapse to the branch the assignment picks, Gaussian
// conditionals pass through, discrete conditionals are dropped. The
// assignment must cover every discrete parent referenced by any mixture.
func (bn *HybridBayesNet) Choose(dv DiscreteValues) (*GaussianBayesNet, error) {
	out := &GaussianBayesNet{}
	for _, c := range bn.conditionals {
		switch v := c.(type) {
		case *GaussianConditional:
			out.conditionals = append(out.conditionals, v)
		case *MixtureConditional:
			gc, ok, err := v.Choose(dv)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrNoFeasibleAssignment
			}
			out.conditionals = append(out.conditionals, gc)
		case *DiscreteConditional:
			// dropped
		}
	}
	return out, nil
}

// OptimizeWith back-substitutes the continuous variables for a caller-fixed
// discrete assignment, bypassing the MAP search.
func (bn *HybridBayesNet) OptimizeWith(dv DiscreteValues) (VectorValues, error) {
	gbn, err := bn.Choose(dv)
	if err != nil {
		return nil, err
	}
	return gbn.Optimize()
}

// Optimize computes the exact MAP discrete assignment from the discrete tail
// of the net (the mixture normalization weights were folded there during
// elimination), then back-substitutes the matching Gaussian net. A candidate
// assignment whose mixture branch was pruned is excluded and the next-best
// candidate tried; if none remains the whole call fails.
func (bn *HybridBayesNet) Optimize() (HybridValues, error) {
	joint := bn.discreteJoint()
	if joint == nil {
		// No discrete part at all: a plain Gaussian problem.
		vv, err := bn.OptimizeWith(DiscreteValues{})
		if err != nil {
			return HybridValues{}, err
		}
		return NewHybridValues(DiscreteValues{}, vv), nil
	}

	working := joint
	for {
		best, weight := working.MaxAssignment()
		if weight <= 0 {
			return HybridValues{}, ErrNoFeasibleAssignment
		}
		vv, err := bn.OptimizeWith(best)
		if err == ErrNoFeasibleAssignment {
			// The branch that led here is itself infeasible: exclude it
			// and re-select.
			working = excludeAssignment(working, best)
			continue
		}
		if err != nil {
			return HybridValues{}, err
		}
		return NewHybridValues(best, vv), nil
	}
}

// discreteJoint multiplies the discrete conditionals of the net into one
// table, or nil when the net has no discrete part.
func (bn *HybridBayesNet) discreteJoint() *DiscreteFactor {
	var joint *DiscreteFactor
	for _, c := range bn.conditionals {
		dc, ok := c.(*DiscreteConditional)
		if !ok {
			continue
		}
		f := dc.AsFactor()
		if joint == nil {
			joint = f
		} else {
			joint = joint.Multiply(f)
		}
	}
	return joint
}

// excludeAssignment returns a copy of f with the given assignment zeroed.
func excludeAssignment(f *DiscreteFactor, dv DiscreteValues) *DiscreteFactor {
	table := make([]float64, len(f.table))
	copy(table, f.table)
	table[tableIndex(f.keys, dv)] = 0
	return &DiscreteFactor{keys: f.keys, table: table}
}

// EvaluateLog sums the conditional log-densities at a full hybrid solution.
// Together with the (assignment-independent) constants dropped during
// elimination this reproduces the graph's unnormalized log density.
func (bn *HybridBayesNet) EvaluateLog(hv HybridValues) (float64, error) {
	total := 0.0
	for _, c := range bn.conditionals {
		switch v := c.(type) {
		case *DiscreteConditional:
			p, err := v.Prob(hv.Discrete())
			if err != nil {
				return 0, err
			}
			if p == 0 {
				return 0, ErrNoFeasibleAssignment
			}
			total += math.Log(p)
		case *GaussianConditional:
			x, ok := hv.Continuous()[v.FrontalKey()]
			if !ok {
				return 0, &MissingAssignmentError{Key: v.FrontalKey()}
			}
			ld, err := v.LogDensity(x, hv.Continuous())
			if err != nil {
				return 0, err
			}
			total += ld
		case *MixtureConditional:
			gc, ok, err := v.Choose(hv.Discrete())
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, ErrNoFeasibleAssignment
			}
			x, okx := hv.Continuous()[v.FrontalKey()]
			if !okx {
				return 0, &MissingAssignmentError{Key: v.FrontalKey()}
			}
			ld, err := gc.LogDensity(x, hv.Continuous())
			if err != nil {
				return 0, err
			}
			total += ld
		}
	}
	return total, nil
}

// Equal reports exact structural equality within tol: same conditional
// sequence, types, and contents.
func (bn *HybridBayesNet) Equal(other *HybridBayesNet, tol float64) bool {
	if len(bn.conditionals) != len(other.conditionals) {
		return false
	}
	for i, c := range bn.conditionals {
		if !conditionalsEqual(c, other.conditionals[i], tol) {
			return false
		}
	}
	return true
}

func conditionalsEqual(a, b Conditional, tol float64) bool {
	switch va := a.(type) {
	case *DiscreteConditional:
		vb, ok := b.(*DiscreteConditional)
		return ok && va.Equal(vb, tol)
	case *GaussianConditional:
		vb, ok := b.(*GaussianConditional)
		return ok && va.Equal(vb, tol)
	case *MixtureConditional:
		vb, ok := b.(*MixtureConditional)
		return ok && va.Equal(vb, tol)
	}
	return false
}
