package hybrid

import "math"

// Factor is anything that constrains a subset of variables: a discrete
// table, a Gaussian quadratic, or a mixture of Gaussians indexed by modes.
type Factor interface {
	Keys() []Key
}

// symbolicFactor carries connectivity only. The incremental update adds one
// per orphan subtree so the orphan's separator keys stay adjacent during
// re-elimination.
type symbolicFactor struct {
	keys []Key
}

func (s *symbolicFactor) Keys() []Key { return s.keys }

// HybridFactorGraph is an unordered collection of factors over discrete and
// continuous variables: the unit of input to elimination.
type HybridFactorGraph struct {
	factors []Factor
}

// NewHybridFactorGraph returns an empty graph.
func NewHybridFactorGraph() *HybridFactorGraph {
	return &HybridFactorGraph{}
}

// Push appends a factor. Nil factors are ignored so callers can push
// optional results unconditionally.
func (g *HybridFactorGraph) Push(f Factor) {
	switch v := f.(type) {
	case *DiscreteFactor:
		if v == nil {
			return
		}
	case *GaussianFactor:
		if v == nil {
			return
		}
	case *MixtureFactor:
		if v == nil {
			return
		}
	case nil:
		return
	}
	g.factors = append(g.factors, f)
}

// PushAll appends every factor of another graph.
func (g *HybridFactorGraph) PushAll(other *HybridFactorGraph) {
	g.factors = append(g.factors, other.factors...)
}

// Size returns the number of factors.
func (g *HybridFactorGraph) Size() int { return len(g.factors) }

// At returns the i-th factor.
func (g *HybridFactorGraph) At(i int) Factor { return g.factors[i] }

// Factors returns the underlying slice; callers must not mutate it.
func (g *HybridFactorGraph) Factors() []Factor { return g.factors }

// ContinuousKeys returns every continuous key referenced by the graph,
// sorted.
func (g *HybridFactorGraph) ContinuousKeys() []Key {
	set := KeySet{}
	for _, f := range g.factors {
		switch v := f.(type) {
		case *GaussianFactor:
			for _, k := range v.Keys() {
				set.Add(k)
			}
		case *MixtureFactor:
			for _, k := range v.ContinuousKeys() {
				set.Add(k)
			}
		}
	}
	return set.Sorted()
}

// DiscreteKeySet returns every discrete key referenced by the graph with its
// cardinality, sorted.
func (g *HybridFactorGraph) DiscreteKeySet() DiscreteKeys {
	out := DiscreteKeys{}
	for _, f := range g.factors {
		switch v := f.(type) {
		case *DiscreteFactor:
			out = mergeDiscreteKeys(out, v.DiscreteKeys())
		case *MixtureFactor:
			out = mergeDiscreteKeys(out, v.DiscreteKeys())
		}
	}
	return out
}

// Keys returns every key referenced by the graph, sorted.
func (g *HybridFactorGraph) Keys() []Key {
	set := KeySet{}
	for _, f := range g.factors {
		for _, k := range f.Keys() {
			set.Add(k)
		}
	}
	return set.Sorted()
}

// LogDensity evaluates the unnormalized log joint density of the graph at a
// full hybrid solution: mixture branches are selected by the discrete
// assignment, Gaussian errors contribute -0.5*||A*x-b||^2, and discrete
// tables contribute their log value.
func (g *HybridFactorGraph) LogDensity(hv HybridValues) (float64, error) {
	total := 0.0
	for _, f := range g.factors {
		switch v := f.(type) {
		case *DiscreteFactor:
			p, err := v.Value(hv.Discrete())
			if err != nil {
				return 0, err
			}
			if p == 0 {
				return 0, ErrNoFeasibleAssignment
			}
			total += math.Log(p)
		case *GaussianFactor:
			e, err := v.Error(hv.Continuous())
			if err != nil {
				return 0, err
			}
			total -= 0.5 * e
		case *MixtureFactor:
			gf, logC, ok, err := v.Branch(hv.Discrete())
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, ErrNoFeasibleAssignment
			}
			e, err := gf.Error(hv.Continuous())
			if err != nil {
				return 0, err
			}
			total += logC - 0.5*e
		}
	}
	return total, nil
}
