package hybrid

import (
	"fmt"
	"sort"
)

// Clique is one node of the Bayes tree: one or more consecutive eliminated
// variables (frontals, earliest first) with their conditionals, plus the
// separator shared with the parent clique. Cliques live in the tree's arena
// and reference each other by index, never by pointer.
type Clique struct {
	id           int
	frontals     []Key
	conditionals []Conditional
	separator    []Key
	parent       int // -1 for a root
	children     []int
}

// Frontals returns the clique's frontal keys, earliest eliminated first.
func (c *Clique) Frontals() []Key { return c.frontals }

// Separator returns the keys shared with the parent.
func (c *Clique) Separator() []Key { return c.separator }

// Conditionals returns one conditional per frontal, parallel to Frontals.
func (c *Clique) Conditionals() []Conditional { return c.conditionals }

// Parent returns the parent clique id, or -1.
func (c *Clique) Parent() int { return c.parent }

// Children returns the child clique ids.
func (c *Clique) Children() []int { return c.children }

// keys returns frontals plus separator.
func (c *Clique) keys() []Key {
	out := append([]Key(nil), c.frontals...)
	return append(out, c.separator...)
}

func (c *Clique) hasKey(k Key) bool {
	return containsKey(c.frontals, k) || containsKey(c.separator, k)
}

// HybridBayesTree is a rooted forest of cliques produced by multifrontal
// elimination. It satisfies the running-intersection property: every key
// appears in a connected set of cliques.
type HybridBayesTree struct {
	cliques []*Clique
	roots   []int
}

// NewHybridBayesTree returns an empty tree.
func NewHybridBayesTree() *HybridBayesTree {
	return &HybridBayesTree{}
}

// CliqueCount returns the number of cliques in the arena.
func (t *HybridBayesTree) CliqueCount() int { return len(t.cliques) }

// Clique returns the clique with the given arena id.
func (t *HybridBayesTree) Clique(id int) *Clique { return t.cliques[id] }

// Roots returns the root clique ids.
func (t *HybridBayesTree) Roots() []int { return t.roots }

// Empty reports whether the tree holds no cliques.
func (t *HybridBayesTree) Empty() bool { return len(t.cliques) == 0 }

func (t *HybridBayesTree) addClique(c *Clique) int {
	c.id = len(t.cliques)
	t.cliques = append(t.cliques, c)
	if c.parent < 0 {
		t.roots = append(t.roots, c.id)
	} else {
		p := t.cliques[c.parent]
		p.children = append(p.children, c.id)
	}
	return c.id
}

// assembleBayesTree builds the clique tree from elimination steps by
// processing conditionals in reverse elimination order: a conditional whose
// separator covers an existing clique entirely joins it as a new earliest
// frontal, otherwise it starts a child clique below the clique holding its
// earliest-eliminated separator key.
func assembleBayesTree(steps []eliminationStep, ordering Ordering) (*HybridBayesTree, error) {
	tree := NewHybridBayesTree()
	orderIdx := ordering.index()
	cliqueOf := make(map[Key]int) // key -> clique where it is frontal

	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		parents := append([]Key(nil), st.sepKeys...)
		sort.Slice(parents, func(a, b int) bool { return orderIdx[parents[a]] < orderIdx[parents[b]] })

		if len(parents) == 0 {
			id := tree.addClique(&Clique{
				frontals:     []Key{st.key},
				conditionals: []Conditional{st.cond},
				parent:       -1,
			})
			cliqueOf[st.key] = id
			continue
		}

		cpID, ok := cliqueOf[parents[0]]
		if !ok {
			return nil, &StructuralInvariantViolation{Detail: fmt.Sprintf("separator key %s of %s not yet in any clique", parents[0], st.key)}
		}
		cp := tree.cliques[cpID]

		if sameKeySet(parents, cp.keys()) {
			// Multifrontal merge: the conditional's separator is exactly the
			// parent clique, so the frontal joins it.
			cp.frontals = append([]Key{st.key}, cp.frontals...)
			cp.conditionals = append([]Conditional{st.cond}, cp.conditionals...)
			cliqueOf[st.key] = cpID
			continue
		}

		for _, p := range parents {
			if !cp.hasKey(p) {
				return nil, &StructuralInvariantViolation{Detail: fmt.Sprintf("separator key %s of %s missing from parent clique", p, st.key)}
			}
		}
		id := tree.addClique(&Clique{
			frontals:     []Key{st.key},
			conditionals: []Conditional{st.cond},
			separator:    parents,
			parent:       cpID,
		})
		cliqueOf[st.key] = id
	}
	return tree, nil
}

func sameKeySet(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	set := KeySet{}
	for _, k := range a {
		set.Add(k)
	}
	for _, k := range b {
		if !set.Has(k) {
			return false
		}
	}
	return true
}

// CheckRunningIntersection verifies that for every key the cliques holding
// it form one connected path, and that every separator is covered by the
// parent clique. Failure is an internal-consistency error.
func (t *HybridBayesTree) CheckRunningIntersection() error {
	holders := make(map[Key][]int)
	for _, c := range t.cliques {
		for _, k := range c.keys() {
			holders[k] = append(holders[k], c.id)
		}
		if c.parent >= 0 {
			p := t.cliques[c.parent]
			for _, k := range c.separator {
				if !p.hasKey(k) {
					return &StructuralInvariantViolation{Detail: fmt.Sprintf("separator key %s of clique %d missing from parent", k, c.id)}
				}
			}
		}
	}
	for k, ids := range holders {
		inSet := make(map[int]bool, len(ids))
		for _, id := range ids {
			inSet[id] = true
		}
		tops := 0
		for _, id := range ids {
			parent := t.cliques[id].parent
			if parent < 0 || !inSet[parent] {
				tops++
			}
		}
		if tops > 1 {
			return &StructuralInvariantViolation{Detail: fmt.Sprintf("key %s appears in %d disconnected clique groups", k, tops)}
		}
	}
	return nil
}

// Optimize computes the MAP hybrid solution: the exact discrete mode from
// the tree's discrete conditionals, then a root-to-leaf continuous
// back-substitution consistent across cliques. Candidates whose mixture
// branch was pruned are excluded and the next-best candidate tried.
func (t *HybridBayesTree) Optimize() (HybridValues, error) {
	joint := t.discreteJoint()
	if joint == nil {
		vv, err := t.OptimizeWith(DiscreteValues{})
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
		vv, err := t.OptimizeWith(best)
		if err == ErrNoFeasibleAssignment {
			working = excludeAssignment(working, best)
			continue
		}
		if err != nil {
			return HybridValues{}, err
		}
		return NewHybridValues(best, vv), nil
	}
}

// OptimizeWith back-substitutes the continuous variables for a fixed
// discrete assignment, clique by clique from the roots down.
func (t *HybridBayesTree) OptimizeWith(dv DiscreteValues) (VectorValues, error) {
	vv := make(VectorValues)
	var solve func(id int) error
	solve = func(id int) error {
		c := t.cliques[id]
		// Within a clique the earliest frontal may depend on the later
		// ones, so solve back to front.
		for i := len(c.conditionals) - 1; i >= 0; i-- {
			switch cond := c.conditionals[i].(type) {
			case *DiscreteConditional:
				// handled by the discrete pass
			case *GaussianConditional:
				x, err := cond.Solve(vv)
				if err != nil {
					return err
				}
				vv[cond.FrontalKey()] = x
			case *MixtureConditional:
				gc, ok, err := cond.Choose(dv)
				if err != nil {
					return err
				}
				if !ok {
					return ErrNoFeasibleAssignment
				}
				x, err := gc.Solve(vv)
				if err != nil {
					return err
				}
				vv[cond.FrontalKey()] = x
			}
		}
		for _, child := range c.children {
			if err := solve(child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range t.roots {
		if err := solve(root); err != nil {
			return nil, err
		}
	}
	return vv, nil
}

// discreteJoint multiplies every discrete conditional in the tree into one
// table, or nil when no discrete part exists.
func (t *HybridBayesTree) discreteJoint() *DiscreteFactor {
	var joint *DiscreteFactor
	for _, c := range t.cliques {
		for _, cond := range c.conditionals {
			dc, ok := cond.(*DiscreteConditional)
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
	}
	return joint
}

// mixtureConditionals returns every mixture conditional in the tree.
func (t *HybridBayesTree) mixtureConditionals() []*MixtureConditional {
	var out []*MixtureConditional
	for _, c := range t.cliques {
		for _, cond := range c.conditionals {
			if mc, ok := cond.(*MixtureConditional); ok {
				out = append(out, mc)
			}
		}
	}
	return out
}

// DiscreteKeySet returns every discrete key in the tree with cardinality.
func (t *HybridBayesTree) DiscreteKeySet() DiscreteKeys {
	out := DiscreteKeys{}
	for _, c := range t.cliques {
		for _, cond := range c.conditionals {
			switch v := cond.(type) {
			case *DiscreteConditional:
				out = mergeDiscreteKeys(out, DiscreteKeys{v.frontal})
				out = mergeDiscreteKeys(out, v.parents)
			case *MixtureConditional:
				out = mergeDiscreteKeys(out, v.discreteParents)
			}
		}
	}
	return out
}

// Keys returns every key in the tree, sorted.
func (t *HybridBayesTree) Keys() []Key {
	set := KeySet{}
	for _, c := range t.cliques {
		for _, k := range c.keys() {
			set.Add(k)
		}
	}
	return set.Sorted()
}

// Equal reports exact structural equality within tol, independent of arena
// ids: same forest shape, frontal sets, separators, and conditionals.
func (t *HybridBayesTree) Equal(other *HybridBayesTree, tol float64) bool {
	if len(t.cliques) != len(other.cliques) || len(t.roots) != len(other.roots) {
		return false
	}
	aRoots := t.sortedByFirstFrontal(t.roots)
	bRoots := other.sortedByFirstFrontal(other.roots)
	for i := range aRoots {
		if !t.cliqueEqual(other, aRoots[i], bRoots[i], tol) {
			return false
		}
	}
	return true
}

func (t *HybridBayesTree) sortedByFirstFrontal(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		return t.cliques[out[i]].frontals[0] < t.cliques[out[j]].frontals[0]
	})
	return out
}

func (t *HybridBayesTree) cliqueEqual(other *HybridBayesTree, aID, bID int, tol float64) bool {
	a, b := t.cliques[aID], other.cliques[bID]
	if len(a.frontals) != len(b.frontals) || !sameKeySet(a.separator, b.separator) {
		return false
	}
	for i := range a.frontals {
		if a.frontals[i] != b.frontals[i] {
			return false
		}
		if !conditionalsEqual(a.conditionals[i], b.conditionals[i], tol) {
			return false
		}
	}
	if len(a.children) != len(b.children) {
		return false
	}
	aKids := t.sortedByFirstFrontal(a.children)
	bKids := other.sortedByFirstFrontal(b.children)
	for i := range aKids {
		if !t.cliqueEqual(other, aKids[i], bKids[i], tol) {
			return false
		}
	}
	return true
}
