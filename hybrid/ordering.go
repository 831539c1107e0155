package hybrid

// Ordering is the total order in which variables are eliminated. The caller
// supplies it; fill-reducing heuristics live outside the engine.
type Ordering []Key

// index returns key -> position, used to sort conditional parents by
// elimination time when assembling the Bayes tree.
func (o Ordering) index() map[Key]int {
	idx := make(map[Key]int, len(o))
	for i, k := range o {
		idx[k] = i
	}
	return idx
}

// Contains reports membership.
func (o Ordering) Contains(k Key) bool {
	for _, key := range o {
		if key == k {
			return true
		}
	}
	return false
}

// HybridOrdering builds the standard valid ordering for a hybrid graph:
// continuous keys first (ascending by key id), discrete keys last. Discrete
// modes must outlive the continuous variables they switch, so any ordering
// that interleaves them the other way is rejected by elimination.
func HybridOrdering(g *HybridFactorGraph) Ordering {
	out := Ordering{}
	out = append(out, g.ContinuousKeys()...)
	for _, dk := range g.DiscreteKeySet() {
		out = append(out, dk.Key)
	}
	return out
}
