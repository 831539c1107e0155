package hybrid

import "fmt"

// ISAM maintains a hybrid Bayes tree incrementally. Each Update re-eliminates
// only the cliques touched by the new factors and their ancestors, converting
// their conditionals back to factors and grafting the untouched subtrees onto
// the freshly eliminated top.
type ISAM struct {
	tree *HybridBayesTree
	opts EliminationOptions
}

// NewISAM returns an empty solver with the serial elimination options.
func NewISAM() *ISAM {
	return NewISAMWith(DefaultEliminationOptions())
}

// NewISAMWith returns an empty solver with explicit options.
func NewISAMWith(opts EliminationOptions) *ISAM {
	return &ISAM{tree: NewHybridBayesTree(), opts: opts}
}

// Tree returns the current Bayes tree. Callers must not mutate it.
func (s *ISAM) Tree() *HybridBayesTree { return s.tree }

// Update folds newFactors into the tree. When ordering is nil a
// continuous-first ordering over the affected variables is used. The
// resulting tree is equivalent to batch elimination of all factors seen so
// far, up to clique structure.
func (s *ISAM) Update(newFactors *HybridFactorGraph, ordering Ordering) error {
	if newFactors == nil || newFactors.Size() == 0 {
		return nil
	}

	newKeys := KeySet{}
	for _, k := range newFactors.Keys() {
		newKeys.Add(k)
	}

	affected := s.affectedCliques(newKeys)
	graph, orphans := s.detachTop(affected)
	graph.PushAll(newFactors)
	for _, o := range orphans {
		if len(s.tree.cliques[o].separator) > 0 {
			graph.Push(&symbolicFactor{keys: append([]Key(nil), s.tree.cliques[o].separator...)})
		}
	}

	if ordering == nil {
		ordering = HybridOrdering(graph)
	}
	top, remaining, err := EliminateMultifrontalWith(graph, ordering, s.opts)
	if err != nil {
		return err
	}
	if remaining.Size() != 0 {
		return &StructuralInvariantViolation{Detail: fmt.Sprintf("%d factors left after re-elimination", remaining.Size())}
	}

	for _, o := range orphans {
		if err := s.graft(top, o); err != nil {
			return err
		}
	}
	s.tree = top
	return s.tree.CheckRunningIntersection()
}

// Prune keeps at most maxLeaves discrete hypotheses in the tree.
func (s *ISAM) Prune(maxLeaves int) error {
	return s.tree.Prune(maxLeaves)
}

// Optimize returns the MAP hybrid solution of the current tree.
func (s *ISAM) Optimize() (HybridValues, error) {
	if s.tree.Empty() {
		return HybridValues{}, &StructuralInvariantViolation{Detail: "optimize on empty tree"}
	}
	return s.tree.Optimize()
}

// affectedCliques marks every clique with a frontal among newKeys and closes
// the set upward, so the removed region is always a root-side subtree.
func (s *ISAM) affectedCliques(newKeys KeySet) map[int]bool {
	affected := make(map[int]bool)
	for _, c := range s.tree.cliques {
		for _, k := range c.frontals {
			if newKeys.Has(k) {
				affected[c.id] = true
				break
			}
		}
	}
	for id := range affected {
		for p := s.tree.cliques[id].parent; p >= 0 && !affected[p]; p = s.tree.cliques[p].parent {
			affected[p] = true
		}
	}
	return affected
}

// detachTop converts the affected cliques back into a factor graph and
// returns the orphans: unaffected cliques whose parent was removed, plus
// every unaffected root of the forest. The orphan subtrees stay in the old
// arena until grafted.
func (s *ISAM) detachTop(affected map[int]bool) (*HybridFactorGraph, []int) {
	graph := NewHybridFactorGraph()
	var orphans []int
	for id := range affected {
		c := s.tree.cliques[id]
		for _, cond := range c.conditionals {
			switch v := cond.(type) {
			case *DiscreteConditional:
				graph.Push(v.AsFactor())
			case *GaussianConditional:
				graph.Push(v.AsFactor())
			case *MixtureConditional:
				graph.Push(v.AsFactor())
			}
		}
		for _, child := range c.children {
			if !affected[child] {
				orphans = append(orphans, child)
			}
		}
	}
	// Roots untouched by the update carry over whole, or the forest would
	// silently lose them.
	for _, r := range s.tree.roots {
		if !affected[r] {
			orphans = append(orphans, r)
		}
	}
	return graph, orphans
}

// graft copies the orphan subtree rooted at oldID from the previous arena
// into top, attaching its root below the deepest clique containing the
// orphan's full separator. An orphan with an empty separator is a detached
// root and becomes a root of top.
func (s *ISAM) graft(top *HybridBayesTree, oldID int) error {
	sep := s.tree.cliques[oldID].separator
	parent := -1
	if len(sep) > 0 {
		p, err := top.deepestContaining(sep)
		if err != nil {
			return err
		}
		parent = p
	}
	var copyTree func(oldID, parentID int)
	copyTree = func(oldID, parentID int) {
		old := s.tree.cliques[oldID]
		id := top.addClique(&Clique{
			frontals:     old.frontals,
			conditionals: old.conditionals,
			separator:    old.separator,
			parent:       parentID,
		})
		for _, child := range old.children {
			copyTree(child, id)
		}
	}
	copyTree(oldID, parent)
	return nil
}

// deepestContaining finds the clique holding all of keys, preferring the one
// furthest from a root.
func (t *HybridBayesTree) deepestContaining(keys []Key) (int, error) {
	best, bestDepth := -1, -1
	for _, c := range t.cliques {
		ok := true
		for _, k := range keys {
			if !c.hasKey(k) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		depth := 0
		for p := c.parent; p >= 0; p = t.cliques[p].parent {
			depth++
		}
		if depth > bestDepth {
			best, bestDepth = c.id, depth
		}
	}
	if best < 0 {
		return 0, &StructuralInvariantViolation{Detail: fmt.Sprintf("no clique contains orphan separator %v", keys)}
	}
	return best, nil
}
