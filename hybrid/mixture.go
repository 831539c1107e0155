package hybrid

import (
	"fmt"
	"sort"
)

// mixtureBranch is one Gaussian branch of a mixture factor together with the
// log constant accumulated for its discrete assignment during elimination.
type mixtureBranch struct {
	factor      *GaussianFactor
	logConstant float64
}

// MixtureFactor is a family of Gaussian factors indexed by an assignment of
// discrete keys: the hybrid "Gaussian mixture factor". Branch map keys are
// canonical assignment signatures over the discrete keys in sorted order.
type MixtureFactor struct {
	continuousKeys []Key
	discreteKeys   DiscreteKeys
	branches       map[string]*mixtureBranch
}

// NewMixtureFactor builds a mixture factor from one Gaussian factor per
// discrete assignment. Every branch must cover the same continuous keys.
func NewMixtureFactor(discreteKeys DiscreteKeys, branchFor func(DiscreteValues) *GaussianFactor) (*MixtureFactor, error) {
	sorted := discreteKeys.Sorted()
	mf := &MixtureFactor{discreteKeys: sorted, branches: make(map[string]*mixtureBranch)}
	for _, dv := range assignmentsOf(sorted) {
		gf := branchFor(dv)
		if gf == nil {
			return nil, fmt.Errorf("no branch for assignment %s", dv)
		}
		sig, _ := dv.signature(sorted)
		mf.branches[sig] = &mixtureBranch{factor: gf}
		if mf.continuousKeys == nil {
			mf.continuousKeys = append([]Key(nil), gf.Keys()...)
			sort.Slice(mf.continuousKeys, func(i, j int) bool { return mf.continuousKeys[i] < mf.continuousKeys[j] })
		} else if len(gf.Keys()) != len(mf.continuousKeys) {
			return nil, fmt.Errorf("branch %s covers %d continuous keys, want %d", dv, len(gf.Keys()), len(mf.continuousKeys))
		}
	}
	return mf, nil
}

// NewScalarSwitchBetween builds a two-state mixture over (k1, k2): each mode
// asserts x2 - x1 = deltas[mode] with the shared sigma. The common building
// block for mode-switch chains.
func NewScalarSwitchBetween(k1, k2 Key, mode DiscreteKey, deltas []float64, sigma float64) (*MixtureFactor, error) {
	if len(deltas) != mode.Cardinality {
		return nil, fmt.Errorf("got %d deltas for cardinality %d", len(deltas), mode.Cardinality)
	}
	return NewMixtureFactor(DiscreteKeys{mode}, func(dv DiscreteValues) *GaussianFactor {
		return NewScalarBetween(k1, k2, deltas[dv[mode.Key]], sigma)
	})
}

// Keys returns continuous keys followed by discrete keys.
func (mf *MixtureFactor) Keys() []Key {
	out := append([]Key(nil), mf.continuousKeys...)
	for _, dk := range mf.discreteKeys {
		out = append(out, dk.Key)
	}
	return out
}

// ContinuousKeys returns the continuous keys only.
func (mf *MixtureFactor) ContinuousKeys() []Key { return mf.continuousKeys }

// DiscreteKeys returns the indexing discrete keys.
func (mf *MixtureFactor) DiscreteKeys() DiscreteKeys { return mf.discreteKeys }

// Branch returns the Gaussian factor and log constant selected by the given
// assignment, which must cover all discrete keys of the mixture. A pruned
// branch returns ok=false.
func (mf *MixtureFactor) Branch(dv DiscreteValues) (*GaussianFactor, float64, bool, error) {
	sig, complete := dv.signature(mf.discreteKeys)
	if !complete {
		for _, dk := range mf.discreteKeys {
			if _, ok := dv[dk.Key]; !ok {
				return nil, 0, false, &MissingAssignmentError{Key: dk.Key}
			}
		}
	}
	br, ok := mf.branches[sig]
	if !ok {
		return nil, 0, false, nil
	}
	return br.factor, br.logConstant, true, nil
}

// MixtureConditional maps a discrete assignment to a Gaussian conditional:
// p(x | separator, modes). All branches share the frontal key, its
// dimension, and the continuous separator.
type MixtureConditional struct {
	key               Key
	dim               int
	continuousParents []Key
	discreteParents   DiscreteKeys
	branches          map[string]*GaussianConditional
}

// FrontalKey returns the conditioned continuous variable.
func (mc *MixtureConditional) FrontalKey() Key { return mc.key }

// ParentKeys returns continuous separator keys followed by discrete parents.
func (mc *MixtureConditional) ParentKeys() []Key {
	out := append([]Key(nil), mc.continuousParents...)
	for _, dk := range mc.discreteParents {
		out = append(out, dk.Key)
	}
	return out
}

// DiscreteParents returns the discrete keys selecting the branch.
func (mc *MixtureConditional) DiscreteParents() DiscreteKeys { return mc.discreteParents }

// BranchCount returns the number of retained branches.
func (mc *MixtureConditional) BranchCount() int { return len(mc.branches) }

// Choose selects the Gaussian conditional for the given assignment.
// ok=false marks a pruned (infeasible) branch.
func (mc *MixtureConditional) Choose(dv DiscreteValues) (*GaussianConditional, bool, error) {
	for _, dk := range mc.discreteParents {
		if _, ok := dv[dk.Key]; !ok {
			return nil, false, &MissingAssignmentError{Key: dk.Key}
		}
	}
	sig, _ := dv.signature(mc.discreteParents)
	gc, ok := mc.branches[sig]
	if !ok {
		return nil, false, nil
	}
	return gc, true, nil
}

// AsFactor converts the conditional back into a mixture factor, preserving
// per-branch normalization constants so re-elimination reproduces the same
// discrete weights. Pruned branches stay absent.
func (mc *MixtureConditional) AsFactor() *MixtureFactor {
	mf := &MixtureFactor{
		discreteKeys: mc.discreteParents,
		branches:     make(map[string]*mixtureBranch, len(mc.branches)),
	}
	keys := append([]Key{mc.key}, mc.continuousParents...)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	mf.continuousKeys = keys
	for sig, gc := range mc.branches {
		mf.branches[sig] = &mixtureBranch{
			factor:      gc.AsFactor(),
			logConstant: gc.LogNormalization(),
		}
	}
	return mf
}

// removeBranch drops the branch for the given signature. Returns true when
// no branches remain (the conditional is infeasible).
func (mc *MixtureConditional) removeBranch(sig string) bool {
	delete(mc.branches, sig)
	return len(mc.branches) == 0
}

// Equal reports structural equality within tol: same keys, same retained
// branch set, branch-wise equal conditionals.
func (mc *MixtureConditional) Equal(o *MixtureConditional, tol float64) bool {
	if mc.key != o.key || mc.dim != o.dim || len(mc.branches) != len(o.branches) {
		return false
	}
	if len(mc.continuousParents) != len(o.continuousParents) || len(mc.discreteParents) != len(o.discreteParents) {
		return false
	}
	for i := range mc.continuousParents {
		if mc.continuousParents[i] != o.continuousParents[i] {
			return false
		}
	}
	for i := range mc.discreteParents {
		if mc.discreteParents[i] != o.discreteParents[i] {
			return false
		}
	}
	for sig, gc := range mc.branches {
		ogc, ok := o.branches[sig]
		if !ok || !gc.Equal(ogc, tol) {
			return false
		}
	}
	return true
}
