package hybrid

import (
	"fmt"
	"math"
)

// DiscreteFactor is a dense table over a set of discrete keys, proportional
// to a probability. Keys are held in canonical (sorted) order and the table
// is row-major with the first key most significant. Factors are immutable
// once created.
type DiscreteFactor struct {
	keys  DiscreteKeys
	table []float64
}

// NewDiscreteFactor builds a table factor. The table is interpreted
// row-major over the keys in the order given (last key fastest); internally
// the factor is stored over sorted keys.
func NewDiscreteFactor(keys DiscreteKeys, table []float64) (*DiscreteFactor, error) {
	want := 1
	for _, dk := range keys {
		if dk.Cardinality < 1 {
			return nil, fmt.Errorf("discrete key %s has cardinality %d", dk.Key, dk.Cardinality)
		}
		want *= dk.Cardinality
	}
	if len(table) != want {
		return nil, fmt.Errorf("discrete table has %d entries, want %d", len(table), want)
	}

	sorted := keys.Sorted()
	out := &DiscreteFactor{keys: sorted, table: make([]float64, want)}
	for _, dv := range assignmentsOf(keys) {
		out.table[tableIndex(sorted, dv)] = table[tableIndex(keys, dv)]
	}
	return out, nil
}

// uniformDiscreteFactor builds a factor of all ones over keys.
func uniformDiscreteFactor(keys DiscreteKeys) *DiscreteFactor {
	sorted := keys.Sorted()
	n := 1
	for _, dk := range sorted {
		n *= dk.Cardinality
	}
	table := make([]float64, n)
	for i := range table {
		table[i] = 1
	}
	return &DiscreteFactor{keys: sorted, table: table}
}

// Keys returns the plain keys of the factor.
func (f *DiscreteFactor) Keys() []Key {
	out := make([]Key, len(f.keys))
	for i, dk := range f.keys {
		out[i] = dk.Key
	}
	return out
}

// DiscreteKeys returns the typed keys with cardinalities.
func (f *DiscreteFactor) DiscreteKeys() DiscreteKeys { return f.keys }

// Value looks up the table entry for the given assignment. Keys outside the
// factor are ignored; missing keys are an error.
func (f *DiscreteFactor) Value(dv DiscreteValues) (float64, error) {
	for _, dk := range f.keys {
		if _, ok := dv[dk.Key]; !ok {
			return 0, &MissingAssignmentError{Key: dk.Key}
		}
	}
	return f.table[tableIndex(f.keys, dv)], nil
}

// Multiply returns the pointwise product over the union of both key sets.
func (f *DiscreteFactor) Multiply(g *DiscreteFactor) *DiscreteFactor {
	keys := mergeDiscreteKeys(f.keys, g.keys)
	out := uniformDiscreteFactor(keys)
	for i, dv := range assignmentsOf(keys) {
		fv := f.table[tableIndex(f.keys, dv)]
		gv := g.table[tableIndex(g.keys, dv)]
		out.table[i] = fv * gv
	}
	return out
}

// SumOut marginalizes the given key away.
func (f *DiscreteFactor) SumOut(k Key) *DiscreteFactor {
	rest := make(DiscreteKeys, 0, len(f.keys))
	var removed DiscreteKey
	for _, dk := range f.keys {
		if dk.Key == k {
			removed = dk
		} else {
			rest = append(rest, dk)
		}
	}
	if removed.Cardinality == 0 {
		return f
	}
	out := &DiscreteFactor{keys: rest, table: make([]float64, len(f.table)/removed.Cardinality)}
	for i, dv := range assignmentsOf(rest) {
		sum := 0.0
		for v := 0; v < removed.Cardinality; v++ {
			dv[k] = v
			sum += f.table[tableIndex(f.keys, dv)]
		}
		delete(dv, k)
		out.table[i] = sum
	}
	return out
}

// MaxAssignment returns the highest-valued assignment. Ties are broken
// lexicographically over keys sorted by id, smallest assignment first, so
// the result is deterministic.
func (f *DiscreteFactor) MaxAssignment() (DiscreteValues, float64) {
	var best DiscreteValues
	bestVal := math.Inf(-1)
	for _, dv := range assignmentsOf(f.keys) {
		v := f.table[tableIndex(f.keys, dv)]
		if v > bestVal {
			bestVal = v
			best = dv.Copy()
		}
	}
	return best, bestVal
}

// Normalized returns a copy scaled so the table sums to one. A zero table is
// returned unchanged.
func (f *DiscreteFactor) Normalized() *DiscreteFactor {
	sum := 0.0
	for _, v := range f.table {
		sum += v
	}
	if sum == 0 {
		return f
	}
	out := &DiscreteFactor{keys: f.keys, table: make([]float64, len(f.table))}
	for i, v := range f.table {
		out.table[i] = v / sum
	}
	return out
}

// Equal reports table equality within tol over identical key sets.
func (f *DiscreteFactor) Equal(g *DiscreteFactor, tol float64) bool {
	if len(f.keys) != len(g.keys) {
		return false
	}
	for i := range f.keys {
		if f.keys[i] != g.keys[i] {
			return false
		}
	}
	for i := range f.table {
		if math.Abs(f.table[i]-g.table[i]) > tol {
			return false
		}
	}
	return true
}

// tableIndex computes the row-major table index of an assignment, first key
// most significant.
func tableIndex(keys DiscreteKeys, dv DiscreteValues) int {
	idx := 0
	for _, dk := range keys {
		idx = idx*dk.Cardinality + dv[dk.Key]
	}
	return idx
}

// assignmentsOf enumerates every assignment of keys in lexicographic order
// (first key most significant, value 0 first). The returned maps are reused
// storage-wise only per element; each entry is independent.
func assignmentsOf(keys DiscreteKeys) []DiscreteValues {
	n := 1
	for _, dk := range keys {
		n *= dk.Cardinality
	}
	out := make([]DiscreteValues, 0, n)
	dv := make(DiscreteValues, len(keys))
	var recurse func(i int)
	recurse = func(i int) {
		if i == len(keys) {
			out = append(out, dv.Copy())
			return
		}
		for v := 0; v < keys[i].Cardinality; v++ {
			dv[keys[i].Key] = v
			recurse(i + 1)
		}
	}
	recurse(0)
	return out
}

// DiscreteConditional is a normalized distribution over one discrete frontal
// key given discrete parents, stored as a table over frontal ∪ parents.
type DiscreteConditional struct {
	frontal DiscreteKey
	parents DiscreteKeys
	joint   *DiscreteFactor // normalized per parent assignment
}

// NewDiscreteConditional normalizes a joint table into a conditional on
// frontal given the remaining keys.
func NewDiscreteConditional(frontal DiscreteKey, joint *DiscreteFactor) (*DiscreteConditional, error) {
	if !joint.keys.Contains(frontal.Key) {
		return nil, fmt.Errorf("frontal key %s not in joint factor", frontal.Key)
	}
	parents := make(DiscreteKeys, 0, len(joint.keys)-1)
	for _, dk := range joint.keys {
		if dk.Key != frontal.Key {
			parents = append(parents, dk)
		}
	}

	marginal := joint.SumOut(frontal.Key)
	norm := &DiscreteFactor{keys: joint.keys, table: make([]float64, len(joint.table))}
	for _, dv := range assignmentsOf(joint.keys) {
		m := marginal.table[tableIndex(marginal.keys, dv)]
		j := joint.table[tableIndex(joint.keys, dv)]
		if m > 0 {
			norm.table[tableIndex(norm.keys, dv)] = j / m
		}
	}
	return &DiscreteConditional{frontal: frontal, parents: parents, joint: norm}, nil
}

// FrontalKey returns the conditioned variable.
func (c *DiscreteConditional) FrontalKey() Key { return c.frontal.Key }

// ParentKeys returns the separator keys.
func (c *DiscreteConditional) ParentKeys() []Key {
	out := make([]Key, len(c.parents))
	for i, dk := range c.parents {
		out[i] = dk.Key
	}
	return out
}

// Prob evaluates P(frontal | parents) at the given full assignment.
func (c *DiscreteConditional) Prob(dv DiscreteValues) (float64, error) {
	return c.joint.Value(dv)
}

// AsFactor reinterprets the conditional table as a plain factor, used when
// incremental update converts cliques back into factors.
func (c *DiscreteConditional) AsFactor() *DiscreteFactor {
	table := make([]float64, len(c.joint.table))
	copy(table, c.joint.table)
	return &DiscreteFactor{keys: c.joint.keys, table: table}
}

// Equal reports structural equality within tol.
func (c *DiscreteConditional) Equal(other *DiscreteConditional, tol float64) bool {
	return c.frontal == other.frontal && c.joint.Equal(other.joint, tol)
}

// eliminateDiscrete combines purely discrete factors and splits out the key:
// the product is normalized into a conditional and the summed-out marginal
// is returned as the separator factor.
func eliminateDiscrete(factors []*DiscreteFactor, key Key) (*DiscreteConditional, *DiscreteFactor, error) {
	if len(factors) == 0 {
		return nil, nil, &UnderconstrainedError{Key: key}
	}
	joint := factors[0]
	for _, f := range factors[1:] {
		joint = joint.Multiply(f)
	}
	card := joint.keys.Cardinality(key)
	if card == 0 {
		return nil, nil, &UnderconstrainedError{Key: key}
	}

	allZero := true
	for _, v := range joint.table {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, nil, &UnderconstrainedError{Key: key}
	}

	cond, err := NewDiscreteConditional(DiscreteKey{Key: key, Cardinality: card}, joint)
	if err != nil {
		return nil, nil, err
	}
	return cond, joint.SumOut(key), nil
}
