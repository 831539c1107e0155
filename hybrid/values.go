package hybrid

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DiscreteValues assigns a chosen index to each discrete key.
type DiscreteValues map[Key]int

// Copy returns an independent copy of the assignment.
func (dv DiscreteValues) Copy() DiscreteValues {
	out := make(DiscreteValues, len(dv))
	for k, v := range dv {
		out[k] = v
	}
	return out
}

// Equal reports whether both assignments cover the same keys with the same
// values.
func (dv DiscreteValues) Equal(other DiscreteValues) bool {
	if len(dv) != len(other) {
		return false
	}
	for k, v := range dv {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (dv DiscreteValues) String() string {
	keys := make([]Key, 0, len(dv))
	for k := range dv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, dv[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// signature renders the assignment restricted to keys as a canonical string,
// used to index mixture branches. keys must already be in canonical
// (sorted) order. The second return is false if any key is unassigned.
func (dv DiscreteValues) signature(keys DiscreteKeys) (string, bool) {
	var sb strings.Builder
	for i, dk := range keys {
		v, ok := dv[dk.Key]
		if !ok {
			return "", false
		}
		if i > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%s=%d", dk.Key, v)
	}
	return sb.String(), true
}

// VectorValues assigns a numeric vector to each continuous key.
type VectorValues map[Key][]float64

// Copy returns an independent copy.
func (vv VectorValues) Copy() VectorValues {
	out := make(VectorValues, len(vv))
	for k, v := range vv {
		c := make([]float64, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

// Equal reports element-wise equality within tol.
func (vv VectorValues) Equal(other VectorValues, tol float64) bool {
	if len(vv) != len(other) {
		return false
	}
	for k, v := range vv {
		ov, ok := other[k]
		if !ok || len(ov) != len(v) {
			return false
		}
		for i := range v {
			if math.Abs(v[i]-ov[i]) > tol {
				return false
			}
		}
	}
	return true
}

func (vv VectorValues) String() string {
	keys := make([]Key, 0, len(vv))
	for k := range vv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, vv[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// HybridValues is a full solution: a discrete assignment plus a continuous
// solution.
type HybridValues struct {
	discrete   DiscreteValues
	continuous VectorValues
}

// NewHybridValues bundles a discrete assignment and continuous solution.
func NewHybridValues(discrete DiscreteValues, continuous VectorValues) HybridValues {
	return HybridValues{discrete: discrete, continuous: continuous}
}

// Discrete returns the discrete assignment.
func (hv HybridValues) Discrete() DiscreteValues { return hv.discrete }

// Continuous returns the continuous solution.
func (hv HybridValues) Continuous() VectorValues { return hv.continuous }

func (hv HybridValues) String() string {
	return fmt.Sprintf("discrete=%s continuous=%s", hv.discrete, hv.continuous)
}
