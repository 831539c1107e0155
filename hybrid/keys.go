package hybrid

import (
	"fmt"
	"sort"
)

// Key identifies a single variable. The top byte carries an optional symbol
// character ('x', 'm', 'l', ...) and the remaining 56 bits the index, so keys
// print as "x1" or "m3" in logs and test failures.
type Key uint64

// Symbol builds a key from a character tag and an index.
func Symbol(c byte, index uint64) Key {
	return Key(uint64(c)<<56 | (index & symbolIndexMask))
}

const symbolIndexMask = (uint64(1) << 56) - 1

// X returns the key for the i-th continuous state variable.
func X(i int) Key { return Symbol('x', uint64(i)) }

// M returns the key for the i-th discrete mode variable.
func M(i int) Key { return Symbol('m', uint64(i)) }

// L returns the key for the i-th landmark variable.
func L(i int) Key { return Symbol('l', uint64(i)) }

func (k Key) String() string {
	c := byte(k >> 56)
	idx := uint64(k) & symbolIndexMask
	if c >= 'a' && c <= 'z' {
		return fmt.Sprintf("%c%d", c, idx)
	}
	return fmt.Sprintf("%d", uint64(k))
}

// DiscreteKey pairs a key with the number of values the variable can take.
type DiscreteKey struct {
	Key         Key
	Cardinality int
}

func (dk DiscreteKey) String() string {
	return fmt.Sprintf("%s/%d", dk.Key, dk.Cardinality)
}

// DiscreteKeys is an ordered set of discrete keys.
type DiscreteKeys []DiscreteKey

// Contains reports whether the set holds the given key.
func (dks DiscreteKeys) Contains(k Key) bool {
	for _, dk := range dks {
		if dk.Key == k {
			return true
		}
	}
	return false
}

// Cardinality returns the cardinality recorded for key, or 0 if absent.
func (dks DiscreteKeys) Cardinality(k Key) int {
	for _, dk := range dks {
		if dk.Key == k {
			return dk.Cardinality
		}
	}
	return 0
}

// Sorted returns a copy ordered by key id. Assignment signatures and leaf
// enumeration both rely on this canonical order.
func (dks DiscreteKeys) Sorted() DiscreteKeys {
	out := make(DiscreteKeys, len(dks))
	copy(out, dks)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// mergeDiscreteKeys unions two key sets, keeping canonical order.
// Cardinalities for shared keys must agree; the first occurrence wins.
func mergeDiscreteKeys(a, b DiscreteKeys) DiscreteKeys {
	out := make(DiscreteKeys, 0, len(a)+len(b))
	out = append(out, a...)
	for _, dk := range b {
		if !out.Contains(dk.Key) {
			out = append(out, dk)
		}
	}
	return out.Sorted()
}

// KeySet is a set of plain keys with deterministic iteration helpers.
type KeySet map[Key]struct{}

// Add inserts a key.
func (s KeySet) Add(k Key) { s[k] = struct{}{} }

// Has reports membership.
func (s KeySet) Has(k Key) bool { _, ok := s[k]; return ok }

// Sorted returns the members ordered by key id.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsKey(keys []Key, k Key) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
