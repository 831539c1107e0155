package hybrid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GaussianFactor is a Jacobian factor over continuous keys: an unnormalized
// density exp(-0.5*||A*x - b||^2), stored as one matrix block per key so
// factors over overlapping key sets can be stacked. Immutable once created.
type GaussianFactor struct {
	keys   []Key
	blocks map[Key]*mat.Dense
	b      []float64
}

// NewGaussianFactor builds a factor from per-key Jacobian blocks and the
// right-hand side. All blocks must have len(b) rows.
func NewGaussianFactor(keys []Key, blocks []*mat.Dense, b []float64) (*GaussianFactor, error) {
	if len(keys) != len(blocks) {
		return nil, fmt.Errorf("got %d keys but %d blocks", len(keys), len(blocks))
	}
	f := &GaussianFactor{keys: append([]Key(nil), keys...), blocks: make(map[Key]*mat.Dense, len(keys)), b: append([]float64(nil), b...)}
	for i, k := range keys {
		r, _ := blocks[i].Dims()
		if r != len(b) {
			return nil, fmt.Errorf("block for %s has %d rows, want %d", k, r, len(b))
		}
		f.blocks[k] = blocks[i]
	}
	return f, nil
}

// NewScalarPrior builds the one-dimensional factor ||(x - value)/sigma||^2.
func NewScalarPrior(key Key, value, sigma float64) *GaussianFactor {
	f, _ := NewGaussianFactor(
		[]Key{key},
		[]*mat.Dense{mat.NewDense(1, 1, []float64{1 / sigma})},
		[]float64{value / sigma})
	return f
}

// NewScalarBetween builds the one-dimensional odometry-style factor
// ||(x2 - x1 - delta)/sigma||^2.
func NewScalarBetween(k1, k2 Key, delta, sigma float64) *GaussianFactor {
	f, _ := NewGaussianFactor(
		[]Key{k1, k2},
		[]*mat.Dense{
			mat.NewDense(1, 1, []float64{-1 / sigma}),
			mat.NewDense(1, 1, []float64{1 / sigma}),
		},
		[]float64{delta / sigma})
	return f
}

// Keys returns the continuous keys of the factor.
func (f *GaussianFactor) Keys() []Key { return f.keys }

// Dim returns the column width of the block for key, or 0.
func (f *GaussianFactor) Dim(k Key) int {
	if blk, ok := f.blocks[k]; ok {
		_, c := blk.Dims()
		return c
	}
	return 0
}

// Rows returns the number of measurement rows.
func (f *GaussianFactor) Rows() int { return len(f.b) }

// ErrorVector evaluates A*x - b at the given solution.
func (f *GaussianFactor) ErrorVector(vv VectorValues) ([]float64, error) {
	e := make([]float64, len(f.b))
	for i := range e {
		e[i] = -f.b[i]
	}
	for _, k := range f.keys {
		x, ok := vv[k]
		if !ok {
			return nil, fmt.Errorf("no value for continuous key %s", k)
		}
		blk := f.blocks[k]
		r, c := blk.Dims()
		if len(x) != c {
			return nil, fmt.Errorf("value for %s has dim %d, want %d", k, len(x), c)
		}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				e[i] += blk.At(i, j) * x[j]
			}
		}
	}
	return e, nil
}

// Error evaluates ||A*x - b||^2.
func (f *GaussianFactor) Error(vv VectorValues) (float64, error) {
	e, err := f.ErrorVector(vv)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range e {
		sum += v * v
	}
	return sum, nil
}

// Equal reports block-wise equality within tol.
func (f *GaussianFactor) Equal(g *GaussianFactor, tol float64) bool {
	if len(f.keys) != len(g.keys) || len(f.b) != len(g.b) {
		return false
	}
	for i := range f.keys {
		if f.keys[i] != g.keys[i] {
			return false
		}
		if !mat.EqualApprox(f.blocks[f.keys[i]], g.blocks[g.keys[i]], tol) {
			return false
		}
	}
	for i := range f.b {
		if math.Abs(f.b[i]-g.b[i]) > tol {
			return false
		}
	}
	return true
}

// GaussianConditional is p(x | parents) in square-root information form:
// R*x + S*xp = d with R upper triangular. Produced by eliminating x from a
// joint factor.
type GaussianConditional struct {
	key        Key
	dim        int
	parents    []Key
	parentDims []int
	R          *mat.Dense // dim x dim, upper triangular
	S          *mat.Dense // dim x sum(parentDims), nil when no parents
	d          []float64
	logDet     float64 // sum of log|R_ii|
}

// FrontalKey returns the conditioned variable.
func (c *GaussianConditional) FrontalKey() Key { return c.key }

// ParentKeys returns the separator keys.
func (c *GaussianConditional) ParentKeys() []Key { return c.parents }

// Dim returns the frontal dimension.
func (c *GaussianConditional) Dim() int { return c.dim }

// LogNormalization returns log|det R|, the conditional's normalization
// contribution excluding the shared (2*pi)^(d/2) term.
func (c *GaussianConditional) LogNormalization() float64 { return c.logDet }

// Solve computes x from R*x = d - S*xp by back-substitution.
func (c *GaussianConditional) Solve(parents VectorValues) ([]float64, error) {
	rhs := append([]float64(nil), c.d...)
	col := 0
	for pi, p := range c.parents {
		xp, ok := parents[p]
		if !ok {
			return nil, fmt.Errorf("no value for parent %s", p)
		}
		if len(xp) != c.parentDims[pi] {
			return nil, fmt.Errorf("value for %s has dim %d, want %d", p, len(xp), c.parentDims[pi])
		}
		for i := 0; i < c.dim; i++ {
			for j := 0; j < c.parentDims[pi]; j++ {
				rhs[i] -= c.S.At(i, col+j) * xp[j]
			}
		}
		col += c.parentDims[pi]
	}

	x := make([]float64, c.dim)
	for i := c.dim - 1; i >= 0; i-- {
		sum := rhs[i]
		for j := i + 1; j < c.dim; j++ {
			sum -= c.R.At(i, j) * x[j]
		}
		rii := c.R.At(i, i)
		if math.Abs(rii) < rankTolerance {
			return nil, &UnderconstrainedError{Key: c.key}
		}
		x[i] = sum / rii
	}
	return x, nil
}

// LogDensity evaluates log p(x | parents) including normalization.
func (c *GaussianConditional) LogDensity(x []float64, parents VectorValues) (float64, error) {
	if len(x) != c.dim {
		return 0, fmt.Errorf("frontal value has dim %d, want %d", len(x), c.dim)
	}
	// residual = R*x + S*xp - d
	res := make([]float64, c.dim)
	for i := 0; i < c.dim; i++ {
		res[i] = -c.d[i]
		for j := i; j < c.dim; j++ {
			res[i] += c.R.At(i, j) * x[j]
		}
	}
	col := 0
	for pi, p := range c.parents {
		xp, ok := parents[p]
		if !ok {
			return 0, fmt.Errorf("no value for parent %s", p)
		}
		for i := 0; i < c.dim; i++ {
			for j := 0; j < c.parentDims[pi]; j++ {
				res[i] += c.S.At(i, col+j) * xp[j]
			}
		}
		col += c.parentDims[pi]
	}
	sq := 0.0
	for _, v := range res {
		sq += v * v
	}
	return c.logDet - 0.5*float64(c.dim)*math.Log(2*math.Pi) - 0.5*sq, nil
}

// AsFactor reinterprets the conditional as the Jacobian factor [R S | d].
// Used when incremental update converts cliques back into factors; the
// dropped |det R| constant is the caller's responsibility where it matters
// (mixture branches).
func (c *GaussianConditional) AsFactor() *GaussianFactor {
	keys := append([]Key{c.key}, c.parents...)
	blocks := make([]*mat.Dense, 0, len(keys))
	blocks = append(blocks, mat.DenseCopyOf(c.R))
	col := 0
	for pi := range c.parents {
		w := c.parentDims[pi]
		blk := mat.NewDense(c.dim, w, nil)
		for i := 0; i < c.dim; i++ {
			for j := 0; j < w; j++ {
				blk.Set(i, j, c.S.At(i, col+j))
			}
		}
		blocks = append(blocks, blk)
		col += w
	}
	f, _ := NewGaussianFactor(keys, blocks, c.d)
	return f
}

// Equal reports structural equality within tol.
func (c *GaussianConditional) Equal(o *GaussianConditional, tol float64) bool {
	if c.key != o.key || c.dim != o.dim || len(c.parents) != len(o.parents) {
		return false
	}
	for i := range c.parents {
		if c.parents[i] != o.parents[i] || c.parentDims[i] != o.parentDims[i] {
			return false
		}
	}
	if !mat.EqualApprox(c.R, o.R, tol) {
		return false
	}
	if (c.S == nil) != (o.S == nil) {
		return false
	}
	if c.S != nil && !mat.EqualApprox(c.S, o.S, tol) {
		return false
	}
	for i := range c.d {
		if math.Abs(c.d[i]-o.d[i]) > tol {
			return false
		}
	}
	return true
}

// GaussianBayesNet is an ordered list of Gaussian conditionals, earliest
// eliminated first. Back-substitution runs in reverse.
type GaussianBayesNet struct {
	conditionals []*GaussianConditional
}

// Size returns the number of conditionals.
func (bn *GaussianBayesNet) Size() int { return len(bn.conditionals) }

// At returns the i-th conditional.
func (bn *GaussianBayesNet) At(i int) *GaussianConditional { return bn.conditionals[i] }

// Optimize solves the net by back-substitution from the last conditional to
// the first.
func (bn *GaussianBayesNet) Optimize() (VectorValues, error) {
	vv := make(VectorValues, len(bn.conditionals))
	for i := len(bn.conditionals) - 1; i >= 0; i-- {
		c := bn.conditionals[i]
		x, err := c.Solve(vv)
		if err != nil {
			return nil, err
		}
		vv[c.key] = x
	}
	return vv, nil
}

// LogDensity sums conditional log-densities at the given solution.
func (bn *GaussianBayesNet) LogDensity(vv VectorValues) (float64, error) {
	total := 0.0
	for _, c := range bn.conditionals {
		x, ok := vv[c.key]
		if !ok {
			return 0, fmt.Errorf("no value for %s", c.key)
		}
		ld, err := c.LogDensity(x, vv)
		if err != nil {
			return 0, err
		}
		total += ld
	}
	return total, nil
}

// rankTolerance is the diagonal magnitude below which an eliminated variable
// is treated as unconstrained.
const rankTolerance = 1e-9

// eliminateGaussian combines Gaussian factors and splits out key via QR.
// Returns the conditional p(key | separator), the marginal factor over the
// separator (nil when the separator is empty), and the log weight
// -0.5*residual^2 - log|det R11| that a hybrid elimination folds into the
// discrete side.
func eliminateGaussian(factors []*GaussianFactor, key Key) (*GaussianConditional, *GaussianFactor, float64, error) {
	if len(factors) == 0 {
		return nil, nil, 0, &UnderconstrainedError{Key: key}
	}

	// Column layout: frontal key first, then separator keys sorted.
	sep := KeySet{}
	dims := map[Key]int{}
	rows := 0
	for _, f := range factors {
		rows += f.Rows()
		for _, k := range f.keys {
			if d := f.Dim(k); d > 0 {
				if prev, ok := dims[k]; ok && prev != d {
					return nil, nil, 0, fmt.Errorf("inconsistent dimension for %s: %d vs %d", k, prev, d)
				}
				dims[k] = d
			}
			if k != key {
				sep.Add(k)
			}
		}
	}
	d1, ok := dims[key]
	if !ok || d1 == 0 {
		return nil, nil, 0, &UnderconstrainedError{Key: key}
	}
	order := append([]Key{key}, sep.Sorted()...)

	cols := 0
	offsets := map[Key]int{}
	for _, k := range order {
		offsets[k] = cols
		cols += dims[k]
	}

	// Stack the augmented system [A | b], padded with zero rows so the QR
	// factorization always yields a full (cols+1)-row triangle.
	m := rows
	if m < cols+1 {
		m = cols + 1
	}
	aug := mat.NewDense(m, cols+1, nil)
	row := 0
	for _, f := range factors {
		fr := f.Rows()
		for _, k := range f.keys {
			blk := f.blocks[k]
			_, w := blk.Dims()
			off := offsets[k]
			for i := 0; i < fr; i++ {
				for j := 0; j < w; j++ {
					aug.Set(row+i, off+j, blk.At(i, j))
				}
			}
		}
		for i := 0; i < fr; i++ {
			aug.Set(row+i, cols, f.b[i])
		}
		row += fr
	}

	var qr mat.QR
	qr.Factorize(aug)
	var r mat.Dense
	qr.RTo(&r)

	logDet := 0.0
	for i := 0; i < d1; i++ {
		rii := r.At(i, i)
		if math.Abs(rii) < rankTolerance {
			return nil, nil, 0, &UnderconstrainedError{Key: key}
		}
		logDet += math.Log(math.Abs(rii))
	}

	// Conditional R11*x + R12*xs = d.
	R11 := mat.NewDense(d1, d1, nil)
	for i := 0; i < d1; i++ {
		for j := i; j < d1; j++ {
			R11.Set(i, j, r.At(i, j))
		}
	}
	var S *mat.Dense
	parents := order[1:]
	parentDims := make([]int, len(parents))
	for i, p := range parents {
		parentDims[i] = dims[p]
	}
	if cols > d1 {
		S = mat.NewDense(d1, cols-d1, nil)
		for i := 0; i < d1; i++ {
			for j := d1; j < cols; j++ {
				S.Set(i, j-d1, r.At(i, j))
			}
		}
	}
	dvec := make([]float64, d1)
	for i := 0; i < d1; i++ {
		dvec[i] = r.At(i, cols)
	}
	cond := &GaussianConditional{
		key: key, dim: d1,
		parents: append([]Key(nil), parents...), parentDims: parentDims,
		R: R11, S: S, d: dvec, logDet: logDet,
	}

	// Marginal factor over the separator: rows d1..cols-1 of R.
	var marginal *GaussianFactor
	if cols > d1 {
		mr := cols - d1
		blocks := make([]*mat.Dense, len(parents))
		for pi, p := range parents {
			w := dims[p]
			off := offsets[p]
			blk := mat.NewDense(mr, w, nil)
			for i := 0; i < mr; i++ {
				for j := 0; j < w; j++ {
					blk.Set(i, j, r.At(d1+i, off+j))
				}
			}
			blocks[pi] = blk
		}
		mb := make([]float64, mr)
		for i := 0; i < mr; i++ {
			mb[i] = r.At(d1+i, cols)
		}
		var err error
		marginal, err = NewGaussianFactor(parents, blocks, mb)
		if err != nil {
			return nil, nil, 0, err
		}
	}

	// Residual row: whatever of b survives past all variable columns.
	residual := 0.0
	if rrows, _ := r.Dims(); rrows > cols {
		residual = r.At(cols, cols)
	}
	logWeight := -0.5*residual*residual - logDet

	return cond, marginal, logWeight, nil
}
