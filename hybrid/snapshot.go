package hybrid

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// JSON snapshots of elimination results, used by the estimate publisher and
// for persisting a solved tree across restarts. Round-tripping a snapshot
// reproduces the original structure exactly.

type denseJSON struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func encodeDense(m *mat.Dense) *denseJSON {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return &denseJSON{Rows: r, Cols: c, Data: data}
}

func decodeDense(d *denseJSON) *mat.Dense {
	if d == nil {
		return nil
	}
	return mat.NewDense(d.Rows, d.Cols, d.Data)
}

type discreteKeyJSON struct {
	Key         Key `json:"key"`
	Cardinality int `json:"cardinality"`
}

func encodeDiscreteKeys(keys DiscreteKeys) []discreteKeyJSON {
	out := make([]discreteKeyJSON, len(keys))
	for i, dk := range keys {
		out[i] = discreteKeyJSON{Key: dk.Key, Cardinality: dk.Cardinality}
	}
	return out
}

func decodeDiscreteKeys(keys []discreteKeyJSON) DiscreteKeys {
	out := make(DiscreteKeys, len(keys))
	for i, dk := range keys {
		out[i] = DiscreteKey{Key: dk.Key, Cardinality: dk.Cardinality}
	}
	return out
}

type gaussianConditionalJSON struct {
	Key        Key        `json:"key"`
	Dim        int        `json:"dim"`
	Parents    []Key      `json:"parents,omitempty"`
	ParentDims []int      `json:"parentDims,omitempty"`
	R          *denseJSON `json:"r"`
	S          *denseJSON `json:"s,omitempty"`
	D          []float64  `json:"d"`
	LogDet     float64    `json:"logDet"`
}

func encodeGaussianConditional(c *GaussianConditional) *gaussianConditionalJSON {
	return &gaussianConditionalJSON{
		Key:        c.key,
		Dim:        c.dim,
		Parents:    c.parents,
		ParentDims: c.parentDims,
		R:          encodeDense(c.R),
		S:          encodeDense(c.S),
		D:          c.d,
		LogDet:     c.logDet,
	}
}

func decodeGaussianConditional(j *gaussianConditionalJSON) *GaussianConditional {
	return &GaussianConditional{
		key:        j.Key,
		dim:        j.Dim,
		parents:    j.Parents,
		parentDims: j.ParentDims,
		R:          decodeDense(j.R),
		S:          decodeDense(j.S),
		d:          j.D,
		logDet:     j.LogDet,
	}
}

type discreteConditionalJSON struct {
	Frontal discreteKeyJSON   `json:"frontal"`
	Keys    []discreteKeyJSON `json:"keys"`
	Table   []float64         `json:"table"`
}

type mixtureConditionalJSON struct {
	Key               Key                                 `json:"key"`
	Dim               int                                 `json:"dim"`
	ContinuousParents []Key                               `json:"continuousParents,omitempty"`
	DiscreteParents   []discreteKeyJSON                   `json:"discreteParents"`
	Branches          map[string]*gaussianConditionalJSON `json:"branches"`
}

// conditionalJSON is the tagged union over the three conditional kinds.
type conditionalJSON struct {
	Kind     string                   `json:"kind"`
	Gaussian *gaussianConditionalJSON `json:"gaussian,omitempty"`
	Discrete *discreteConditionalJSON `json:"discrete,omitempty"`
	Mixture  *mixtureConditionalJSON  `json:"mixture,omitempty"`
}

func encodeConditional(cond Conditional) (conditionalJSON, error) {
	switch v := cond.(type) {
	case *GaussianConditional:
		return conditionalJSON{Kind: "gaussian", Gaussian: encodeGaussianConditional(v)}, nil
	case *DiscreteConditional:
		return conditionalJSON{Kind: "discrete", Discrete: &discreteConditionalJSON{
			Frontal: discreteKeyJSON{Key: v.frontal.Key, Cardinality: v.frontal.Cardinality},
			Keys:    encodeDiscreteKeys(v.joint.keys),
			Table:   v.joint.table,
		}}, nil
	case *MixtureConditional:
		branches := make(map[string]*gaussianConditionalJSON, len(v.branches))
		for sig, gc := range v.branches {
			branches[sig] = encodeGaussianConditional(gc)
		}
		return conditionalJSON{Kind: "mixture", Mixture: &mixtureConditionalJSON{
			Key:               v.key,
			Dim:               v.dim,
			ContinuousParents: v.continuousParents,
			DiscreteParents:   encodeDiscreteKeys(v.discreteParents),
			Branches:          branches,
		}}, nil
	default:
		return conditionalJSON{}, fmt.Errorf("unknown conditional type %T", cond)
	}
}

func decodeConditional(j conditionalJSON) (Conditional, error) {
	switch j.Kind {
	case "gaussian":
		return decodeGaussianConditional(j.Gaussian), nil
	case "discrete":
		keys := decodeDiscreteKeys(j.Discrete.Keys)
		frontal := DiscreteKey{Key: j.Discrete.Frontal.Key, Cardinality: j.Discrete.Frontal.Cardinality}
		parents := make(DiscreteKeys, 0, len(keys)-1)
		for _, dk := range keys {
			if dk.Key != frontal.Key {
				parents = append(parents, dk)
			}
		}
		return &DiscreteConditional{
			frontal: frontal,
			parents: parents,
			joint:   &DiscreteFactor{keys: keys, table: j.Discrete.Table},
		}, nil
	case "mixture":
		branches := make(map[string]*GaussianConditional, len(j.Mixture.Branches))
		for sig, gc := range j.Mixture.Branches {
			branches[sig] = decodeGaussianConditional(gc)
		}
		return &MixtureConditional{
			key:               j.Mixture.Key,
			dim:               j.Mixture.Dim,
			continuousParents: j.Mixture.ContinuousParents,
			discreteParents:   decodeDiscreteKeys(j.Mixture.DiscreteParents),
			branches:          branches,
		}, nil
	default:
		return nil, fmt.Errorf("unknown conditional kind %q", j.Kind)
	}
}

type bayesNetJSON struct {
	Conditionals []conditionalJSON `json:"conditionals"`
}

// MarshalJSON encodes the Bayes net in elimination order.
func (bn *HybridBayesNet) MarshalJSON() ([]byte, error) {
	out := bayesNetJSON{Conditionals: make([]conditionalJSON, len(bn.conditionals))}
	for i, cond := range bn.conditionals {
		cj, err := encodeConditional(cond)
		if err != nil {
			return nil, err
		}
		out.Conditionals[i] = cj
	}
	return json.Marshal(out)
}

// UnmarshalJSON replaces the Bayes net with the decoded conditionals.
func (bn *HybridBayesNet) UnmarshalJSON(data []byte) error {
	var in bayesNetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	bn.conditionals = make([]Conditional, len(in.Conditionals))
	for i, cj := range in.Conditionals {
		cond, err := decodeConditional(cj)
		if err != nil {
			return err
		}
		bn.conditionals[i] = cond
	}
	return nil
}

type cliqueJSON struct {
	Frontals     []Key             `json:"frontals"`
	Separator    []Key             `json:"separator,omitempty"`
	Parent       int               `json:"parent"`
	Conditionals []conditionalJSON `json:"conditionals"`
}

type bayesTreeJSON struct {
	Cliques []cliqueJSON `json:"cliques"`
}

// MarshalJSON encodes the clique arena. Children and roots are implied by
// the parent links.
func (t *HybridBayesTree) MarshalJSON() ([]byte, error) {
	out := bayesTreeJSON{Cliques: make([]cliqueJSON, len(t.cliques))}
	for i, c := range t.cliques {
		conds := make([]conditionalJSON, len(c.conditionals))
		for j, cond := range c.conditionals {
			cj, err := encodeConditional(cond)
			if err != nil {
				return nil, err
			}
			conds[j] = cj
		}
		out.Cliques[i] = cliqueJSON{
			Frontals:     c.frontals,
			Separator:    c.separator,
			Parent:       c.parent,
			Conditionals: conds,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the arena, rederiving children and roots.
func (t *HybridBayesTree) UnmarshalJSON(data []byte) error {
	var in bayesTreeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t.cliques = make([]*Clique, len(in.Cliques))
	t.roots = nil
	for i, cj := range in.Cliques {
		conds := make([]Conditional, len(cj.Conditionals))
		for j, c := range cj.Conditionals {
			cond, err := decodeConditional(c)
			if err != nil {
				return err
			}
			conds[j] = cond
		}
		t.cliques[i] = &Clique{
			id:           i,
			frontals:     cj.Frontals,
			conditionals: conds,
			separator:    cj.Separator,
			parent:       cj.Parent,
		}
	}
	for _, c := range t.cliques {
		if c.parent < 0 {
			t.roots = append(t.roots, c.id)
			continue
		}
		if c.parent >= len(t.cliques) {
			return fmt.Errorf("clique %d references parent %d outside arena", c.id, c.parent)
		}
		p := t.cliques[c.parent]
		p.children = append(p.children, c.id)
	}
	return nil
}
