package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"noshowd/internal/model"
)

// Artifact formats.
const (
	FormatLinear = "noshow.linear/v1"
	FormatTrees  = "noshow.trees/v1"
)

// Artifact is a decoded model file.
type Artifact struct {
	Format    string
	Features  []string
	Threshold float64
	Predictor model.Predictor
}

type envelope struct {
	Format    string   `json:"format"`
	Features  []string `json:"features"`
	Threshold *float64 `json:"threshold,omitempty"`

	// linear
	Intercept float64            `json:"intercept"`
	Weights   map[string]float64 `json:"weights"`

	// trees
	BaseMargin float64    `json:"base_margin"`
	Trees      []treeSpec `json:"trees"`
}

type treeSpec struct {
	Nodes []nodeSpec `json:"nodes"`
}

type nodeSpec struct {
	Feature   string   `json:"feature,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Yes       int      `json:"yes,omitempty"`
	No        int      `json:"no,omitempty"`
	Leaf      *float64 `json:"leaf,omitempty"`
}

// Decode parses artifact bytes. Structural defects yield ArtifactCorrupt;
// features outside the service contract yield IncompatibleSchema.
func Decode(source string, data []byte) (*Artifact, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, model.ErrArtifactCorrupt(source, "decode: "+err.Error())
	}
	if len(env.Features) == 0 {
		return nil, model.ErrIncompatibleSchema(nil)
	}
	if unknown := model.UnknownFeatures(env.Features); len(unknown) > 0 {
		return nil, model.ErrIncompatibleSchema(unknown)
	}
	seen := make(map[string]bool, len(env.Features))
	for _, f := range env.Features {
		if seen[f] {
			return nil, model.ErrArtifactCorrupt(source, "duplicate feature "+f)
		}
		seen[f] = true
	}
	art := &Artifact{Format: env.Format, Features: env.Features, Threshold: model.DefaultThreshold}
	if env.Threshold != nil {
		if !(*env.Threshold > 0 && *env.Threshold < 1) {
			return nil, model.ErrArtifactCorrupt(source, fmt.Sprintf("threshold %v outside (0,1)", *env.Threshold))
		}
		art.Threshold = *env.Threshold
	}
	var err error
	switch env.Format {
	case FormatLinear:
		art.Predictor, err = buildLinear(env, seen)
	case FormatTrees:
		art.Predictor, err = buildTrees(env, seen)
	default:
		err = fmt.Errorf("unknown format %q", env.Format)
	}
	if err != nil {
		return nil, model.ErrArtifactCorrupt(source, err.Error())
	}
	return art, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

type linearModel struct {
	intercept float64
	features  []string
	weights   []float64
}

func buildLinear(env envelope, declared map[string]bool) (*linearModel, error) {
	if len(env.Trees) > 0 {
		return nil, fmt.Errorf("linear artifact carries trees")
	}
	if len(env.Weights) == 0 {
		return nil, fmt.Errorf("linear artifact has no weights")
	}
	if !finite(env.Intercept) {
		return nil, fmt.Errorf("intercept is not finite")
	}
	m := &linearModel{intercept: env.Intercept}
	for _, f := range env.Features {
		w, ok := env.Weights[f]
		if !ok {
			continue
		}
		if !finite(w) {
			return nil, fmt.Errorf("weight for %s is not finite", f)
		}
		m.features = append(m.features, f)
		m.weights = append(m.weights, w)
	}
	for f := range env.Weights {
		if !declared[f] {
			return nil, fmt.Errorf("weight for undeclared feature %s", f)
		}
	}
	return m, nil
}

func (m *linearModel) Predict(v model.Vector) (float64, error) {
	z := m.intercept
	for i, f := range m.features {
		x, ok := v[f]
		if !ok {
			return 0, fmt.Errorf("missing feature %s", f)
		}
		z += m.weights[i] * x
	}
	return sigmoid(z), nil
}

type node struct {
	feature   string
	threshold float64
	yes       int
	no        int
	leaf      float64
	isLeaf    bool
}

type treeModel struct {
	baseMargin float64
	trees      [][]node
}

func buildTrees(env envelope, declared map[string]bool) (*treeModel, error) {
	if len(env.Weights) > 0 {
		return nil, fmt.Errorf("tree artifact carries weights")
	}
	if len(env.Trees) == 0 {
		return nil, fmt.Errorf("tree artifact has no trees")
	}
	if !finite(env.BaseMargin) {
		return nil, fmt.Errorf("base_margin is not finite")
	}
	m := &treeModel{baseMargin: env.BaseMargin, trees: make([][]node, len(env.Trees))}
	for ti, t := range env.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d is empty", ti)
		}
		nodes := make([]node, len(t.Nodes))
		for ni, n := range t.Nodes {
			if n.Leaf != nil {
				if n.Feature != "" {
					return nil, fmt.Errorf("tree %d node %d is both leaf and split", ti, ni)
				}
				if !finite(*n.Leaf) {
					return nil, fmt.Errorf("tree %d node %d leaf is not finite", ti, ni)
				}
				nodes[ni] = node{leaf: *n.Leaf, isLeaf: true}
				continue
			}
			if !declared[n.Feature] {
				return nil, fmt.Errorf("tree %d node %d splits on undeclared feature %q", ti, ni, n.Feature)
			}
			if !finite(n.Threshold) {
				return nil, fmt.Errorf("tree %d node %d threshold is not finite", ti, ni)
			}
			// children must point forward so evaluation always terminates
			for _, c := range []int{n.Yes, n.No} {
				if c <= ni || c >= len(t.Nodes) {
					return nil, fmt.Errorf("tree %d node %d has invalid child %d", ti, ni, c)
				}
			}
			nodes[ni] = node{feature: n.Feature, threshold: n.Threshold, yes: n.Yes, no: n.No}
		}
		m.trees[ti] = nodes
	}
	return m, nil
}

func (m *treeModel) Predict(v model.Vector) (float64, error) {
	z := m.baseMargin
	for _, nodes := range m.trees {
		i := 0
		for !nodes[i].isLeaf {
			n := nodes[i]
			x, ok := v[n.feature]
			if !ok {
				return 0, fmt.Errorf("missing feature %s", n.feature)
			}
			if x < n.threshold {
				i = n.yes
			} else {
				i = n.no
			}
		}
		z += nodes[i].leaf
	}
	return sigmoid(z), nil
}
