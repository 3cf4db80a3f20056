// Package regularization implements penalty terms and their gradients.
//
// A Regularizer never touches the objective itself. Compute returns the
// penalty for a parameter vector, already scaled by Strength, and the caller
// decides whether to add it to the loss and gradient.
package regularization

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/utils/ptr"
)

// Kind names a regularizer variant.
type Kind string

const (
	L1          Kind = "l1"
	L2          Kind = "l2"
	ElasticNet  Kind = "elastic_net"
	GroupLasso  Kind = "group_lasso"
	Huber       Kind = "huber"
	Orthogonal  Kind = "orthogonal"
	NuclearNorm Kind = "nuclear_norm"
)

// ErrUnknownKind is returned by New for unrecognized regularizer names.
var ErrUnknownKind = errors.New("regularization: unknown kind")

const (
	defaultStrength = 0.01
	defaultL1Ratio  = 0.5
	defaultDelta    = 1.0
)

// Shape describes a row-major weight matrix stored contiguously in the
// parameter vector.
type Shape struct {
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`
}

// Config holds the hyperparameters of every regularizer kind. Nil
// pointers take defaults, so an explicit zero is honored.
type Config struct {
	Strength *float64 `yaml:"strength,omitempty" json:"strength,omitempty"`
	// L1Ratio weights the L1 term of elastic_net; the L2 term gets 1-L1Ratio.
	L1Ratio *float64 `yaml:"l1Ratio,omitempty" json:"l1Ratio,omitempty"`
	// Groups lists parameter indices per group for group_lasso.
	Groups [][]int `yaml:"groups,omitempty" json:"groups,omitempty"`
	// Delta is the huber transition point.
	Delta float64 `yaml:"delta,omitempty" json:"delta,omitempty"`
	// Shapes are consumed in order from the start of the parameter vector
	// by orthogonal and nuclear_norm.
	Shapes []Shape `yaml:"shapes,omitempty" json:"shapes,omitempty"`
	// Exact switches nuclear_norm from the Frobenius approximation to the
	// SVD-based sum of singular values.
	Exact bool `yaml:"exact,omitempty" json:"exact,omitempty"`
}

// Penalty is a regularization value with its gradient.
type Penalty struct {
	Value     float64   `json:"value"`
	Gradients []float64 `json:"gradients"`
}

// Zero returns a zero penalty for n parameters.
func Zero(n int) Penalty {
	return Penalty{Gradients: make([]float64, n)}
}

// Regularizer is the state attached to a context: kind, strength and config.
type Regularizer struct {
	Kind     Kind
	Strength float64
	L1Ratio  float64
	Config   Config
}

// ParseKind resolves a regularizer name.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "l1", "lasso":
		return L1, true
	case "l2", "ridge":
		return L2, true
	case "elastic_net", "elasticnet":
		return ElasticNet, true
	case "group_lasso":
		return GroupLasso, true
	case "huber", "smoothed_l1":
		return Huber, true
	case "orthogonal":
		return Orthogonal, true
	case "nuclear_norm", "nuclear":
		return NuclearNorm, true
	}
	return "", false
}

// New creates a regularizer of the named kind.
func New(kind string, cfg Config) (*Regularizer, error) {
	k, ok := ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	strength := ptr.Deref(cfg.Strength, defaultStrength)
	if strength < 0 {
		return nil, fmt.Errorf("regularization: strength must be non-negative, got %v", strength)
	}
	ratio := ptr.Deref(cfg.L1Ratio, defaultL1Ratio)
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("regularization: l1Ratio must be in [0, 1], got %v", ratio)
	}
	if cfg.Delta <= 0 {
		cfg.Delta = defaultDelta
	}
	for _, s := range cfg.Shapes {
		if s.Rows <= 0 || s.Cols <= 0 {
			return nil, fmt.Errorf("regularization: invalid shape %dx%d", s.Rows, s.Cols)
		}
	}

	cfg.Strength = ptr.To(strength)
	cfg.L1Ratio = ptr.To(ratio)
	return &Regularizer{Kind: k, Strength: strength, L1Ratio: ratio, Config: cfg}, nil
}

// Validate checks that groups and shapes fit a parameter vector of length n.
func (r *Regularizer) Validate(n int) error {
	if r == nil {
		return nil
	}
	for gi, g := range r.Config.Groups {
		for _, idx := range g {
			if idx < 0 || idx >= n {
				return fmt.Errorf("regularization: group %d index %d out of range [0, %d)", gi, idx, n)
			}
		}
	}
	total := 0
	for _, s := range r.Config.Shapes {
		total += s.Rows * s.Cols
	}
	if total > n {
		return fmt.Errorf("regularization: shapes need %d parameters, have %d", total, n)
	}
	return nil
}

// Compute returns the scaled penalty and gradient for params.
// A nil regularizer yields a zero penalty.
func (r *Regularizer) Compute(params []float64) Penalty {
	if r == nil {
		return Zero(len(params))
	}

	p := Zero(len(params))
	switch r.Kind {
	case L1:
		p.Value = l1(params, p.Gradients, 1)
	case L2:
		p.Value = l2(params, p.Gradients, 1)
	case ElasticNet:
		ratio := r.L1Ratio
		p.Value = l1(params, p.Gradients, ratio) + l2(params, p.Gradients, 1-ratio)
	case GroupLasso:
		if len(r.Config.Groups) == 0 {
			p.Value = l2(params, p.Gradients, 1)
		} else {
			p.Value = groupLasso(params, p.Gradients, r.Config.Groups)
		}
	case Huber:
		p.Value = huber(params, p.Gradients, r.Config.Delta)
	case Orthogonal:
		p.Value = r.forBlocks(params, p.Gradients, orthogonal)
	case NuclearNorm:
		if r.Config.Exact {
			p.Value = r.forBlocks(params, p.Gradients, nuclearExact)
		} else {
			p.Value = r.forBlocks(params, p.Gradients, nuclearFrobenius)
		}
	}

	p.Value *= r.Strength
	floats.Scale(r.Strength, p.Gradients)
	return p
}

// l1 adds w·sign(p) to grad and returns w·Σ|p|.
func l1(params, grad []float64, w float64) float64 {
	var sum float64
	for i, v := range params {
		sum += math.Abs(v)
		switch {
		case v > 0:
			grad[i] += w
		case v < 0:
			grad[i] -= w
		}
	}
	return w * sum
}

// l2 adds w·p to grad and returns w·½Σp².
func l2(params, grad []float64, w float64) float64 {
	floats.AddScaled(grad, w, params)
	return w * 0.5 * floats.Dot(params, params)
}

func groupLasso(params, grad []float64, groups [][]int) float64 {
	var sum float64
	for _, g := range groups {
		var sq float64
		for _, idx := range g {
			sq += params[idx] * params[idx]
		}
		norm := math.Sqrt(sq)
		sum += norm
		if norm == 0 {
			continue
		}
		for _, idx := range g {
			grad[idx] += params[idx] / norm
		}
	}
	return sum
}

func huber(params, grad []float64, delta float64) float64 {
	var sum float64
	for i, v := range params {
		a := math.Abs(v)
		if a <= delta {
			sum += 0.5 * v * v
			grad[i] += v
			continue
		}
		sum += delta * (a - 0.5*delta)
		grad[i] += delta * math.Copysign(1, v)
	}
	return sum
}

type blockFunc func(w *mat.Dense, grad *mat.Dense) float64

// forBlocks applies fn to each configured weight matrix. Without shapes the
// whole vector is treated as an n×1 matrix.
func (r *Regularizer) forBlocks(params, grad []float64, fn blockFunc) float64 {
	shapes := r.Config.Shapes
	if len(shapes) == 0 {
		shapes = []Shape{{Rows: len(params), Cols: 1}}
	}

	var (
		sum    float64
		offset int
	)
	for _, s := range shapes {
		size := s.Rows * s.Cols
		if size == 0 || offset+size > len(params) {
			break
		}
		// Views share backing storage with params and grad.
		w := mat.NewDense(s.Rows, s.Cols, params[offset:offset+size])
		g := mat.NewDense(s.Rows, s.Cols, grad[offset:offset+size])
		sum += fn(w, g)
		offset += size
	}
	return sum
}

// orthogonal is ‖WᵀW − I‖²_F with gradient 4W(WᵀW − I).
func orthogonal(w, grad *mat.Dense) float64 {
	_, c := w.Dims()
	var a mat.Dense
	a.Mul(w.T(), w)
	for i := 0; i < c; i++ {
		a.Set(i, i, a.At(i, i)-1)
	}
	norm := mat.Norm(&a, 2)

	var g mat.Dense
	g.Mul(w, &a)
	g.Scale(4, &g)
	grad.Add(grad, &g)

	return norm * norm
}

// nuclearFrobenius approximates the nuclear norm by ‖W‖_F.
func nuclearFrobenius(w, grad *mat.Dense) float64 {
	norm := mat.Norm(w, 2)
	if norm == 0 {
		return 0
	}
	var g mat.Dense
	g.Scale(1/norm, w)
	grad.Add(grad, &g)
	return norm
}

// nuclearExact is Σσᵢ with gradient UVᵀ from the thin SVD.
func nuclearExact(w, grad *mat.Dense) float64 {
	var svd mat.SVD
	if !svd.Factorize(w, mat.SVDThin) {
		return nuclearFrobenius(w, grad)
	}
	values := svd.Values(nil)

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var g mat.Dense
	g.Mul(&u, v.T())
	grad.Add(grad, &g)

	return floats.Sum(values)
}
