// Package objectives provides named benchmark objectives so runs can be
// described without code, for example in a YAML run file or an HTTP request.
package objectives

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/optimize/functions"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// Function is a differentiable scalar function. The gonum benchmark
// functions satisfy it directly.
type Function interface {
	Func(x []float64) float64
	Grad(grad, x []float64)
}

// Options parameterize Lookup. Zero values take per-objective defaults.
type Options struct {
	// Dimension of the parameter vector. Fixed-dimension objectives reject
	// any other non-zero value.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	// Target is the minimizer of quadratic and the center of the wells.
	Target []float64 `yaml:"target,omitempty" json:"target,omitempty"`
	// Scale multiplies quadratic and sets the depth of the wells.
	Scale float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	// LengthScale is the width of the wells.
	LengthScale float64 `yaml:"lengthScale,omitempty" json:"lengthScale,omitempty"`
}

// Problem is a resolved objective with its conventional starting point and
// known minimizer.
type Problem struct {
	Name     string
	Function Function
	Start    []float64
	Minimum  []float64
}

// Objective adapts the problem's function to the engine's callback.
func (p Problem) Objective() optimization.ObjectiveFunction {
	return FromFunction(p.Function)
}

// FromFunction adapts f to an optimization.ObjectiveFunction.
func FromFunction(f Function) optimization.ObjectiveFunction {
	return func(x []float64) (optimization.ObjectiveResult, error) {
		grad := make([]float64, len(x))
		f.Grad(grad, x)
		return optimization.ObjectiveResult{Value: f.Func(x), Gradients: grad}, nil
	}
}

type definition struct {
	// dim is the required dimension, 0 when any dimension works.
	dim        int
	defaultDim int
	build      func(n int, o Options) (Problem, error)
}

var registry = map[string]definition{
	"sphere": {defaultDim: 2, build: func(n int, o Options) (Problem, error) {
		return Problem{Function: Quadratic{Scale: 1, Target: make([]float64, n)}, Start: fill(n, 1), Minimum: make([]float64, n)}, nil
	}},
	"quadratic": {defaultDim: 2, build: func(n int, o Options) (Problem, error) {
		target := o.Target
		if target == nil {
			target = fill(n, 1)
		}
		scale := o.Scale
		if scale == 0 {
			scale = 1
		}
		if scale < 0 {
			return Problem{}, fmt.Errorf("quadratic scale must be positive, got %v", scale)
		}
		return Problem{Function: Quadratic{Scale: scale, Target: target}, Start: make([]float64, n), Minimum: clone(target)}, nil
	}},
	"rosenbrock": {defaultDim: 2, build: func(n int, o Options) (Problem, error) {
		if n < 2 {
			return Problem{}, fmt.Errorf("rosenbrock needs at least 2 dimensions, got %d", n)
		}
		start := make([]float64, n)
		for i := range start {
			start[i] = 1
			if i%2 == 0 {
				start[i] = -1.2
			}
		}
		return Problem{Function: functions.ExtendedRosenbrock{}, Start: start, Minimum: fill(n, 1)}, nil
	}},
	"beale": {dim: 2, build: func(int, Options) (Problem, error) {
		return gonumProblem(functions.Beale{}, []float64{1, 1}), nil
	}},
	"wood": {dim: 4, build: func(int, Options) (Problem, error) {
		return gonumProblem(functions.Wood{}, []float64{-3, -1, -3, -1}), nil
	}},
	"powell_badly_scaled": {dim: 2, build: func(int, Options) (Problem, error) {
		return gonumProblem(functions.PowellBadlyScaled{}, []float64{0, 1}), nil
	}},
	"brown_badly_scaled": {dim: 2, build: func(int, Options) (Problem, error) {
		return gonumProblem(functions.BrownBadlyScaled{}, []float64{1, 1}), nil
	}},
	"rbf_well":    {defaultDim: 2, build: wellBuilder(func(ls, d float64) (Kernel, error) { return NewRBFKernel(ls, d) })},
	"matern_well": {defaultDim: 2, build: wellBuilder(func(ls, d float64) (Kernel, error) { return NewMatern52Kernel(ls, d) })},
}

// Names lists the registered objectives in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a named objective.
func Lookup(name string, o Options) (Problem, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	def, ok := registry[key]
	if !ok {
		return Problem{}, optimization.NewErrorf(optimization.KindInvalidConfig,
			"unknown objective %q, expected one of %s", name, strings.Join(Names(), ", ")).
			WithComponent("objectives")
	}

	n := o.Dimension
	if n == 0 && len(o.Target) > 0 {
		n = len(o.Target)
	}
	switch {
	case def.dim > 0 && n != 0 && n != def.dim:
		return Problem{}, optimization.NewErrorf(optimization.KindInvalidConfig,
			"objective %s has dimension %d, got %d", key, def.dim, n).WithComponent("objectives")
	case def.dim > 0:
		n = def.dim
	case n == 0:
		n = def.defaultDim
	}
	if len(o.Target) > 0 && len(o.Target) != n {
		return Problem{}, optimization.NewErrorf(optimization.KindInvalidConfig,
			"target has %d values, dimension is %d", len(o.Target), n).WithComponent("objectives")
	}

	p, err := def.build(n, o)
	if err != nil {
		return Problem{}, optimization.WrapError(err, optimization.KindInvalidConfig, "building objective").
			WithComponent("objectives")
	}
	p.Name = key
	return p, nil
}

// gonumProblem takes the minimizer from the function's documented global
// minima.
func gonumProblem(f interface {
	Function
	Minima() []functions.Minimum
}, start []float64) Problem {
	p := Problem{Function: f, Start: start}
	for _, m := range f.Minima() {
		if m.Global && len(m.X) == len(start) {
			p.Minimum = clone(m.X)
			break
		}
	}
	return p
}

// Quadratic is Scale·Σ(x−Target)².
type Quadratic struct {
	Scale  float64
	Target []float64
}

// Func implements Function.
func (q Quadratic) Func(x []float64) float64 {
	var sum float64
	for i, v := range x {
		d := v - q.Target[i]
		sum += d * d
	}
	return q.Scale * sum
}

// Grad implements Function.
func (q Quadratic) Grad(grad, x []float64) {
	for i, v := range x {
		grad[i] = 2 * q.Scale * (v - q.Target[i])
	}
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
