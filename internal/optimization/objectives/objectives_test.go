package objectives

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/optimizationtest"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/secondorder"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{
		"beale",
		"brown_badly_scaled",
		"matern_well",
		"powell_badly_scaled",
		"quadratic",
		"rbf_well",
		"rosenbrock",
		"sphere",
		"wood",
	}, Names())
}

func TestLookup_MinimumIsStationary(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Lookup(name, Options{})
			require.NoError(t, err)
			assert.Equal(t, name, p.Name)
			require.Len(t, p.Minimum, len(p.Start))

			res, err := p.Objective()(p.Minimum)
			require.NoError(t, err)
			switch name {
			case "rbf_well", "matern_well":
				assert.InDelta(t, -1, res.Value, 1e-12)
			default:
				assert.InDelta(t, 0, res.Value, 1e-10)
			}
			// Badly scaled problems have large gradients for tiny offsets.
			assert.Less(t, math.Abs(res.Gradients[0]), 1e-3)
		})
	}
}

func TestLookup_GradientsMatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Lookup(name, Options{})
			require.NoError(t, err)
			if name == "brown_badly_scaled" || name == "powell_badly_scaled" {
				t.Skip("finite differences are unreliable at this scale")
			}

			for trial := 0; trial < 5; trial++ {
				x := optimizationtest.RandomVector(rng, len(p.Start), -1.5, 1.5)
				res, err := p.Objective()(x)
				require.NoError(t, err)

				want := optimizationtest.NumericalGradient(p.Function.Func, x, 1e-6)
				for i := range want {
					tol := 1e-4 * math.Max(1, math.Abs(want[i]))
					assert.InDelta(t, want[i], res.Gradients[i], tol, "component %d at %v", i, x)
				}
			}
		})
	}
}

func TestLookup_Options(t *testing.T) {
	t.Run("quadratic target sets dimension", func(t *testing.T) {
		p, err := Lookup("quadratic", Options{Target: []float64{1, 2, 3}, Scale: 2})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 0, 0}, p.Start)
		assert.Equal(t, []float64{1, 2, 3}, p.Minimum)
		assert.InDelta(t, 2*14, p.Function.Func(p.Start), 1e-12)
	})

	t.Run("rosenbrock dimension", func(t *testing.T) {
		p, err := Lookup("Rosenbrock", Options{Dimension: 5})
		require.NoError(t, err)
		assert.Equal(t, []float64{-1.2, 1, -1.2, 1, -1.2}, p.Start)
		assert.Equal(t, []float64{1, 1, 1, 1, 1}, p.Minimum)
	})

	t.Run("well depth and width", func(t *testing.T) {
		p, err := Lookup("rbf_well", Options{Target: []float64{2, 2}, Scale: 3, LengthScale: 0.5})
		require.NoError(t, err)
		assert.InDelta(t, -3, p.Function.Func([]float64{2, 2}), 1e-12)
		assert.Equal(t, []float64{2.25, 2.25}, p.Start)

		w := p.Function.(Well)
		assert.Equal(t, shape{lengthScale: 0.5, signalVar: 3}, w.Kernel.(*RBFKernel).shape)
	})
}

func TestLookup_Errors(t *testing.T) {
	tests := []struct {
		name string
		obj  string
		opts Options
	}{
		{"unknown", "himmelblau", Options{}},
		{"fixed dimension", "beale", Options{Dimension: 3}},
		{"target mismatch", "quadratic", Options{Dimension: 2, Target: []float64{1, 2, 3}}},
		{"rosenbrock too small", "rosenbrock", Options{Dimension: 1}},
		{"negative scale", "quadratic", Options{Scale: -1}},
		{"negative length scale", "matern_well", Options{LengthScale: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lookup(tt.obj, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestKernels(t *testing.T) {
	rbf, err := NewRBFKernel(1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rbf.Eval([]float64{1, 2}, []float64{1, 2}), 1e-12)
	// exp(-0.5 * (1+1) / 1^2)
	assert.InDelta(t, math.Exp(-1), rbf.Eval([]float64{0, 0}, []float64{1, 1}), 1e-12)

	matern, err := NewMatern52Kernel(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, matern.Eval([]float64{0}, []float64{0}), 1e-12)
	assert.InDelta(t, matern.Eval([]float64{0}, []float64{1}), matern.Eval([]float64{1}, []float64{0}), 1e-12)

	grad := []float64{7}
	matern.Grad(grad, []float64{0}, []float64{0})
	assert.Zero(t, grad[0])

	_, err = NewRBFKernel(1, 0)
	assert.Error(t, err)
	_, err = NewMatern52Kernel(0, 1)
	assert.Error(t, err)
}

func TestProblemsSolve(t *testing.T) {
	tests := []struct {
		name   string
		method string
		tol    float64
	}{
		{"sphere", "newton", 1e-8},
		{"rosenbrock", "bfgs", 1e-4},
		{"wood", "bfgs", 1e-4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.name, Options{})
			require.NoError(t, err)

			cfg := optimization.Config{
				PrimaryMethod:     tt.method,
				Objective:         p.Objective(),
				InitialParameters: p.Start,
				MaxIterations:     1000,
				MethodOptions:     map[string]any{"lineSearch": "backtracking"},
			}.WithDefaults()
			m, _ := optimization.ParseMethod(tt.method)

			res, err := secondorder.New().Optimize(context.Background(), optimization.NewRun(tt.name, cfg, m, nil))
			require.NoError(t, err)
			assert.True(t, res.Converged, "reason %s", res.TerminationReason)
			optimizationtest.AssertVectorsNear(t, p.Minimum, res.Parameters, tt.tol)
		})
	}
}
