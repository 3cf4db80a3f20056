package population

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/optimizationtest"
)

func newRun(t testing.TB, cfg optimization.Config) *optimization.Run {
	t.Helper()
	if cfg.MethodOptions == nil {
		cfg.MethodOptions = map[string]any{}
	}
	if _, ok := cfg.MethodOptions["seed"]; !ok {
		cfg.MethodOptions["seed"] = 7
	}
	cfg = cfg.WithDefaults()
	require.NoError(t, cfg.Validate())
	method, _ := optimization.ParseMethod(cfg.PrimaryMethod)
	return optimization.NewRun("test", cfg, method, zaptest.NewLogger(t))
}

func TestOptimize_MethodsFindMinimum(t *testing.T) {
	target := []float64{1, -2}

	tests := []struct {
		method string
		reason optimization.TerminationReason
		tol    float64
	}{
		{"genetic", optimization.ReasonLossStalled, 0.05},
		{"pso", optimization.ReasonLossStalled, 1e-2},
		{"cmaes", optimization.ReasonLossStalled, 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			var steps []optimization.Step
			run := newRun(t, optimization.Config{
				PrimaryMethod:     tt.method,
				Objective:         optimizationtest.Quadratic(1, target...),
				InitialParameters: []float64{0, 0},
				MaxIterations:     500,
				Tolerance:         1e-6,
			})
			run.Hooks.Step = func(s optimization.Step) { steps = append(steps, s) }

			res, err := New().Optimize(context.Background(), run)
			require.NoError(t, err)

			assert.True(t, res.Converged, "reason %s after %d iterations", res.TerminationReason, res.Iterations)
			assert.Equal(t, tt.reason, res.TerminationReason)
			assert.Equal(t, tt.method, res.Method)
			assert.Less(t, res.Loss, tt.tol)
			assert.Less(t, res.Iterations, 500)
			require.Len(t, steps, res.Iterations+1)
			for i := 1; i < len(steps); i++ {
				assert.LessOrEqual(t, steps[i].Loss, steps[i-1].Loss, "best loss rose at step %d", i)
			}
		})
	}
}

func TestOptimize_AnnealingCools(t *testing.T) {
	run := newRun(t, optimization.Config{
		PrimaryMethod:     "sa",
		Objective:         optimizationtest.Quadratic(1, 3),
		InitialParameters: []float64{0},
		MaxIterations:     5000,
		Tolerance:         1e-6,
	})

	res, err := New().Optimize(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, optimization.ReasonCooled, res.TerminationReason)
	assert.False(t, res.Converged)
	assert.Equal(t, "sa", res.Method)
	assert.InDelta(t, 3, res.Parameters[0], 0.1)
	assert.Less(t, run.Params.Scratch["temperature"], 1e-6)
	assert.Contains(t, run.Params.Scratch, "acceptance_rate")
}

func TestOptimize_AnnealingOptionValidation(t *testing.T) {
	tests := map[string]map[string]any{
		"cooling above one":    {"coolingRate": 1.5},
		"cooling of one":       {"coolingRate": 1},
		"zero temperature":     {"initialTemperature": 0},
		"inverted default box": {"lowerBound": 1, "upperBound": -1},
		"empty default box":    {"lowerBound": 2, "upperBound": 2},
	}

	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			run := newRun(t, optimization.Config{
				PrimaryMethod:     "sa",
				Objective:         optimizationtest.Counting(optimizationtest.Quadratic(1, 0), &calls),
				InitialParameters: []float64{1},
				MethodOptions:     opts,
			})

			res, err := New().Optimize(context.Background(), run)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
			assert.Zero(t, calls)
		})
	}
}

func TestOptimize_SameSeedSameResult(t *testing.T) {
	for _, method := range []string{"genetic", "pso", "sa", "cmaes"} {
		t.Run(method, func(t *testing.T) {
			solve := func(seed int) *optimization.Result {
				run := newRun(t, optimization.Config{
					PrimaryMethod:     method,
					Objective:         optimizationtest.Quadratic(1, 1, -2),
					InitialParameters: []float64{0, 0},
					MaxIterations:     40,
					MethodOptions:     map[string]any{"seed": seed},
				})
				res, err := New().Optimize(context.Background(), run)
				require.NoError(t, err)
				return res
			}

			a, b := solve(11), solve(11)
			assert.Equal(t, a.Parameters, b.Parameters)
			assert.Equal(t, a.Loss, b.Loss)
			assert.Equal(t, a.Iterations, b.Iterations)
		})
	}
}

func TestOptimize_Maximize(t *testing.T) {
	run := newRun(t, optimization.Config{
		PrimaryMethod:     "pso",
		ObjectiveType:     optimization.Maximize,
		Objective:         optimizationtest.Concave(2),
		InitialParameters: []float64{-1},
		MaxIterations:     300,
	})

	res, err := New().Optimize(context.Background(), run)
	require.NoError(t, err)

	assert.InDelta(t, 2, res.Parameters[0], 0.05)
	assert.Equal(t, -res.Value, res.Loss)
}

func TestOptimize_StaysInsideConstraints(t *testing.T) {
	for _, method := range []string{"genetic", "pso", "sa", "cmaes"} {
		t.Run(method, func(t *testing.T) {
			var outside int
			run := newRun(t, optimization.Config{
				PrimaryMethod:     method,
				Objective:         optimizationtest.Quadratic(1, 3),
				InitialParameters: []float64{0},
				MaxIterations:     300,
				Constraints:       &optimization.Constraints{Bounds: [][2]float64{{-1, 2}}},
			})
			run.Hooks.Step = func(s optimization.Step) {
				if s.Parameters[0] < -1 || s.Parameters[0] > 2 {
					outside++
				}
			}

			res, err := New().Optimize(context.Background(), run)
			require.NoError(t, err)

			assert.Zero(t, outside)
			assert.LessOrEqual(t, res.Parameters[0], 2.0)
			assert.InDelta(t, 2, res.Parameters[0], 0.1)
		})
	}
}

func TestOptimize_Cancellation(t *testing.T) {
	for _, method := range []string{"genetic", "pso", "sa", "cmaes"} {
		t.Run(method, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var steps []optimization.Step
			run := newRun(t, optimization.Config{
				PrimaryMethod:     method,
				Objective:         optimizationtest.Quadratic(1, 5),
				InitialParameters: []float64{0},
				MaxIterations:     1000,
				Tolerance:         1e-12,
			})
			run.Hooks.Step = func(s optimization.Step) {
				steps = append(steps, s)
				if s.Iteration == 3 {
					cancel()
				}
			}

			res, err := New().Optimize(ctx, run)
			require.NoError(t, err)

			assert.Equal(t, optimization.ReasonCancelled, res.TerminationReason)
			assert.False(t, res.Converged)
			assert.Len(t, steps, 4)
		})
	}
}

func TestOptimize_ObjectiveFailure(t *testing.T) {
	for _, method := range []string{"genetic", "pso", "sa", "cmaes"} {
		t.Run(method, func(t *testing.T) {
			calls := 0
			obj := func(p []float64) (optimization.ObjectiveResult, error) {
				calls++
				if calls == 5 {
					panic("diverged")
				}
				return optimizationtest.Quadratic(1, 0)(p)
			}
			run := newRun(t, optimization.Config{
				PrimaryMethod:     method,
				Objective:         obj,
				InitialParameters: []float64{1},
			})

			res, err := New().Optimize(context.Background(), run)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, optimization.ErrObjectiveFunction))
			assert.Contains(t, err.Error(), "diverged")
		})
	}
}

func TestOptimize_NonPopulationMethodRunsSwarm(t *testing.T) {
	run := newRun(t, optimization.Config{
		PrimaryMethod:     "adam",
		Objective:         optimizationtest.Quadratic(1, 1),
		InitialParameters: []float64{0},
		MaxIterations:     300,
	})
	var methods []string
	run.Hooks.Step = func(s optimization.Step) { methods = append(methods, s.Method) }

	res, err := New().Optimize(context.Background(), run)
	require.NoError(t, err)

	assert.InDelta(t, 1, res.Parameters[0], 0.05)
	require.NotEmpty(t, methods)
	assert.Equal(t, "pso", methods[0])
}

func TestOptimize_GeneticRecordsDiversity(t *testing.T) {
	run := newRun(t, optimization.Config{
		PrimaryMethod:     "ga",
		Objective:         optimizationtest.Quadratic(1, 0, 0),
		InitialParameters: []float64{4, 4},
		MaxIterations:     5,
		MethodOptions:     map[string]any{"populationSize": 10},
	})

	res, err := New().Optimize(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, optimization.ReasonMaxIterations, res.TerminationReason)
	assert.Equal(t, 5, res.Iterations)
	// Ten initial members, then nine children per generation.
	assert.Equal(t, 10+5*9, run.Evaluations())
	assert.GreaterOrEqual(t, run.Params.Scratch["diversity"], 0.0)
}

func TestCrossover(t *testing.T) {
	a := []float64{0, 10}
	b := []float64{4, 20}
	crossover(a, b, 0.25)

	assert.Equal(t, []float64{3, 17.5}, a)
	assert.Equal(t, []float64{1, 12.5}, b)
}

func TestBox(t *testing.T) {
	cfg := optimization.Config{
		MethodOptions: map[string]any{"lowerBound": -2, "upperBound": 2.5},
		Constraints:   &optimization.Constraints{Bounds: [][2]float64{{0, 1}}},
	}
	b, err := newBox(cfg, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, -2}, b.lo)
	assert.Equal(t, []float64{1, 2.5}, b.hi)

	x := []float64{5, -5}
	b.project(x)
	assert.Equal(t, []float64{1, -2}, x)

	s := &sampler{box: b, rng: rand.New(rand.NewPCG(1, 2))}
	for range 100 {
		u := s.uniform()
		assert.True(t, u[0] >= 0 && u[0] <= 1, "got %v", u[0])
		assert.True(t, u[1] >= -2 && u[1] <= 2.5, "got %v", u[1])
	}
}

func TestStalled(t *testing.T) {
	var window []float64
	losses := []float64{10, 5, 4, 4, 4}
	var got []bool
	for _, l := range losses {
		got = append(got, stalled(&window, l, 2, 0.5))
	}
	assert.Equal(t, []bool{false, false, false, false, true}, got)
	assert.Len(t, window, 3)
}
