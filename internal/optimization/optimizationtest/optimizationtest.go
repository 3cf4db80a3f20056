// Package optimizationtest provides objectives and assertions shared by the
// optimization test suites.
package optimizationtest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/mat"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// Quadratic returns f(p) = scale·Σ(p_i − target_i)² with its gradient.
func Quadratic(scale float64, target ...float64) optimization.ObjectiveFunction {
	return func(p []float64) (optimization.ObjectiveResult, error) {
		var sum float64
		grad := make([]float64, len(p))
		for i := range p {
			d := p[i] - target[i]
			sum += d * d
			grad[i] = 2 * scale * d
		}
		return optimization.ObjectiveResult{Value: scale * sum, Gradients: grad}, nil
	}
}

// Linear returns f(p) = Σc_i·p_i, whose Hessian is zero everywhere.
func Linear(coef ...float64) optimization.ObjectiveFunction {
	return func(p []float64) (optimization.ObjectiveResult, error) {
		var sum float64
		grad := make([]float64, len(p))
		for i := range p {
			sum += coef[i] * p[i]
			grad[i] = coef[i]
		}
		return optimization.ObjectiveResult{Value: sum, Gradients: grad}, nil
	}
}

// Concave returns f(p) = −Σ(p_i − peak_i)², maximized at peak.
func Concave(peak ...float64) optimization.ObjectiveFunction {
	q := Quadratic(1, peak...)
	return func(p []float64) (optimization.ObjectiveResult, error) {
		r, err := q(p)
		if err != nil {
			return r, err
		}
		for i := range r.Gradients {
			r.Gradients[i] = -r.Gradients[i]
		}
		return optimization.ObjectiveResult{Value: -r.Value, Gradients: r.Gradients}, nil
	}
}

// Counting wraps obj and counts calls.
func Counting(obj optimization.ObjectiveFunction, calls *int) optimization.ObjectiveFunction {
	return func(p []float64) (optimization.ObjectiveResult, error) {
		*calls++
		return obj(p)
	}
}

// NumericalGradient returns the central-difference gradient of f at x.
func NumericalGradient(f func([]float64) float64, x []float64, h float64) []float64 {
	grad := make([]float64, len(x))
	xc := append([]float64(nil), x...)
	for i := range xc {
		orig := xc[i]
		xc[i] = orig + h
		fp := f(xc)
		xc[i] = orig - h
		fm := f(xc)
		xc[i] = orig
		grad[i] = (fp - fm) / (2 * h)
	}
	return grad
}

// AssertVectorsNear fails the test when got and want differ by more than
// tol in any element.
func AssertVectorsNear(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Fatalf("vectors differ beyond %g (-want +got):\n%s", tol, diff)
	}
}

// AssertMatNear fails the test when the matrices differ in shape or by more
// than tol in any element.
func AssertMatNear(t testing.TB, want, got mat.Matrix, tol float64) {
	t.Helper()

	rw, cw := want.Dims()
	rg, cg := got.Dims()
	if rw != rg || cw != cg {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}
	for i := 0; i < rw; i++ {
		for j := 0; j < cw; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, got.At(i, j), want.At(i, j), tol)
			}
		}
	}
}

// RandomVector draws n values uniformly from [min, max).
func RandomVector(rng *rand.Rand, n int, min, max float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = min + rng.Float64()*(max-min)
	}
	return v
}
