package optimization

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/regularization"
)

// ObjectiveResult is what an objective returns for one parameter vector.
type ObjectiveResult struct {
	Value     float64
	Gradients []float64
}

// ObjectiveFunction is the caller-supplied function being optimized.
// Gradients must have the same length as params.
type ObjectiveFunction func(params []float64) (ObjectiveResult, error)

// Evaluation is one objective call normalized for minimization.
type Evaluation struct {
	// Value is the raw objective value.
	Value float64
	// Loss is the minimized quantity: -Value when maximizing, plus the
	// penalty when regularization is applied.
	Loss float64
	// Gradients is the gradient of Loss.
	Gradients []float64
	// Penalty is the attached regularizer's value, applied or not.
	Penalty float64
}

// Call invokes obj, converting panics, errors and malformed gradients into
// ObjectiveFunction errors. The returned gradient is a private copy.
func Call(obj ObjectiveFunction, params []float64) (res ObjectiveResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrorf(KindObjectiveFunction, "objective panicked: %v", r)
		}
	}()

	res, err = obj(params)
	if err != nil {
		return ObjectiveResult{}, WrapError(err, KindObjectiveFunction, "objective returned an error")
	}
	if len(res.Gradients) != len(params) {
		return ObjectiveResult{}, NewErrorf(KindObjectiveFunction,
			"gradient length %d does not match parameter length %d", len(res.Gradients), len(params))
	}
	res.Gradients = append([]float64(nil), res.Gradients...)
	return res, nil
}

// Regularize wraps obj so that the value and gradient include r's penalty.
// A nil r returns obj unchanged.
func Regularize(obj ObjectiveFunction, r *regularization.Regularizer) ObjectiveFunction {
	if r == nil {
		return obj
	}
	return func(params []float64) (ObjectiveResult, error) {
		res, err := obj(params)
		if err != nil {
			return res, err
		}
		if len(res.Gradients) != len(params) {
			return res, fmt.Errorf("gradient length %d does not match parameter length %d", len(res.Gradients), len(params))
		}
		p := r.Compute(params)
		grad := append([]float64(nil), res.Gradients...)
		floats.Add(grad, p.Gradients)
		return ObjectiveResult{Value: res.Value + p.Value, Gradients: grad}, nil
	}
}
