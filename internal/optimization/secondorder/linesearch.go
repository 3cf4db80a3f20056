package secondorder

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// backtrack searches along d from x for a step satisfying the Armijo
// condition, starting at step. It reports false when the step shrinks below
// the searcher's minimum. d must be a descent direction.
func backtrack(run *optimization.Run, x, d []float64, at optimization.Evaluation, step float64) (float64, bool, error) {
	ls := &optimize.Backtracking{}
	op := ls.Init(at.Loss, floats.Dot(at.Gradients, d), step)

	trial := make([]float64, len(x))
	for op == optimize.FuncEvaluation {
		floats.AddScaledTo(trial, x, step, d)
		ev, err := run.Evaluate(trial)
		if err != nil {
			return 0, false, err
		}

		var lerr error
		op, step, lerr = ls.Iterate(ev.Loss, 0)
		if errors.Is(lerr, optimize.ErrLinesearcherFailure) {
			return 0, false, nil
		}
		if lerr != nil {
			return 0, false, lerr
		}
	}
	return step, op == optimize.MajorIteration, nil
}
