package population

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// cmaRecorder tracks the best sample and records one step per CMA-ES
// generation. Minimize calls Func and Record from different goroutines but
// never concurrently when Concurrent is 1.
type cmaRecorder struct {
	run  *optimization.Run
	ctx  context.Context
	top  member
	err  error
	last int
}

func (r *cmaRecorder) Init() error { return nil }

func (r *cmaRecorder) Record(_ *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	r.last = stats.MajorIterations
	r.run.Record(r.last, optimization.MethodCMAES, r.top.x, r.top.ev, floats.Norm(r.top.ev.Gradients, 2))
	return nil
}

func (r *cmaRecorder) evaluate(x []float64) float64 {
	if r.err != nil {
		return math.Inf(1)
	}
	p := append([]float64(nil), x...)
	r.run.Config.Constraints.Project(p)
	ev, err := r.run.Evaluate(p)
	if err != nil {
		r.err = err
		return math.Inf(1)
	}
	if m := (member{x: p, ev: ev}); m.better(r.top) {
		r.top = m
	}
	return ev.Loss
}

func (r *cmaRecorder) status() (optimize.Status, error) {
	if r.err != nil {
		return optimize.Failure, r.err
	}
	if optimization.Done(r.ctx) {
		return optimize.Failure, r.ctx.Err()
	}
	return optimize.NotTerminated, nil
}

// minimizeCMAES runs gonum's CMA-ES with Cholesky updates. The start point
// is evaluated and recorded as iteration 0; each generation after it is one
// iteration.
func minimizeCMAES(ctx context.Context, run *optimization.Run, x0 []float64, rng *rand.Rand, patience int) (*optimization.Result, error) {
	cfg := run.Config
	rec := &cmaRecorder{run: run, ctx: ctx}

	rec.evaluate(x0)
	if rec.err != nil {
		return nil, wrap(rec.err, 0)
	}
	if optimization.Done(ctx) {
		return run.Finish(rec.top.x, rec.top.ev, 0, optimization.ReasonCancelled), nil
	}
	if cfg.MaxIterations == 0 {
		return run.Finish(rec.top.x, rec.top.ev, 0, optimization.ReasonMaxIterations), nil
	}
	run.Record(0, optimization.MethodCMAES, rec.top.x, rec.top.ev, floats.Norm(rec.top.ev.Gradients, 2))

	step := cfg.FloatOption("initStepSize", 0.5)
	if step <= 0 {
		step = 0.5
	}
	method := &optimize.CmaEsChol{
		InitStepSize: step,
		Population:   max(0, cfg.IntOption("populationSize", 0)),
		Src:          rng,
	}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.Tolerance,
			Iterations: patience,
		},
		Recorder:   rec,
		Concurrent: 1,
	}
	problem := optimize.Problem{Func: rec.evaluate, Status: rec.status}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if rec.err != nil {
		return nil, wrap(rec.err, rec.last)
	}

	// Minimize does not record the generation that terminates it, so a
	// converged run reports the last recorded one. Limits and cancellation
	// count it, matching the other population loops.
	switch {
	case optimization.Done(ctx):
		return run.Finish(rec.top.x, rec.top.ev, rec.last+1, optimization.ReasonCancelled), nil
	case err != nil:
		return nil, wrap(err, rec.last)
	case res.Status == optimize.IterationLimit:
		return run.Finish(rec.top.x, rec.top.ev, rec.last+1, optimization.ReasonMaxIterations), nil
	default:
		return run.Finish(rec.top.x, rec.top.ev, rec.last, optimization.ReasonLossStalled), nil
	}
}
