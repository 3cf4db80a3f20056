// Package secondorder implements the curvature-aware method family:
// Newton with a finite-difference Hessian, BFGS, L-BFGS and Fletcher–Reeves
// conjugate gradient.
//
// The loop has the same shape as the first-order family. Steps have unit
// length unless the "stepLength" method option overrides it; setting
// "lineSearch" to "backtracking" enables an Armijo line search instead.
// The learning-rate scheduler is not consulted.
package secondorder

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// Optimizer runs second-order methods. It holds no per-run state.
type Optimizer struct{}

// New returns a second-order family optimizer.
func New() *Optimizer {
	return &Optimizer{}
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// Optimize implements optimization.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, run *optimization.Run) (*optimization.Result, error) {
	cfg := run.Config
	log := run.Logger.With(zap.String("context_id", run.ContextID))

	active := run.Method
	if active.Family() != optimization.SecondOrder {
		log.Warn("method is not second-order, falling back to bfgs", zap.String("method", active.String()))
		active = optimization.MethodBFGS
	}
	next, threshold := switchTarget(cfg, active)

	x := append([]float64(nil), cfg.InitialParameters...)
	ws := NewWorkspace(len(x))
	defer ws.Release()

	dir := newDirection(active, run, ws)
	defer func() {
		dir.release()
		log.Debug("second-order workspace released", zap.Int("matrices_allocated", ws.Allocated()))
	}()

	stepLength := cfg.FloatOption("stepLength", 1)
	if stepLength <= 0 {
		stepLength = 1
	}
	lineSearch := strings.EqualFold(cfg.StringOption("lineSearch", ""), "backtracking")

	log.Debug("starting second-order loop",
		zap.String("method", active.String()),
		zap.Int("dimensions", len(x)),
		zap.Float64("step_length", stepLength),
		zap.Bool("line_search", lineSearch),
	)

	var last optimization.Evaluation
	for iter := 0; ; iter++ {
		if optimization.Done(ctx) {
			return run.Finish(x, last, iter, optimization.ReasonCancelled), nil
		}

		ev, err := run.Evaluate(x)
		if err != nil {
			return nil, wrap(err, iter)
		}

		norm := floats.Norm(ev.Gradients, 2)
		converged := norm < cfg.Tolerance
		if iter >= cfg.MaxIterations && !converged {
			return run.Finish(x, ev, iter, optimization.ReasonMaxIterations), nil
		}

		run.Record(iter, active, x, ev, norm)
		if converged {
			return run.Finish(x, ev, iter, optimization.ReasonGradientNorm), nil
		}

		if next != active && norm < threshold {
			log.Info("switching hybrid method",
				zap.String("from", active.String()),
				zap.String("to", next.String()),
				zap.Int("iteration", iter),
				zap.Float64("gradient_norm", norm),
			)
			active = next
			dir.release()
			dir = newDirection(active, run, ws)
		}

		d, err := dir.compute(x, ev.Gradients)
		if err != nil {
			return nil, wrap(err, iter)
		}

		alpha := stepLength
		if lineSearch {
			if floats.Dot(ev.Gradients, d) >= 0 {
				d = steepest(ev.Gradients)
				dir.reset()
			}
			var ok bool
			alpha, ok, err = backtrack(run, x, d, ev, stepLength)
			if err != nil {
				return nil, wrap(err, iter)
			}
			if !ok {
				log.Warn("line search failed", zap.Int("iteration", iter))
				return run.Finish(x, ev, iter, optimization.ReasonLineSearchFailed), nil
			}
		}

		floats.AddScaled(x, alpha, d)
		last = ev
	}
}

// switchTarget returns the method a hybrid run switches to and the
// gradient norm that triggers it. Non-hybrid runs get active back.
func switchTarget(cfg optimization.Config, active optimization.Method) (optimization.Method, float64) {
	if !cfg.IsHybrid || cfg.HybridConfig == nil || cfg.HybridConfig.SwitchThreshold <= 0 {
		return active, 0
	}
	for _, name := range cfg.SecondaryMethods {
		m, ok := optimization.ParseMethod(name)
		if ok && m.Family() == optimization.SecondOrder && m != active {
			return m, cfg.HybridConfig.SwitchThreshold
		}
	}
	return active, 0
}

func wrap(err error, iter int) error {
	return optimization.WrapErrorf(err, optimization.KindUnknown, "iteration %d", iter).
		WithOperation("optimize").
		WithComponent("secondorder")
}
