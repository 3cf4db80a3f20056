package optimization

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/regularization"
)

// Optimizer is a method family. Optimize runs the loop for run.Method and
// returns when the loop converges, exhausts its iterations, fails or
// observes cancellation of ctx. A cancelled run returns its partial result
// with ReasonCancelled and a nil error.
type Optimizer interface {
	Optimize(ctx context.Context, run *Run) (*Result, error)
}

// Hooks connect a running family to the engine. Every hook is optional.
type Hooks struct {
	// Step receives each recorded step.
	Step func(Step)
	// Schedule returns the learning rate for an iteration given its loss.
	Schedule func(iteration int, loss float64) float64
	// RateChanged is called when Schedule moves the learning rate.
	RateChanged func(iteration int, old, new float64)
	// Penalty computes the attached regularizer for params.
	Penalty func(params []float64) regularization.Penalty
}

// Run carries everything a family needs for one context. It is owned by
// the goroutine executing Optimize.
type Run struct {
	ContextID string
	Config    Config
	Method    Method
	Params    *Params
	Logger    *zap.Logger
	Hooks     Hooks

	start       time.Time
	evaluations int
	bestLoss    float64
	bestParams  []float64
	hasBest     bool
}

// NewRun prepares a run. cfg must already have defaults applied.
func NewRun(id string, cfg Config, method Method, logger *zap.Logger) *Run {
	if logger == nil {
		logger = zap.NewNop()
	}
	params := NewParams(cfg)
	return &Run{
		ContextID: id,
		Config:    cfg,
		Method:    method,
		Params:    &params,
		Logger:    logger,
		start:     time.Now(),
	}
}

// Done reports whether ctx has been cancelled without blocking.
func Done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Evaluations reports how many times the objective has been called.
func (r *Run) Evaluations() int {
	return r.evaluations
}

// Evaluate calls the objective at params and normalizes the result for
// minimization.
func (r *Run) Evaluate(params []float64) (Evaluation, error) {
	r.evaluations++
	res, err := Call(r.Config.Objective, params)
	if err != nil {
		if e, ok := IsOptimizationError(err); ok {
			e.WithComponent(r.Method.String())
		}
		return Evaluation{}, err
	}

	ev := Evaluation{Value: res.Value, Loss: res.Value, Gradients: res.Gradients}
	if r.Config.Maximizing() {
		ev.Loss = -res.Value
		floats.Scale(-1, ev.Gradients)
	}

	if r.Hooks.Penalty != nil {
		p := r.Hooks.Penalty(params)
		ev.Penalty = p.Value
		if r.Config.ApplyRegularization && len(p.Gradients) == len(ev.Gradients) {
			ev.Loss += p.Value
			floats.Add(ev.Gradients, p.Gradients)
		}
	}
	return ev, nil
}

// Rate returns the learning rate for iteration, consulting the scheduler
// hook when one is attached.
func (r *Run) Rate(iteration int, loss float64) float64 {
	if r.Hooks.Schedule == nil {
		return r.Params.LearningRate
	}
	lr := r.Hooks.Schedule(iteration, loss)
	if lr != r.Params.LearningRate {
		old := r.Params.LearningRate
		r.Params.LearningRate = lr
		if r.Hooks.RateChanged != nil {
			r.Hooks.RateChanged(iteration, old, lr)
		}
	}
	return lr
}

// Record tracks the best point and emits a step for iteration.
func (r *Run) Record(iteration int, method Method, params []float64, ev Evaluation, gradNorm float64) {
	r.Params.Iteration = iteration
	r.track(params, ev)

	if r.Hooks.Step == nil {
		return
	}
	r.Hooks.Step(Step{
		Timestamp:    time.Now(),
		Iteration:    iteration,
		Method:       method.String(),
		Parameters:   append([]float64(nil), params...),
		Value:        ev.Value,
		Loss:         ev.Loss,
		GradientNorm: gradNorm,
		LearningRate: r.Params.LearningRate,
		Penalty:      ev.Penalty,
	})
}

func (r *Run) track(params []float64, ev Evaluation) {
	if r.hasBest && ev.Loss >= r.bestLoss {
		return
	}
	r.hasBest = true
	r.bestLoss = ev.Loss
	r.bestParams = append(r.bestParams[:0], params...)
}

// Finish builds the result for a loop that stopped at params after
// iterations updates. ev is the last evaluation of params, if any; a
// cancelled loop passes the evaluation preceding its final update.
func (r *Run) Finish(params []float64, ev Evaluation, iterations int, reason TerminationReason) *Result {
	if ev.Gradients != nil && reason != ReasonCancelled {
		r.track(params, ev)
	}
	res := &Result{
		Parameters:        append([]float64(nil), params...),
		Value:             ev.Value,
		Loss:              ev.Loss,
		Iterations:        iterations,
		Converged:         reason.Converged(),
		TerminationReason: reason,
		Duration:          time.Since(r.start),
		BestLoss:          ev.Loss,
		BestParameters:    append([]float64(nil), params...),
		Method:            r.Method.String(),
	}
	if r.hasBest {
		res.BestLoss = r.bestLoss
		res.BestParameters = append([]float64(nil), r.bestParams...)
	}
	r.Logger.Debug("optimization loop finished",
		zap.String("context_id", r.ContextID),
		zap.String("method", res.Method),
		zap.String("reason", string(reason)),
		zap.Int("iterations", iterations),
		zap.Int("evaluations", r.evaluations),
		zap.Float64("loss", res.Loss),
	)
	return res
}
