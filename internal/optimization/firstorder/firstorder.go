// Package firstorder implements the gradient-only method family: SGD,
// Momentum, Nesterov, AdaGrad, RMSProp, Adam and AdamW.
//
// Every iteration evaluates the objective, records a step, checks the
// gradient norm against the tolerance and then applies exactly one update
// rule. The rule is chosen once per run.
package firstorder

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// Optimizer runs first-order methods. It holds no per-run state and may be
// shared by concurrent runs.
type Optimizer struct{}

// New returns a first-order family optimizer.
func New() *Optimizer {
	return &Optimizer{}
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// caches are the method-private buffers of one run.
type caches struct {
	velocity []float64 // momentum, nag
	accum    []float64 // adagrad, rmsprop
	m, v     []float64 // adam, adamw
}

func newCaches(method optimization.Method, n int) *caches {
	c := &caches{}
	switch method {
	case optimization.MethodMomentum, optimization.MethodNesterov:
		c.velocity = make([]float64, n)
	case optimization.MethodAdaGrad, optimization.MethodRMSProp:
		c.accum = make([]float64, n)
	case optimization.MethodAdam, optimization.MethodAdamW:
		c.m = make([]float64, n)
		c.v = make([]float64, n)
	}
	return c
}

func (c *caches) release() {
	c.velocity, c.accum, c.m, c.v = nil, nil, nil, nil
}

// Optimize implements optimization.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, run *optimization.Run) (*optimization.Result, error) {
	cfg := run.Config
	method := run.Method
	if method.Family() != optimization.FirstOrder {
		run.Logger.Warn("method is not first-order, falling back to sgd",
			zap.String("context_id", run.ContextID),
			zap.String("method", method.String()),
		)
		method = optimization.MethodSGD
	}

	x := append([]float64(nil), cfg.InitialParameters...)
	cfg.Constraints.Project(x)

	c := newCaches(method, len(x))
	defer c.release()

	run.Logger.Debug("starting first-order loop",
		zap.String("context_id", run.ContextID),
		zap.String("method", method.String()),
		zap.Int("dimensions", len(x)),
		zap.Int("max_iterations", cfg.MaxIterations),
	)

	var last optimization.Evaluation
	for iter := 0; ; iter++ {
		if optimization.Done(ctx) {
			return run.Finish(x, last, iter, optimization.ReasonCancelled), nil
		}

		ev, err := run.Evaluate(x)
		if err != nil {
			return nil, optimization.WrapErrorf(err, optimization.KindUnknown, "evaluating iteration %d", iter).
				WithOperation("optimize").
				WithComponent("firstorder")
		}

		norm := floats.Norm(ev.Gradients, 2)
		converged := norm < cfg.Tolerance
		if iter >= cfg.MaxIterations && !converged {
			return run.Finish(x, ev, iter, optimization.ReasonMaxIterations), nil
		}

		lr := run.Rate(iter, ev.Loss)
		run.Record(iter, method, x, ev, norm)
		if converged {
			return run.Finish(x, ev, iter, optimization.ReasonGradientNorm), nil
		}

		c.apply(method, x, ev.Gradients, run.Params, lr, iter+1)
		cfg.Constraints.Project(x)
		last = ev
	}
}

// apply performs one update of x in place. t is the 1-based step used for
// Adam bias correction.
func (c *caches) apply(method optimization.Method, x, g []float64, p *optimization.Params, lr float64, t int) {
	switch method {
	case optimization.MethodMomentum:
		for i := range x {
			c.velocity[i] = p.Momentum*c.velocity[i] - lr*g[i]
			x[i] += c.velocity[i]
		}

	case optimization.MethodNesterov:
		for i := range x {
			prev := c.velocity[i]
			c.velocity[i] = p.Momentum*c.velocity[i] - lr*g[i]
			x[i] += c.velocity[i] + p.Momentum*(c.velocity[i]-prev)
		}

	case optimization.MethodAdaGrad:
		for i := range x {
			c.accum[i] += g[i] * g[i]
			x[i] -= lr / (math.Sqrt(c.accum[i]) + p.Epsilon) * g[i]
		}

	case optimization.MethodRMSProp:
		for i := range x {
			c.accum[i] = p.Beta2*c.accum[i] + (1-p.Beta2)*g[i]*g[i]
			x[i] -= lr / (math.Sqrt(c.accum[i]) + p.Epsilon) * g[i]
		}

	case optimization.MethodAdam, optimization.MethodAdamW:
		bc1 := 1 - math.Pow(p.Beta1, float64(t))
		bc2 := 1 - math.Pow(p.Beta2, float64(t))
		decoupled := method == optimization.MethodAdamW
		for i := range x {
			c.m[i] = p.Beta1*c.m[i] + (1-p.Beta1)*g[i]
			c.v[i] = p.Beta2*c.v[i] + (1-p.Beta2)*g[i]*g[i]
			mHat := c.m[i] / bc1
			vHat := c.v[i] / bc2
			step := lr * mHat / (math.Sqrt(vHat) + p.Epsilon)
			if decoupled {
				step += lr * p.WeightDecay * x[i]
			}
			x[i] -= step
		}

	default:
		floats.AddScaled(x, -lr, g)
	}
}
