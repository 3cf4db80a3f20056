// Package population implements the sampling method family: a genetic
// algorithm, particle swarm, simulated annealing and CMA-ES.
//
// These methods evaluate the objective at many points and keep the best
// point seen so far. The gradient is only used to report its norm. A run
// converges once the best loss has improved by less than the tolerance over
// the last "patience" iterations; simulated annealing instead stops when its
// temperature drops below minTemperature. The learning-rate scheduler is
// not consulted.
//
// Sampling happens inside a box: the configured constraints where present
// and [lowerBound, upperBound] otherwise. Set the "seed" method option for
// reproducible runs.
package population

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

const (
	defaultPatience   = 10
	defaultLowerBound = -10
	defaultUpperBound = 10
)

// Optimizer runs population methods. It holds no per-run state.
type Optimizer struct{}

// New returns a population family optimizer.
func New() *Optimizer {
	return &Optimizer{}
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// member is one evaluated point.
type member struct {
	x  []float64
	ev optimization.Evaluation
}

func (m member) better(o member) bool {
	return o.x == nil || m.ev.Loss < o.ev.Loss
}

// strategy advances one sampling method.
type strategy interface {
	// best returns the best member found so far.
	best() member
	// advance runs one generation.
	advance() error
}

// cooler is implemented by strategies that stop on their own schedule.
type cooler interface {
	cold() bool
}

// Optimize implements optimization.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, run *optimization.Run) (*optimization.Result, error) {
	cfg := run.Config
	log := run.Logger.With(zap.String("context_id", run.ContextID))

	method := run.Method
	if method.Family() != optimization.Population {
		log.Warn("method is not population-based, falling back to pso", zap.String("method", method.String()))
		method = optimization.MethodPSO
	}

	patience := cfg.IntOption("patience", defaultPatience)
	if patience < 1 {
		patience = defaultPatience
	}
	seed := seedOf(cfg)

	x0 := append([]float64(nil), cfg.InitialParameters...)
	cfg.Constraints.Project(x0)

	log.Debug("starting population loop",
		zap.String("method", method.String()),
		zap.Int("dimensions", len(x0)),
		zap.Uint64("seed", seed),
		zap.Int("patience", patience),
	)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if method == optimization.MethodCMAES {
		return minimizeCMAES(ctx, run, x0, rng, patience)
	}

	b, err := newBox(cfg, len(x0))
	if err != nil {
		return nil, err
	}
	s := &sampler{run: run, box: b, rng: rng}

	var st strategy
	switch method {
	case optimization.MethodGenetic:
		st, err = newGenetic(s, x0)
	case optimization.MethodAnnealing:
		st, err = newAnnealing(s, x0)
	default:
		st, err = newSwarm(s, x0)
	}
	if err != nil {
		return nil, wrap(err, 0)
	}

	// Annealing stops on its cooling schedule instead of on stalls: a hot
	// chain wanders uphill for many iterations without improving the best.
	c, cools := st.(cooler)
	window := make([]float64, 0, patience+1)
	for iter := 0; ; iter++ {
		best := st.best()
		if optimization.Done(ctx) {
			return run.Finish(best.x, best.ev, iter, optimization.ReasonCancelled), nil
		}
		if iter >= cfg.MaxIterations {
			return run.Finish(best.x, best.ev, iter, optimization.ReasonMaxIterations), nil
		}

		run.Record(iter, method, best.x, best.ev, floats.Norm(best.ev.Gradients, 2))

		if cools {
			if c.cold() {
				return run.Finish(best.x, best.ev, iter, optimization.ReasonCooled), nil
			}
		} else if stalled(&window, best.ev.Loss, patience, cfg.Tolerance) {
			return run.Finish(best.x, best.ev, iter, optimization.ReasonLossStalled), nil
		}

		if err := st.advance(); err != nil {
			return nil, wrap(err, iter)
		}
	}
}

// stalled appends loss to the window of the last patience+1 best losses
// and reports whether the best improved by less than tol across it.
func stalled(window *[]float64, loss float64, patience int, tol float64) bool {
	w := append(*window, loss)
	if len(w) > patience+1 {
		w = append(w[:0], w[1:]...)
	}
	*window = w
	return len(w) == patience+1 && w[0]-w[patience] < tol
}

func seedOf(cfg optimization.Config) uint64 {
	if _, ok := cfg.MethodOptions["seed"]; ok {
		return uint64(cfg.IntOption("seed", 0))
	}
	return uint64(time.Now().UnixNano())
}

// box holds the per-parameter sampling range.
type box struct {
	lo, hi []float64
}

func newBox(cfg optimization.Config, n int) (box, error) {
	lo := cfg.FloatOption("lowerBound", defaultLowerBound)
	hi := cfg.FloatOption("upperBound", defaultUpperBound)
	if !(lo < hi) {
		return box{}, optimization.NewErrorf(optimization.KindInvalidConfig,
			"lowerBound %v must be below upperBound %v", lo, hi).WithComponent("population")
	}
	b := box{lo: make([]float64, n), hi: make([]float64, n)}
	for i := range b.lo {
		b.lo[i], b.hi[i] = lo, hi
		if cfg.Constraints != nil && i < len(cfg.Constraints.Bounds) {
			b.lo[i], b.hi[i] = cfg.Constraints.Bounds[i][0], cfg.Constraints.Bounds[i][1]
		}
	}
	return b, nil
}

func (b box) project(x []float64) {
	for i := range x {
		x[i] = math.Max(b.lo[i], math.Min(b.hi[i], x[i]))
	}
}

// sampler is shared by the strategies of one run.
type sampler struct {
	run *optimization.Run
	box box
	rng *rand.Rand
}

func (s *sampler) eval(x []float64) (member, error) {
	ev, err := s.run.Evaluate(x)
	if err != nil {
		return member{}, err
	}
	return member{x: x, ev: ev}, nil
}

// uniform draws a point uniformly from the box.
func (s *sampler) uniform() []float64 {
	x := make([]float64, len(s.box.lo))
	for i := range x {
		x[i] = distuv.Uniform{Min: s.box.lo[i], Max: s.box.hi[i], Src: s.rng}.Rand()
	}
	return x
}

// diversity records the spread of losses in the run's scratch space.
func (s *sampler) diversity(losses []float64) {
	_, std := stat.PopMeanStdDev(losses, nil)
	s.run.Params.Scratch["diversity"] = std
}

func wrap(err error, iter int) error {
	if e, ok := optimization.IsOptimizationError(err); ok && e.Kind == optimization.KindInvalidConfig {
		return err
	}
	return optimization.WrapErrorf(err, optimization.KindUnknown, "iteration %d", iter).
		WithOperation("optimize").
		WithComponent("population")
}
