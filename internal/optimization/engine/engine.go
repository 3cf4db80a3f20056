// Package engine owns the registry of optimization contexts. It resolves
// the method family for each context, attaches schedulers and regularizers,
// forwards run events to observers and derives convergence metrics from the
// recorded steps.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/firstorder"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/population"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/regularization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/scheduler"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/secondorder"
)

// Defaults fill zero-valued fields of every config passed to Create.
type Defaults struct {
	Method        string
	MaxIterations int
	Tolerance     float64
	LearningRate  float64
	LBFGSHistory  int
	// StepLogLimit caps the steps retained per context; older steps are
	// discarded first. Zero keeps every step. Metrics still count the
	// discarded steps.
	StepLogLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers an observer that receives the events of every
// context.
func WithObserver(o optimization.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithDefaults sets the defaults applied by Create.
func WithDefaults(d Defaults) Option {
	return func(e *Engine) {
		e.defaults = d
	}
}

type entry struct {
	ctx         optimization.Context
	seq         uint64
	regularizer *regularization.Regularizer
	cancel      context.CancelFunc

	// recorded counts every step, including those trimmed from ctx.Steps.
	recorded  int
	firstLoss float64
	bestLoss  float64

	// schedMu serializes scheduler updates. It is never held together
	// with Engine.mu, so a custom scheduler may read the registry.
	schedMu   sync.Mutex
	scheduler *scheduler.State
}

// Engine is the optimization orchestrator. It is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	logger    *zap.Logger
	observers optimization.Observers
	defaults  Defaults

	firstOrder  optimization.Optimizer
	secondOrder optimization.Optimizer
	population  optimization.Optimizer
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		entries:     make(map[string]*entry),
		logger:      zap.NewNop(),
		firstOrder:  firstorder.New(),
		secondOrder: secondorder.New(),
		population:  population.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates the shape of cfg, resolves its method, attaches the
// configured scheduler and regularizer and registers a new context in the
// created state. It returns the context id.
func (e *Engine) Create(cfg optimization.Config) (string, error) {
	cfg = e.applyDefaults(cfg).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return "", withOp(err, "create")
	}

	method := e.resolveMethod(cfg.PrimaryMethod)

	sched, err := newScheduler(cfg)
	if err != nil {
		return "", withOp(err, "create")
	}
	reg, err := newRegularizer(cfg)
	if err != nil {
		return "", withOp(err, "create")
	}

	id := uuid.NewString()
	ent := &entry{
		ctx: optimization.Context{
			ID:     id,
			Config: cfg,
			Method: method,
			Status: optimization.StatusCreated,
			Params: optimization.NewParams(cfg),
		},
		scheduler:   sched,
		regularizer: reg,
	}

	e.mu.Lock()
	e.seq++
	ent.seq = e.seq
	e.entries[id] = ent
	e.mu.Unlock()

	e.logger.Debug("optimization context created",
		zap.String("context_id", id),
		zap.String("method", method.String()),
		zap.Int("dimensions", len(cfg.InitialParameters)),
	)
	return id, nil
}

func (e *Engine) applyDefaults(cfg optimization.Config) optimization.Config {
	d := e.defaults
	if cfg.PrimaryMethod == "" {
		cfg.PrimaryMethod = d.Method
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = d.Tolerance
	}
	if cfg.InitialLearningRate <= 0 {
		cfg.InitialLearningRate = d.LearningRate
	}
	if d.LBFGSHistory > 0 {
		if _, ok := cfg.MethodOptions["historySize"]; !ok {
			opts := make(map[string]any, len(cfg.MethodOptions)+1)
			for k, v := range cfg.MethodOptions {
				opts[k] = v
			}
			opts["historySize"] = d.LBFGSHistory
			cfg.MethodOptions = opts
		}
	}
	return cfg
}

func (e *Engine) resolveMethod(name string) optimization.Method {
	method, ok := optimization.ParseMethod(name)
	if !ok {
		e.logger.Warn("unknown optimization method, falling back to sgd", zap.String("method", name))
	}
	return method
}

func newScheduler(cfg optimization.Config) (*scheduler.State, error) {
	if cfg.LearningRateScheduler == "" {
		return nil, nil
	}
	sc := cfg.LearningRateSchedulerConfig
	if sc.TotalIterations <= 0 {
		sc.TotalIterations = cfg.MaxIterations
	}
	s, err := scheduler.New(cfg.LearningRateScheduler, cfg.InitialLearningRate, sc)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "learning rate scheduler")
	}
	return s, nil
}

func newRegularizer(cfg optimization.Config) (*regularization.Regularizer, error) {
	if cfg.Regularization == "" {
		return nil, nil
	}
	r, err := regularization.New(cfg.Regularization, cfg.RegularizationConfig)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "regularization")
	}
	if err := r.Validate(len(cfg.InitialParameters)); err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "regularization")
	}
	return r, nil
}

// Start runs the context to completion on the calling goroutine. Events
// go to the engine observers followed by observers.
//
// A cancelled run, whether through Cancel or ctx, returns its partial
// result and a nil error.
func (e *Engine) Start(ctx context.Context, id string, observers ...optimization.Observer) (*optimization.Result, error) {
	e.mu.Lock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return nil, notFound(id, "start")
	}
	if ent.ctx.Status != optimization.StatusCreated {
		status := ent.ctx.Status
		e.mu.Unlock()
		return nil, optimization.NewErrorf(optimization.KindInvalidState,
			"context %s is %s, expected %s", id, status, optimization.StatusCreated).WithOperation("start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ent.cancel = cancel
	ent.ctx.Status = optimization.StatusRunning
	ent.ctx.StartTime = time.Now()
	cfg := ent.ctx.Config
	method := ent.ctx.Method
	e.mu.Unlock()

	obs := make(optimization.Observers, 0, len(e.observers)+len(observers))
	obs = append(obs, e.observers...)
	obs = append(obs, observers...)

	log := e.logger.With(zap.String("context_id", id), zap.String("method", method.String()))
	log.Info("optimization started",
		zap.String("family", method.Family().String()),
		zap.Int("max_iterations", cfg.MaxIterations),
	)

	obs.OnEvent(optimization.Event{
		Type:      optimization.EventStarted,
		ContextID: id,
		Method:    method.String(),
		Time:      time.Now(),
	})

	run := optimization.NewRun(id, cfg, method, e.logger)
	run.Hooks = e.hooks(ent, run, obs)

	res, err := e.family(method).Optimize(runCtx, run)

	e.mu.Lock()
	ent.cancel = nil
	ent.ctx.EndTime = time.Now()
	ent.ctx.Params = run.Params.Clone()

	if err != nil {
		wrapped := optimization.WrapError(err, optimization.KindUnknown, "optimization failed").WithOperation("start")
		if ent.ctx.Status != optimization.StatusCancelled {
			ent.ctx.Status = optimization.StatusFailed
		}
		ent.ctx.Error = wrapped.Error()
		e.mu.Unlock()

		log.Error("optimization failed", zap.Error(err))
		obs.OnEvent(optimization.Event{
			Type:      optimization.EventFailed,
			ContextID: id,
			Method:    method.String(),
			Time:      time.Now(),
			Err:       wrapped,
		})
		return nil, wrapped
	}

	ev := optimization.Event{ContextID: id, Method: method.String(), Time: time.Now(), Result: res}
	if ent.ctx.Status == optimization.StatusCancelled || res.TerminationReason == optimization.ReasonCancelled {
		ent.ctx.Status = optimization.StatusCancelled
		ev.Type = optimization.EventCancelled
	} else {
		ent.ctx.Status = optimization.StatusCompleted
		ev.Type = optimization.EventCompleted
	}
	ent.ctx.Result = res
	e.mu.Unlock()

	log.Info("optimization finished",
		zap.String("status", string(ev.Type)),
		zap.String("reason", string(res.TerminationReason)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("loss", res.Loss),
		zap.Duration("duration", res.Duration),
	)
	obs.OnEvent(ev)
	return res, nil
}

func (e *Engine) family(m optimization.Method) optimization.Optimizer {
	switch m.Family() {
	case optimization.SecondOrder:
		return e.secondOrder
	case optimization.Population:
		return e.population
	default:
		return e.firstOrder
	}
}

// hooks wire a run to its registry entry. They execute on the run goroutine.
func (e *Engine) hooks(ent *entry, run *optimization.Run, obs optimization.Observers) optimization.Hooks {
	id := ent.ctx.ID
	method := ent.ctx.Method.String()
	limit := e.defaults.StepLogLimit

	h := optimization.Hooks{
		Step: func(s optimization.Step) {
			e.mu.Lock()
			if ent.recorded == 0 || s.Loss < ent.bestLoss {
				ent.bestLoss = s.Loss
			}
			if ent.recorded == 0 {
				ent.firstLoss = s.Loss
			}
			ent.recorded++
			ent.ctx.Steps = append(ent.ctx.Steps, s)
			if limit > 0 && len(ent.ctx.Steps) > limit {
				ent.ctx.Steps = append(ent.ctx.Steps[:0], ent.ctx.Steps[len(ent.ctx.Steps)-limit:]...)
			}
			ent.ctx.Params = run.Params.Clone()
			e.mu.Unlock()

			obs.OnEvent(optimization.Event{
				Type:      optimization.EventStep,
				ContextID: id,
				Method:    s.Method,
				Time:      s.Timestamp,
				Step:      &s,
				Iteration: s.Iteration,
			})
		},
		RateChanged: func(iteration int, old, new float64) {
			obs.OnEvent(optimization.Event{
				Type:            optimization.EventLearningRateChanged,
				ContextID:       id,
				Method:          method,
				Time:            time.Now(),
				Iteration:       iteration,
				OldLearningRate: old,
				LearningRate:    new,
			})
		},
	}

	if ent.scheduler != nil {
		h.Schedule = func(iteration int, loss float64) float64 {
			ent.schedMu.Lock()
			defer ent.schedMu.Unlock()
			return ent.scheduler.Update(iteration, nil, &scheduler.Metrics{Loss: loss})
		}
	}
	if reg := ent.regularizer; reg != nil {
		h.Penalty = func(params []float64) regularization.Penalty {
			p := reg.Compute(params)
			obs.OnEvent(optimization.Event{
				Type:      optimization.EventRegularizationApplied,
				ContextID: id,
				Method:    method,
				Time:      time.Now(),
				Iteration: run.Params.Iteration,
				Penalty:   p.Value,
			})
			return p
		}
	}
	return h
}

// Cancel asks a running context to stop at its next iteration boundary and
// marks it cancelled. It reports false when the context is not running.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[id]
	if !ok || ent.ctx.Status != optimization.StatusRunning {
		return false
	}
	ent.ctx.Status = optimization.StatusCancelled
	if ent.cancel != nil {
		ent.cancel()
	}
	e.logger.Info("optimization cancellation requested", zap.String("context_id", id))
	return true
}

// CreateHybridStrategy records a hybrid weighting on a created context.
// Weights default to 0.6 for the primary with the remaining 0.4 split
// evenly across secondaries.
func (e *Engine) CreateHybridStrategy(id, primary string, secondaries []string, hc optimization.HybridConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[id]
	if !ok {
		return notFound(id, "create_hybrid_strategy")
	}
	if ent.ctx.Status != optimization.StatusCreated {
		return optimization.NewErrorf(optimization.KindInvalidState,
			"context %s is %s, hybrid strategies can only be set before start", id, ent.ctx.Status).
			WithOperation("create_hybrid_strategy")
	}

	cfg := &ent.ctx.Config
	if primary != "" && primary != cfg.PrimaryMethod {
		cfg.PrimaryMethod = primary
		ent.ctx.Method = e.resolveMethod(primary)
	}
	cfg.SecondaryMethods = append([]string(nil), secondaries...)
	cfg.IsHybrid = true

	weights := make(map[string]float64, len(hc.Weights))
	for k, v := range hc.Weights {
		weights[k] = v
	}
	if len(weights) == 0 {
		weights = DefaultWeights(cfg.PrimaryMethod, secondaries)
	}
	cfg.HybridConfig = &optimization.HybridConfig{
		Weights:         weights,
		SwitchThreshold: hc.SwitchThreshold,
	}
	return nil
}

// DefaultWeights gives the primary 0.6 and splits 0.4 evenly across the
// secondaries. Without secondaries the primary gets everything.
func DefaultWeights(primary string, secondaries []string) map[string]float64 {
	w := make(map[string]float64, len(secondaries)+1)
	if len(secondaries) == 0 {
		w[primary] = 1
		return w
	}
	w[primary] = 0.6
	share := 0.4 / float64(len(secondaries))
	for _, s := range secondaries {
		w[s] += share
	}
	return w
}

// UpdateLearningRate advances the context's scheduler and returns the new
// rate. Without a scheduler the current rate is returned unchanged.
// A custom scheduler function must not call it for its own context.
func (e *Engine) UpdateLearningRate(id string, iteration int, epoch *int, m *scheduler.Metrics) (float64, error) {
	e.mu.RLock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.RUnlock()
		return 0, notFound(id, "update_learning_rate")
	}
	method := ent.ctx.Method.String()
	if ent.scheduler == nil {
		lr := ent.ctx.Params.LearningRate
		e.mu.RUnlock()
		return lr, nil
	}
	e.mu.RUnlock()

	ent.schedMu.Lock()
	old := ent.scheduler.CurrentRate
	lr := ent.scheduler.Update(iteration, epoch, m)
	ent.schedMu.Unlock()

	e.mu.Lock()
	ent.ctx.Params.LearningRate = lr
	e.mu.Unlock()

	if lr != old {
		e.observers.OnEvent(optimization.Event{
			Type:            optimization.EventLearningRateChanged,
			ContextID:       id,
			Method:          method,
			Time:            time.Now(),
			Iteration:       iteration,
			OldLearningRate: old,
			LearningRate:    lr,
		})
	}
	return lr, nil
}

// ComputeRegularization evaluates the context's regularizer at params.
// Without a regularizer the penalty and gradient are zero.
func (e *Engine) ComputeRegularization(id string, params []float64) (regularization.Penalty, error) {
	e.mu.RLock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.RUnlock()
		return regularization.Penalty{}, notFound(id, "compute_regularization")
	}
	reg := ent.regularizer
	method := ent.ctx.Method.String()
	e.mu.RUnlock()

	p := reg.Compute(params)
	if reg != nil {
		e.observers.OnEvent(optimization.Event{
			Type:      optimization.EventRegularizationApplied,
			ContextID: id,
			Method:    method,
			Time:      time.Now(),
			Penalty:   p.Value,
		})
	}
	return p, nil
}

// Get returns a snapshot of the context.
func (e *Engine) Get(id string) (optimization.Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.entries[id]
	if !ok {
		return optimization.Context{}, notFound(id, "get")
	}
	return ent.ctx.Snapshot(), nil
}

// List returns snapshots of every context in creation order.
func (e *Engine) List() []optimization.Context {
	e.mu.RLock()
	ents := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		ents = append(ents, ent)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].seq < ents[j].seq })
	out := make([]optimization.Context, len(ents))
	for i, ent := range ents {
		out[i] = ent.ctx.Snapshot()
	}
	e.mu.RUnlock()
	return out
}

// Delete removes a context that is not running.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[id]
	if !ok {
		return notFound(id, "delete")
	}
	if ent.ctx.Status == optimization.StatusRunning {
		return optimization.NewErrorf(optimization.KindInvalidState, "context %s is running", id).WithOperation("delete")
	}
	delete(e.entries, id)
	return nil
}

// Close cancels every running context.
func (e *Engine) Close() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.entries))
	for id, ent := range e.entries {
		if ent.ctx.Status == optimization.StatusRunning {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range ids {
		e.Cancel(id)
	}
}

func notFound(id, op string) error {
	return optimization.NewErrorf(optimization.KindNotFound, "context %s not found", id).WithOperation(op)
}

func withOp(err error, op string) error {
	var oe *optimization.Error
	if errors.As(err, &oe) && oe.Op == "" {
		oe.Op = op
	}
	return err
}
