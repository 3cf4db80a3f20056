package optimization

import (
	"time"

	"k8s.io/utils/ptr"
)

// Status is the lifecycle state of a context.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TerminationReason explains why a loop stopped.
type TerminationReason string

const (
	ReasonMaxIterations    TerminationReason = "max_iterations_reached"
	ReasonGradientNorm     TerminationReason = "gradient_norm_below_tolerance"
	ReasonCancelled        TerminationReason = "cancelled"
	ReasonLineSearchFailed TerminationReason = "line_search_failed"
	ReasonLossStalled      TerminationReason = "loss_change_below_tolerance"
	ReasonCooled           TerminationReason = "temperature_below_minimum"
)

// Converged reports whether the reason counts as convergence.
func (r TerminationReason) Converged() bool {
	return r == ReasonGradientNorm || r == ReasonLossStalled
}

// Params are the mutable hyperparameters owned by a running method.
type Params struct {
	LearningRate float64            `json:"learningRate"`
	Momentum     float64            `json:"momentum"`
	Beta1        float64            `json:"beta1"`
	Beta2        float64            `json:"beta2"`
	Epsilon      float64            `json:"epsilon"`
	WeightDecay  float64            `json:"weightDecay"`
	Iteration    int                `json:"iteration"`
	Scratch      map[string]float64 `json:"scratch,omitempty"`
}

// NewParams derives the starting params from a defaulted config.
func NewParams(c Config) Params {
	return Params{
		LearningRate: c.InitialLearningRate,
		Momentum:     ptr.Deref(c.InitialMomentum, DefaultMomentum),
		Beta1:        ptr.Deref(c.Beta1, DefaultBeta1),
		Beta2:        c.Beta2,
		Epsilon:      c.Epsilon,
		WeightDecay:  c.WeightDecay,
		Scratch:      map[string]float64{},
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	if p.Scratch != nil {
		s := make(map[string]float64, len(p.Scratch))
		for k, v := range p.Scratch {
			s[k] = v
		}
		p.Scratch = s
	}
	return p
}

// Step is the telemetry recorded for one iteration.
type Step struct {
	Timestamp    time.Time `json:"timestamp"`
	Iteration    int       `json:"iteration"`
	Method       string    `json:"method"`
	Parameters   []float64 `json:"parameters"`
	Value        float64   `json:"value"`
	Loss         float64   `json:"loss"`
	GradientNorm float64   `json:"gradientNorm"`
	LearningRate float64   `json:"learningRate"`
	Penalty      float64   `json:"penalty"`
}

// Result is produced once when a loop exits.
type Result struct {
	Parameters        []float64         `json:"parameters" yaml:"parameters"`
	Value             float64           `json:"value" yaml:"value"`
	Loss              float64           `json:"loss" yaml:"loss"`
	Iterations        int               `json:"iterations" yaml:"iterations"`
	Converged         bool              `json:"converged" yaml:"converged"`
	TerminationReason TerminationReason `json:"terminationReason" yaml:"terminationReason"`
	Duration          time.Duration     `json:"duration" yaml:"duration"`
	BestLoss          float64           `json:"bestLoss" yaml:"bestLoss"`
	BestParameters    []float64         `json:"bestParameters" yaml:"bestParameters"`
	Method            string            `json:"method" yaml:"method"`
}

// Context is one optimization run as held by the engine.
type Context struct {
	ID        string
	Config    Config
	Method    Method
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Params    Params
	Steps     []Step
	Result    *Result
	Error     string
}

// Snapshot returns a copy that shares nothing mutable with c.
func (c *Context) Snapshot() Context {
	out := *c
	out.Params = c.Params.Clone()
	out.Steps = append([]Step(nil), c.Steps...)
	if c.Result != nil {
		r := *c.Result
		out.Result = &r
	}
	return out
}
