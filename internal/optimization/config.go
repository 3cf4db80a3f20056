package optimization

import (
	"strings"

	"k8s.io/utils/ptr"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/regularization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/scheduler"
)

// ObjectiveType selects the direction of the search.
type ObjectiveType string

const (
	Minimize ObjectiveType = "minimize"
	Maximize ObjectiveType = "maximize"
)

// Default hyperparameters applied by Config.WithDefaults.
const (
	DefaultMaxIterations = 1000
	DefaultTolerance     = 1e-6
	DefaultLearningRate  = 0.01
	DefaultMomentum      = 0.9
	DefaultBeta1         = 0.9
	DefaultBeta2         = 0.999
	DefaultEpsilon       = 1e-8
)

// HybridConfig records how a primary method shares a run with secondaries.
type HybridConfig struct {
	// Weights maps method names to their share. Filled with the default
	// split by the engine when empty.
	Weights map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	// SwitchThreshold is the gradient norm below which the second-order
	// family hands the loop to the first second-order secondary.
	SwitchThreshold float64 `yaml:"switchThreshold,omitempty" json:"switchThreshold,omitempty"`
}

// Constraints describes optional box bounds, one [lo, hi] pair per parameter.
type Constraints struct {
	Bounds [][2]float64 `yaml:"bounds,omitempty" json:"bounds,omitempty"`
}

// Project clamps x into the bounds in place. Missing bounds leave the
// corresponding parameters free.
func (c *Constraints) Project(x []float64) {
	if c == nil {
		return
	}
	for i := range x {
		if i >= len(c.Bounds) {
			return
		}
		lo, hi := c.Bounds[i][0], c.Bounds[i][1]
		if x[i] < lo {
			x[i] = lo
		} else if x[i] > hi {
			x[i] = hi
		}
	}
}

// Config is the caller-owned input for one optimization context.
type Config struct {
	PrimaryMethod    string
	SecondaryMethods []string
	IsHybrid         bool
	HybridConfig     *HybridConfig

	ObjectiveType     ObjectiveType
	Objective         ObjectiveFunction
	InitialParameters []float64

	MaxIterations       int
	Tolerance           float64
	InitialLearningRate float64
	// InitialMomentum and Beta1 default when nil; zero is a valid setting.
	InitialMomentum *float64
	Beta1           *float64
	Beta2           float64
	Epsilon         float64
	WeightDecay     float64

	LearningRateScheduler       string
	LearningRateSchedulerConfig scheduler.Config

	Regularization       string
	RegularizationConfig regularization.Config
	// ApplyRegularization adds the attached regularizer to the loss and
	// gradient seen by the update rule.
	ApplyRegularization bool

	Constraints   *Constraints
	MethodOptions map[string]any
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
// Slices and maps are copied so the result does not alias the caller.
func (c Config) WithDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.InitialLearningRate <= 0 {
		c.InitialLearningRate = DefaultLearningRate
	}
	c.InitialMomentum = ptr.To(ptr.Deref(c.InitialMomentum, DefaultMomentum))
	c.Beta1 = ptr.To(ptr.Deref(c.Beta1, DefaultBeta1))
	if c.Beta2 == 0 {
		c.Beta2 = DefaultBeta2
	}
	if c.Epsilon == 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.ObjectiveType == "" {
		c.ObjectiveType = Minimize
	}
	c.ObjectiveType = ObjectiveType(strings.ToLower(string(c.ObjectiveType)))

	c.InitialParameters = append([]float64(nil), c.InitialParameters...)
	c.SecondaryMethods = append([]string(nil), c.SecondaryMethods...)
	if c.HybridConfig != nil {
		hc := *c.HybridConfig
		hc.Weights = copyWeights(hc.Weights)
		c.HybridConfig = &hc
	}
	if c.MethodOptions != nil {
		opts := make(map[string]any, len(c.MethodOptions))
		for k, v := range c.MethodOptions {
			opts[k] = v
		}
		c.MethodOptions = opts
	}
	return c
}

// Validate checks structural shape only.
func (c Config) Validate() error {
	if c.Objective == nil {
		return NewError(KindInvalidConfig, "objective function is required")
	}
	if len(c.InitialParameters) == 0 {
		return NewError(KindInvalidConfig, "initial parameters must not be empty")
	}
	switch c.ObjectiveType {
	case "", Minimize, Maximize:
	default:
		return NewErrorf(KindInvalidConfig, "unknown objective type %q", c.ObjectiveType)
	}
	if c.Constraints != nil {
		for i, b := range c.Constraints.Bounds {
			if b[0] > b[1] {
				return NewErrorf(KindInvalidConfig, "bound %d has lower %v above upper %v", i, b[0], b[1])
			}
		}
	}
	return nil
}

// Maximizing reports whether the objective is maximized.
func (c Config) Maximizing() bool {
	return c.ObjectiveType == Maximize
}

// FloatOption reads a numeric method option, accepting the integer types
// produced by YAML and JSON decoders.
func (c Config) FloatOption(key string, def float64) float64 {
	switch v := c.MethodOptions[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// IntOption reads an integer method option.
func (c Config) IntOption(key string, def int) int {
	switch v := c.MethodOptions[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringOption reads a string method option.
func (c Config) StringOption(key, def string) string {
	if v, ok := c.MethodOptions[key].(string); ok {
		return v
	}
	return def
}

func copyWeights(w map[string]float64) map[string]float64 {
	if w == nil {
		return nil
	}
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
