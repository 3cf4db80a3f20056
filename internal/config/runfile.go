package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/errors"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/engine"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/objectives"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/regularization"
	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization/scheduler"
)

// RunFile is a batch of optimization runs.
//
//	runs:
//	  - name: rosen
//	    objective: rosenbrock
//	    method: bfgs
//	    options: {lineSearch: backtracking}
type RunFile struct {
	Runs []RunSpec `yaml:"runs" json:"runs"`
}

// RunSpec describes one optimization run against a named objective. It is
// the request body of the HTTP API as well as an entry of a run file.
// Zero values take the engine defaults.
type RunSpec struct {
	Name             string             `yaml:"name,omitempty" json:"name,omitempty"`
	Objective        string             `yaml:"objective" json:"objective"`
	ObjectiveOptions objectives.Options `yaml:"objectiveOptions,omitempty" json:"objectiveOptions,omitempty"`
	ObjectiveType    string             `yaml:"objectiveType,omitempty" json:"objectiveType,omitempty"`

	Method           string                     `yaml:"method,omitempty" json:"method,omitempty"`
	SecondaryMethods []string                   `yaml:"secondaryMethods,omitempty" json:"secondaryMethods,omitempty"`
	Hybrid           *optimization.HybridConfig `yaml:"hybrid,omitempty" json:"hybrid,omitempty"`

	// InitialParameters overrides the objective's conventional start.
	InitialParameters []float64 `yaml:"initialParameters,omitempty" json:"initialParameters,omitempty"`

	MaxIterations int      `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	Tolerance     float64  `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	LearningRate  float64  `yaml:"learningRate,omitempty" json:"learningRate,omitempty"`
	Momentum      *float64 `yaml:"momentum,omitempty" json:"momentum,omitempty"`
	Beta1         *float64 `yaml:"beta1,omitempty" json:"beta1,omitempty"`
	Beta2         float64  `yaml:"beta2,omitempty" json:"beta2,omitempty"`
	Epsilon       float64  `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
	WeightDecay   float64  `yaml:"weightDecay,omitempty" json:"weightDecay,omitempty"`

	Scheduler       string           `yaml:"scheduler,omitempty" json:"scheduler,omitempty"`
	SchedulerConfig scheduler.Config `yaml:"schedulerConfig,omitempty" json:"schedulerConfig,omitempty"`

	Regularization       string                `yaml:"regularization,omitempty" json:"regularization,omitempty"`
	RegularizationConfig regularization.Config `yaml:"regularizationConfig,omitempty" json:"regularizationConfig,omitempty"`
	ApplyRegularization  bool                  `yaml:"applyRegularization,omitempty" json:"applyRegularization,omitempty"`

	// Bounds holds one [lower, upper] pair per parameter.
	Bounds [][]float64 `yaml:"bounds,omitempty" json:"bounds,omitempty"`
	// Options are method options such as lineSearch or historySize.
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

func invalid(op, format string, args ...interface{}) error {
	return errors.Errorf(format, args...).WithOperation(op).WithComponent("config")
}

// Validate checks the fields that can be checked without resolving the
// objective.
func (s *RunSpec) Validate() error {
	if strings.TrimSpace(s.Objective) == "" {
		return invalid("validate", "run %q: objective is required", s.Name)
	}
	switch optimization.ObjectiveType(strings.ToLower(s.ObjectiveType)) {
	case "", optimization.Minimize, optimization.Maximize:
	default:
		return invalid("validate", "run %q: objectiveType must be minimize or maximize, got %q", s.Name, s.ObjectiveType)
	}
	if s.MaxIterations < 0 {
		return invalid("validate", "run %q: maxIterations must not be negative", s.Name)
	}
	for i, b := range s.Bounds {
		if len(b) != 2 {
			return invalid("validate", "run %q: bound %d needs [lower, upper], got %d values", s.Name, i, len(b))
		}
		if b[0] > b[1] {
			return invalid("validate", "run %q: bound %d has lower %v above upper %v", s.Name, i, b[0], b[1])
		}
	}
	if s.Hybrid != nil {
		for m, w := range s.Hybrid.Weights {
			if w < 0 {
				return invalid("validate", "run %q: hybrid weight for %s is negative", s.Name, m)
			}
		}
	}
	return nil
}

// Build resolves the objective and returns the engine configuration.
func (s *RunSpec) Build() (optimization.Config, error) {
	if err := s.Validate(); err != nil {
		return optimization.Config{}, err
	}

	opts := s.ObjectiveOptions
	if opts.Dimension == 0 && len(opts.Target) == 0 && len(s.InitialParameters) > 0 {
		opts.Dimension = len(s.InitialParameters)
	}
	problem, err := objectives.Lookup(s.Objective, opts)
	if err != nil {
		return optimization.Config{}, errors.Wrapf(err, "run %q", s.Name).WithOperation("build").WithComponent("config")
	}

	initial := problem.Start
	if len(s.InitialParameters) > 0 {
		if len(s.InitialParameters) != len(problem.Start) {
			return optimization.Config{}, invalid("build", "run %q: %d initial parameters for a %d-dimensional objective",
				s.Name, len(s.InitialParameters), len(problem.Start))
		}
		initial = s.InitialParameters
	}

	cfg := optimization.Config{
		PrimaryMethod:               strings.ToLower(s.Method),
		ObjectiveType:               optimization.ObjectiveType(strings.ToLower(s.ObjectiveType)),
		Objective:                   problem.Objective(),
		InitialParameters:           append([]float64(nil), initial...),
		MaxIterations:               s.MaxIterations,
		Tolerance:                   s.Tolerance,
		InitialLearningRate:         s.LearningRate,
		InitialMomentum:             s.Momentum,
		Beta1:                       s.Beta1,
		Beta2:                       s.Beta2,
		Epsilon:                     s.Epsilon,
		WeightDecay:                 s.WeightDecay,
		LearningRateScheduler:       s.Scheduler,
		LearningRateSchedulerConfig: s.SchedulerConfig,
		Regularization:              s.Regularization,
		RegularizationConfig:        s.RegularizationConfig,
		ApplyRegularization:         s.ApplyRegularization,
		MethodOptions:               s.Options,
	}
	if len(s.Bounds) > 0 {
		c := &optimization.Constraints{Bounds: make([][2]float64, len(s.Bounds))}
		for i, b := range s.Bounds {
			c.Bounds[i] = [2]float64{b[0], b[1]}
		}
		cfg.Constraints = c
	}
	return cfg, nil
}

// IsHybrid reports whether the run asks for a hybrid strategy.
func (s *RunSpec) IsHybrid() bool {
	return s.Hybrid != nil || len(s.SecondaryMethods) > 0
}

// Submit creates a context for the run on eng and records its hybrid
// strategy. The context is removed again if the strategy is rejected.
func (s *RunSpec) Submit(eng *engine.Engine) (string, error) {
	cfg, err := s.Build()
	if err != nil {
		return "", err
	}
	id, err := eng.Create(cfg)
	if err != nil {
		return "", err
	}
	if !s.IsHybrid() {
		return id, nil
	}

	var hc optimization.HybridConfig
	if s.Hybrid != nil {
		hc = *s.Hybrid
	}
	if err := eng.CreateHybridStrategy(id, "", s.SecondaryMethods, hc); err != nil {
		_ = eng.Delete(id)
		return "", err
	}
	return id, nil
}

// Validate checks every run and fills missing names with run-N.
func (f *RunFile) Validate() error {
	if len(f.Runs) == 0 {
		return invalid("validate", "run file has no runs")
	}
	seen := make(map[string]bool, len(f.Runs))
	for i := range f.Runs {
		r := &f.Runs[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("run-%d", i+1)
		}
		if seen[r.Name] {
			return invalid("validate", "duplicate run name %q", r.Name)
		}
		seen[r.Name] = true
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseRunFile decodes and validates a YAML run file. Unknown keys are
// rejected.
func ParseRunFile(r io.Reader) (*RunFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f RunFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, invalid("parse", "run file is empty")
		}
		return nil, errors.Wrap(err, "decode run file").WithOperation("parse").WithComponent("config")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadRunFile reads a YAML run file from path.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read run file %s", path).WithOperation("load").WithComponent("config")
	}
	return ParseRunFile(bytes.NewReader(data))
}
