// Package scheduler implements the learning-rate scheduler family.
//
// A scheduler is attached to one optimization context and produces the
// learning rate for each iteration. Kinds:
//
//	step               lr0 · γ^⌊iter/stepSize⌋
//	exponential        lr0 · γ^iter
//	cosine             ηmin + (lr0−ηmin) · ½(1 + cos(π·t/T)), t = iter mod T with restarts
//	reduce_on_plateau  lr · factor once the patience counter exceeds patience, floored at minLR
//	one_cycle          lr0 → maxLR → lr0 over one cycle, then linear decay to lr0/finalDivFactor
//	custom             caller-supplied function of the scheduler state
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind names a scheduler variant.
type Kind string

const (
	Step            Kind = "step"
	Exponential     Kind = "exponential"
	Cosine          Kind = "cosine"
	ReduceOnPlateau Kind = "reduce_on_plateau"
	OneCycle        Kind = "one_cycle"
	Custom          Kind = "custom"
)

// ErrUnknownKind is returned by New for unrecognized scheduler names.
var ErrUnknownKind = errors.New("scheduler: unknown kind")

// Config holds the hyperparameters of every scheduler kind. Fields that do
// not apply to the selected kind are ignored; zero values take defaults.
type Config struct {
	StepSize        int     `yaml:"stepSize,omitempty" json:"stepSize,omitempty"`
	Gamma           float64 `yaml:"gamma,omitempty" json:"gamma,omitempty"`
	TMax            int     `yaml:"tMax,omitempty" json:"tMax,omitempty"`
	EtaMin          float64 `yaml:"etaMin,omitempty" json:"etaMin,omitempty"`
	Restarts        bool    `yaml:"restarts,omitempty" json:"restarts,omitempty"`
	Patience        int     `yaml:"patience,omitempty" json:"patience,omitempty"`
	Factor          float64 `yaml:"factor,omitempty" json:"factor,omitempty"`
	MinLR           float64 `yaml:"minLR,omitempty" json:"minLR,omitempty"`
	Threshold       float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	MaxLR           float64 `yaml:"maxLR,omitempty" json:"maxLR,omitempty"`
	CycleLength     int     `yaml:"cycleLength,omitempty" json:"cycleLength,omitempty"`
	FinalDivFactor  float64 `yaml:"finalDivFactor,omitempty" json:"finalDivFactor,omitempty"`
	TotalIterations int     `yaml:"totalIterations,omitempty" json:"totalIterations,omitempty"`

	// Func computes the rate for the custom kind.
	Func func(State) float64 `yaml:"-" json:"-"`
}

// Metrics carries optional per-iteration observations.
type Metrics struct {
	Loss float64
}

// State is the scheduler attached to one context. It is not safe for
// concurrent use; the engine serializes access per context.
type State struct {
	Kind            Kind
	InitialRate     float64
	CurrentRate     float64
	Iteration       int
	Epoch           int
	LossHistory     []float64
	BestLoss        float64
	PatienceCounter int

	cfg Config
}

// ParseKind resolves a scheduler name, accepting a few common aliases.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "step", "step_lr":
		return Step, true
	case "exponential", "exp":
		return Exponential, true
	case "cosine", "cosine_annealing":
		return Cosine, true
	case "reduce_on_plateau", "plateau":
		return ReduceOnPlateau, true
	case "one_cycle", "onecycle":
		return OneCycle, true
	case "custom":
		return Custom, true
	}
	return "", false
}

// New creates a scheduler of the named kind starting at lr0.
func New(kind string, lr0 float64, cfg Config) (*State, error) {
	k, ok := ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if lr0 <= 0 {
		return nil, fmt.Errorf("scheduler: initial learning rate must be positive, got %v", lr0)
	}
	if k == Custom && cfg.Func == nil {
		return nil, errors.New("scheduler: custom kind requires Func")
	}

	cfg = withDefaults(k, lr0, cfg)

	return &State{
		Kind:        k,
		InitialRate: lr0,
		CurrentRate: lr0,
		BestLoss:    math.Inf(1),
		cfg:         cfg,
	}, nil
}

func withDefaults(k Kind, lr0 float64, cfg Config) Config {
	if cfg.TotalIterations <= 0 {
		cfg.TotalIterations = 100
	}
	if cfg.StepSize <= 0 {
		cfg.StepSize = 30
	}
	if cfg.Gamma <= 0 {
		if k == Exponential {
			cfg.Gamma = 0.95
		} else {
			cfg.Gamma = 0.1
		}
	}
	if cfg.TMax <= 0 {
		cfg.TMax = cfg.TotalIterations
	}
	if cfg.Patience <= 0 {
		cfg.Patience = 10
	}
	if cfg.Factor <= 0 || cfg.Factor >= 1 {
		cfg.Factor = 0.1
	}
	if cfg.MaxLR <= 0 {
		cfg.MaxLR = 10 * lr0
	}
	if cfg.CycleLength <= 0 {
		cfg.CycleLength = int(0.9 * float64(cfg.TotalIterations))
		if cfg.CycleLength < 2 {
			cfg.CycleLength = 2
		}
	}
	if cfg.FinalDivFactor <= 0 {
		cfg.FinalDivFactor = 1e4
	}
	return cfg
}

// Config returns the effective configuration after defaults.
func (s *State) Config() Config {
	return s.cfg
}

// Update advances the scheduler to iteration and returns the rate to use.
// When m is non-nil its loss is appended to the history and the
// best-loss/patience bookkeeping is updated.
func (s *State) Update(iteration int, epoch *int, m *Metrics) float64 {
	s.Iteration = iteration
	if epoch != nil {
		s.Epoch = *epoch
	}
	if m != nil {
		s.observe(m.Loss)
	}

	switch s.Kind {
	case ReduceOnPlateau:
		if s.PatienceCounter > s.cfg.Patience {
			s.CurrentRate = math.Max(s.CurrentRate*s.cfg.Factor, s.cfg.MinLR)
			s.PatienceCounter = 0
		}
	case Custom:
		s.CurrentRate = s.cfg.Func(*s)
	default:
		s.CurrentRate = s.RateAt(iteration)
	}
	return s.CurrentRate
}

// observe records a loss and updates the plateau counter.
func (s *State) observe(loss float64) {
	s.LossHistory = append(s.LossHistory, loss)
	if loss < s.BestLoss-s.cfg.Threshold {
		s.BestLoss = loss
		s.PatienceCounter = 0
		return
	}
	s.PatienceCounter++
}

// RateAt evaluates the closed-form schedule at iter. Stateful kinds
// (reduce_on_plateau, custom) return the current rate.
func (s *State) RateAt(iter int) float64 {
	lr0 := s.InitialRate
	c := s.cfg
	switch s.Kind {
	case Step:
		return lr0 * math.Pow(c.Gamma, float64(iter/c.StepSize))
	case Exponential:
		return lr0 * math.Pow(c.Gamma, float64(iter))
	case Cosine:
		t := iter
		if c.Restarts {
			t = iter % c.TMax
		}
		return c.EtaMin + (lr0-c.EtaMin)*0.5*(1+math.Cos(math.Pi*float64(t)/float64(c.TMax)))
	case OneCycle:
		return oneCycle(lr0, c, iter)
	default:
		return s.CurrentRate
	}
}

func oneCycle(lr0 float64, c Config, iter int) float64 {
	half := float64(c.CycleLength) / 2
	it := float64(iter)
	switch {
	case it < half:
		return lr0 + (c.MaxLR-lr0)*it/half
	case iter < c.CycleLength:
		return c.MaxLR - (c.MaxLR-lr0)*(it-half)/half
	}

	final := lr0 / c.FinalDivFactor
	remaining := c.TotalIterations - c.CycleLength
	if remaining <= 0 {
		return final
	}
	frac := math.Min(1, float64(iter-c.CycleLength)/float64(remaining))
	return lr0 + (final-lr0)*frac
}
