package population

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// annealing is simulated annealing with gaussian neighbors and geometric
// cooling. A worse neighbor is accepted with probability exp(−Δ/T).
type annealing struct {
	*sampler

	current member
	top     member

	temp     float64
	cooling  float64
	minTemp  float64
	neighbor distuv.Normal

	proposed, accepted int
}

func newAnnealing(s *sampler, x0 []float64) (*annealing, error) {
	cfg := s.run.Config
	a := &annealing{
		sampler:  s,
		temp:     cfg.FloatOption("initialTemperature", 1),
		cooling:  cfg.FloatOption("coolingRate", 0.95),
		minTemp:  cfg.FloatOption("minTemperature", 1e-6),
		neighbor: distuv.Normal{Mu: 0, Sigma: cfg.FloatOption("neighborScale", 0.1), Src: s.rng},
	}
	if a.temp <= 0 {
		return nil, optimization.NewErrorf(optimization.KindInvalidConfig,
			"initialTemperature must be positive, got %v", a.temp).WithComponent("population")
	}
	if a.cooling <= 0 || a.cooling >= 1 {
		return nil, optimization.NewErrorf(optimization.KindInvalidConfig,
			"coolingRate must be in (0, 1), got %v", a.cooling).WithComponent("population")
	}

	m, err := s.eval(append([]float64(nil), x0...))
	if err != nil {
		return nil, err
	}
	a.current, a.top = m, m
	a.survey()
	return a, nil
}

func (a *annealing) best() member {
	return a.top
}

func (a *annealing) cold() bool {
	return a.temp < a.minTemp
}

func (a *annealing) advance() error {
	x := append([]float64(nil), a.current.x...)
	for j := range x {
		x[j] += a.neighbor.Rand()
	}
	a.box.project(x)

	m, err := a.eval(x)
	if err != nil {
		return err
	}

	a.proposed++
	delta := m.ev.Loss - a.current.ev.Loss
	if delta < 0 || a.rng.Float64() < math.Exp(-delta/a.temp) {
		a.accepted++
		a.current = m
		if m.better(a.top) {
			a.top = m
		}
	}
	a.temp *= a.cooling
	a.survey()
	return nil
}

func (a *annealing) survey() {
	scratch := a.run.Params.Scratch
	scratch["temperature"] = a.temp
	if a.proposed > 0 {
		scratch["acceptance_rate"] = float64(a.accepted) / float64(a.proposed)
	}
}
