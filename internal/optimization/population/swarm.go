package population

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// particle is one member of the swarm with its personal best.
type particle struct {
	pos  []float64
	vel  []float64
	best member
}

// swarm is global-best particle swarm optimization. Each iteration moves
// every particle and evaluates it in turn, so later particles already see
// a global best improved earlier in the same iteration.
type swarm struct {
	*sampler

	particles []particle
	global    member

	inertia   float64
	cognitive float64
	social    float64
	vmax      []float64
}

func newSwarm(s *sampler, x0 []float64) (*swarm, error) {
	cfg := s.run.Config
	size := cfg.IntOption("swarmSize", 30)
	if size < 1 {
		size = 1
	}

	w := &swarm{
		sampler:   s,
		particles: make([]particle, size),
		inertia:   cfg.FloatOption("inertiaWeight", 0.7),
		cognitive: cfg.FloatOption("cognitiveCoef", 1.5),
		social:    cfg.FloatOption("socialCoef", 1.5),
		vmax:      make([]float64, len(x0)),
	}
	for j := range w.vmax {
		w.vmax[j] = 0.1 * (s.box.hi[j] - s.box.lo[j])
	}

	for i := range w.particles {
		p := &w.particles[i]
		p.pos = append([]float64(nil), x0...)
		if i > 0 {
			p.pos = s.uniform()
		}
		p.vel = make([]float64, len(x0))
		for j := range p.vel {
			p.vel[j] = distuv.Uniform{Min: -w.vmax[j], Max: w.vmax[j], Src: s.rng}.Rand()
		}

		m, err := s.eval(append([]float64(nil), p.pos...))
		if err != nil {
			return nil, err
		}
		p.best = m
		if m.better(w.global) {
			w.global = m
		}
	}
	w.survey()
	return w, nil
}

func (w *swarm) best() member {
	return w.global
}

func (w *swarm) advance() error {
	for i := range w.particles {
		p := &w.particles[i]
		w.move(p)

		m, err := w.eval(append([]float64(nil), p.pos...))
		if err != nil {
			return err
		}
		if m.better(p.best) {
			p.best = m
			if m.better(w.global) {
				w.global = m
			}
		}
	}
	w.survey()
	return nil
}

// move updates the velocity and position of p, clamping the velocity to
// a tenth of the box width and the position to the box.
func (w *swarm) move(p *particle) {
	r1, r2 := w.rng.Float64(), w.rng.Float64()
	for j := range p.pos {
		v := w.inertia*p.vel[j] +
			w.cognitive*r1*(p.best.x[j]-p.pos[j]) +
			w.social*r2*(w.global.x[j]-p.pos[j])
		p.vel[j] = math.Max(-w.vmax[j], math.Min(w.vmax[j], v))
		p.pos[j] += p.vel[j]
	}
	w.box.project(p.pos)
}

func (w *swarm) survey() {
	losses := make([]float64, len(w.particles))
	for i, p := range w.particles {
		losses[i] = p.best.ev.Loss
	}
	w.diversity(losses)
}
