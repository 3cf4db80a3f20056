package population

import "gonum.org/v1/gonum/stat/distuv"

// genetic is a real-coded genetic algorithm with tournament selection,
// arithmetic crossover, gaussian mutation and single-member elitism.
type genetic struct {
	*sampler

	pop   []member
	elite member

	tournament    int
	crossoverRate float64
	mutationRate  float64
	mutation      distuv.Normal
}

func newGenetic(s *sampler, x0 []float64) (*genetic, error) {
	cfg := s.run.Config
	size := cfg.IntOption("populationSize", 50)
	if size < 2 {
		size = 2
	}
	pressure := cfg.FloatOption("selectionPressure", 2)
	if pressure < 1 {
		pressure = 1
	}

	g := &genetic{
		sampler:       s,
		pop:           make([]member, size),
		tournament:    min(size, max(2, int(float64(size)/pressure))),
		crossoverRate: cfg.FloatOption("crossoverRate", 0.8),
		mutationRate:  cfg.FloatOption("mutationRate", 0.1),
		mutation:      distuv.Normal{Mu: 0, Sigma: cfg.FloatOption("mutationScale", 0.1), Src: s.rng},
	}

	for i := range g.pop {
		x := x0
		if i > 0 {
			x = s.uniform()
		}
		m, err := s.eval(append([]float64(nil), x...))
		if err != nil {
			return nil, err
		}
		g.pop[i] = m
	}
	g.survey()
	return g, nil
}

func (g *genetic) best() member {
	return g.elite
}

func (g *genetic) advance() error {
	n := len(g.pop)
	next := make([][]float64, n)
	for i := range next {
		next[i] = append([]float64(nil), g.pop[g.selectOne()].x...)
	}

	for i := 0; i+1 < n; i += 2 {
		if g.rng.Float64() < g.crossoverRate {
			crossover(next[i], next[i+1], g.rng.Float64())
		}
	}

	for _, x := range next {
		if g.rng.Float64() >= g.mutationRate {
			continue
		}
		for j := range x {
			x[j] += g.mutation.Rand()
		}
		g.box.project(x)
	}

	pop := make([]member, n)
	pop[0] = g.elite
	for i := 1; i < n; i++ {
		m, err := g.eval(next[i])
		if err != nil {
			return err
		}
		pop[i] = m
	}
	g.pop = pop
	g.survey()
	return nil
}

// selectOne runs a tournament without replacement and returns the index of
// the winner.
func (g *genetic) selectOne() int {
	winner := -1
	for _, i := range g.rng.Perm(len(g.pop))[:g.tournament] {
		if winner < 0 || g.pop[i].ev.Loss < g.pop[winner].ev.Loss {
			winner = i
		}
	}
	return winner
}

// survey updates the elite and the population diversity.
func (g *genetic) survey() {
	losses := make([]float64, len(g.pop))
	for i, m := range g.pop {
		losses[i] = m.ev.Loss
		if m.better(g.elite) {
			g.elite = m
		}
	}
	g.diversity(losses)
}

// crossover blends a and b in place: a ← αa + (1−α)b, b ← (1−α)a + αb.
func crossover(a, b []float64, alpha float64) {
	for j := range a {
		x, y := a[j], b[j]
		a[j] = alpha*x + (1-alpha)*y
		b[j] = (1-alpha)*x + alpha*y
	}
}
