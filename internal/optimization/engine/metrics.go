package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// Metrics summarize the recorded steps of a context. ConvergenceRate is
// (firstLoss - lastLoss) / steps; ConvergenceSteadiness is the population
// standard deviation of consecutive loss differences over the retained
// steps.
type Metrics struct {
	ConvergenceRate       float64             `json:"convergenceRate" yaml:"convergenceRate"`
	ConvergenceSteadiness float64             `json:"convergenceSteadiness" yaml:"convergenceSteadiness"`
	BestLoss              float64             `json:"bestLoss" yaml:"bestLoss"`
	LastGradientNorm      float64             `json:"lastGradientNorm" yaml:"lastGradientNorm"`
	Steps                 int                 `json:"steps" yaml:"steps"`
	Status                optimization.Status `json:"status" yaml:"status"`
}

// Metrics computes convergence metrics over the steps recorded so far.
// It may be called while the context is running.
func (e *Engine) Metrics(id string) (Metrics, error) {
	e.mu.RLock()
	ent, ok := e.entries[id]
	if !ok {
		e.mu.RUnlock()
		return Metrics{}, notFound(id, "metrics")
	}
	losses := make([]float64, len(ent.ctx.Steps))
	for i, s := range ent.ctx.Steps {
		losses[i] = s.Loss
	}
	m := Metrics{Steps: len(losses), Status: ent.ctx.Status}
	if n := len(ent.ctx.Steps); n > 0 {
		m.LastGradientNorm = ent.ctx.Steps[n-1].GradientNorm
	}
	recorded, first, best := ent.recorded, ent.firstLoss, ent.bestLoss
	e.mu.RUnlock()

	computeMetrics(&m, losses)

	// Trimmed logs keep the whole run's first and best loss.
	if n := len(losses); recorded > n && n > 0 {
		m.Steps = recorded
		m.ConvergenceRate = (first - losses[n-1]) / float64(recorded)
		m.BestLoss = best
	}
	return m, nil
}

func computeMetrics(m *Metrics, losses []float64) {
	n := len(losses)
	if n == 0 {
		return
	}

	m.BestLoss = math.Inf(1)
	for _, l := range losses {
		m.BestLoss = math.Min(m.BestLoss, l)
	}

	if n >= 2 {
		m.ConvergenceRate = (losses[0] - losses[n-1]) / float64(n)
	}
	if n >= 3 {
		diffs := make([]float64, n-1)
		for i := range diffs {
			diffs[i] = losses[i+1] - losses[i]
		}
		_, m.ConvergenceSteadiness = stat.PopMeanStdDev(diffs, nil)
	}
}
