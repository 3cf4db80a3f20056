package secondorder

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

// curvatureTolerance is the smallest s·y accepted by the quasi-Newton
// updates; smaller pairs are skipped to keep the approximation positive
// definite.
const curvatureTolerance = 1e-10

// direction produces the search direction of one second-order method. It
// owns the method's caches for the run.
type direction interface {
	// compute returns the search direction at x with gradient g.
	compute(x, g []float64) ([]float64, error)
	// reset discards accumulated curvature after the loop replaced the
	// direction with steepest descent.
	reset()
	// release hands workspace matrices back once the direction is retired.
	release()
}

func newDirection(method optimization.Method, run *optimization.Run, ws *Workspace) direction {
	n := ws.Dim()
	switch method {
	case optimization.MethodNewton:
		return &newton{run: run, ws: ws}
	case optimization.MethodLBFGS:
		m := run.Config.IntOption("historySize", defaultHistorySize)
		if m <= 0 {
			m = defaultHistorySize
		}
		return newLBFGS(n, m)
	case optimization.MethodCG:
		return &conjugateGradient{n: n}
	default:
		return newBFGS(ws)
	}
}

func steepest(g []float64) []float64 {
	d := make([]float64, len(g))
	floats.ScaleTo(d, -1, g)
	return d
}

// newton steps along −H⁻¹g with a finite-difference Hessian.
type newton struct {
	run *optimization.Run
	ws  *Workspace
}

func (nt *newton) compute(x, g []float64) ([]float64, error) {
	n := len(x)
	hess := nt.ws.Dense(n, n)
	defer nt.ws.PutDense(hess)
	if err := finiteDifferenceHessian(hess, nt.run, x, hessianStep); err != nil {
		return nil, err
	}

	inv := nt.ws.Dense(n, n)
	defer nt.ws.PutDense(inv)
	if err := Invert(inv, hess, nt.ws); err != nil {
		return nil, err
	}

	d := mat.NewVecDense(n, nil)
	d.MulVec(inv, mat.NewVecDense(n, g))
	d.ScaleVec(-1, d)
	return d.RawVector().Data, nil
}

func (nt *newton) reset()   {}
func (nt *newton) release() {}

// bfgs keeps a dense inverse-Hessian approximation.
type bfgs struct {
	ws       *Workspace
	inv      *mat.SymDense
	prevX    []float64
	prevG    []float64
	hasPrev  bool
	s, y, hy *mat.VecDense
}

func newBFGS(ws *Workspace) *bfgs {
	b := &bfgs{
		ws:  ws,
		inv: ws.SymDense(),
		s:   ws.VecDense(),
		y:   ws.VecDense(),
		hy:  ws.VecDense(),
	}
	b.reset()
	return b
}

func (b *bfgs) compute(x, g []float64) ([]float64, error) {
	n := len(x)
	if !b.hasPrev {
		b.remember(x, g)
		return steepest(g), nil
	}

	s, y := b.s.RawVector().Data, b.y.RawVector().Data
	floats.SubTo(s, x, b.prevX)
	floats.SubTo(y, g, b.prevG)
	sy := floats.Dot(s, y)

	if sy > curvatureTolerance {
		// H ← (I − ρsyᵀ) H (I − ρysᵀ) + ρssᵀ
		//   = H + (ρ + ρ²·yᵀHy) ssᵀ − ρ(Hy sᵀ + s (Hy)ᵀ)
		rho := 1 / sy
		b.hy.MulVec(b.inv, b.y)
		yhy := floats.Dot(y, b.hy.RawVector().Data)
		b.inv.SymRankOne(b.inv, rho+rho*rho*yhy, b.s)
		b.inv.RankTwo(b.inv, -rho, b.hy, b.s)
	}
	b.remember(x, g)

	d := mat.NewVecDense(n, nil)
	d.MulVec(b.inv, mat.NewVecDense(n, g))
	d.ScaleVec(-1, d)
	return d.RawVector().Data, nil
}

func (b *bfgs) remember(x, g []float64) {
	b.prevX = append(b.prevX[:0], x...)
	b.prevG = append(b.prevG[:0], g...)
	b.hasPrev = true
}

func (b *bfgs) reset() {
	b.inv.Zero()
	for i := 0; i < b.ws.Dim(); i++ {
		b.inv.SetSym(i, i, 1)
	}
}

func (b *bfgs) release() {
	if b.inv == nil {
		return
	}
	b.ws.PutSymDense(b.inv)
	b.ws.PutVecDense(b.s)
	b.ws.PutVecDense(b.y)
	b.ws.PutVecDense(b.hy)
	b.inv, b.s, b.y, b.hy = nil, nil, nil, nil
	b.hasPrev = false
}

const defaultHistorySize = 10

// lbfgs keeps the last m (s, y) pairs in a ring buffer.
type lbfgs struct {
	m     int
	s, y  [][]float64
	rho   []float64
	alpha []float64
	head  int // index of the oldest pair
	count int
	ts    []float64
	ty    []float64

	prevX, prevG []float64
	hasPrev      bool
}

func newLBFGS(n, m int) *lbfgs {
	l := &lbfgs{
		m:     m,
		s:     make([][]float64, m),
		y:     make([][]float64, m),
		rho:   make([]float64, m),
		alpha: make([]float64, m),
		ts:    make([]float64, n),
		ty:    make([]float64, n),
	}
	for i := 0; i < m; i++ {
		l.s[i] = make([]float64, n)
		l.y[i] = make([]float64, n)
	}
	return l
}

func (l *lbfgs) compute(x, g []float64) ([]float64, error) {
	if l.hasPrev {
		floats.SubTo(l.ts, x, l.prevX)
		floats.SubTo(l.ty, g, l.prevG)
		if sy := floats.Dot(l.ts, l.ty); sy > curvatureTolerance {
			slot := (l.head + l.count) % l.m
			if l.count == l.m {
				// Overwrite the oldest pair.
				slot = l.head
				l.head = (l.head + 1) % l.m
			} else {
				l.count++
			}
			copy(l.s[slot], l.ts)
			copy(l.y[slot], l.ty)
			l.rho[slot] = 1 / sy
		}
	}
	l.prevX = append(l.prevX[:0], x...)
	l.prevG = append(l.prevG[:0], g...)
	l.hasPrev = true

	d := append([]float64(nil), g...)
	if l.count == 0 {
		floats.Scale(-1, d)
		return d, nil
	}

	// Two-loop recursion, newest pair first.
	for k := l.count - 1; k >= 0; k-- {
		i := (l.head + k) % l.m
		l.alpha[i] = l.rho[i] * floats.Dot(l.s[i], d)
		floats.AddScaled(d, -l.alpha[i], l.y[i])
	}

	newest := (l.head + l.count - 1) % l.m
	gamma := floats.Dot(l.s[newest], l.y[newest]) / floats.Dot(l.y[newest], l.y[newest])
	floats.Scale(gamma, d)

	for k := 0; k < l.count; k++ {
		i := (l.head + k) % l.m
		beta := l.rho[i] * floats.Dot(l.y[i], d)
		floats.AddScaled(d, l.alpha[i]-beta, l.s[i])
	}

	floats.Scale(-1, d)
	return d, nil
}

func (l *lbfgs) reset() {
	l.head, l.count = 0, 0
}

func (l *lbfgs) release() {}

// conjugateGradient is Fletcher–Reeves CG restarted every n iterations.
type conjugateGradient struct {
	n     int
	k     int
	prevG []float64
	prevD []float64
}

func (cg *conjugateGradient) compute(_, g []float64) ([]float64, error) {
	var d []float64
	if cg.k%cg.n == 0 || cg.prevG == nil {
		d = steepest(g)
	} else {
		beta := floats.Dot(g, g) / floats.Dot(cg.prevG, cg.prevG)
		d = steepest(g)
		floats.AddScaled(d, beta, cg.prevD)
	}
	cg.k++
	cg.prevG = append(cg.prevG[:0], g...)
	cg.prevD = append(cg.prevD[:0], d...)
	return d, nil
}

func (cg *conjugateGradient) reset() {
	cg.k = 0
}

func (cg *conjugateGradient) release() {}
