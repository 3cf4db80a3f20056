package secondorder

import "gonum.org/v1/gonum/mat"

// Workspace hands out scratch matrices for a single run. Matrices returned
// with Put are reused by later Get calls of the same shape. A Workspace is
// not safe for concurrent use and must not outlive its run.
type Workspace struct {
	n int

	symPool   []*mat.SymDense
	densePool []*mat.Dense
	vecPool   []*mat.VecDense

	allocated int
}

// NewWorkspace creates a workspace for an n-dimensional problem.
func NewWorkspace(n int) *Workspace {
	return &Workspace{
		n:         n,
		symPool:   make([]*mat.SymDense, 0, 2),
		densePool: make([]*mat.Dense, 0, 4),
		vecPool:   make([]*mat.VecDense, 0, 4),
	}
}

// Dim returns the problem dimension.
func (w *Workspace) Dim() int {
	return w.n
}

// Allocated reports how many matrices the workspace has created.
func (w *Workspace) Allocated() int {
	return w.allocated
}

// SymDense returns a zeroed n×n symmetric matrix.
func (w *Workspace) SymDense() *mat.SymDense {
	if k := len(w.symPool); k > 0 {
		m := w.symPool[k-1]
		w.symPool = w.symPool[:k-1]
		m.Zero()
		return m
	}
	w.allocated++
	return mat.NewSymDense(w.n, nil)
}

// PutSymDense returns m to the pool.
func (w *Workspace) PutSymDense(m *mat.SymDense) {
	if m == nil || m.SymmetricDim() != w.n {
		return
	}
	w.symPool = append(w.symPool, m)
}

// Dense returns a zeroed r×c matrix.
func (w *Workspace) Dense(r, c int) *mat.Dense {
	for i := len(w.densePool) - 1; i >= 0; i-- {
		m := w.densePool[i]
		if mr, mc := m.Dims(); mr == r && mc == c {
			w.densePool = append(w.densePool[:i], w.densePool[i+1:]...)
			m.Zero()
			return m
		}
	}
	w.allocated++
	return mat.NewDense(r, c, nil)
}

// PutDense returns m to the pool.
func (w *Workspace) PutDense(m *mat.Dense) {
	if m == nil {
		return
	}
	w.densePool = append(w.densePool, m)
}

// VecDense returns a zeroed vector of length n.
func (w *Workspace) VecDense() *mat.VecDense {
	if k := len(w.vecPool); k > 0 {
		v := w.vecPool[k-1]
		w.vecPool = w.vecPool[:k-1]
		v.Zero()
		return v
	}
	w.allocated++
	return mat.NewVecDense(w.n, nil)
}

// PutVecDense returns v to the pool.
func (w *Workspace) PutVecDense(v *mat.VecDense) {
	if v == nil || v.Len() != w.n {
		return
	}
	w.vecPool = append(w.vecPool, v)
}

// Release drops every pooled matrix.
func (w *Workspace) Release() {
	w.symPool = nil
	w.densePool = nil
	w.vecPool = nil
}

// pooled reports how many matrices are waiting for reuse.
func (w *Workspace) pooled() int {
	return len(w.symPool) + len(w.densePool) + len(w.vecPool)
}
