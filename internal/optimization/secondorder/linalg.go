package secondorder

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

const (
	// pivotTolerance is the smallest pivot magnitude accepted by Invert.
	pivotTolerance = 1e-10
	// hessianStep is the finite-difference step for Newton's Hessian.
	hessianStep = 1e-5
)

// Invert computes the inverse of the square matrix a into dst by
// Gauss-Jordan elimination with partial pivoting. It fails with a
// SingularMatrix error when a pivot falls below pivotTolerance in magnitude.
// a is not modified; dst must be n×n.
func Invert(dst *mat.Dense, a mat.Matrix, ws *Workspace) error {
	n, c := a.Dims()
	if n != c {
		return optimization.NewErrorf(optimization.KindInvalidConfig, "cannot invert %dx%d matrix", n, c)
	}

	aug := ws.Dense(n, 2*n)
	defer ws.PutDense(aug)
	for i := 0; i < n; i++ {
		row := aug.RawRowView(i)
		for j := 0; j < n; j++ {
			row[j] = a.At(i, j)
		}
		row[n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		best := math.Abs(aug.At(col, col))
		for r := col + 1; r < n; r++ {
			if v := math.Abs(aug.At(r, col)); v > best {
				pivot, best = r, v
			}
		}
		if best < pivotTolerance {
			return optimization.NewErrorf(optimization.KindSingularMatrix,
				"pivot %.3g in column %d is below %g", best, col, pivotTolerance)
		}

		if pivot != col {
			pr, cr := aug.RawRowView(pivot), aug.RawRowView(col)
			for j := range pr {
				pr[j], cr[j] = cr[j], pr[j]
			}
		}

		prow := aug.RawRowView(col)
		inv := 1 / prow[col]
		for j := range prow {
			prow[j] *= inv
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			row := aug.RawRowView(r)
			f := row[col]
			if f == 0 {
				continue
			}
			for j := range row {
				row[j] -= f * prow[j]
			}
		}
	}

	dst.Copy(aug.Slice(0, n, n, 2*n))
	return nil
}

// finiteDifferenceHessian fills dst with the symmetrized central-difference
// Hessian of the run's loss at x. It costs 2n gradient evaluations.
func finiteDifferenceHessian(dst *mat.Dense, run *optimization.Run, x []float64, h float64) error {
	n := len(x)
	xh := append([]float64(nil), x...)

	for i := 0; i < n; i++ {
		xh[i] = x[i] + h
		plus, err := run.Evaluate(xh)
		if err != nil {
			return err
		}
		xh[i] = x[i] - h
		minus, err := run.Evaluate(xh)
		if err != nil {
			return err
		}
		xh[i] = x[i]

		for j := 0; j < n; j++ {
			dst.Set(i, j, (plus.Gradients[j]-minus.Gradients[j])/(2*h))
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			avg := 0.5 * (dst.At(i, j) + dst.At(j, i))
			dst.Set(i, j, avg)
			dst.Set(j, i, avg)
		}
	}
	return nil
}
