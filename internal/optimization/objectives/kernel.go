package objectives

import (
	"fmt"
	"math"
)

// Kernel is a stationary similarity function. Wells built from kernels are
// smooth non-convex test objectives whose gradient vanishes far from the
// center.
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Grad writes the gradient of Eval with respect to x1 into grad
	Grad(grad, x1, x2 []float64)
}

// shape is the width and depth shared by the stationary kernels.
type shape struct {
	// Length scale parameter (larger = wider well)
	lengthScale float64
	// Signal variance (the depth of the well)
	signalVar float64
}

func newShape(lengthScale, signalVar float64) (shape, error) {
	if lengthScale <= 0 || signalVar <= 0 {
		return shape{}, fmt.Errorf("kernel length scale and variance must be positive, got %v and %v", lengthScale, signalVar)
	}
	return shape{lengthScale: lengthScale, signalVar: signalVar}, nil
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	shape
}

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	s, err := newShape(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{shape: s}, nil
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r2 := sqDist(x1, x2) / (2.0 * k.lengthScale * k.lengthScale)
	return k.signalVar * math.Exp(-r2)
}

// Grad implements Kernel.
func (k *RBFKernel) Grad(grad, x1, x2 []float64) {
	scale := -k.Eval(x1, x2) / (k.lengthScale * k.lengthScale)
	for i := range x1 {
		grad[i] = scale * (x1[i] - x2[i])
	}
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	shape
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given parameters
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	s, err := newShape(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{shape: s}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(sqDist(x1, x2)) / k.lengthScale
	polyTerm := 1.0 + math.Sqrt(5)*r + (5.0/3.0)*r*r
	expTerm := math.Exp(-math.Sqrt(5) * r)
	return k.signalVar * polyTerm * expTerm
}

// Grad implements Kernel. The derivative is finite at r = 0, so no special
// case is needed there.
func (k *Matern52Kernel) Grad(grad, x1, x2 []float64) {
	r := math.Sqrt(sqDist(x1, x2)) / k.lengthScale
	scale := -(5.0 / 3.0) * k.signalVar * (1 + math.Sqrt(5)*r) * math.Exp(-math.Sqrt(5)*r) /
		(k.lengthScale * k.lengthScale)
	for i := range x1 {
		grad[i] = scale * (x1[i] - x2[i])
	}
}

// Well is the negated kernel centered at Center, with minimum −signalVar at
// the center.
type Well struct {
	Kernel Kernel
	Center []float64
}

// Func implements Function.
func (w Well) Func(x []float64) float64 {
	return -w.Kernel.Eval(x, w.Center)
}

// Grad implements Function.
func (w Well) Grad(grad, x []float64) {
	w.Kernel.Grad(grad, x, w.Center)
	for i := range grad {
		grad[i] = -grad[i]
	}
}

func wellBuilder(newKernel func(lengthScale, depth float64) (Kernel, error)) func(int, Options) (Problem, error) {
	return func(n int, o Options) (Problem, error) {
		ls, depth := o.LengthScale, o.Scale
		if ls == 0 {
			ls = 1
		}
		if depth == 0 {
			depth = 1
		}
		k, err := newKernel(ls, depth)
		if err != nil {
			return Problem{}, err
		}
		center := o.Target
		if center == nil {
			center = make([]float64, n)
		}
		// Start half a length scale away so the gradient is well above
		// typical tolerances.
		start := clone(center)
		for i := range start {
			start[i] += 0.5 * ls
		}
		return Problem{Function: Well{Kernel: k, Center: clone(center)}, Start: start, Minimum: clone(center)}, nil
	}
}

func sqDist(x1, x2 []float64) float64 {
	sumSq := 0.0
	for i := range x1 {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return sumSq
}
