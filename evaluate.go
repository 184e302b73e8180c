package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// This file is the evaluator surface consumed by external plotting and
// reporting tools: a coordinate-grid generator, the analytic reference
// solution, and summary error metrics. It is not part of the training core;
// the exact solution is used strictly for post-hoc error reporting.

// ExactSolution evaluates the closed-form solution of the homogeneous
// Dirichlet wave problem with initial shape prod_i sin(pi x_i) and zero
// initial velocity:
//
//	u(x, t) = prod_i sin(pi x_i) * cos(sqrt(D) * pi * c * t)
func ExactSolution(dim int, waveSpeed float64, coords *Tensor) []float64 {
	rows, _ := coords.Dims()
	omega := math.Sqrt(float64(dim)) * math.Pi * waveSpeed
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		v := math.Cos(omega * coords.At(i, dim))
		for axis := 0; axis < dim; axis++ {
			v *= math.Sin(math.Pi * coords.At(i, axis))
		}
		out[i] = v
	}
	return out
}

// GridCoords builds a regular evaluation grid with pointsPerAxis samples on
// each spatial axis, all at the fixed time t. Rows follow row-major order
// over the spatial axes.
func GridCoords(dim, pointsPerAxis int, t float64) *Tensor {
	axis := make([]float64, pointsPerAxis)
	floats.Span(axis, 0, 1)

	rows := 1
	for d := 0; d < dim; d++ {
		rows *= pointsPerAxis
	}
	coords := NewTensor(rows, dim+1)
	for i := 0; i < rows; i++ {
		rem := i
		for d := dim - 1; d >= 0; d-- {
			coords.SetAt(i, d, axis[rem%pointsPerAxis])
			rem /= pointsPerAxis
		}
		coords.SetAt(i, dim, t)
	}
	return coords
}

// EvalReport summarizes model accuracy against the exact solution.
type EvalReport struct {
	Points    int
	Time      float64
	RelL2     float64
	MaxAbsErr float64
}

// EvaluateModel predicts the field over a regular grid at time t and
// compares against the analytic solution.
func EvaluateModel(m FieldModel, dim int, waveSpeed float64, pointsPerAxis int, t float64) EvalReport {
	coords := GridCoords(dim, pointsPerAxis, t)
	pred := m.Forward(coords)
	exact := ExactSolution(dim, waveSpeed, coords)

	rows, _ := coords.Dims()
	var errSq, refSq, maxAbs float64
	for i := 0; i < rows; i++ {
		diff := pred.At(i, 0) - exact[i]
		errSq += diff * diff
		refSq += exact[i] * exact[i]
		if a := math.Abs(diff); a > maxAbs {
			maxAbs = a
		}
	}

	rel := math.Sqrt(errSq)
	if refSq > 0 {
		rel /= math.Sqrt(refSq)
	}
	return EvalReport{Points: rows, Time: t, RelL2: rel, MaxAbsErr: maxAbs}
}
