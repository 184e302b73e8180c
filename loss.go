package main

import (
	"fmt"
	"math"
)

// LossWeights are the per-term weights of the composite objective. They are
// domain-configuration constants, not a contract: the 1D and 2D defaults are
// uniform, the 3D default leans on the PDE and boundary terms. The PDE
// weight must stay >= every other weight so that the trivial zero field
// cannot dominate early training.
type LossWeights struct {
	PDE         float64 `json:"pde"`
	Boundary    float64 `json:"boundary"`
	InitialDisp float64 `json:"initial_displacement"`
	InitialVel  float64 `json:"initial_velocity"`
}

// Validate rejects non-positive weights and a PDE weight below the others.
func (w LossWeights) Validate() error {
	if w.PDE <= 0 || w.Boundary <= 0 || w.InitialDisp <= 0 || w.InitialVel <= 0 {
		return fmt.Errorf("loss weights must be positive, got %+v", w)
	}
	if w.PDE < w.Boundary || w.PDE < w.InitialDisp || w.PDE < w.InitialVel {
		return fmt.Errorf("PDE weight %.3g must be >= every other weight", w.PDE)
	}
	return nil
}

// LossComponents carries the four unweighted residuals plus the weighted
// total for one loss evaluation. Appended per epoch to the training history.
type LossComponents struct {
	PDE         float64 `json:"pde"`
	Boundary    float64 `json:"boundary"`
	InitialDisp float64 `json:"initial_displacement"`
	InitialVel  float64 `json:"initial_velocity"`
	Total       float64 `json:"total"`
}

func (lc LossComponents) finite() bool {
	for _, v := range []float64{lc.PDE, lc.Boundary, lc.InitialDisp, lc.InitialVel, lc.Total} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CompositeLoss assembles the physics-informed objective on one sample set:
//
//	PDE       mean((u_tt - c^2 * sum_i u_x_i x_i)^2)   interior points
//	Boundary  mean(u^2)                                 homogeneous Dirichlet
//	InitDisp  mean((u - prod_i sin(pi x_i))^2)          t = 0
//	InitVel   mean(((u(t=h) - u(t=0)) / h)^2)           forward difference
//
// The velocity term is the one intentional finite-difference approximation
// in the system (bias proportional to h); everything else differentiates
// the model analytically. The returned tensor is the weighted total for
// backpropagation; the components come back unweighted for diagnostics.
//
// A non-finite total is an error: training must not keep optimizing, or
// checkpoint, a corrupted value.
func CompositeLoss(m FieldModel, set *SampleSet, waveSpeed float64, w LossWeights, velStep float64) (*Tensor, LossComponents, error) {
	// PDE residual over interior collocation points.
	_, seconds, err := Derivatives(m, set.Interior)
	if err != nil {
		return nil, LossComponents{}, fmt.Errorf("pde residual: %w", err)
	}
	laplacian := seconds[0]
	for axis := 1; axis < set.Dim; axis++ {
		laplacian = Add(laplacian, seconds[axis])
	}
	uTT := seconds[set.Dim]
	pde := Mean(Square(Sub(uTT, Scale(laplacian, waveSpeed*waveSpeed))))

	// Dirichlet condition u = 0 on every face.
	boundary := Mean(Square(m.Forward(set.Boundary)))

	// Initial displacement against the analytic initial shape.
	u0 := m.Forward(set.Initial)
	rows, _ := set.Initial.Dims()
	target := NewTensor(rows, 1)
	for i := 0; i < rows; i++ {
		shape := 1.0
		for axis := 0; axis < set.Dim; axis++ {
			shape *= math.Sin(math.Pi * set.Initial.At(i, axis))
		}
		target.data[i] = shape
	}
	initDisp := Mean(Square(Sub(u0, target)))

	// Initial velocity: one-sided difference in time; the true velocity is
	// zero everywhere, so the quotient itself is penalized.
	shifted := set.Initial.Clone()
	for i := 0; i < rows; i++ {
		shifted.SetAt(i, set.Dim, shifted.At(i, set.Dim)+velStep)
	}
	uh := m.Forward(shifted)
	initVel := Mean(Square(Scale(Sub(uh, u0), 1/velStep)))

	total := Scale(pde, w.PDE)
	total = Add(total, Scale(boundary, w.Boundary))
	total = Add(total, Scale(initDisp, w.InitialDisp))
	total = Add(total, Scale(initVel, w.InitialVel))

	comps := LossComponents{
		PDE:         pde.Value(),
		Boundary:    boundary.Value(),
		InitialDisp: initDisp.Value(),
		InitialVel:  initVel.Value(),
		Total:       total.Value(),
	}
	if !comps.finite() {
		return nil, comps, fmt.Errorf("loss diverged: %+v", comps)
	}
	return total, comps, nil
}
