package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Adam implements the Adam update with bias correction. Moment buffers are
// allocated per parameter up front; Step mutates the parameter leaves in
// place, which is the only way model state changes during training.
type Adam struct {
	beta1, beta2, eps float64

	m [][]float64
	v [][]float64
	t int
}

// NewAdam creates an optimizer for a fixed parameter list.
func NewAdam(params []*Tensor, beta1, beta2, eps float64) *Adam {
	a := &Adam{beta1: beta1, beta2: beta2, eps: eps}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p.data)))
		a.v = append(a.v, make([]float64, len(p.data)))
	}
	return a
}

// Step applies one Adam update. grads must align with params.
func (a *Adam) Step(params, grads []*Tensor, lr float64) {
	a.t++
	bias1 := 1 - math.Pow(a.beta1, float64(a.t))
	bias2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range params {
		g := grads[i].data
		for j := range p.data {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*g[j]
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*g[j]*g[j]
			mHat := a.m[i][j] / bias1
			vHat := a.v[i][j] / bias2
			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

// ClipGradNorm rescales grads so their global L2 norm is at most maxNorm and
// returns the pre-clip norm. The second-order derivative terms in the
// residual make occasional gradient spikes routine; clipping absorbs them
// instead of treating them as fatal.
func ClipGradNorm(grads []*Tensor, maxNorm float64) float64 {
	sumSq := 0.0
	for _, g := range grads {
		n := floats.Norm(g.data, 2)
		sumSq += n * n
	}
	norm := math.Sqrt(sumSq)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, g := range grads {
			floats.Scale(scale, g.data)
		}
	}
	return norm
}

// PlateauScheduler decays the learning rate by a fixed factor whenever the
// monitored validation loss fails to improve for patience consecutive
// epochs. Applied once per epoch, after validation.
type PlateauScheduler struct {
	lr       float64
	factor   float64
	minLR    float64
	patience int

	best float64
	bad  int
}

// NewPlateauScheduler starts at lr and never decays below minLR.
func NewPlateauScheduler(lr, factor, minLR float64, patience int) *PlateauScheduler {
	return &PlateauScheduler{
		lr:       lr,
		factor:   factor,
		minLR:    minLR,
		patience: patience,
		best:     math.Inf(1),
	}
}

// Observe feeds one validation loss and returns the learning rate to use for
// the next epoch.
func (s *PlateauScheduler) Observe(val float64) float64 {
	if val < s.best {
		s.best = val
		s.bad = 0
		return s.lr
	}
	s.bad++
	if s.bad >= s.patience {
		s.bad = 0
		s.lr = math.Max(s.lr*s.factor, s.minLR)
	}
	return s.lr
}

// LR returns the current learning rate.
func (s *PlateauScheduler) LR() float64 { return s.lr }
