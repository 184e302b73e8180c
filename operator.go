package main

import "fmt"

// Derivatives evaluates the field and its pure second partials at a batch of
// coordinates. The model runs forward once; a single reverse pass yields the
// full first-order input gradient, and one further reverse pass per axis
// turns each first-order component into the corresponding Nx1 second partial
// (d²u/dx_a² in column order: spatial axes first, time last).
//
// The per-point derivatives fall out of differentiating sum(u): collocation
// points are independent, so d(sum u)/d(coords[i,a]) = du_i/dx_a.
//
// Every derivative here is analytic (exact under the tape); the only finite
// difference in the system is the initial-velocity term of the composite
// loss, which is a documented approximation.
//
// coords must be the same leaf tensor the forward pass consumed. Anything
// else is reported as an error rather than a zero gradient.
func Derivatives(m FieldModel, coords *Tensor) (u *Tensor, seconds []*Tensor, err error) {
	_, cols := coords.Dims()

	u = m.Forward(coords)

	firsts, err := Grad(Sum(u), coords)
	if err != nil {
		return nil, nil, fmt.Errorf("first-order pass: %w", err)
	}
	first := firsts[0]

	seconds = make([]*Tensor, cols)
	for axis := 0; axis < cols; axis++ {
		gs, err := Grad(Sum(Col(first, axis)), coords)
		if err != nil {
			return nil, nil, fmt.Errorf("second-order pass (axis %d): %w", axis, err)
		}
		seconds[axis] = Col(gs[0], axis)
	}
	return u, seconds, nil
}
