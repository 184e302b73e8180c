package main

import (
	"fmt"
	"math/rand"
)

// SampleSet holds the three disjoint coordinate batches consumed by one
// composite-loss evaluation. Layout is Nx(Dim+1) with the spatial axes first
// and time last; every coordinate lies in [0,1] except where a constraint
// fixes it (boundary faces, t=0 for initial points).
type SampleSet struct {
	Dim      int
	Interior *Tensor
	Boundary *Tensor
	Initial  *Tensor
}

// FaceCounts reports how many boundary points sit on each of the 2*Dim
// domain faces, indexed face = 2*axis + side (side 0 = axis value 0,
// side 1 = axis value 1). Diagnostic only.
func (s *SampleSet) FaceCounts() []int {
	counts := make([]int, 2*s.Dim)
	rows, _ := s.Boundary.Dims()
	for i := 0; i < rows; i++ {
		for axis := 0; axis < s.Dim; axis++ {
			switch s.Boundary.At(i, axis) {
			case 0:
				counts[2*axis]++
			case 1:
				counts[2*axis+1]++
			}
		}
	}
	return counts
}

// Sampler draws collocation points for a unit hypercube space-time domain.
// Determinism is controlled solely by the rand.Rand passed in; the sampler
// never touches process-global random state.
type Sampler struct {
	dim int
	rng *rand.Rand
}

// NewSampler creates a sampler for a dim-dimensional spatial domain.
func NewSampler(dim int, rng *rand.Rand) (*Sampler, error) {
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("sampler: spatial dimension must be 1, 2 or 3, got %d", dim)
	}
	if rng == nil {
		return nil, fmt.Errorf("sampler: nil random source")
	}
	return &Sampler{dim: dim, rng: rng}, nil
}

// Generate draws a fresh sample set with n interior points, n/(2*dim) points
// on each domain face and n initial points at t=0. Draws are independent
// between calls. n must be positive and evenly divisible across the faces;
// anything else fails fast rather than silently truncating.
func (s *Sampler) Generate(n int) (*SampleSet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sampler: sample count must be positive, got %d", n)
	}
	faces := 2 * s.dim
	if n%faces != 0 {
		return nil, fmt.Errorf("sampler: sample count %d not divisible across %d domain faces", n, faces)
	}

	cols := s.dim + 1
	interior := NewTensor(n, cols)
	for i := range interior.data {
		interior.data[i] = s.rng.Float64()
	}

	// One block of points per face: the face's axis is pinned to 0 or 1,
	// the remaining spatial axes and time stay uniform.
	perFace := n / faces
	boundary := NewTensor(n, cols)
	row := 0
	for axis := 0; axis < s.dim; axis++ {
		for side := 0; side < 2; side++ {
			for p := 0; p < perFace; p++ {
				base := row * cols
				for j := 0; j < cols; j++ {
					boundary.data[base+j] = s.rng.Float64()
				}
				boundary.data[base+axis] = float64(side)
				row++
			}
		}
	}

	initial := NewTensor(n, cols)
	for i := 0; i < n; i++ {
		base := i * cols
		for j := 0; j < s.dim; j++ {
			initial.data[base+j] = s.rng.Float64()
		}
		initial.data[base+s.dim] = 0
	}

	return &SampleSet{Dim: s.dim, Interior: interior, Boundary: boundary, Initial: initial}, nil
}
