package main

import (
	"fmt"
	"math"
	"math/rand"
)

// FieldModel is the shared capability of every trainable field approximator:
// a batch of (space..., time) coordinates in, one scalar field value per
// point out, differentiable end to end.
type FieldModel interface {
	// Forward maps an Nx(D+1) coordinate batch to an Nx1 field batch.
	Forward(coords *Tensor) *Tensor
	// Params returns the trainable leaf tensors, owned by the trainer.
	Params() []*Tensor
}

// DenseField is the dense multilayer variant: a tanh MLP from (space, time)
// coordinates to a scalar displacement. Used for residual training in all
// spatial dimensionalities.
type DenseField struct {
	dim     int // spatial dimensions; input size is dim+1
	width   int
	depth   int // hidden layers
	weights []*Tensor
	biases  []*Tensor
}

// NewDenseField builds a tanh MLP with Xavier-uniform weights drawn from rng.
func NewDenseField(dim, width, depth int, rng *rand.Rand) (*DenseField, error) {
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("dense field: spatial dimension must be 1, 2 or 3, got %d", dim)
	}
	if width < 1 || depth < 1 {
		return nil, fmt.Errorf("dense field: width and depth must be positive, got %dx%d", width, depth)
	}

	df := &DenseField{dim: dim, width: width, depth: depth}
	sizes := make([]int, 0, depth+2)
	sizes = append(sizes, dim+1)
	for l := 0; l < depth; l++ {
		sizes = append(sizes, width)
	}
	sizes = append(sizes, 1)

	for l := 0; l+1 < len(sizes); l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		w := NewTensor(in, out)
		for i := range w.data {
			w.data[i] = (rng.Float64()*2 - 1) * limit
		}
		df.weights = append(df.weights, w)
		df.biases = append(df.biases, NewTensor(1, out))
	}
	return df, nil
}

// Forward evaluates the field at an Nx(dim+1) coordinate batch.
func (df *DenseField) Forward(coords *Tensor) *Tensor {
	if _, c := coords.Dims(); c != df.dim+1 {
		panic(fmt.Sprintf("dense field: expected %d input columns, got %d", df.dim+1, c))
	}
	x := coords
	last := len(df.weights) - 1
	for l, w := range df.weights {
		x = AddRow(MatMul(x, w), df.biases[l])
		if l != last {
			x = Tanh(x)
		}
	}
	return x
}

// Params returns weight and bias leaves in a stable order.
func (df *DenseField) Params() []*Tensor {
	params := make([]*Tensor, 0, 2*len(df.weights))
	for l := range df.weights {
		params = append(params, df.weights[l], df.biases[l])
	}
	return params
}

// Snapshot copies the current parameter values out of the model. The copy is
// independent: later optimizer steps do not touch it.
func (df *DenseField) Snapshot() *Snapshot {
	s := &Snapshot{Dim: df.dim, Width: df.width, Depth: df.depth}
	for l := range df.weights {
		s.Weights = append(s.Weights, append([]float64(nil), df.weights[l].data...))
		s.Biases = append(s.Biases, append([]float64(nil), df.biases[l].data...))
	}
	return s
}

// Restore loads a snapshot back into the model's parameter leaves.
func (df *DenseField) Restore(s *Snapshot) error {
	if s.Dim != df.dim || s.Width != df.width || s.Depth != df.depth {
		return fmt.Errorf("snapshot: architecture mismatch (have dim=%d width=%d depth=%d, snapshot dim=%d width=%d depth=%d)",
			df.dim, df.width, df.depth, s.Dim, s.Width, s.Depth)
	}
	if len(s.Weights) != len(df.weights) || len(s.Biases) != len(df.biases) {
		return fmt.Errorf("snapshot: layer count mismatch")
	}
	for l := range df.weights {
		if len(s.Weights[l]) != len(df.weights[l].data) || len(s.Biases[l]) != len(df.biases[l].data) {
			return fmt.Errorf("snapshot: layer %d size mismatch", l)
		}
		copy(df.weights[l].data, s.Weights[l])
		copy(df.biases[l].data, s.Biases[l])
	}
	return nil
}
