package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestElementwiseOps(t *testing.T) {
	a := NewTensorFrom(2, 2, []float64{1, 2, 3, 4})
	b := NewTensorFrom(2, 2, []float64{5, 6, 7, 8})

	assert.Equal(t, []float64{6, 8, 10, 12}, Add(a, b).Data())
	assert.Equal(t, []float64{-4, -4, -4, -4}, Sub(a, b).Data())
	assert.Equal(t, []float64{5, 12, 21, 32}, Mul(a, b).Data())
	assert.Equal(t, []float64{2, 4, 6, 8}, Scale(a, 2).Data())
	assert.Equal(t, []float64{1, 4, 9, 16}, Square(a).Data())
	assert.InDelta(t, 2.5, Mean(a).Value(), 1e-15)
	assert.InDelta(t, 10, Sum(a).Value(), 1e-15)
}

func TestReductionsAndSlices(t *testing.T) {
	a := NewTensorFrom(2, 3, []float64{1, 2, 3, 4, 5, 6})

	assert.Equal(t, []float64{5, 7, 9}, ColSum(a).Data())
	assert.Equal(t, []float64{2, 5}, Col(a, 1).Data())

	padded := PadCol(NewTensorFrom(2, 1, []float64{7, 8}), 2, 3)
	assert.Equal(t, []float64{0, 0, 7, 0, 0, 8}, padded.Data())

	spread := RowSpread(NewTensorFrom(1, 2, []float64{1, 2}), 3)
	r, c := spread.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 1.0, spread.At(2, 0))
}

// Gradients of a composite expression against gonum's central differences.
func TestGradMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x0 := make([]float64, 6)
	for i := range x0 {
		x0[i] = rng.NormFloat64()
	}

	eval := func(x []float64) float64 {
		a := NewTensorFrom(2, 3, x)
		b := NewTensorFrom(3, 2, []float64{0.5, -1, 2, 0.25, -0.75, 1.5})
		return Mean(Square(Tanh(MatMul(a, b)))).Value()
	}

	a := NewTensorFrom(2, 3, x0)
	b := NewTensorFrom(3, 2, []float64{0.5, -1, 2, 0.25, -0.75, 1.5})
	y := Mean(Square(Tanh(MatMul(a, b))))

	grads, err := Grad(y, a)
	require.NoError(t, err)

	want := fd.Gradient(nil, eval, x0, &fd.Settings{Formula: fd.Central})
	for i := range x0 {
		assert.InDelta(t, want[i], grads[0].Data()[i], 1e-7, "component %d", i)
	}
}

func TestSecondAndThirdDerivativesOfTanh(t *testing.T) {
	x0 := 0.3
	x := NewTensorFrom(1, 1, []float64{x0})
	y := Tanh(x)

	d1, err := Grad(Sum(y), x)
	require.NoError(t, err)
	d2, err := Grad(Sum(d1[0]), x)
	require.NoError(t, err)
	d3, err := Grad(Sum(d2[0]), x)
	require.NoError(t, err)

	th := math.Tanh(x0)
	sech2 := 1 - th*th
	assert.InDelta(t, sech2, d1[0].Value(), 1e-12)
	assert.InDelta(t, -2*th*sech2, d2[0].Value(), 1e-12)
	assert.InDelta(t, -2*sech2*(1-3*th*th), d3[0].Value(), 1e-12)
}

func TestGradRejectsNonScalarOutput(t *testing.T) {
	a := NewTensorFrom(2, 1, []float64{1, 2})
	_, err := Grad(a, a)
	assert.Error(t, err)
}

func TestGradRejectsUntrackedTarget(t *testing.T) {
	a := NewTensorFrom(1, 1, []float64{2})
	unused := NewTensorFrom(1, 1, []float64{5})

	_, err := Grad(Sum(Square(a)), unused)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not tracked")
}

func TestSetAtPanicsOnNonLeaf(t *testing.T) {
	a := NewTensorFrom(1, 1, []float64{1})
	out := Scale(a, 2)
	assert.Panics(t, func() { out.SetAt(0, 0, 3) })
}

func TestGradAccumulatesSharedInputs(t *testing.T) {
	// y = x*x + 3x, dy/dx = 2x + 3.
	x := NewTensorFrom(1, 1, []float64{4})
	y := Sum(Add(Mul(x, x), Scale(x, 3)))

	grads, err := Grad(y, x)
	require.NoError(t, err)
	assert.InDelta(t, 11, grads[0].Value(), 1e-12)
}
