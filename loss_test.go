package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossWeightsValidate(t *testing.T) {
	good := LossWeights{PDE: 10, Boundary: 10, InitialDisp: 1, InitialVel: 1}
	assert.NoError(t, good.Validate())

	assert.Error(t, LossWeights{PDE: 0, Boundary: 1, InitialDisp: 1, InitialVel: 1}.Validate())
	assert.Error(t, LossWeights{PDE: 1, Boundary: -1, InitialDisp: 1, InitialVel: 1}.Validate())
	assert.Error(t, LossWeights{PDE: 1, Boundary: 5, InitialDisp: 1, InitialVel: 1}.Validate(),
		"PDE weight below another weight must be rejected")
}

func TestCompositeLossComponents(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	model, err := NewDenseField(1, 8, 2, rng)
	require.NoError(t, err)

	sampler, err := NewSampler(1, rng)
	require.NoError(t, err)
	set, err := sampler.Generate(16)
	require.NoError(t, err)

	w := LossWeights{PDE: 2, Boundary: 1, InitialDisp: 1, InitialVel: 1}
	total, comps, err := CompositeLoss(model, set, 1.0, w, 1e-3)
	require.NoError(t, err)

	assert.True(t, comps.finite())
	assert.GreaterOrEqual(t, comps.PDE, 0.0)
	assert.GreaterOrEqual(t, comps.Boundary, 0.0)
	assert.GreaterOrEqual(t, comps.InitialDisp, 0.0)
	assert.GreaterOrEqual(t, comps.InitialVel, 0.0)

	want := w.PDE*comps.PDE + w.Boundary*comps.Boundary +
		w.InitialDisp*comps.InitialDisp + w.InitialVel*comps.InitialVel
	assert.InDelta(t, want, comps.Total, 1e-12)
	assert.InDelta(t, want, total.Value(), 1e-12)

	// A freshly initialized field does not satisfy the initial shape.
	assert.Greater(t, comps.InitialDisp, 0.0)
}

func TestCompositeLossBackpropagatesToParams(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	model, err := NewDenseField(2, 6, 2, rng)
	require.NoError(t, err)

	sampler, err := NewSampler(2, rng)
	require.NoError(t, err)
	set, err := sampler.Generate(16)
	require.NoError(t, err)

	total, _, err := CompositeLoss(model, set, 1.0, LossWeights{PDE: 1, Boundary: 1, InitialDisp: 1, InitialVel: 1}, 1e-3)
	require.NoError(t, err)

	grads, err := Grad(total, model.Params()...)
	require.NoError(t, err)
	require.Len(t, grads, len(model.Params()))

	nonzero := false
	for i, g := range grads {
		r, c := g.Dims()
		gr, gc := model.Params()[i].Dims()
		assert.Equal(t, gr, r)
		assert.Equal(t, gc, c)
		for _, v := range g.Data() {
			if v != 0 {
				nonzero = true
			}
		}
	}
	assert.True(t, nonzero, "loss gradient must reach the parameters")
}
