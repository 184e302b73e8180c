package main

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFT3RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const s = 4
	n := s * s * s

	data := make([]complex128, n)
	for i := range data {
		data[i] = complex(rng.NormFloat64(), 0)
	}

	back := fft3(fft3(data, s, s, s, false), s, s, s, true)
	for i := range data {
		assert.InDelta(t, real(data[i]), real(back[i]), 1e-10)
		assert.InDelta(t, 0, imag(back[i]), 1e-10)
	}
}

// Output shape must not depend on how many modes are retained.
func TestSpectralConvShapeInvariantUnderTruncation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const s = 8
	n := s * s * s

	x := make([][]float64, 2)
	for c := range x {
		x[c] = make([]float64, n)
		for p := range x[c] {
			x[c][p] = rng.NormFloat64()
		}
	}

	for _, modes := range []int{1, 4, 8} {
		sc := NewSpectralConv3D(2, 3, modes, modes, modes, rng)
		y, err := sc.Apply(x, s, s, s)
		require.NoError(t, err, "modes %d", modes)
		require.Len(t, y, 3)
		for o := range y {
			require.Len(t, y[o], n)
			for _, v := range y[o] {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		}
	}
}

func TestSpectralConvApplyValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	sc := NewSpectralConv3D(2, 2, 2, 2, 2, rng)

	_, err := sc.Apply(make([][]float64, 3), 4, 4, 4)
	assert.Error(t, err, "wrong channel count")

	tall := NewSpectralConv3D(1, 1, 5, 2, 2, rng)
	x := [][]float64{make([]float64, 64)}
	_, err = tall.Apply(x, 4, 4, 4)
	assert.Error(t, err, "mode count beyond grid")

	_, err = sc.Apply([][]float64{make([]float64, 10), make([]float64, 10)}, 4, 4, 4)
	assert.Error(t, err, "channel length mismatch")
}

// Weight and input gradients of the spectral block against central
// differences of the scalar objective 0.5*sum(y^2).
func TestSpectralConvBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const s = 4
	n := s * s * s

	sc := NewSpectralConv3D(1, 1, 2, 2, 2, rng)
	x := [][]float64{make([]float64, n)}
	for p := range x[0] {
		x[0][p] = rng.NormFloat64()
	}

	objective := func() float64 {
		y, _ := sc.forward(x, s, s, s)
		total := 0.0
		for _, v := range y[0] {
			total += 0.5 * v * v
		}
		return total
	}

	y, cache := sc.forward(x, s, s, s)
	gin, gWre, gWim := sc.backward(cache, y)

	const h = 1e-6
	for _, k := range []int{0, 3, 7} {
		orig := sc.Wre.data[k]
		sc.Wre.data[k] = orig + h
		plus := objective()
		sc.Wre.data[k] = orig - h
		minus := objective()
		sc.Wre.data[k] = orig
		assert.InDelta(t, (plus-minus)/(2*h), gWre[k], 1e-5, "Wre[%d]", k)

		orig = sc.Wim.data[k]
		sc.Wim.data[k] = orig + h
		plus = objective()
		sc.Wim.data[k] = orig - h
		minus = objective()
		sc.Wim.data[k] = orig
		assert.InDelta(t, (plus-minus)/(2*h), gWim[k], 1e-5, "Wim[%d]", k)
	}

	for _, p := range []int{0, 17, n - 1} {
		orig := x[0][p]
		x[0][p] = orig + h
		plus := objective()
		x[0][p] = orig - h
		minus := objective()
		x[0][p] = orig
		assert.InDelta(t, (plus-minus)/(2*h), gin[0][p], 1e-5, "x[%d]", p)
	}
}

func TestMakeWaveOperatorDataset(t *testing.T) {
	cfg := DefaultConfig(3).FNO
	cfg.GridSize = 8
	cfg.TargetTime = 0.5
	rng := rand.New(rand.NewSource(5))

	const c = 1.0
	samples := MakeWaveOperatorDataset(cfg, c, 3, rng)
	require.Len(t, samples, 3)

	decay := math.Cos(math.Sqrt(3) * math.Pi * c * cfg.TargetTime)
	n := cfg.GridSize * cfg.GridSize * cfg.GridSize
	for _, sample := range samples {
		require.Len(t, sample.Input, 4)
		require.Len(t, sample.Target, n)
		for p := 0; p < n; p++ {
			assert.InDelta(t, sample.Input[3][p]*decay, sample.Target[p], 1e-12)
		}
	}
}

func TestFNOTrainReducesMSE(t *testing.T) {
	cfg := FNOConfig{
		GridSize: 4, Modes1: 2, Modes2: 2, Modes3: 2,
		Width: 4, Blocks: 2, ProjWidth: 8,
		Samples: 4, Epochs: 40, LearningRate: 5e-3,
		TargetTime: 0.25,
	}
	rng := rand.New(rand.NewSource(9))

	model, err := NewFNO3D(cfg, 4, rng)
	require.NoError(t, err)
	require.Len(t, model.Params(), 2+4*cfg.Blocks+4)

	samples := MakeWaveOperatorDataset(cfg, 1.0, cfg.Samples, rng)
	result, err := model.Train(context.Background(), samples, 1.0, 10000)
	require.NoError(t, err)
	require.Len(t, result.History, cfg.Epochs)

	assert.Less(t, result.FinalLoss, result.History[0])
	for _, v := range result.History {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestFNOPredictShape(t *testing.T) {
	cfg := FNOConfig{
		GridSize: 4, Modes1: 2, Modes2: 2, Modes3: 2,
		Width: 4, Blocks: 1, ProjWidth: 4,
		Samples: 2, Epochs: 1, LearningRate: 1e-3,
		TargetTime: 0.1,
	}
	rng := rand.New(rand.NewSource(13))

	model, err := NewFNO3D(cfg, 4, rng)
	require.NoError(t, err)

	samples := MakeWaveOperatorDataset(cfg, 1.0, 1, rng)
	out := model.Predict(samples[0].Input)
	assert.Len(t, out, cfg.GridSize*cfg.GridSize*cfg.GridSize)
}
