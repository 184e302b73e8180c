package main

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func smallConfig(t *testing.T, epochs int) *Config {
	t.Helper()
	cfg := DefaultConfig(1)
	cfg.Width = 8
	cfg.Depth = 2
	cfg.Samples = 16
	cfg.Epochs = epochs
	cfg.Patience = 50
	cfg.LogInterval = 10000
	cfg.CheckpointFile = filepath.Join(t.TempDir(), "ckpt.gob")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestTrainerBestCheckpointTracksValidationMinimum(t *testing.T) {
	cfg := smallConfig(t, 40)
	trainer, err := NewTrainer(cfg, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	result, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.History, cfg.Epochs)
	require.NotNil(t, result.Best)

	minVal := math.Inf(1)
	for _, rec := range result.History {
		if rec.Val.Total < minVal {
			minVal = rec.Val.Total
		}
	}
	assert.Equal(t, minVal, result.BestValLoss)
	assert.Equal(t, minVal, result.History[result.BestEpoch].Val.Total)

	// The persisted checkpoint restores into a matching architecture.
	loaded, err := LoadSnapshot(cfg.CheckpointFile)
	require.NoError(t, err)
	require.NoError(t, trainer.Model().Restore(loaded))
}

func TestTrainerLossTrendsDownward(t *testing.T) {
	cfg := smallConfig(t, 200)
	trainer, err := NewTrainer(cfg, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	result, err := trainer.Run(context.Background())
	require.NoError(t, err)

	xs := make([]float64, len(result.History))
	totals := make([]float64, len(result.History))
	boundary := make([]float64, len(result.History))
	for i, rec := range result.History {
		xs[i] = float64(i)
		totals[i] = rec.Train.Total
		boundary[i] = rec.Train.Boundary
	}
	_, slope := stat.LinearRegression(xs, totals, nil, false)
	assert.Less(t, slope, 0.0, "training loss should trend downward")
	_, slope = stat.LinearRegression(xs, boundary, nil, false)
	assert.Less(t, slope, 0.0, "boundary residual should trend downward")

	assert.Less(t, result.BestValLoss, result.History[0].Val.Total)
}

func TestTrainerGradientNormsClipped(t *testing.T) {
	cfg := smallConfig(t, 20)
	trainer, err := NewTrainer(cfg, rand.New(rand.NewSource(8)))
	require.NoError(t, err)

	result, err := trainer.Run(context.Background())
	require.NoError(t, err)

	for _, rec := range result.History {
		assert.False(t, math.IsNaN(rec.GradNorm))
		assert.GreaterOrEqual(t, rec.GradNorm, 0.0)
	}
}

func TestTrainerHonorsCancellation(t *testing.T) {
	cfg := smallConfig(t, 10000)
	trainer, err := NewTrainer(cfg, rand.New(rand.NewSource(6)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := trainer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.History)
}

func TestNewTrainerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(1)
	cfg.Samples = 7 // not divisible across faces
	_, err := NewTrainer(cfg, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

// Full 1D run: the restored best model should reproduce the initial peak
// displacement u(0.5, 0) = sin(pi/2) = 1.
func TestTrainerRecoversInitialCondition1D(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long 1D convergence run")
	}

	cfg := smallConfig(t, 3000)
	cfg.Width = 16
	cfg.Samples = 64
	trainer, err := NewTrainer(cfg, rand.New(rand.NewSource(12)))
	require.NoError(t, err)

	result, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Best)
	require.NoError(t, trainer.Model().Restore(result.Best))

	peak := trainer.Model().Forward(NewTensorFrom(1, 2, []float64{0.5, 0})).At(0, 0)
	assert.InDelta(t, 1.0, peak, 0.15)
}
