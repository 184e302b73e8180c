package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"
)

// EpochRecord is one entry of the append-only training history: the four
// unweighted residuals plus the weighted total, for both sample sets, and
// the learning rate in effect.
type EpochRecord struct {
	Epoch    int
	Train    LossComponents
	Val      LossComponents
	LR       float64
	GradNorm float64
}

// TrainResult is what Done hands back: the full loss history and the best
// checkpoint observed during the run.
type TrainResult struct {
	History     []EpochRecord
	Best        *Snapshot
	BestValLoss float64
	BestEpoch   int
	Elapsed     time.Duration
}

// Trainer drives the synchronous epoch loop. It is the sole writer of the
// model parameters, the optimizer state and the best-snapshot slot; epochs
// are strictly ordered, one optimizer step completing before the next
// begins.
type Trainer struct {
	cfg   *Config
	model *DenseField

	// Both sets are generated once in Init and reused for every epoch, a
	// deliberate trade of coverage for determinism and speed.
	train *SampleSet
	val   *SampleSet

	opt   *Adam
	sched *PlateauScheduler
}

// NewTrainer performs the Init state: approximator, optimizer, plateau
// scheduler, one fixed training set and one fixed validation set at a fifth
// of the size (rounded to keep the per-face counts even).
func NewTrainer(cfg *Config, rng *rand.Rand) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := NewDenseField(cfg.Dim, cfg.Width, cfg.Depth, rng)
	if err != nil {
		return nil, err
	}

	sampler, err := NewSampler(cfg.Dim, rng)
	if err != nil {
		return nil, err
	}
	train, err := sampler.Generate(cfg.Samples)
	if err != nil {
		return nil, err
	}

	faces := 2 * cfg.Dim
	valN := cfg.Samples / 5 / faces * faces
	if valN < faces {
		valN = faces
	}
	val, err := sampler.Generate(valN)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:   cfg,
		model: model,
		train: train,
		val:   val,
		opt:   NewAdam(model.Params(), 0.9, 0.999, 1e-8),
		sched: NewPlateauScheduler(cfg.LearningRate, cfg.DecayFactor, cfg.MinLR, cfg.Patience),
	}, nil
}

// Model returns the live approximator (best weights only after Restore).
func (t *Trainer) Model() *DenseField { return t.model }

// Run executes the fixed epoch budget. Each epoch: composite loss on the
// training set, backward, global-norm clip, Adam step, then the same loss on
// the validation set. The validation pass keeps gradients enabled — the PDE
// residual differentiates the model with respect to its inputs, so there is
// no gradient-free way to compute it — but its graph is discarded without an
// optimizer step.
//
// A non-finite loss aborts the run; nothing is checkpointed from a corrupted
// state. Checkpoint write failures are fatal because evaluation depends on
// the artifact. Cancellation via ctx stops the loop between epochs.
func (t *Trainer) Run(ctx context.Context) (*TrainResult, error) {
	start := time.Now()
	params := t.model.Params()
	lr := t.cfg.LearningRate

	result := &TrainResult{BestValLoss: math.Inf(1)}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		total, trainComps, err := CompositeLoss(t.model, t.train, t.cfg.WaveSpeed, t.cfg.Weights, t.cfg.VelocityStep)
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		grads, err := Grad(total, params...)
		if err != nil {
			return result, fmt.Errorf("epoch %d: backward: %w", epoch, err)
		}
		gradNorm := ClipGradNorm(grads, t.cfg.ClipNorm)
		t.opt.Step(params, grads, lr)

		_, valComps, err := CompositeLoss(t.model, t.val, t.cfg.WaveSpeed, t.cfg.Weights, t.cfg.VelocityStep)
		if err != nil {
			return result, fmt.Errorf("epoch %d: validation: %w", epoch, err)
		}

		result.History = append(result.History, EpochRecord{
			Epoch:    epoch,
			Train:    trainComps,
			Val:      valComps,
			LR:       lr,
			GradNorm: gradNorm,
		})

		if valComps.Total < result.BestValLoss {
			result.BestValLoss = valComps.Total
			result.BestEpoch = epoch
			result.Best = t.model.Snapshot()
			if t.cfg.CheckpointFile != "" {
				if err := result.Best.Save(t.cfg.CheckpointFile); err != nil {
					return result, fmt.Errorf("epoch %d: %w", epoch, err)
				}
			}
		}

		lr = t.sched.Observe(valComps.Total)

		if epoch%t.cfg.LogInterval == 0 || epoch == t.cfg.Epochs-1 {
			log.Printf("epoch %6d | train %.3e | val %.3e | lr %.2e | |g| %.2e",
				epoch, trainComps.Total, valComps.Total, lr, gradNorm)
		}
	}

	result.Elapsed = time.Since(start)
	return result, nil
}
