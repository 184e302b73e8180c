package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the full configuration surface, read once at startup and never
// mutated afterwards. Flags populate it; -config overrides from a JSON file.
type Config struct {
	Mode string `json:"mode"` // pinn1d, pinn2d, pinn3d, fno3d

	// Problem definition.
	Dim       int     `json:"dim"`
	WaveSpeed float64 `json:"wave_speed"`

	// Dense approximator.
	Width int `json:"width"`
	Depth int `json:"depth"`

	// Optimization.
	LearningRate float64     `json:"learning_rate"`
	Epochs       int         `json:"epochs"`
	Samples      int         `json:"samples"`
	Weights      LossWeights `json:"loss_weights"`
	VelocityStep float64     `json:"velocity_step"`
	ClipNorm     float64     `json:"clip_norm"`

	// Plateau schedule.
	Patience    int     `json:"patience"`
	DecayFactor float64 `json:"decay_factor"`
	MinLR       float64 `json:"min_learning_rate"`

	// Reporting and persistence.
	LogInterval    int    `json:"log_interval"`
	CheckpointFile string `json:"checkpoint_file"`
	Seed           int64  `json:"seed"`

	// Post-training evaluation grid.
	EvalTime   float64 `json:"eval_time"`
	EvalPoints int     `json:"eval_points"`

	FNO FNOConfig `json:"fno"`
}

// FNOConfig configures the spectral-operator regression variant.
type FNOConfig struct {
	GridSize     int     `json:"grid_size"`
	Modes1       int     `json:"modes1"`
	Modes2       int     `json:"modes2"`
	Modes3       int     `json:"modes3"`
	Width        int     `json:"width"`
	Blocks       int     `json:"blocks"`
	ProjWidth    int     `json:"proj_width"`
	Samples      int     `json:"samples"`
	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	TargetTime   float64 `json:"target_time"`
}

// DefaultConfig returns the per-dimension defaults. The loss weighting is
// the documented open question: uniform for 1D/2D, PDE- and boundary-heavy
// for 3D, always tunable through the config file.
func DefaultConfig(dim int) *Config {
	cfg := &Config{
		Mode:           fmt.Sprintf("pinn%dd", dim),
		Dim:            dim,
		WaveSpeed:      1.0,
		Width:          32,
		Depth:          3,
		LearningRate:   1e-3,
		Epochs:         5000,
		Samples:        256,
		Weights:        LossWeights{PDE: 1, Boundary: 1, InitialDisp: 1, InitialVel: 1},
		VelocityStep:   1e-3,
		ClipNorm:       1.0,
		Patience:       200,
		DecayFactor:    0.5,
		MinLR:          1e-5,
		LogInterval:    250,
		CheckpointFile: "checkpoint.gob",
		Seed:           1,
		EvalTime:       0.25,
		EvalPoints:     64,
		FNO: FNOConfig{
			GridSize:     16,
			Modes1:       8,
			Modes2:       8,
			Modes3:       8,
			Width:        20,
			Blocks:       4,
			ProjWidth:    64,
			Samples:      40,
			Epochs:       300,
			LearningRate: 1e-3,
			TargetTime:   0.5,
		},
	}
	switch dim {
	case 2:
		cfg.Samples = 512
		cfg.Width = 48
	case 3:
		cfg.Samples = 600
		cfg.Width = 64
		cfg.Weights = LossWeights{PDE: 10, Boundary: 10, InitialDisp: 1, InitialVel: 1}
	}
	return cfg
}

// LoadConfigFile reads a JSON config over the given defaults.
func LoadConfigFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := *base
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate runs once at initialization; configuration problems never make it
// into the training loop.
func (c *Config) Validate() error {
	switch c.Mode {
	case "pinn1d", "pinn2d", "pinn3d", "fno3d":
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Dim < 1 || c.Dim > 3 {
		return fmt.Errorf("config: dim must be 1, 2 or 3, got %d", c.Dim)
	}
	if c.WaveSpeed <= 0 {
		return fmt.Errorf("config: wave speed must be positive, got %g", c.WaveSpeed)
	}
	if c.Width < 1 || c.Depth < 1 {
		return fmt.Errorf("config: network width/depth must be positive, got %d/%d", c.Width, c.Depth)
	}
	if c.LearningRate <= 0 || c.MinLR <= 0 || c.MinLR > c.LearningRate {
		return fmt.Errorf("config: need 0 < min_learning_rate <= learning_rate, got %g and %g", c.MinLR, c.LearningRate)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("config: epochs must be positive, got %d", c.Epochs)
	}
	if c.Samples < 2*c.Dim || c.Samples%(2*c.Dim) != 0 {
		return fmt.Errorf("config: samples must be a positive multiple of %d faces, got %d", 2*c.Dim, c.Samples)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.VelocityStep <= 0 || c.VelocityStep > 0.1 {
		return fmt.Errorf("config: velocity step must be in (0, 0.1], got %g", c.VelocityStep)
	}
	if c.ClipNorm <= 0 {
		return fmt.Errorf("config: clip norm must be positive, got %g", c.ClipNorm)
	}
	if c.Patience < 1 || c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return fmt.Errorf("config: plateau schedule needs patience >= 1 and factor in (0,1), got %d and %g", c.Patience, c.DecayFactor)
	}
	if c.LogInterval < 1 {
		return fmt.Errorf("config: log interval must be positive, got %d", c.LogInterval)
	}
	if c.EvalTime < 0 || c.EvalTime > 1 {
		return fmt.Errorf("config: eval time must be in [0,1], got %g", c.EvalTime)
	}
	if c.EvalPoints < 2 {
		return fmt.Errorf("config: eval points per axis must be >= 2, got %d", c.EvalPoints)
	}
	if c.Mode == "fno3d" {
		return c.FNO.Validate()
	}
	return nil
}

// Validate checks the spectral-variant block sizes.
func (f *FNOConfig) Validate() error {
	if f.GridSize < 2 {
		return fmt.Errorf("config: fno grid size must be >= 2, got %d", f.GridSize)
	}
	if f.Modes1 < 1 || f.Modes2 < 1 || f.Modes3 < 1 {
		return fmt.Errorf("config: fno mode counts must be positive, got %d/%d/%d", f.Modes1, f.Modes2, f.Modes3)
	}
	if f.Modes1 > f.GridSize || f.Modes2 > f.GridSize || f.Modes3 > f.GridSize {
		return fmt.Errorf("config: fno mode counts %d/%d/%d exceed grid size %d", f.Modes1, f.Modes2, f.Modes3, f.GridSize)
	}
	if f.Width < 1 || f.Blocks < 1 || f.ProjWidth < 1 {
		return fmt.Errorf("config: fno width/blocks/proj_width must be positive")
	}
	if f.Samples < 2 || f.Epochs < 1 || f.LearningRate <= 0 {
		return fmt.Errorf("config: fno training needs samples >= 2, epochs >= 1, positive learning rate")
	}
	if f.TargetTime < 0 || f.TargetTime > 1 {
		return fmt.Errorf("config: fno target time must be in [0,1], got %g", f.TargetTime)
	}
	return nil
}
