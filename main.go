package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

type cliOptions struct {
	configFile string
	verbose    bool
	quiet      bool
	profileCPU string
	profileMem string
}

func parseFlags() (*Config, *cliOptions) {
	opts := &cliOptions{}

	mode := flag.String("mode", "pinn1d", "training mode (pinn1d, pinn2d, pinn3d, fno3d)")
	width := flag.Int("width", 0, "hidden layer width (0 = per-mode default)")
	depth := flag.Int("depth", 0, "number of hidden layers (0 = per-mode default)")
	samples := flag.Int("samples", 0, "collocation points per set (0 = per-mode default)")
	epochs := flag.Int("epochs", 0, "epoch budget (0 = per-mode default)")
	lr := flag.Float64("lr", 0, "initial learning rate (0 = per-mode default)")
	waveSpeed := flag.Float64("wave-speed", 0, "wave propagation speed c (0 = default)")
	checkpoint := flag.String("checkpoint", "", "checkpoint file (empty = per-mode default)")
	seed := flag.Int64("seed", 0, "random seed (0 = default)")
	evalTime := flag.Float64("eval-time", 0.25, "time slice for the final error report")
	evalPoints := flag.Int("eval-points", 64, "evaluation grid points per spatial axis")

	flag.StringVar(&opts.configFile, "config", "", "JSON config file overriding flag defaults")
	flag.BoolVar(&opts.verbose, "verbose", false, "verbose output")
	flag.BoolVar(&opts.quiet, "quiet", false, "minimal output")
	flag.StringVar(&opts.profileCPU, "profile-cpu", "", "CPU profile output file")
	flag.StringVar(&opts.profileMem, "profile-mem", "", "memory profile output file")

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "WavePINN - Physics-Informed Wave Equation Trainer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nTraining Modes:\n")
		fmt.Fprintf(os.Stderr, "  pinn1d - residual training, 1+1D wave equation\n")
		fmt.Fprintf(os.Stderr, "  pinn2d - residual training, 2+1D wave equation\n")
		fmt.Fprintf(os.Stderr, "  pinn3d - residual training, 3+1D wave equation\n")
		fmt.Fprintf(os.Stderr, "  fno3d  - spectral operator regression on a 3D grid\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -mode pinn2d -epochs 8000 -samples 512\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -mode pinn3d -config run3d.json -verbose\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -mode fno3d -seed 7\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nVersion: %s\n", Version)
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("WavePINN version %s\n", Version)
		fmt.Printf("Built: %s\n", BuildTime)
		fmt.Printf("Go: %s\n", GoVersion)
		os.Exit(0)
	}

	dim := 1
	switch *mode {
	case "pinn2d":
		dim = 2
	case "pinn3d", "fno3d":
		dim = 3
	}

	cfg := DefaultConfig(dim)
	cfg.Mode = *mode
	if *width > 0 {
		cfg.Width = *width
	}
	if *depth > 0 {
		cfg.Depth = *depth
	}
	if *samples > 0 {
		cfg.Samples = *samples
	}
	if *epochs > 0 {
		cfg.Epochs = *epochs
	}
	if *lr > 0 {
		cfg.LearningRate = *lr
	}
	if *waveSpeed > 0 {
		cfg.WaveSpeed = *waveSpeed
	}
	if *checkpoint != "" {
		cfg.CheckpointFile = *checkpoint
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	cfg.EvalTime = *evalTime
	cfg.EvalPoints = *evalPoints

	if opts.configFile != "" {
		loaded, err := LoadConfigFile(opts.configFile, cfg)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	return cfg, opts
}

func runResidualTraining(ctx context.Context, cfg *Config, quiet bool) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	trainer, err := NewTrainer(cfg, rng)
	if err != nil {
		return err
	}

	if !quiet {
		log.Printf("Network: %d -> %dx%d -> 1 (tanh)", cfg.Dim+1, cfg.Width, cfg.Depth)
		log.Printf("Samples: %d per set | Weights: pde=%g bnd=%g ic=%g/%g",
			cfg.Samples, cfg.Weights.PDE, cfg.Weights.Boundary, cfg.Weights.InitialDisp, cfg.Weights.InitialVel)
	}

	result, err := trainer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if result.Best == nil {
		return fmt.Errorf("no checkpoint recorded before shutdown")
	}
	if err := trainer.Model().Restore(result.Best); err != nil {
		return err
	}

	report := EvaluateModel(trainer.Model(), cfg.Dim, cfg.WaveSpeed, cfg.EvalPoints, cfg.EvalTime)

	if !quiet {
		log.Printf("=== Final Training Report ===")
		log.Printf("  Epochs run: %d", len(result.History))
		log.Printf("  Best epoch: %d", result.BestEpoch)
		log.Printf("  Best validation loss: %.3e", result.BestValLoss)
		log.Printf("  Training time: %.1fs", result.Elapsed.Seconds())
		if result.Elapsed > 0 {
			log.Printf("  Throughput: %.1f epochs/s", float64(len(result.History))/result.Elapsed.Seconds())
		}
		log.Printf("  Checkpoint: %s", cfg.CheckpointFile)
		log.Printf("  Eval grid: %d points at t=%.3f", report.Points, report.Time)
		log.Printf("  Relative L2 error: %.3e", report.RelL2)
		log.Printf("  Max absolute error: %.3e", report.MaxAbsErr)
	}
	return nil
}

func runOperatorTraining(ctx context.Context, cfg *Config, quiet bool) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := NewFNO3D(cfg.FNO, 4, rng)
	if err != nil {
		return err
	}

	if !quiet {
		log.Printf("Operator: grid %d^3, %d blocks of width %d, modes %d/%d/%d",
			cfg.FNO.GridSize, cfg.FNO.Blocks, cfg.FNO.Width,
			cfg.FNO.Modes1, cfg.FNO.Modes2, cfg.FNO.Modes3)
		log.Printf("Dataset: %d fields, target time %.3f", cfg.FNO.Samples, cfg.FNO.TargetTime)
	}

	samples := MakeWaveOperatorDataset(cfg.FNO, cfg.WaveSpeed, cfg.FNO.Samples, rng)
	result, err := model.Train(ctx, samples, cfg.ClipNorm, cfg.LogInterval)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if !quiet && len(result.History) > 0 {
		log.Printf("=== Final Operator Report ===")
		log.Printf("  Epochs run: %d", len(result.History))
		log.Printf("  Initial MSE: %.3e", result.History[0])
		log.Printf("  Final MSE: %.3e", result.History[len(result.History)-1])
		log.Printf("  Training time: %.1fs", result.Elapsed.Seconds())
	}
	return nil
}

func main() {
	cfg, opts := parseFlags()

	if opts.quiet {
		log.SetOutput(io.Discard)
	} else if opts.verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	if err := cfg.Validate(); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Invalid configuration: %v", err)
	}

	if opts.profileCPU != "" {
		f, err := os.Create(opts.profileCPU)
		if err != nil {
			log.Fatal("Could not create CPU profile:", err)
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("Could not start CPU profile:", err)
		}
		defer pprof.StopCPUProfile()
	}

	if !opts.quiet {
		log.Printf("Starting WavePINN v%s", Version)
		log.Printf("Mode: %s | Wave speed: %.3f | Seed: %d", cfg.Mode, cfg.WaveSpeed, cfg.Seed)
		log.Printf("CPU Cores: %d", runtime.NumCPU())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			if !opts.quiet {
				log.Println("Shutting down gracefully...")
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	var err error
	if cfg.Mode == "fno3d" {
		err = runOperatorTraining(ctx, cfg, opts.quiet)
	} else {
		err = runResidualTraining(ctx, cfg, opts.quiet)
	}
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("Training failed: %v", err)
	}

	if opts.profileMem != "" {
		f, err := os.Create(opts.profileMem)
		if err != nil {
			log.Printf("Could not create memory profile: %v", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Printf("Could not write memory profile: %v", err)
			}
		}
	}
}
