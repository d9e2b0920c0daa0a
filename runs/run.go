package runs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar"
	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/checkpoints"
	"github.com/tsawler/go-sbi/flows"
	"github.com/tsawler/go-sbi/inference"
	"github.com/tsawler/go-sbi/mcmc"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tasks"
	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// Result summarizes a finished run.
type Result struct {
	RunID          string
	Dir            string
	Samples        *tensor.Tensor
	NumSimulations int
	Duration       time.Duration
}

// Execute runs the configured benchmark and writes its artifacts under a
// fresh UUID-named directory in OutputDir. The config seed drives weight
// initialization and all statistical sampling, so runs with the same
// config are reproducible.
func Execute(cfg *Config) (*Result, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %v", err)
	}

	runID := uuid.NewString()
	dir := filepath.Join(cfg.OutputDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %v", err)
	}

	slog.Info("starting run", "run_id", runID, "name", cfg.Name, "task", cfg.Task,
		"algorithm", cfg.Algorithm, "seed", cfg.Seed, "dir", dir)

	training.SetRandomSeed(int64(cfg.Seed))
	rng := rand.New(rand.NewSource(cfg.Seed))
	task, err := tasks.New(cfg.Task, rand.NewSource(rng.Uint64()))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var samples *tensor.Tensor
	var numSims int
	switch cfg.Algorithm {
	case AlgorithmSNRE:
		samples, numSims, err = runSNRE(cfg, task, rand.NewSource(rng.Uint64()))
	case AlgorithmSPA:
		samples, numSims, err = runSPA(cfg, task, dir, runID, rand.NewSource(rng.Uint64()))
	}
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	if err := writeArtifacts(cfg, task, dir, runID, samples, numSims, duration); err != nil {
		return nil, err
	}

	slog.Info("run finished", "run_id", runID, "samples", samples.Shape[0],
		"simulations", numSims, "duration", duration.Round(time.Millisecond))

	return &Result{
		RunID:          runID,
		Dir:            dir,
		Samples:        samples,
		NumSimulations: numSims,
		Duration:       duration,
	}, nil
}

func runSNRE(cfg *Config, task tasks.Task, src rand.Source) (*tensor.Tensor, int, error) {
	s := cfg.SNRE

	var observation *tensor.Tensor
	if len(s.Observation) > 0 {
		var err error
		observation, err = tensor.NewTensor([]int{1, len(s.Observation)}, tensor.Float64,
			append([]float64(nil), s.Observation...))
		if err != nil {
			return nil, 0, err
		}
	}

	inferCfg := inference.SNREConfig{
		NumSamples:          s.NumSamples,
		NumSimulations:      s.NumSimulations,
		Observation:         observation,
		NumObservation:      s.NumObservation,
		NumRounds:           s.NumRounds,
		NeuralNet:           s.NeuralNet,
		HiddenFeatures:      s.HiddenFeatures,
		SimulationBatchSize: s.SimulationBatchSize,
		TrainingBatchSize:   s.TrainingBatchSize,
		Variant:             s.Variant,
		NumAtoms:            s.NumAtoms,
		MaxEpochs:           s.MaxEpochs,
		LRSchedule:          s.LRSchedule.Name,
		LRScheduleGamma:     s.LRSchedule.Gamma,
		LRScheduleStepSize:  s.LRSchedule.StepSize,
		MCMC: mcmc.Config{
			NumChains:     s.MCMC.NumChains,
			Thin:          s.MCMC.Thin,
			WarmupSteps:   s.MCMC.WarmupSteps,
			InitStrategy:  s.MCMC.InitStrategy,
			SIRNumBatches: s.MCMC.SIRNumBatches,
			SIRBatchSize:  s.MCMC.SIRBatchSize,
		},
		DisableTransforms:  s.DisableTransforms,
		DisableZScoreX:     s.DisableZScoreX,
		DisableZScoreTheta: s.DisableZScoreTheta,
	}

	if !cfg.Quiet {
		task = withProgress(task, s.NumSimulations)
	}
	res, err := inference.RunSNRE(inferCfg, task, src)
	if err != nil {
		return nil, 0, err
	}
	if !cfg.Quiet {
		fmt.Println()
	}
	return res.Samples, res.NumSimulations, nil
}

func runSPA(cfg *Config, task tasks.Task, dir, runID string, src rand.Source) (*tensor.Tensor, int, error) {
	s := cfg.SPA
	if s.Iterations <= 0 {
		return nil, 0, fmt.Errorf("spa iterations must be positive, got %d", s.Iterations)
	}

	numSim, err := expandSchedule("num_sim", s.NumSim, s.Iterations)
	if err != nil {
		return nil, 0, err
	}
	epochsLik, err := expandSchedule("epochs_lik", s.EpochsLik, s.Iterations)
	if err != nil {
		return nil, 0, err
	}
	numPost, err := expandSchedule("num_post", s.NumPost, s.Iterations)
	if err != nil {
		return nil, 0, err
	}
	epochsPost, err := expandSchedule("epochs_post", s.EpochsPost, s.Iterations)
	if err != nil {
		return nil, 0, err
	}

	var observation *tensor.Tensor
	switch {
	case len(s.Observation) > 0 && s.NumObservation > 0:
		return nil, 0, fmt.Errorf("exactly one of observation and num_observation must be set")
	case len(s.Observation) > 0:
		observation, err = tensor.NewTensor([]int{1, len(s.Observation)}, tensor.Float64,
			append([]float64(nil), s.Observation...))
		if err != nil {
			return nil, 0, err
		}
	case s.NumObservation > 0:
		observation, err = task.Observation(s.NumObservation)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load observation: %v", err)
		}
	default:
		return nil, 0, fmt.Errorf("exactly one of observation and num_observation must be set")
	}

	spaCfg := inference.SPAConfig{
		ProbPrior:      inference.CalcProbPrior(s.Iterations, s.DecayProbPrior),
		NumSim:         numSim,
		EpochsLik:      epochsLik,
		NumPost:        numPost,
		EpochsPost:     epochsPost,
		Observation:    observation,
		BatchSize:      s.BatchSize,
		BatchSizePost:  s.BatchSizePost,
		EpochsHotStart: s.EpochsHotStart,
		DecayRatePost:  s.DecayRatePost,
	}

	rng := rand.New(src)
	likFlow, err := flows.NewFlow(flows.Config{
		Dim:         task.XDim(),
		ContextDim:  task.ThetaDim(),
		NumLayers:   s.Flow.NumLayers,
		HiddenSizes: s.Flow.HiddenSizes,
		Clamp:       s.Flow.Clamp,
	}, rand.NewSource(rng.Uint64()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build likelihood flow: %v", err)
	}
	postFlow, err := flows.NewFlow(flows.Config{
		Dim:         task.ThetaDim(),
		ContextDim:  task.XDim(),
		NumLayers:   s.Flow.NumLayers,
		HiddenSizes: s.Flow.HiddenSizes,
		Clamp:       s.Flow.Clamp,
	}, rand.NewSource(rng.Uint64()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build posterior flow: %v", err)
	}
	optLik := training.NewAdamDefault(likFlow.Parameters(), s.LearningRateLik)
	optPost := training.NewAdamDefault(postFlow.Parameters(), s.LearningRatePost)

	counting := sim.Count(task.Simulator())
	var simulator sim.Simulator = counting
	if !cfg.Quiet {
		total := 0
		for _, n := range numSim {
			total += n
		}
		simulator = withSimulatorProgress(counting, total)
	}

	modelsLik, modelsPost, err := inference.InferSPA(spaCfg, likFlow, postFlow,
		task.Prior(), simulator, optLik, optPost)
	if err != nil {
		return nil, 0, err
	}
	if !cfg.Quiet {
		fmt.Println()
	}

	if s.SaveSnapshots {
		if err := saveSnapshots(dir, runID, s.SnapshotFormat, modelsLik, modelsPost); err != nil {
			return nil, 0, err
		}
	}

	final := modelsPost[len(modelsPost)-1]
	samples, err := final.Sample(s.NumSamples, observation)
	if err != nil {
		return nil, 0, fmt.Errorf("posterior sampling failed: %v", err)
	}
	samples = samples.Detach()

	kept, err := inference.RejectOutsideSupport(task.Prior(), samples)
	if err != nil {
		return nil, 0, err
	}
	if kept == nil {
		return nil, 0, fmt.Errorf("every posterior sample fell outside the prior support")
	}
	if kept.Shape[0] < samples.Shape[0] {
		slog.Warn("dropped posterior samples outside the prior support",
			"kept", kept.Shape[0], "drawn", samples.Shape[0])
	}
	return kept, counting.Simulations(), nil
}

// progressTask decorates a task so its simulator advances a progress bar as
// rows are simulated.
type progressTask struct {
	tasks.Task
	simulator sim.Simulator
}

func (p *progressTask) Simulator() sim.Simulator {
	return p.simulator
}

func withProgress(task tasks.Task, total int) tasks.Task {
	return &progressTask{Task: task, simulator: withSimulatorProgress(task.Simulator(), total)}
}

func withSimulatorProgress(inner sim.Simulator, total int) sim.Simulator {
	bar := progressbar.New(total)
	return sim.Func(func(theta *tensor.Tensor) (*tensor.Tensor, error) {
		x, err := inner.Simulate(theta)
		if err == nil {
			bar.Add(theta.Shape[0])
		}
		return x, err
	})
}

// saveSnapshots writes one checkpoint per SPA iteration for both flow
// families.
func saveSnapshots(dir, runID, format string, modelsLik, modelsPost []*flows.Flow) error {
	f, err := parseSnapshotFormat(format)
	if err != nil {
		return err
	}
	saver := checkpoints.NewCheckpointSaver(f)
	ext := "json"
	if f == checkpoints.FormatBinary {
		ext = "bin"
	}

	write := func(flow *flows.Flow, name string, iteration int) error {
		ckpt, err := checkpoints.FromFlow(flow, checkpoints.TrainingState{Iteration: iteration})
		if err != nil {
			return err
		}
		ckpt.Metadata.RunID = runID
		path := filepath.Join(dir, fmt.Sprintf("%s_%02d.%s", name, iteration, ext))
		return saver.SaveCheckpoint(ckpt, path)
	}

	for i, m := range modelsLik {
		if err := write(m, "likelihood", i+1); err != nil {
			return fmt.Errorf("failed to save likelihood snapshot %d: %v", i+1, err)
		}
	}
	for i, m := range modelsPost {
		if err := write(m, "posterior", i+1); err != nil {
			return fmt.Errorf("failed to save posterior snapshot %d: %v", i+1, err)
		}
	}
	return nil
}
