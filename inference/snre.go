package inference

import (
	"fmt"
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/mcmc"
	"github.com/tsawler/go-sbi/ratio"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tasks"
	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/transforms"
)

// SNRE defaults applied when the corresponding config field is unset.
const (
	DefaultNumRounds           = 10
	DefaultNeuralNet           = "resnet"
	DefaultHiddenFeatures      = 50
	DefaultSimulationBatchSize = 1000
	DefaultTrainingBatchSize   = 1000
	DefaultVariant             = ratio.VariantB
)

// SNREConfig controls one sequential neural ratio estimation run.
type SNREConfig struct {
	NumSamples     int // posterior draws returned after the final round
	NumSimulations int // total simulation budget across all rounds

	// Observation selection: exactly one of Observation (a [1, xDim] row) or
	// NumObservation (a task observation number) must be set.
	Observation    *tensor.Tensor
	NumObservation int

	NumRounds           int
	NeuralNet           string // classifier model: linear, mlp or resnet
	HiddenFeatures      int
	SimulationBatchSize int
	TrainingBatchSize   int
	Variant             string // "A" (pairwise logistic) or "B" (atom contrastive)
	NumAtoms            int    // -1 means use the training batch size
	MaxEpochs           int    // classifier epoch cap per round; 0 uses the ratio default

	// Classifier learning-rate schedule, as in ratio.TrainConfig.
	LRSchedule         string
	LRScheduleGamma    float64
	LRScheduleStepSize int

	MCMC mcmc.Config

	DisableTransforms  bool
	DisableZScoreX     bool
	DisableZScoreTheta bool
}

func (c SNREConfig) withDefaults() SNREConfig {
	if c.NumRounds <= 0 {
		c.NumRounds = DefaultNumRounds
	}
	if c.NeuralNet == "" {
		c.NeuralNet = DefaultNeuralNet
	}
	if c.HiddenFeatures <= 0 {
		c.HiddenFeatures = DefaultHiddenFeatures
	}
	if c.SimulationBatchSize <= 0 {
		c.SimulationBatchSize = DefaultSimulationBatchSize
	}
	if c.TrainingBatchSize <= 0 {
		c.TrainingBatchSize = DefaultTrainingBatchSize
	}
	if c.Variant == "" {
		c.Variant = DefaultVariant
	}
	return c
}

// Validate checks the completed config
func (c *SNREConfig) Validate() error {
	if c.NumSamples <= 0 {
		return fmt.Errorf("number of posterior samples must be positive, got %d", c.NumSamples)
	}
	if c.NumSimulations <= 0 {
		return fmt.Errorf("simulation budget must be positive, got %d", c.NumSimulations)
	}
	if (c.Observation == nil) == (c.NumObservation == 0) {
		return fmt.Errorf("exactly one of Observation and NumObservation must be set")
	}
	if c.Observation != nil && (len(c.Observation.Shape) != 2 || c.Observation.Shape[0] != 1) {
		return fmt.Errorf("observation must be a single row of shape [1, xDim], got %v", c.Observation.Shape)
	}
	if c.Variant != ratio.VariantA && c.Variant != ratio.VariantB {
		return fmt.Errorf("unknown SNRE variant %q", c.Variant)
	}
	switch c.NeuralNet {
	case "linear", "mlp", "resnet":
	default:
		return fmt.Errorf("unknown classifier network %q", c.NeuralNet)
	}
	return nil
}

// SNREResult is the outcome of a RunSNRE call.
type SNREResult struct {
	// Posteriors holds one posterior per round, in parameter space (mapped
	// back through the automatic transform unless transforms are disabled).
	Posteriors []transforms.Sampler

	// Samples are NumSamples draws from the final round's posterior.
	Samples *tensor.Tensor

	// NumSimulations is the number of simulator rows actually consumed.
	NumSimulations int
}

// RunSNRE runs sequential neural ratio estimation on a task: each round
// simulates from the current proposal, retrains the shared ratio classifier
// on all rounds' pairs, and rebuilds an MCMC posterior over the ratio-times-
// prior potential at the observation, which becomes the next proposal.
// Round 1 onward adopts the previous round's chain states; round 2 onward
// also switches chain initialization to those states.
func RunSNRE(cfg SNREConfig, task tasks.Task, src rand.Source) (*SNREResult, error) {
	c := cfg.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SNRE config: %v", err)
	}

	perRound := c.NumSimulations
	if c.NumRounds == 1 {
		slog.Info("running NRE", "task", task.Name(), "simulations", c.NumSimulations)
	} else {
		perRound = c.NumSimulations / c.NumRounds
		slog.Info("running SNRE", "task", task.Name(), "rounds", c.NumRounds,
			"simulations_per_round", perRound)
	}

	simBatch := c.SimulationBatchSize
	if simBatch > perRound {
		simBatch = perRound
		slog.Warn("reduced simulation batch size to the per-round budget", "batch_size", simBatch)
	}
	trainBatch := c.TrainingBatchSize
	if trainBatch > perRound {
		trainBatch = perRound
		slog.Warn("reduced training batch size to the per-round budget", "batch_size", trainBatch)
	}
	numAtoms := c.NumAtoms
	if numAtoms == -1 {
		numAtoms = trainBatch
	}

	observation := c.Observation
	if observation == nil {
		var err error
		observation, err = task.Observation(c.NumObservation)
		if err != nil {
			return nil, fmt.Errorf("failed to load observation: %v", err)
		}
	}

	counting := sim.Count(task.Simulator())
	capped, err := sim.WithBudget(counting, c.NumSimulations)
	if err != nil {
		return nil, err
	}

	prior := task.Prior()
	tf, err := transforms.ForPrior(prior)
	if err != nil {
		return nil, fmt.Errorf("failed to build parameter transform: %v", err)
	}

	var inferPrior = prior
	var simulator sim.Simulator = capped
	if !c.DisableTransforms {
		wrapped, err := transforms.WrapPrior(prior, tf)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap prior: %v", err)
		}
		inferPrior = wrapped
		simulator = transforms.WrapSimulator(capped, tf)
	}

	est, err := ratio.NewRatioEstimator(task.ThetaDim(), task.XDim(), ratio.ClassifierConfig{
		Model:      c.NeuralNet,
		HiddenSize: c.HiddenFeatures,
	})
	if err != nil {
		return nil, err
	}

	rng := rand.New(src)
	ds := ratio.NewDataset()

	var proposal transforms.Sampler = inferPrior
	posteriors := make([]*mcmc.Posterior, 0, c.NumRounds)

	for r := 0; r < c.NumRounds; r++ {
		theta, x, err := simulateRound(simulator, proposal, perRound, simBatch)
		if err != nil {
			return nil, fmt.Errorf("round %d: %v", r, err)
		}

		if r == 0 {
			err := est.FitStandardizers(theta, x, !c.DisableZScoreTheta, !c.DisableZScoreX)
			if err != nil {
				return nil, fmt.Errorf("round %d: standardization failed: %v", r, err)
			}
		}

		if err := ds.Append(theta, x, r); err != nil {
			return nil, fmt.Errorf("round %d: %v", r, err)
		}

		trained, err := ratio.Train(est, ds, ratio.TrainConfig{
			Variant:          c.Variant,
			NumAtoms:         numAtoms,
			BatchSize:        trainBatch,
			MaxEpochs:        c.MaxEpochs,
			Schedule:         c.LRSchedule,
			ScheduleGamma:    c.LRScheduleGamma,
			ScheduleStepSize: c.LRScheduleStepSize,
		}, rand.NewSource(rng.Uint64()))
		if err != nil {
			return nil, fmt.Errorf("round %d: classifier training failed: %v", r, err)
		}
		slog.Info("classifier round finished", "round", r, "epochs", trained.Epochs,
			"best_eval_loss", trained.BestEvalLoss, "accuracy", trained.Accuracy, "auc", trained.AUC)

		mcmcCfg := c.MCMC
		if r > 1 {
			mcmcCfg.InitStrategy = mcmc.InitLatestSample
		}
		posterior, err := mcmc.NewPosterior(ratioPotential(est, observation, inferPrior),
			inferPrior, mcmcCfg, rand.NewSource(rng.Uint64()))
		if err != nil {
			return nil, fmt.Errorf("round %d: %v", r, err)
		}
		if r > 0 {
			if err := posterior.CopyHyperparameters(posteriors[r-1]); err != nil {
				return nil, fmt.Errorf("round %d: %v", r, err)
			}
		}

		posteriors = append(posteriors, posterior)
		proposal = posterior
	}

	result := &SNREResult{Posteriors: make([]transforms.Sampler, len(posteriors))}
	for i, p := range posteriors {
		if c.DisableTransforms {
			result.Posteriors[i] = p
		} else {
			result.Posteriors[i] = transforms.WrapSampler(p, tf)
		}
	}

	samples, err := result.Posteriors[len(result.Posteriors)-1].Sample(c.NumSamples)
	if err != nil {
		return nil, fmt.Errorf("final posterior sampling failed: %v", err)
	}
	result.Samples = samples.Detach()

	result.NumSimulations = counting.Simulations()
	if result.NumSimulations != c.NumSimulations {
		return nil, fmt.Errorf("simulator made %d simulations, expected %d",
			result.NumSimulations, c.NumSimulations)
	}

	return result, nil
}

// simulateRound draws one round's parameters from the proposal and simulates
// them in batches.
func simulateRound(simulator sim.Simulator, proposal transforms.Sampler, n, batchSize int) (*tensor.Tensor, *tensor.Tensor, error) {
	theta, err := proposal.Sample(n)
	if err != nil {
		return nil, nil, fmt.Errorf("proposal sampling failed: %v", err)
	}
	theta = theta.Detach()

	chunks := make([]*tensor.Tensor, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		batch, err := tensor.GatherRows(theta, idx)
		if err != nil {
			return nil, nil, err
		}
		x, err := simulator.Simulate(batch)
		if err != nil {
			return nil, nil, fmt.Errorf("simulation failed: %v", err)
		}
		chunks = append(chunks, x)
	}

	x, err := tensor.Concat(chunks, 0)
	if err != nil {
		return nil, nil, err
	}
	return theta, x, nil
}

// ratioPotential builds the unnormalized posterior log density at the
// observation: the classifier's log ratio plus the prior log density.
func ratioPotential(est *ratio.RatioEstimator, observation *tensor.Tensor, prior dist.Distribution) mcmc.Potential {
	return func(theta *tensor.Tensor) (*tensor.Tensor, error) {
		ratios, err := est.LogRatio(theta, observation)
		if err != nil {
			return nil, fmt.Errorf("ratio evaluation failed: %v", err)
		}
		priorLP, err := prior.LogProb(theta)
		if err != nil {
			return nil, fmt.Errorf("prior evaluation failed: %v", err)
		}
		return tensor.Add(ratios.Detach(), priorLP)
	}
}
