// Package inference contains the training loops: the SPA sequential
// posterior approximation (alternating likelihood and posterior flow
// training with mixture-of-proposals sampling) and a sequential neural
// ratio estimation runner built on the ratio and mcmc packages.
package inference

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/flows"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

// SPA defaults applied when the corresponding config field is unset.
const (
	DefaultEpochsHotStart     = 10
	DefaultValidationFraction = 0.1
	DefaultStopAfterEpochs    = 20
)

// SPAConfig holds the iteration schedules and training knobs of one SPA run.
// ProbPrior, NumSim, EpochsLik, NumPost and EpochsPost are parallel slices
// indexed by iteration; they must share one length.
type SPAConfig struct {
	// Per-iteration schedules.
	ProbPrior  []float64 // mixture probability of drawing from the prior
	NumSim     []int     // simulation budget for the likelihood update
	EpochsLik  []int     // epoch cap for the likelihood phase
	NumPost    []int     // posterior samples per epoch in the on-the-fly phase
	EpochsPost []int     // epoch cap for the on-the-fly phase

	// Observed data, one row of shape [1, xDim].
	Observation *tensor.Tensor

	BatchSize     int // likelihood and hot-start mini-batch size
	BatchSizePost int // on-the-fly mini-batch size

	EpochsHotStart     int
	ValidationFraction float64
	DecayRatePost      float64 // per-iteration geometric LR decay; 0 disables

	DisableEarlyStopping bool
	StopAfterEpochs      int
}

func (c SPAConfig) withDefaults() SPAConfig {
	if c.EpochsHotStart <= 0 {
		c.EpochsHotStart = DefaultEpochsHotStart
	}
	if c.ValidationFraction <= 0 {
		c.ValidationFraction = DefaultValidationFraction
	}
	if c.StopAfterEpochs <= 0 {
		c.StopAfterEpochs = DefaultStopAfterEpochs
	}
	return c
}

// Validate checks the completed config
func (c *SPAConfig) Validate() error {
	n := len(c.ProbPrior)
	if n == 0 {
		return fmt.Errorf("at least one iteration is required")
	}
	if len(c.NumSim) != n || len(c.EpochsLik) != n || len(c.NumPost) != n || len(c.EpochsPost) != n {
		return fmt.Errorf("schedule slices must share one length: got %d, %d, %d, %d, %d",
			n, len(c.NumSim), len(c.EpochsLik), len(c.NumPost), len(c.EpochsPost))
	}
	for i, p := range c.ProbPrior {
		if p < 0 || p > 1 {
			return fmt.Errorf("ProbPrior[%d] must be in [0, 1], got %v", i, p)
		}
	}
	if c.Observation == nil {
		return fmt.Errorf("observation is required")
	}
	if len(c.Observation.Shape) != 2 || c.Observation.Shape[0] != 1 {
		return fmt.Errorf("observation must be a single row of shape [1, xDim], got %v", c.Observation.Shape)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchSizePost <= 0 {
		return fmt.Errorf("posterior batch size must be positive, got %d", c.BatchSizePost)
	}
	for i, n := range c.NumPost {
		if n < c.BatchSizePost {
			return fmt.Errorf("NumPost[%d] = %d is below the posterior batch size %d", i, n, c.BatchSizePost)
		}
	}
	if c.ValidationFraction >= 1 {
		return fmt.Errorf("validation fraction must be below 1, got %v", c.ValidationFraction)
	}
	return nil
}

// InferSPA runs the SPA training loop: per iteration it draws parameters
// from a prior/posterior mixture, simulates data, refits the likelihood
// flow by maximum likelihood, refits the posterior flow against the learned
// likelihood and the prior, and snapshots both models. The returned slices
// hold one independent deep copy of each flow per iteration.
func InferSPA(cfg SPAConfig, likFlow, postFlow *flows.Flow, prior dist.Distribution,
	simulator sim.Simulator, optLik, optPost *training.Adam) ([]*flows.Flow, []*flows.Flow, error) {

	c := cfg.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid SPA config: %v", err)
	}

	iterations := len(c.ProbPrior)

	fmt.Println("start full training")

	modelsLik := make([]*flows.Flow, 0, iterations)
	modelsPost := make([]*flows.Flow, 0, iterations)

	baseLRPost := optPost.GetLR()
	scheduler := training.NewExponentialLRScheduler(c.DecayRatePost)

	for i := 0; i < iterations; i++ {
		if i >= 1 && c.DecayRatePost > 0 {
			optPost.SetLR(scheduler.GetLR(i, 0, baseLRPost))
		}

		fmt.Printf("Iteration: %d\n", i+1)
		fmt.Printf("optimizer_post_lr: %v\n", optPost.GetLR())
		fmt.Printf("prob_prior: %v\n", c.ProbPrior[i])

		theta, err := c.mixtureSample(i, prior, postFlow)
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: %v", i, err)
		}

		x, err := simulator.Simulate(theta)
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: simulation failed: %v", i, err)
		}

		err = trainLikelihood(likFlow, x, theta, c.EpochsLik[i], c.BatchSize, optLik,
			c.ValidationFraction, !c.DisableEarlyStopping, c.StopAfterEpochs)
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: likelihood phase failed: %v", i, err)
		}

		if i == 0 {
			err = trainPosteriorHotStart(postFlow, x, theta, c.EpochsHotStart, c.BatchSize,
				optPost, c.ValidationFraction)
			if err != nil {
				return nil, nil, fmt.Errorf("iteration %d: hot start failed: %v", i, err)
			}
		}

		err = trainPosteriorOnTheFly(postFlow, likFlow, prior, c.Observation, c.NumPost[i],
			c.EpochsPost[i], c.BatchSizePost, optPost, c.ValidationFraction,
			!c.DisableEarlyStopping, c.StopAfterEpochs)
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: posterior phase failed: %v", i, err)
		}

		snapLik, err := likFlow.Clone()
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: likelihood snapshot failed: %v", i, err)
		}
		snapPost, err := postFlow.Clone()
		if err != nil {
			return nil, nil, fmt.Errorf("iteration %d: posterior snapshot failed: %v", i, err)
		}
		modelsLik = append(modelsLik, snapLik)
		modelsPost = append(modelsPost, snapPost)
	}

	return modelsLik, modelsPost, nil
}

// mixtureSample draws the iteration's parameter batch: the prior share comes
// straight from the prior, the posterior share from the posterior flow
// conditioned on the observation with out-of-support rows rejected and the
// survivors detached from the flow's graph.
func (c *SPAConfig) mixtureSample(i int, prior dist.Distribution, postFlow *flows.Flow) (*tensor.Tensor, error) {
	nPrior := int(c.ProbPrior[i] * float64(c.NumSim[i]))
	nPost := int((1 - c.ProbPrior[i]) * float64(c.NumSim[i]))

	var thetaPrior *tensor.Tensor
	if nPrior > 0 {
		var err error
		thetaPrior, err = prior.Sample(nPrior)
		if err != nil {
			return nil, fmt.Errorf("prior sampling failed: %v", err)
		}
	}
	if nPost == 0 {
		if thetaPrior == nil {
			return nil, fmt.Errorf("empty parameter batch: NumSim[%d] = %d", i, c.NumSim[i])
		}
		return thetaPrior, nil
	}

	thetaPost, err := postFlow.Sample(nPost, c.Observation)
	if err != nil {
		return nil, fmt.Errorf("posterior sampling failed: %v", err)
	}
	thetaPost = thetaPost.Detach()

	kept, err := RejectOutsideSupport(prior, thetaPost)
	if err != nil {
		return nil, err
	}

	switch {
	case kept == nil && thetaPrior == nil:
		return nil, fmt.Errorf("empty parameter batch: all posterior draws rejected and no prior share")
	case kept == nil:
		return thetaPrior, nil
	case thetaPrior == nil:
		return kept, nil
	default:
		return tensor.Concat([]*tensor.Tensor{thetaPrior, kept}, 0)
	}
}

// RejectOutsideSupport keeps the rows whose prior log-density is finite.
// Returns nil when no row survives; returns theta itself when every row does.
func RejectOutsideSupport(prior dist.Distribution, theta *tensor.Tensor) (*tensor.Tensor, error) {
	logProbs, err := prior.LogProb(theta)
	if err != nil {
		return nil, fmt.Errorf("prior evaluation failed: %v", err)
	}

	values := logProbs.Data.([]float64)
	keep := make([]int, 0, len(values))
	for i, v := range values {
		if !math.IsInf(v, 0) {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil
	}
	if len(keep) == theta.Shape[0] {
		return theta, nil
	}
	return tensor.GatherRows(theta, keep)
}

// CalcProbPrior returns the exponentially decaying prior-mixture schedule
// exp(-lambda*i) for i = 0..iterations-1. Element 0 is always 1, and the
// sequence is non-increasing for lambda >= 0.
func CalcProbPrior(iterations int, lambda float64) []float64 {
	probs := make([]float64, iterations)
	for i := range probs {
		probs[i] = math.Exp(-lambda * float64(i))
	}
	return probs
}
