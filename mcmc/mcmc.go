// Package mcmc draws posterior samples from unnormalized log densities with
// Markov chain Monte Carlo. Chains operate in unconstrained parameter space;
// callers map bounded priors through a bijection first and transform the
// draws back afterwards.
package mcmc

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// Potential evaluates an unnormalized log density at a batch of positions.
// It takes a [n, dim] tensor and returns [n, 1] log values; -Inf marks
// positions outside the support.
type Potential func(theta *tensor.Tensor) (*tensor.Tensor, error)

// Sampling methods and chain initialization strategies.
const (
	MethodSlice = "slice"
	MethodMH    = "mh"

	InitSIR          = "sir"
	InitLatestSample = "latest_sample"
)

// Defaults applied when the corresponding config field is unset.
const (
	DefaultNumChains     = 100
	DefaultThin          = 10
	DefaultWarmupSteps   = 25
	DefaultSIRNumBatches = 100
	DefaultSIRBatchSize  = 1000
	DefaultMHStepSize    = 0.5
)

// Config controls how posterior chains are run.
type Config struct {
	Method        string
	NumChains     int
	Thin          int
	WarmupSteps   int
	InitStrategy  string
	SIRNumBatches int
	SIRBatchSize  int
	MHStepSize    float64
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = MethodSlice
	}
	if c.NumChains <= 0 {
		c.NumChains = DefaultNumChains
	}
	if c.Thin <= 0 {
		c.Thin = DefaultThin
	}
	if c.WarmupSteps <= 0 {
		c.WarmupSteps = DefaultWarmupSteps
	}
	if c.InitStrategy == "" {
		c.InitStrategy = InitSIR
	}
	if c.SIRNumBatches <= 0 {
		c.SIRNumBatches = DefaultSIRNumBatches
	}
	if c.SIRBatchSize <= 0 {
		c.SIRBatchSize = DefaultSIRBatchSize
	}
	if c.MHStepSize <= 0 {
		c.MHStepSize = DefaultMHStepSize
	}
	return c
}

// Validate checks the completed config
func (c *Config) Validate() error {
	if c.Method != MethodSlice && c.Method != MethodMH {
		return fmt.Errorf("unknown sampling method %q", c.Method)
	}
	if c.InitStrategy != InitSIR && c.InitStrategy != InitLatestSample {
		return fmt.Errorf("unknown init strategy %q", c.InitStrategy)
	}
	return nil
}

// evalOne scores a single position through the batched potential
func evalOne(p Potential, pos []float64) (float64, error) {
	theta, err := tensor.NewTensor([]int{1, len(pos)}, tensor.Float64, append([]float64(nil), pos...))
	if err != nil {
		return 0, err
	}
	out, err := p(theta)
	if err != nil {
		return 0, err
	}
	return out.Item()
}

// chain is one MCMC chain: run performs warmup plus keep*thin steps and
// returns every thin-th state; state reports the final position.
type chain interface {
	run(warmupSteps, keep, thin int) ([][]float64, error)
	state() []float64
}
