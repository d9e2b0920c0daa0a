package mcmc

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/tensor"
)

// Posterior draws parameter samples from a potential with MCMC. It keeps the
// final chain states, so a posterior built in a later round can resume from
// them through CopyHyperparameters and the "latest_sample" init strategy.
type Posterior struct {
	potential Potential
	proposal  dist.Distribution
	cfg       Config
	rng       *rand.Rand
	latest    *tensor.Tensor
}

// NewPosterior creates a posterior sampler over the potential. The proposal
// supplies candidate draws for SIR initialization and fixes the parameter
// dimension.
func NewPosterior(potential Potential, proposal dist.Distribution, cfg Config, src rand.Source) (*Posterior, error) {
	if potential == nil {
		return nil, fmt.Errorf("potential function is required")
	}
	if proposal == nil {
		return nil, fmt.Errorf("proposal distribution is required")
	}

	c := cfg.withDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid MCMC config: %v", err)
	}

	return &Posterior{
		potential: potential,
		proposal:  proposal,
		cfg:       c,
		rng:       rand.New(src),
	}, nil
}

// Config returns the completed configuration the posterior runs with.
func (p *Posterior) Config() Config {
	return p.cfg
}

// LatestSample returns the final chain states of the most recent Sample
// call, or nil before the first call.
func (p *Posterior) LatestSample() *tensor.Tensor {
	return p.latest
}

// CopyHyperparameters adopts the stored chain states of a previous
// posterior, so this one can initialize with the "latest_sample" strategy.
func (p *Posterior) CopyHyperparameters(prev *Posterior) error {
	if prev == nil || prev.latest == nil {
		return nil
	}
	clone, err := prev.latest.Clone()
	if err != nil {
		return fmt.Errorf("failed to copy chain states: %v", err)
	}
	p.latest = clone
	return nil
}

func (p *Posterior) initPositions() ([][]float64, error) {
	positions := make([][]float64, p.cfg.NumChains)

	switch p.cfg.InitStrategy {
	case InitSIR:
		for i := range positions {
			pos, err := sirInit(p.potential, p.proposal, p.cfg.SIRNumBatches, p.cfg.SIRBatchSize, p.rng)
			if err != nil {
				return nil, fmt.Errorf("chain %d init failed: %v", i, err)
			}
			positions[i] = pos
		}
	case InitLatestSample:
		if p.latest == nil {
			return nil, fmt.Errorf("no stored chain states for %q init", InitLatestSample)
		}
		data := p.latest.Data.([]float64)
		rows, dim := p.latest.Shape[0], p.latest.Shape[1]
		for i := range positions {
			row := i % rows
			positions[i] = append([]float64(nil), data[row*dim:(row+1)*dim]...)
		}
	default:
		return nil, fmt.Errorf("unknown init strategy %q", p.cfg.InitStrategy)
	}

	return positions, nil
}

// Sample pools n draws across the configured chains. Each chain runs its
// warmup and then keeps every thin-th state until the pool is full; the
// final states are retained for warm starts.
func (p *Posterior) Sample(n int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	positions, err := p.initPositions()
	if err != nil {
		return nil, err
	}

	dim := p.proposal.Dim()
	perChain := (n + p.cfg.NumChains - 1) / p.cfg.NumChains

	pool := make([][]float64, 0, perChain*p.cfg.NumChains)
	finals := make([]float64, 0, p.cfg.NumChains*dim)
	for i, init := range positions {
		var c chain
		switch p.cfg.Method {
		case MethodSlice:
			c = newSliceChain(p.potential, init, p.rng)
		case MethodMH:
			mh, err := newMHChain(p.potential, init, p.cfg.MHStepSize, p.rng)
			if err != nil {
				return nil, fmt.Errorf("chain %d: %v", i, err)
			}
			c = mh
		default:
			return nil, fmt.Errorf("unknown sampling method %q", p.cfg.Method)
		}

		rows, err := c.run(p.cfg.WarmupSteps, perChain, p.cfg.Thin)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %v", i, err)
		}
		pool = append(pool, rows...)
		finals = append(finals, c.state()...)
	}

	latest, err := tensor.NewTensor([]int{p.cfg.NumChains, dim}, tensor.Float64, finals)
	if err != nil {
		return nil, err
	}
	p.latest = latest

	flat := make([]float64, 0, n*dim)
	for _, row := range pool[:n] {
		flat = append(flat, row...)
	}
	return tensor.NewTensor([]int{n, dim}, tensor.Float64, flat)
}
