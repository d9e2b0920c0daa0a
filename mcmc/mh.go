package mcmc

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// mhChain runs a random-walk Metropolis chain with an isotropic Gaussian
// proposal.
type mhChain struct {
	potential Potential
	x         []float64
	logp      float64
	proposal  *distmv.Normal
	rng       *rand.Rand
}

func newMHChain(potential Potential, init []float64, stepSize float64, rng *rand.Rand) (*mhChain, error) {
	d := len(init)
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		cov.SetSym(i, i, stepSize*stepSize)
	}
	proposal, ok := distmv.NewNormal(make([]float64, d), cov, rng)
	if !ok {
		return nil, fmt.Errorf("failed to build Gaussian proposal for step size %v", stepSize)
	}

	logp, err := evalOne(potential, init)
	if err != nil {
		return nil, err
	}
	if math.IsInf(logp, -1) || math.IsNaN(logp) {
		return nil, fmt.Errorf("chain initialized outside the support")
	}

	return &mhChain{
		potential: potential,
		x:         append([]float64(nil), init...),
		logp:      logp,
		proposal:  proposal,
		rng:       rng,
	}, nil
}

func (c *mhChain) state() []float64 {
	return append([]float64(nil), c.x...)
}

func (c *mhChain) run(warmupSteps, keep, thin int) ([][]float64, error) {
	samples := make([][]float64, 0, keep)
	total := warmupSteps + keep*thin
	for s := 0; s < total; s++ {
		if err := c.advance(); err != nil {
			return nil, err
		}
		if s >= warmupSteps && (s-warmupSteps+1)%thin == 0 {
			samples = append(samples, append([]float64(nil), c.x...))
		}
	}
	return samples, nil
}

func (c *mhChain) advance() error {
	step := c.proposal.Rand(nil)
	candidate := make([]float64, len(c.x))
	floats.AddTo(candidate, c.x, step)

	lp, err := evalOne(c.potential, candidate)
	if err != nil {
		return err
	}
	if math.Log(1-c.rng.Float64()) < lp-c.logp {
		c.x = candidate
		c.logp = lp
	}
	return nil
}
