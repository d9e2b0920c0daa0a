package mcmc

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

const (
	initialBracketWidth = 0.01

	// Cap on stepping-out iterations, so a potential without decaying tails
	// fails with an error instead of walking forever.
	maxBracketSteps = 10000
)

// sliceChain runs coordinate-wise slice sampling with stepping-out brackets.
// Bracket widths adapt during warmup by averaging the widths the sampler
// actually used.
type sliceChain struct {
	potential Potential
	x         []float64
	width     []float64
	rng       *rand.Rand
}

func newSliceChain(potential Potential, init []float64, rng *rand.Rand) *sliceChain {
	width := make([]float64, len(init))
	for i := range width {
		width[i] = initialBracketWidth
	}
	return &sliceChain{
		potential: potential,
		x:         append([]float64(nil), init...),
		width:     width,
		rng:       rng,
	}
}

func (c *sliceChain) state() []float64 {
	return append([]float64(nil), c.x...)
}

func (c *sliceChain) run(warmupSteps, keep, thin int) ([][]float64, error) {
	for i := 0; i < warmupSteps; i++ {
		if err := c.sweep(i, true); err != nil {
			return nil, err
		}
	}

	samples := make([][]float64, 0, keep)
	for s := 0; s < keep*thin; s++ {
		if err := c.sweep(0, false); err != nil {
			return nil, err
		}
		if (s+1)%thin == 0 {
			samples = append(samples, append([]float64(nil), c.x...))
		}
	}
	return samples, nil
}

// sweep resamples every coordinate once in random order. During warmup the
// observed bracket widths update the per-dimension width as a running mean.
func (c *sliceChain) sweep(iteration int, tune bool) error {
	for _, dim := range c.rng.Perm(len(c.x)) {
		value, bracket, err := c.sampleConditional(dim)
		if err != nil {
			return err
		}
		c.x[dim] = value
		if tune {
			c.width[dim] += (bracket - c.width[dim]) / float64(iteration+1)
		}
	}
	return nil
}

func (c *sliceChain) logProbAt(dim int, value float64) (float64, error) {
	old := c.x[dim]
	c.x[dim] = value
	lp, err := evalOne(c.potential, c.x)
	c.x[dim] = old
	return lp, err
}

// sampleConditional draws a new value for one coordinate: place a random
// bracket around the current point, step both ends out until they leave the
// slice, then sample uniformly inside with shrinkage on rejection. Returns
// the new value and the final bracket width.
func (c *sliceChain) sampleConditional(dim int) (float64, float64, error) {
	xi := c.x[dim]
	wi := c.width[dim]

	current, err := evalOne(c.potential, c.x)
	if err != nil {
		return 0, 0, err
	}
	logu := current + math.Log(1-c.rng.Float64())

	lower := xi - wi*c.rng.Float64()
	upper := lower + wi

	for steps := 0; ; steps++ {
		if steps >= maxBracketSteps {
			return 0, 0, fmt.Errorf("slice bracket failed to close below dimension %d", dim)
		}
		lp, err := c.logProbAt(dim, lower)
		if err != nil {
			return 0, 0, err
		}
		if lp < logu {
			break
		}
		lower -= wi
	}
	for steps := 0; ; steps++ {
		if steps >= maxBracketSteps {
			return 0, 0, fmt.Errorf("slice bracket failed to close above dimension %d", dim)
		}
		lp, err := c.logProbAt(dim, upper)
		if err != nil {
			return 0, 0, err
		}
		if lp < logu {
			break
		}
		upper += wi
	}

	for {
		value := lower + (upper-lower)*c.rng.Float64()
		lp, err := c.logProbAt(dim, value)
		if err != nil {
			return 0, 0, err
		}
		if lp >= logu {
			return value, upper - lower, nil
		}
		if value < xi {
			lower = value
		} else {
			upper = value
		}
	}
}
