package tasks

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tensor"
)

const twoMoonsObservations = 10
const twoMoonsReferenceSeed = 10007

// TwoMoons is the crescent-shaped bimodal benchmark task: a uniform prior
// over [-1, 1]^2 and a simulator that places a noisy point on a half-moon
// arc, then offsets it by a rotation of the parameters. The absolute value
// in the offset makes the posterior two-moon shaped.
type TwoMoons struct {
	prior *dist.BoxUniform
	rng   *rand.Rand
}

// NewTwoMoons creates the task with the given random source
func NewTwoMoons(src rand.Source) (*TwoMoons, error) {
	prior, err := dist.NewBoxUniform([]float64{-1, -1}, []float64{1, 1}, src)
	if err != nil {
		return nil, fmt.Errorf("failed to create two moons prior: %v", err)
	}
	return &TwoMoons{prior: prior, rng: rand.New(src)}, nil
}

// Name returns the task identifier
func (t *TwoMoons) Name() string {
	return "two_moons"
}

// ThetaDim returns the parameter dimension
func (t *TwoMoons) ThetaDim() int {
	return 2
}

// XDim returns the observation dimension
func (t *TwoMoons) XDim() int {
	return 2
}

// Prior returns the uniform prior over [-1, 1]^2
func (t *TwoMoons) Prior() dist.Distribution {
	return t.prior
}

// Simulator returns the task simulator
func (t *TwoMoons) Simulator() sim.Simulator {
	return sim.Func(func(theta *tensor.Tensor) (*tensor.Tensor, error) {
		return t.simulateWith(t.rng, theta)
	})
}

func (t *TwoMoons) simulateWith(rng *rand.Rand, theta *tensor.Tensor) (*tensor.Tensor, error) {
	if len(theta.Shape) != 2 || theta.Shape[1] != 2 {
		return nil, fmt.Errorf("two moons expects [n 2] parameters, got shape %v", theta.Shape)
	}

	n := theta.Shape[0]
	params := theta.Data.([]float64)
	out := make([]float64, n*2)
	for i := 0; i < n; i++ {
		a := math.Pi * (rng.Float64() - 0.5)
		r := 0.1 + 0.01*rng.NormFloat64()

		t1 := params[i*2]
		t2 := params[i*2+1]
		out[i*2] = r*math.Cos(a) + 0.25 - math.Abs(t1+t2)/math.Sqrt2
		out[i*2+1] = r*math.Sin(a) + (t2-t1)/math.Sqrt2
	}

	return tensor.NewTensor([]int{n, 2}, tensor.Float64, out)
}

// NumObservations returns the count of reference observations
func (t *TwoMoons) NumObservations() int {
	return twoMoonsObservations
}

// reference draws the generating parameters and the observation for a
// numbered reference case from its own fixed seed.
func (t *TwoMoons) reference(num int) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkObservationNumber(num, twoMoonsObservations); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(twoMoonsReferenceSeed + uint64(num)))
	theta, err := tensor.NewTensor([]int{1, 2}, tensor.Float64, []float64{
		2*rng.Float64() - 1,
		2*rng.Float64() - 1,
	})
	if err != nil {
		return nil, nil, err
	}

	x, err := t.simulateWith(rng, theta)
	if err != nil {
		return nil, nil, err
	}
	return theta, x, nil
}

// Observation returns reference observation num, shape [1, 2]
func (t *TwoMoons) Observation(num int) (*tensor.Tensor, error) {
	_, x, err := t.reference(num)
	return x, err
}

// TrueParameters returns the parameters that generated observation num
func (t *TwoMoons) TrueParameters(num int) (*tensor.Tensor, error) {
	theta, _, err := t.reference(num)
	return theta, err
}
