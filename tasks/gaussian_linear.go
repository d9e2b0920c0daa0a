package tasks

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tensor"
)

const gaussianLinearDim = 10
const gaussianLinearObservations = 10
const gaussianLinearReferenceSeed = 20011

// gaussianLinearSigma is sqrt(0.1): both the prior and the likelihood have
// covariance 0.1 times the identity.
var gaussianLinearSigma = math.Sqrt(0.1)

// GaussianLinear is the conjugate Gaussian benchmark task in 10 dimensions:
// a normal prior centered at zero and a simulator that adds isotropic normal
// noise to the parameters. The true posterior is available in closed form,
// which makes the task a calibration reference.
type GaussianLinear struct {
	prior *dist.Normal
	rng   *rand.Rand
}

// NewGaussianLinear creates the task with the given random source
func NewGaussianLinear(src rand.Source) (*GaussianLinear, error) {
	mu := make([]float64, gaussianLinearDim)
	sigma := make([]float64, gaussianLinearDim)
	for i := range sigma {
		sigma[i] = gaussianLinearSigma
	}

	prior, err := dist.NewNormal(mu, sigma, src)
	if err != nil {
		return nil, fmt.Errorf("failed to create gaussian linear prior: %v", err)
	}
	return &GaussianLinear{prior: prior, rng: rand.New(src)}, nil
}

// Name returns the task identifier
func (t *GaussianLinear) Name() string {
	return "gaussian_linear"
}

// ThetaDim returns the parameter dimension
func (t *GaussianLinear) ThetaDim() int {
	return gaussianLinearDim
}

// XDim returns the observation dimension
func (t *GaussianLinear) XDim() int {
	return gaussianLinearDim
}

// Prior returns the zero-centered normal prior
func (t *GaussianLinear) Prior() dist.Distribution {
	return t.prior
}

// Simulator returns the task simulator
func (t *GaussianLinear) Simulator() sim.Simulator {
	return sim.Func(func(theta *tensor.Tensor) (*tensor.Tensor, error) {
		return t.simulateWith(t.rng, theta)
	})
}

func (t *GaussianLinear) simulateWith(rng *rand.Rand, theta *tensor.Tensor) (*tensor.Tensor, error) {
	if len(theta.Shape) != 2 || theta.Shape[1] != gaussianLinearDim {
		return nil, fmt.Errorf("gaussian linear expects [n %d] parameters, got shape %v", gaussianLinearDim, theta.Shape)
	}

	n := theta.Shape[0]
	params := theta.Data.([]float64)
	out := make([]float64, len(params))
	for i := range out {
		out[i] = params[i] + gaussianLinearSigma*rng.NormFloat64()
	}

	return tensor.NewTensor([]int{n, gaussianLinearDim}, tensor.Float64, out)
}

// NumObservations returns the count of reference observations
func (t *GaussianLinear) NumObservations() int {
	return gaussianLinearObservations
}

func (t *GaussianLinear) reference(num int) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkObservationNumber(num, gaussianLinearObservations); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(gaussianLinearReferenceSeed + uint64(num)))
	values := make([]float64, gaussianLinearDim)
	for i := range values {
		values[i] = gaussianLinearSigma * rng.NormFloat64()
	}
	theta, err := tensor.NewTensor([]int{1, gaussianLinearDim}, tensor.Float64, values)
	if err != nil {
		return nil, nil, err
	}

	x, err := t.simulateWith(rng, theta)
	if err != nil {
		return nil, nil, err
	}
	return theta, x, nil
}

// Observation returns reference observation num, shape [1, 10]
func (t *GaussianLinear) Observation(num int) (*tensor.Tensor, error) {
	_, x, err := t.reference(num)
	return x, err
}

// TrueParameters returns the parameters that generated observation num
func (t *GaussianLinear) TrueParameters(num int) (*tensor.Tensor, error) {
	theta, _, err := t.reference(num)
	return theta, err
}
