package transforms

import (
	"fmt"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/sim"
	"github.com/tsawler/go-sbi/tensor"
)

// TransformedPrior carries a prior across a transform: samples land in the
// unconstrained space and log-densities pick up the Jacobian correction, so
// the wrapped prior is the true pushforward density.
type TransformedPrior struct {
	prior dist.Distribution
	tf    Transform
}

// WrapPrior wraps a prior with a parameter transform
func WrapPrior(prior dist.Distribution, tf Transform) (*TransformedPrior, error) {
	if prior.Dim() != tf.Dim() {
		return nil, fmt.Errorf("prior dimension %d does not match transform dimension %d", prior.Dim(), tf.Dim())
	}
	return &TransformedPrior{prior: prior, tf: tf}, nil
}

// Dim returns the parameter dimension
func (p *TransformedPrior) Dim() int {
	return p.prior.Dim()
}

// Sample draws from the prior and maps the draws to unconstrained space
func (p *TransformedPrior) Sample(n int) (*tensor.Tensor, error) {
	theta, err := p.prior.Sample(n)
	if err != nil {
		return nil, err
	}
	return p.tf.Forward(theta)
}

// LogProb evaluates the pushforward density: the prior log-density at the
// back-transformed point minus the forward log-abs-det Jacobian there.
func (p *TransformedPrior) LogProb(z *tensor.Tensor) (*tensor.Tensor, error) {
	theta, err := p.tf.Inverse(z)
	if err != nil {
		return nil, err
	}

	logProb, err := p.prior.LogProb(theta)
	if err != nil {
		return nil, err
	}
	logAbsDet, err := p.tf.LogAbsDetJacobian(theta)
	if err != nil {
		return nil, err
	}

	return tensor.Sub(logProb, logAbsDet)
}

// WrapSimulator returns a simulator that accepts unconstrained parameters,
// back-transforming them before the wrapped simulator runs.
func WrapSimulator(inner sim.Simulator, tf Transform) sim.Simulator {
	return sim.Func(func(z *tensor.Tensor) (*tensor.Tensor, error) {
		theta, err := tf.Inverse(z)
		if err != nil {
			return nil, fmt.Errorf("parameter back-transform failed: %v", err)
		}
		return inner.Simulate(theta)
	})
}

// Sampler draws parameter batches, shape [n, dim].
type Sampler interface {
	Sample(n int) (*tensor.Tensor, error)
}

// TransformedSampler maps a sampler's draws back to the native parameter
// space. Wrapping a posterior that was built in unconstrained space returns
// its samples on the original scale.
type TransformedSampler struct {
	inner Sampler
	tf    Transform
}

// WrapSampler wraps a sampler with the inverse transform
func WrapSampler(inner Sampler, tf Transform) *TransformedSampler {
	return &TransformedSampler{inner: inner, tf: tf}
}

// Sample draws from the wrapped sampler and back-transforms the rows
func (s *TransformedSampler) Sample(n int) (*tensor.Tensor, error) {
	z, err := s.inner.Sample(n)
	if err != nil {
		return nil, err
	}
	return s.tf.Inverse(z)
}
