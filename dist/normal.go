package dist

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-sbi/tensor"
)

// Normal is an independent (diagonal-covariance) normal distribution.
type Normal struct {
	Mu    []float64
	Sigma []float64

	dims []distuv.Normal

	// Constant tensors reused by LogProb
	muRow       *tensor.Tensor
	invSigmaRow *tensor.Tensor
	logZ        float64
}

// NewNormal creates an independent normal distribution with the given
// per-dimension means and standard deviations
func NewNormal(mu, sigma []float64, src rand.Source) (*Normal, error) {
	if len(mu) == 0 || len(mu) != len(sigma) {
		return nil, fmt.Errorf("mean and sigma must be non-empty and equal length: got %d and %d", len(mu), len(sigma))
	}

	dims := make([]distuv.Normal, len(mu))
	invSigma := make([]float64, len(mu))
	logZ := 0.0
	for i := range mu {
		if sigma[i] <= 0 {
			return nil, fmt.Errorf("dimension %d: sigma must be positive, got %v", i, sigma[i])
		}
		dims[i] = distuv.Normal{Mu: mu[i], Sigma: sigma[i], Src: src}
		invSigma[i] = 1.0 / sigma[i]
		logZ += math.Log(sigma[i]) + 0.5*math.Log(2*math.Pi)
	}

	muRow, err := tensor.NewTensor([]int{1, len(mu)}, tensor.Float64, append([]float64(nil), mu...))
	if err != nil {
		return nil, fmt.Errorf("failed to create mean tensor: %v", err)
	}
	invSigmaRow, err := tensor.NewTensor([]int{1, len(mu)}, tensor.Float64, invSigma)
	if err != nil {
		return nil, fmt.Errorf("failed to create sigma tensor: %v", err)
	}

	return &Normal{
		Mu:          append([]float64(nil), mu...),
		Sigma:       append([]float64(nil), sigma...),
		dims:        dims,
		muRow:       muRow,
		invSigmaRow: invSigmaRow,
		logZ:        logZ,
	}, nil
}

// Dim returns the dimensionality
func (nd *Normal) Dim() int {
	return len(nd.Mu)
}

// Sample draws n vectors, shape [n, dim]
func (nd *Normal) Sample(n int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive: got %d", n)
	}

	d := nd.Dim()
	data := make([]float64, n*d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data[i*d+j] = nd.dims[j].Rand()
		}
	}

	return tensor.NewTensor([]int{n, d}, tensor.Float64, data)
}

// LogProb evaluates the per-row log-density, shape [n, 1]. Built from
// autograd operations, so a parameter batch that requires gradients receives
// the analytic score -(theta-mu)/sigma^2 through the graph.
func (nd *Normal) LogProb(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkBatch(theta, nd.Dim()); err != nil {
		return nil, err
	}

	diff, err := tensor.SubAutograd(theta, nd.muRow)
	if err != nil {
		return nil, fmt.Errorf("centering failed: %v", err)
	}

	scaled, err := tensor.MulAutograd(diff, nd.invSigmaRow)
	if err != nil {
		return nil, fmt.Errorf("scaling failed: %v", err)
	}

	squared, err := tensor.MulAutograd(scaled, scaled)
	if err != nil {
		return nil, fmt.Errorf("squaring failed: %v", err)
	}

	rowSums, err := tensor.SumAutograd(squared, 1, true)
	if err != nil {
		return nil, fmt.Errorf("row reduction failed: %v", err)
	}

	logProb, err := tensor.ScaleShiftAutograd(rowSums, -0.5, -nd.logZ)
	if err != nil {
		return nil, fmt.Errorf("normalization failed: %v", err)
	}

	return logProb, nil
}
