package flows

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/tensor"
)

// standardNormal is the base distribution shared by all flows in this
// package: an isotropic unit normal over the feature space.
type standardNormal struct {
	dim int
}

// logProb evaluates -0.5*||z||^2 - (dim/2)*log(2*pi) per row, built from
// autograd ops so gradients reach z when it carries a graph.
func (b standardNormal) logProb(z *tensor.Tensor) (*tensor.Tensor, error) {
	squared, err := tensor.MulAutograd(z, z)
	if err != nil {
		return nil, err
	}
	rowSums, err := tensor.SumAutograd(squared, 1, true)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleShiftAutograd(rowSums, -0.5, -0.5*float64(b.dim)*math.Log(2*math.Pi))
}

// sample draws n base-space rows
func (b standardNormal) sample(n int, rng *rand.Rand) (*tensor.Tensor, error) {
	data := make([]float64, n*b.dim)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensor.NewTensor([]int{n, b.dim}, tensor.Float64, data)
}

// sampleWithLogProb draws n rows and their log-densities in one pass. The
// results are plain value tensors: fresh noise is a leaf of any later graph.
func (b standardNormal) sampleWithLogProb(n int, rng *rand.Rand) (*tensor.Tensor, *tensor.Tensor, error) {
	noise, err := b.sample(n, rng)
	if err != nil {
		return nil, nil, err
	}

	logConst := -0.5 * float64(b.dim) * math.Log(2*math.Pi)
	data := noise.Data.([]float64)
	lp := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < b.dim; j++ {
			v := data[i*b.dim+j]
			sum += v * v
		}
		lp[i] = -0.5*sum + logConst
	}

	logProb, err := tensor.NewTensor([]int{n, 1}, tensor.Float64, lp)
	if err != nil {
		return nil, nil, err
	}

	return noise, logProb, nil
}
