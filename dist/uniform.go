package dist

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-sbi/tensor"
)

// BoxUniform is a uniform distribution over an axis-aligned box, the usual
// prior for benchmark inference tasks.
type BoxUniform struct {
	Low  []float64
	High []float64

	dims []distuv.Uniform
}

// NewBoxUniform creates a box-uniform distribution with the given bounds
func NewBoxUniform(low, high []float64, src rand.Source) (*BoxUniform, error) {
	if len(low) == 0 || len(low) != len(high) {
		return nil, fmt.Errorf("bounds must be non-empty and equal length: got %d and %d", len(low), len(high))
	}

	dims := make([]distuv.Uniform, len(low))
	for i := range low {
		if low[i] >= high[i] {
			return nil, fmt.Errorf("dimension %d: lower bound %v must be below upper bound %v", i, low[i], high[i])
		}
		dims[i] = distuv.Uniform{Min: low[i], Max: high[i], Src: src}
	}

	return &BoxUniform{
		Low:  append([]float64(nil), low...),
		High: append([]float64(nil), high...),
		dims: dims,
	}, nil
}

// Dim returns the dimensionality of the box
func (b *BoxUniform) Dim() int {
	return len(b.Low)
}

// Sample draws n vectors uniformly from the box, shape [n, dim]
func (b *BoxUniform) Sample(n int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive: got %d", n)
	}

	d := b.Dim()
	data := make([]float64, n*d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data[i*d+j] = b.dims[j].Rand()
		}
	}

	return tensor.NewTensor([]int{n, d}, tensor.Float64, data)
}

// LogProb evaluates the per-row log-density, shape [n, 1]. Rows outside the
// box get -Inf. The density is flat inside the support, so no gradient flows
// through this term.
func (b *BoxUniform) LogProb(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkBatch(theta, b.Dim()); err != nil {
		return nil, err
	}

	n := theta.Shape[0]
	d := b.Dim()
	data, err := theta.GetFloat64Data()
	if err != nil {
		return nil, err
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < d; j++ {
			sum += b.dims[j].LogProb(data[i*d+j])
		}
		out[i] = sum
	}

	return tensor.NewTensor([]int{n, 1}, tensor.Float64, out)
}

// checkBatch validates a [n, dim] parameter batch
func checkBatch(theta *tensor.Tensor, dim int) error {
	if len(theta.Shape) != 2 {
		return fmt.Errorf("expected 2D parameter batch, got shape %v", theta.Shape)
	}
	if theta.Shape[1] != dim {
		return fmt.Errorf("parameter dimension mismatch: expected %d, got %d", dim, theta.Shape[1])
	}
	return nil
}
