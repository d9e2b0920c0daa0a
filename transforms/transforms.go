// Package transforms provides invertible maps between the native parameter
// space and an unconstrained working space, chosen automatically from the
// prior family. MCMC mixes badly against hard support boundaries, so bounded
// priors get a logit map, normal priors an affine standardization, and
// everything else passes through unchanged. Wrappers carry a prior, a
// simulator or a posterior sampler across the transform.
package transforms

import (
	"fmt"
	"math"

	"github.com/tsawler/go-sbi/dist"
	"github.com/tsawler/go-sbi/tensor"
)

// Transform maps parameter batches to unconstrained space and back.
// LogAbsDetJacobian reports the per-row log volume change of Forward,
// shape [n, 1]. All methods work on plain values.
type Transform interface {
	Forward(theta *tensor.Tensor) (*tensor.Tensor, error)
	Inverse(z *tensor.Tensor) (*tensor.Tensor, error)
	LogAbsDetJacobian(theta *tensor.Tensor) (*tensor.Tensor, error)
	Dim() int
}

// ForPrior picks the transform matching the prior family: logit for box
// uniform, standardizing affine for normal, identity otherwise.
func ForPrior(prior dist.Distribution) (Transform, error) {
	switch p := prior.(type) {
	case *dist.BoxUniform:
		return NewLogit(p.Low, p.High)
	case *dist.Normal:
		return NewAffine(p.Mu, p.Sigma)
	default:
		return NewIdentity(prior.Dim())
	}
}

func checkDim(t *tensor.Tensor, dim int) error {
	if len(t.Shape) != 2 || t.Shape[1] != dim {
		return fmt.Errorf("expected shape [n %d], got %v", dim, t.Shape)
	}
	return nil
}

// Identity is the no-op transform for unbounded priors
type Identity struct {
	dim int
}

// NewIdentity creates an identity transform over dim columns
func NewIdentity(dim int) (*Identity, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Identity{dim: dim}, nil
}

// Dim returns the parameter dimension
func (t *Identity) Dim() int { return t.dim }

// Forward returns the input unchanged
func (t *Identity) Forward(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.dim); err != nil {
		return nil, err
	}
	return theta, nil
}

// Inverse returns the input unchanged
func (t *Identity) Inverse(z *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(z, t.dim); err != nil {
		return nil, err
	}
	return z, nil
}

// LogAbsDetJacobian returns zeros
func (t *Identity) LogAbsDetJacobian(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.dim); err != nil {
		return nil, err
	}
	return tensor.Zeros([]int{theta.Shape[0], 1}, tensor.Float64)
}

// Logit maps a box [low, high] to all of R^d: z = logit((theta-low)/width).
// Rows outside the box map to infinities.
type Logit struct {
	low   []float64
	width []float64
}

// NewLogit creates a logit transform for the given box bounds
func NewLogit(low, high []float64) (*Logit, error) {
	if len(low) == 0 || len(low) != len(high) {
		return nil, fmt.Errorf("bounds must be non-empty and equal length: got %d and %d", len(low), len(high))
	}

	width := make([]float64, len(low))
	for i := range low {
		if high[i] <= low[i] {
			return nil, fmt.Errorf("dimension %d: high bound %v not above low bound %v", i, high[i], low[i])
		}
		width[i] = high[i] - low[i]
	}

	return &Logit{low: append([]float64(nil), low...), width: width}, nil
}

// Dim returns the parameter dimension
func (t *Logit) Dim() int { return len(t.low) }

// Forward maps box coordinates to unconstrained space
func (t *Logit) Forward(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.Dim()); err != nil {
		return nil, err
	}

	d := t.Dim()
	data := theta.Data.([]float64)
	out := make([]float64, len(data))
	for i := range data {
		u := (data[i] - t.low[i%d]) / t.width[i%d]
		out[i] = math.Log(u / (1 - u))
	}
	return tensor.NewTensor([]int{theta.Shape[0], d}, tensor.Float64, out)
}

// Inverse maps unconstrained coordinates back into the box
func (t *Logit) Inverse(z *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(z, t.Dim()); err != nil {
		return nil, err
	}

	d := t.Dim()
	data := z.Data.([]float64)
	out := make([]float64, len(data))
	for i := range data {
		u := 1.0 / (1.0 + math.Exp(-data[i]))
		out[i] = t.low[i%d] + t.width[i%d]*u
	}
	return tensor.NewTensor([]int{z.Shape[0], d}, tensor.Float64, out)
}

// LogAbsDetJacobian sums -log(width) - log(u) - log(1-u) over dimensions,
// with u the box-relative coordinate.
func (t *Logit) LogAbsDetJacobian(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.Dim()); err != nil {
		return nil, err
	}

	n, d := theta.Shape[0], t.Dim()
	data := theta.Data.([]float64)
	out := make([]float64, n)
	for r := 0; r < n; r++ {
		sum := 0.0
		for j := 0; j < d; j++ {
			u := (data[r*d+j] - t.low[j]) / t.width[j]
			sum += -math.Log(t.width[j]) - math.Log(u) - math.Log(1-u)
		}
		out[r] = sum
	}
	return tensor.NewTensor([]int{n, 1}, tensor.Float64, out)
}

// Affine standardizes coordinates: z = (theta - loc) / scale.
type Affine struct {
	loc   []float64
	scale []float64

	logAbsDet float64
}

// NewAffine creates a standardizing affine transform
func NewAffine(loc, scale []float64) (*Affine, error) {
	if len(loc) == 0 || len(loc) != len(scale) {
		return nil, fmt.Errorf("location and scale must be non-empty and equal length: got %d and %d", len(loc), len(scale))
	}

	logAbsDet := 0.0
	for i, s := range scale {
		if s <= 0 {
			return nil, fmt.Errorf("dimension %d: scale must be positive, got %v", i, s)
		}
		logAbsDet -= math.Log(s)
	}

	return &Affine{
		loc:       append([]float64(nil), loc...),
		scale:     append([]float64(nil), scale...),
		logAbsDet: logAbsDet,
	}, nil
}

// Dim returns the parameter dimension
func (t *Affine) Dim() int { return len(t.loc) }

// Forward standardizes the batch
func (t *Affine) Forward(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.Dim()); err != nil {
		return nil, err
	}

	d := t.Dim()
	data := theta.Data.([]float64)
	out := make([]float64, len(data))
	for i := range data {
		out[i] = (data[i] - t.loc[i%d]) / t.scale[i%d]
	}
	return tensor.NewTensor([]int{theta.Shape[0], d}, tensor.Float64, out)
}

// Inverse undoes the standardization
func (t *Affine) Inverse(z *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(z, t.Dim()); err != nil {
		return nil, err
	}

	d := t.Dim()
	data := z.Data.([]float64)
	out := make([]float64, len(data))
	for i := range data {
		out[i] = t.loc[i%d] + t.scale[i%d]*data[i]
	}
	return tensor.NewTensor([]int{z.Shape[0], d}, tensor.Float64, out)
}

// LogAbsDetJacobian is constant: the negated sum of log scales
func (t *Affine) LogAbsDetJacobian(theta *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(theta, t.Dim()); err != nil {
		return nil, err
	}
	return tensor.Full([]int{theta.Shape[0], 1}, t.logAbsDet, tensor.Float64)
}
