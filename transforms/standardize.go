package transforms

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-sbi/tensor"
)

// Standardizer is a fitted per-column z-score map. Columns with (near) zero
// spread keep scale one so constant features pass through centered.
type Standardizer struct {
	mean []float64
	std  []float64
}

// FitStandardizer estimates per-column mean and standard deviation from a
// [n, d] batch.
func FitStandardizer(x *tensor.Tensor) (*Standardizer, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("standardizer requires a 2D batch, got shape %v", x.Shape)
	}
	n, d := x.Shape[0], x.Shape[1]
	if n < 2 {
		return nil, fmt.Errorf("standardizer requires at least 2 rows, got %d", n)
	}

	data := x.Data.([]float64)
	column := make([]float64, n)
	mean := make([]float64, d)
	std := make([]float64, d)
	for j := 0; j < d; j++ {
		for r := 0; r < n; r++ {
			column[r] = data[r*d+j]
		}
		mean[j] = stat.Mean(column, nil)
		std[j] = stat.StdDev(column, nil)
		if std[j] < 1e-14 {
			std[j] = 1
		}
	}

	return &Standardizer{mean: mean, std: std}, nil
}

// NewStandardizer builds a standardizer from previously fitted statistics,
// for example when restoring a saved model.
func NewStandardizer(mean, std []float64) (*Standardizer, error) {
	if len(mean) == 0 || len(mean) != len(std) {
		return nil, fmt.Errorf("statistics must be non-empty and equal length: got %d and %d", len(mean), len(std))
	}
	for j, v := range std {
		if v <= 0 {
			return nil, fmt.Errorf("standard deviation for column %d must be positive, got %v", j, v)
		}
	}
	return &Standardizer{
		mean: append([]float64(nil), mean...),
		std:  append([]float64(nil), std...),
	}, nil
}

// Dim returns the feature width the standardizer was fitted on
func (s *Standardizer) Dim() int {
	return len(s.mean)
}

// Mean returns the fitted per-column means
func (s *Standardizer) Mean() []float64 {
	return append([]float64(nil), s.mean...)
}

// Std returns the fitted per-column standard deviations
func (s *Standardizer) Std() []float64 {
	return append([]float64(nil), s.std...)
}

// Apply standardizes a batch with the fitted statistics
func (s *Standardizer) Apply(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDim(x, s.Dim()); err != nil {
		return nil, err
	}

	d := s.Dim()
	data := x.Data.([]float64)
	out := make([]float64, len(data))
	for i := range data {
		out[i] = (data[i] - s.mean[i%d]) / s.std[i%d]
	}
	return tensor.NewTensor([]int{x.Shape[0], d}, tensor.Float64, out)
}
