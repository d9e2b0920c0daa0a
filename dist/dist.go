// Package dist provides the parameter-space distributions used as priors and
// proposal building blocks: box-uniform and independent normal, both backed by
// gonum's univariate distributions with explicit random sources.
package dist

import (
	"github.com/tsawler/go-sbi/tensor"
)

// Distribution is the contract inference loops place on a prior: batched
// sampling and batched log-density evaluation. LogProb returns one value per
// row, shape [n, 1]; rows outside the support yield -Inf. When the input
// carries gradients, LogProb of a density with nonzero score participates in
// the autograd graph.
type Distribution interface {
	// Dim returns the dimensionality of the parameter space
	Dim() int

	// Sample draws n parameter vectors, shape [n, dim]
	Sample(n int) (*tensor.Tensor, error)

	// LogProb evaluates the log-density per row, shape [n, 1]
	LogProb(theta *tensor.Tensor) (*tensor.Tensor, error)
}
