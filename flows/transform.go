package flows

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// Transform is one invertible layer of a flow. Forward maps data toward the
// base distribution, Inverse maps base-space points back toward data. Both
// return the per-row log-abs-det Jacobian of the applied direction as a
// [n, 1] tensor.
type Transform interface {
	Forward(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
	Inverse(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Clone() (Transform, error)
}

// Permutation reorders feature columns with a fixed permutation. Volume
// preserving, so the log-abs-det is zero in both directions.
type Permutation struct {
	perm []int
	inv  []int
}

// NewPermutation creates a permutation transform. perm[j] names the input
// column that lands at output column j.
func NewPermutation(perm []int) (*Permutation, error) {
	if len(perm) == 0 {
		return nil, fmt.Errorf("permutation must be non-empty")
	}

	inv := make([]int, len(perm))
	seen := make([]bool, len(perm))
	for j, c := range perm {
		if c < 0 || c >= len(perm) {
			return nil, fmt.Errorf("permutation entry %d out of range for %d columns", c, len(perm))
		}
		if seen[c] {
			return nil, fmt.Errorf("permutation entry %d repeated", c)
		}
		seen[c] = true
		inv[c] = j
	}

	return &Permutation{perm: append([]int(nil), perm...), inv: inv}, nil
}

// NewReversePermutation creates a permutation that reverses column order.
func NewReversePermutation(dim int) (*Permutation, error) {
	perm := make([]int, dim)
	for j := range perm {
		perm[j] = dim - 1 - j
	}
	return NewPermutation(perm)
}

// Forward reorders columns by the permutation
func (p *Permutation) Forward(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return p.apply(inputs, p.perm)
}

// Inverse reorders columns by the inverse permutation
func (p *Permutation) Inverse(inputs, context *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return p.apply(inputs, p.inv)
}

func (p *Permutation) apply(inputs *tensor.Tensor, order []int) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(inputs.Shape) != 2 || inputs.Shape[1] != len(order) {
		return nil, nil, fmt.Errorf("permutation over %d columns cannot apply to shape %v", len(order), inputs.Shape)
	}

	outputs, err := tensor.SelectColumnsAutograd(inputs, order)
	if err != nil {
		return nil, nil, fmt.Errorf("column reorder failed: %v", err)
	}

	logAbsDet, err := tensor.Zeros([]int{inputs.Shape[0], 1}, tensor.Float64)
	if err != nil {
		return nil, nil, err
	}

	return outputs, logAbsDet, nil
}

// Parameters returns nil: permutations are not trainable
func (p *Permutation) Parameters() []*tensor.Tensor {
	return nil
}

// Clone returns an independent copy
func (p *Permutation) Clone() (Transform, error) {
	return &Permutation{
		perm: append([]int(nil), p.perm...),
		inv:  append([]int(nil), p.inv...),
	}, nil
}
