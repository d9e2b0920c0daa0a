// Package ratio implements classifier-based likelihood-to-evidence ratio
// estimation. A binary classifier learns to tell matched (theta, x) pairs
// from mismatched ones, and its logit approximates the log-ratio between
// the likelihood and the evidence. Two training variants are provided: the
// logistic pairwise form and the multi-atom contrastive form.
package ratio

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// Dataset accumulates (theta, x) training pairs across acquisition rounds.
// Every appended batch is tagged with its round index for provenance.
type Dataset struct {
	Theta  *tensor.Tensor
	X      *tensor.Tensor
	Rounds *tensor.Tensor
}

// NewDataset creates an empty dataset
func NewDataset() *Dataset {
	return &Dataset{}
}

// Len returns the number of stored pairs
func (d *Dataset) Len() int {
	if d.Theta == nil {
		return 0
	}
	return d.Theta.Shape[0]
}

// Append adds a simulated batch under the given round index
func (d *Dataset) Append(theta, x *tensor.Tensor, round int) error {
	if len(theta.Shape) != 2 || len(x.Shape) != 2 {
		return fmt.Errorf("dataset batches must be 2D, got shapes %v and %v", theta.Shape, x.Shape)
	}
	if theta.Shape[0] != x.Shape[0] {
		return fmt.Errorf("row count mismatch: %d parameters vs %d observations", theta.Shape[0], x.Shape[0])
	}
	if theta.Shape[0] == 0 {
		return fmt.Errorf("cannot append an empty batch")
	}

	n := theta.Shape[0]
	roundData := make([]int32, n)
	for i := range roundData {
		roundData[i] = int32(round)
	}

	if d.Theta == nil {
		rounds, err := tensor.NewTensor([]int{n, 1}, tensor.Int32, roundData)
		if err != nil {
			return err
		}
		theta, err = theta.Clone()
		if err != nil {
			return err
		}
		x, err = x.Clone()
		if err != nil {
			return err
		}
		d.Theta, d.X, d.Rounds = theta, x, rounds
		return nil
	}

	if theta.Shape[1] != d.Theta.Shape[1] {
		return fmt.Errorf("parameter dimension changed: %d vs %d", theta.Shape[1], d.Theta.Shape[1])
	}
	if x.Shape[1] != d.X.Shape[1] {
		return fmt.Errorf("observation dimension changed: %d vs %d", x.Shape[1], d.X.Shape[1])
	}

	newTheta, err := tensor.Concat([]*tensor.Tensor{d.Theta, theta}, 0)
	if err != nil {
		return fmt.Errorf("failed to append parameters: %v", err)
	}
	newX, err := tensor.Concat([]*tensor.Tensor{d.X, x}, 0)
	if err != nil {
		return fmt.Errorf("failed to append observations: %v", err)
	}

	existing, err := d.Rounds.GetInt32Data()
	if err != nil {
		return err
	}
	combined := make([]int32, 0, len(existing)+n)
	combined = append(combined, existing...)
	combined = append(combined, roundData...)
	newRounds, err := tensor.NewTensor([]int{len(combined), 1}, tensor.Int32, combined)
	if err != nil {
		return err
	}

	d.Theta, d.X, d.Rounds = newTheta, newX, newRounds
	return nil
}

// RoundSizes returns how many pairs each round contributed, keyed by round
// index.
func (d *Dataset) RoundSizes() (map[int32]int, error) {
	sizes := make(map[int32]int)
	if d.Rounds == nil {
		return sizes, nil
	}
	data, err := d.Rounds.GetInt32Data()
	if err != nil {
		return nil, err
	}
	for _, r := range data {
		sizes[r]++
	}
	return sizes, nil
}
