package training

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// PairDataset holds aligned (input, context) rows for conditional density and
// ratio estimation. Both tensors are 2D with the same number of rows.
type PairDataset struct {
	Inputs   *tensor.Tensor
	Contexts *tensor.Tensor
}

// NewPairDataset creates a dataset from aligned 2D tensors
func NewPairDataset(inputs, contexts *tensor.Tensor) (*PairDataset, error) {
	if len(inputs.Shape) != 2 || len(contexts.Shape) != 2 {
		return nil, fmt.Errorf("pair dataset requires 2D tensors, got shapes %v and %v", inputs.Shape, contexts.Shape)
	}
	if inputs.Shape[0] != contexts.Shape[0] {
		return nil, fmt.Errorf("inputs and contexts must have the same number of rows: got %d and %d",
			inputs.Shape[0], contexts.Shape[0])
	}

	return &PairDataset{
		Inputs:   inputs,
		Contexts: contexts,
	}, nil
}

// Len returns the number of row pairs in the dataset
func (ds *PairDataset) Len() int {
	return ds.Inputs.Shape[0]
}

// Rows returns a new dataset containing the selected rows in order
func (ds *PairDataset) Rows(idx []int) (*PairDataset, error) {
	inputs, err := tensor.GatherRows(ds.Inputs, idx)
	if err != nil {
		return nil, fmt.Errorf("failed to gather input rows: %v", err)
	}

	contexts, err := tensor.GatherRows(ds.Contexts, idx)
	if err != nil {
		return nil, fmt.Errorf("failed to gather context rows: %v", err)
	}

	return &PairDataset{
		Inputs:   inputs,
		Contexts: contexts,
	}, nil
}

// Swapped returns a view of the dataset with inputs and contexts exchanged,
// for fitting a model with the conditioning roles reversed.
func (ds *PairDataset) Swapped() *PairDataset {
	return &PairDataset{
		Inputs:   ds.Contexts,
		Contexts: ds.Inputs,
	}
}

// SplitTrainEval partitions the dataset into training and validation subsets
// by a random permutation. The first int(n*fraction) permuted rows form the
// validation set; the remaining rows train.
func (ds *PairDataset) SplitTrainEval(fraction float64) (train, eval *PairDataset, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction must be in (0, 1): got %f", fraction)
	}

	n := ds.Len()
	nbrEval := int(float64(n) * fraction)
	if nbrEval == 0 {
		return nil, nil, fmt.Errorf("validation split is empty: %d rows with fraction %f", n, fraction)
	}

	perm := globalRng.Perm(n)

	eval, err = ds.Rows(perm[:nbrEval])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build validation split: %v", err)
	}

	train, err = ds.Rows(perm[nbrEval:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build training split: %v", err)
	}

	return train, eval, nil
}

// PairLoader iterates a PairDataset in mini-batches, reshuffling row order
// every epoch.
type PairLoader struct {
	dataset   *PairDataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
}

// NewPairLoader creates a loader over the dataset. A batchSize that is
// non-positive or exceeds the dataset yields the whole dataset as one batch.
func NewPairLoader(dataset *PairDataset, batchSize int, shuffle bool) *PairLoader {
	if batchSize <= 0 || batchSize > dataset.Len() {
		batchSize = dataset.Len()
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &PairLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
		position:  0,
	}
}

// Len returns the number of batches in an epoch
func (dl *PairLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if configured
func (dl *PairLoader) Reset() {
	dl.position = 0

	if dl.shuffle {
		// Shuffle indices for new epoch
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := globalRng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil if the epoch is complete
func (dl *PairLoader) Next() (*PairDataset, error) {
	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batch, err := dl.dataset.Rows(dl.indices[dl.position:batchEnd])
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}
	dl.position = batchEnd

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *PairLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}
