package training

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
)

// BCEWithLogitsLoss computes binary cross entropy directly on raw logits:
// mean(softplus(logits) - labels*logits). Working on logits keeps the loss
// numerically stable for large scores.
func BCEWithLogitsLoss(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != len(labels.Shape) {
		return nil, fmt.Errorf("logits and labels must have the same shape: got %v and %v", logits.Shape, labels.Shape)
	}
	for i, dim := range logits.Shape {
		if dim != labels.Shape[i] {
			return nil, fmt.Errorf("logits and labels must have the same shape: got %v and %v", logits.Shape, labels.Shape)
		}
	}

	softplus, err := tensor.SoftplusAutograd(logits)
	if err != nil {
		return nil, fmt.Errorf("softplus computation failed: %v", err)
	}

	weighted, err := tensor.MulAutograd(labels, logits)
	if err != nil {
		return nil, fmt.Errorf("label weighting failed: %v", err)
	}

	perExample, err := tensor.SubAutograd(softplus, weighted)
	if err != nil {
		return nil, fmt.Errorf("per-example loss failed: %v", err)
	}

	loss, err := tensor.MeanAutograd(perExample)
	if err != nil {
		return nil, fmt.Errorf("loss reduction failed: %v", err)
	}

	return loss, nil
}

// NegativeMeanLoss turns a batch of log-densities into a maximum-likelihood
// training loss, the negative mean.
func NegativeMeanLoss(logProbs *tensor.Tensor) (*tensor.Tensor, error) {
	mean, err := tensor.MeanAutograd(logProbs)
	if err != nil {
		return nil, fmt.Errorf("mean computation failed: %v", err)
	}

	loss, err := tensor.NegAutograd(mean)
	if err != nil {
		return nil, fmt.Errorf("negation failed: %v", err)
	}

	return loss, nil
}
