package ratio

import (
	"fmt"

	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
	"github.com/tsawler/go-sbi/transforms"
)

// DefaultHiddenSize is the conditioner width used when a classifier config
// leaves HiddenSize unset.
const DefaultHiddenSize = 50

// DefaultResNetBlocks is the residual block count for the resnet classifier.
const DefaultResNetBlocks = 2

// ClassifierConfig selects the classifier architecture. Model must be one of
// linear, mlp or resnet.
type ClassifierConfig struct {
	Model      string
	HiddenSize int
	NumBlocks  int
}

// NewClassifier builds a classifier network over concatenated (theta, x)
// rows, emitting one logit per row.
func NewClassifier(thetaDim, xDim int, cfg ClassifierConfig) (training.Module, error) {
	if thetaDim < 1 || xDim < 1 {
		return nil, fmt.Errorf("classifier dimensions must be positive, got %d and %d", thetaDim, xDim)
	}

	in := thetaDim + xDim
	hidden := cfg.HiddenSize
	if hidden <= 0 {
		hidden = DefaultHiddenSize
	}

	switch cfg.Model {
	case "linear":
		return training.NewLinear(in, 1, true)
	case "mlp":
		return training.MLP(in, []int{hidden, hidden}, 1, func() training.Module { return training.NewReLU() })
	case "resnet":
		blocks := cfg.NumBlocks
		if blocks <= 0 {
			blocks = DefaultResNetBlocks
		}
		return newResNetClassifier(in, hidden, blocks)
	default:
		return nil, fmt.Errorf("unknown classifier model %q", cfg.Model)
	}
}

func newResNetClassifier(in, hidden, blocks int) (training.Module, error) {
	seq := training.NewSequential()

	first, err := training.NewLinear(in, hidden, true)
	if err != nil {
		return nil, err
	}
	seq.Add(first)

	for b := 0; b < blocks; b++ {
		inner := training.NewSequential()
		inner.Add(training.NewReLU())
		l1, err := training.NewLinear(hidden, hidden, true)
		if err != nil {
			return nil, err
		}
		inner.Add(l1)
		inner.Add(training.NewReLU())
		l2, err := training.NewLinear(hidden, hidden, true)
		if err != nil {
			return nil, err
		}
		inner.Add(l2)
		seq.Add(training.NewResidual(inner))
	}

	seq.Add(training.NewReLU())
	out, err := training.NewLinear(hidden, 1, true)
	if err != nil {
		return nil, err
	}
	seq.Add(out)

	return seq, nil
}

// RatioEstimator pairs a classifier with the fitted input standardizers so
// evaluation always sees the training-time feature scaling.
type RatioEstimator struct {
	classifier training.Module
	config     ClassifierConfig
	thetaDim   int
	xDim       int
	thetaStd   *transforms.Standardizer
	xStd       *transforms.Standardizer
}

// NewRatioEstimator builds an estimator with a fresh classifier
func NewRatioEstimator(thetaDim, xDim int, cfg ClassifierConfig) (*RatioEstimator, error) {
	classifier, err := NewClassifier(thetaDim, xDim, cfg)
	if err != nil {
		return nil, err
	}
	return &RatioEstimator{classifier: classifier, config: cfg, thetaDim: thetaDim, xDim: xDim}, nil
}

// Classifier returns the underlying network
func (r *RatioEstimator) Classifier() training.Module {
	return r.classifier
}

// Config returns the classifier architecture settings
func (r *RatioEstimator) Config() ClassifierConfig {
	return r.config
}

// ThetaDim returns the parameter dimension
func (r *RatioEstimator) ThetaDim() int {
	return r.thetaDim
}

// XDim returns the observation dimension
func (r *RatioEstimator) XDim() int {
	return r.xDim
}

// FitStandardizers estimates z-scoring statistics from a training batch.
// Meant to run once, on the first round's data; either input can opt out.
func (r *RatioEstimator) FitStandardizers(theta, x *tensor.Tensor, zScoreTheta, zScoreX bool) error {
	if zScoreTheta {
		std, err := transforms.FitStandardizer(theta)
		if err != nil {
			return fmt.Errorf("failed to fit parameter standardizer: %v", err)
		}
		r.thetaStd = std
	}
	if zScoreX {
		std, err := transforms.FitStandardizer(x)
		if err != nil {
			return fmt.Errorf("failed to fit observation standardizer: %v", err)
		}
		r.xStd = std
	}
	return nil
}

// Standardizers returns the fitted feature scalers, either of which may be
// nil when z-scoring was skipped.
func (r *RatioEstimator) Standardizers() (*transforms.Standardizer, *transforms.Standardizer) {
	return r.thetaStd, r.xStd
}

// SetStandardizers installs previously fitted feature scalers
func (r *RatioEstimator) SetStandardizers(thetaStd, xStd *transforms.Standardizer) {
	r.thetaStd = thetaStd
	r.xStd = xStd
}

func (r *RatioEstimator) standardize(theta, x *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	var err error
	if r.thetaStd != nil {
		theta, err = r.thetaStd.Apply(theta)
		if err != nil {
			return nil, nil, err
		}
	}
	if r.xStd != nil {
		x, err = r.xStd.Apply(x)
		if err != nil {
			return nil, nil, err
		}
	}
	return theta, x, nil
}

// LogRatio evaluates the classifier logit for each (theta, x) row, shape
// [n, 1]. A single observation row is tiled across the parameter batch.
func (r *RatioEstimator) LogRatio(theta, x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(theta.Shape) != 2 || theta.Shape[1] != r.thetaDim {
		return nil, fmt.Errorf("parameters must have shape [n %d], got %v", r.thetaDim, theta.Shape)
	}
	if len(x.Shape) != 2 || x.Shape[1] != r.xDim {
		return nil, fmt.Errorf("observations must have shape [n %d], got %v", r.xDim, x.Shape)
	}

	n := theta.Shape[0]
	if x.Shape[0] != n {
		if x.Shape[0] != 1 {
			return nil, fmt.Errorf("observation rows %d do not match parameter rows %d", x.Shape[0], n)
		}
		var err error
		x, err = tensor.RepeatRows(x, n)
		if err != nil {
			return nil, err
		}
	}

	theta, x, err := r.standardize(theta, x)
	if err != nil {
		return nil, err
	}

	joint, err := tensor.Concat([]*tensor.Tensor{theta, x}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble classifier input: %v", err)
	}
	return r.classifier.Forward(joint)
}
