package checkpoints

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/tsawler/go-sbi/flows"
	"github.com/tsawler/go-sbi/ratio"
	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
	"github.com/tsawler/go-sbi/transforms"
)

// FromFlow captures a flow's architecture and weights into a checkpoint.
// Flows carrying an embedding network are rejected, since the embedding
// module cannot be rebuilt from recorded state.
func FromFlow(flow *flows.Flow, state TrainingState) (*Checkpoint, error) {
	cfg := flow.Config()
	if cfg.Embedding != nil {
		return nil, fmt.Errorf("flows with embedding networks cannot be checkpointed")
	}

	return &Checkpoint{
		Flow: &FlowArchitecture{
			Dim:         cfg.Dim,
			ContextDim:  cfg.ContextDim,
			NumLayers:   cfg.NumLayers,
			HiddenSizes: append([]int(nil), cfg.HiddenSizes...),
			Clamp:       cfg.Clamp,
		},
		Weights:       extractWeights(flow.Parameters()),
		TrainingState: state,
	}, nil
}

// RestoreFlow rebuilds the recorded flow and loads its weights. Base-space
// sampling of the restored flow draws from src.
func (c *Checkpoint) RestoreFlow(src rand.Source) (*flows.Flow, error) {
	if c.Flow == nil {
		return nil, fmt.Errorf("checkpoint does not contain a flow model")
	}

	flow, err := flows.NewFlow(flows.Config{
		Dim:         c.Flow.Dim,
		ContextDim:  c.Flow.ContextDim,
		NumLayers:   c.Flow.NumLayers,
		HiddenSizes: append([]int(nil), c.Flow.HiddenSizes...),
		Clamp:       c.Flow.Clamp,
	}, src)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild flow: %v", err)
	}

	if err := loadWeights(c.Weights, flow.Parameters()); err != nil {
		return nil, fmt.Errorf("weights do not match the recorded flow architecture: %v", err)
	}
	return flow, nil
}

// FromRatioEstimator captures a ratio classifier's architecture, weights and
// fitted standardization statistics into a checkpoint.
func FromRatioEstimator(est *ratio.RatioEstimator, state TrainingState) (*Checkpoint, error) {
	cfg := est.Config()
	arch := &ClassifierArchitecture{
		Model:      cfg.Model,
		HiddenSize: cfg.HiddenSize,
		NumBlocks:  cfg.NumBlocks,
		ThetaDim:   est.ThetaDim(),
		XDim:       est.XDim(),
	}
	thetaStd, xStd := est.Standardizers()
	if thetaStd != nil {
		arch.ThetaMean = thetaStd.Mean()
		arch.ThetaStd = thetaStd.Std()
	}
	if xStd != nil {
		arch.XMean = xStd.Mean()
		arch.XStd = xStd.Std()
	}

	return &Checkpoint{
		Classifier:    arch,
		Weights:       extractWeights(est.Classifier().Parameters()),
		TrainingState: state,
	}, nil
}

// RestoreRatioEstimator rebuilds the recorded classifier, loads its weights
// and reinstates the standardizers.
func (c *Checkpoint) RestoreRatioEstimator() (*ratio.RatioEstimator, error) {
	if c.Classifier == nil {
		return nil, fmt.Errorf("checkpoint does not contain a classifier model")
	}

	est, err := ratio.NewRatioEstimator(c.Classifier.ThetaDim, c.Classifier.XDim, ratio.ClassifierConfig{
		Model:      c.Classifier.Model,
		HiddenSize: c.Classifier.HiddenSize,
		NumBlocks:  c.Classifier.NumBlocks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild classifier: %v", err)
	}

	if err := loadWeights(c.Weights, est.Classifier().Parameters()); err != nil {
		return nil, fmt.Errorf("weights do not match the recorded classifier architecture: %v", err)
	}

	var thetaStd, xStd *transforms.Standardizer
	if len(c.Classifier.ThetaMean) > 0 {
		thetaStd, err = transforms.NewStandardizer(c.Classifier.ThetaMean, c.Classifier.ThetaStd)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter standardizer statistics: %v", err)
		}
	}
	if len(c.Classifier.XMean) > 0 {
		xStd, err = transforms.NewStandardizer(c.Classifier.XMean, c.Classifier.XStd)
		if err != nil {
			return nil, fmt.Errorf("invalid observation standardizer statistics: %v", err)
		}
	}
	est.SetStandardizers(thetaStd, xStd)

	return est, nil
}

// CaptureOptimizer records an Adam optimizer's step count and moment
// estimates into the checkpoint.
func (c *Checkpoint) CaptureOptimizer(opt *training.Adam) {
	step, m, v := opt.State()
	state := &OptimizerState{
		Type:         "Adam",
		LearningRate: opt.GetLR(),
		Step:         step,
	}

	appendMoment := func(i int, t *tensor.Tensor, kind string) {
		if t == nil {
			return
		}
		state.StateData = append(state.StateData, OptimizerTensor{
			Name:      fmt.Sprintf("param_%d.%s", i, kind),
			Param:     i,
			Shape:     append([]int(nil), t.Shape...),
			Data:      append([]float64(nil), t.Data.([]float64)...),
			StateType: kind,
		})
	}
	for i := range m {
		appendMoment(i, m[i], "m")
		appendMoment(i, v[i], "v")
	}

	c.OptimizerState = state
}

// RestoreOptimizer reinstates recorded optimizer state onto an Adam built
// over the restored model's parameters.
func (c *Checkpoint) RestoreOptimizer(opt *training.Adam) error {
	if c.OptimizerState == nil {
		return fmt.Errorf("checkpoint carries no optimizer state")
	}

	_, cur, _ := opt.State()
	m := make([]*tensor.Tensor, len(cur))
	v := make([]*tensor.Tensor, len(cur))
	for _, st := range c.OptimizerState.StateData {
		if st.Param < 0 || st.Param >= len(cur) {
			return fmt.Errorf("optimizer state for parameter %d is out of range", st.Param)
		}
		moment, err := tensor.NewTensor(append([]int(nil), st.Shape...), tensor.Float64,
			append([]float64(nil), st.Data...))
		if err != nil {
			return fmt.Errorf("failed to rebuild optimizer state %s: %v", st.Name, err)
		}
		switch st.StateType {
		case "m":
			m[st.Param] = moment
		case "v":
			v[st.Param] = moment
		default:
			return fmt.Errorf("unknown optimizer state type %q", st.StateType)
		}
	}

	if err := opt.SetState(c.OptimizerState.Step, m, v); err != nil {
		return fmt.Errorf("failed to restore optimizer state: %v", err)
	}
	opt.SetLR(c.OptimizerState.LearningRate)
	return nil
}

// extractWeights copies parameter tensors into serializable form
func extractWeights(params []*tensor.Tensor) []WeightTensor {
	weights := make([]WeightTensor, len(params))
	for i, param := range params {
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: append([]int(nil), param.Shape...),
			Data:  append([]float64(nil), param.Data.([]float64)...),
		}
	}
	return weights
}

// loadWeights copies recorded weight data back into parameter tensors,
// verifying counts and shapes.
func loadWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(weights), len(params))
	}

	for i, param := range params {
		weight := weights[i]

		if len(param.Shape) != len(weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v",
				weight.Name, param.Shape, weight.Shape)
		}
		for j, dim := range param.Shape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					weight.Name, j, dim, weight.Shape[j])
			}
		}

		if err := param.SetData(append([]float64(nil), weight.Data...)); err != nil {
			return fmt.Errorf("failed to copy weight data for %s: %v", weight.Name, err)
		}
	}

	return nil
}
