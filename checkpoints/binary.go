package checkpoints

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// The binary checkpoint format is a hand-rolled protobuf message encoded
// with the protowire primitives, so no generated code is needed. Field
// numbers are part of the format and must stay stable.
const (
	fieldCheckpointFlow       = 1
	fieldCheckpointClassifier = 2
	fieldCheckpointWeight     = 3
	fieldCheckpointTraining   = 4
	fieldCheckpointOptimizer  = 5
	fieldCheckpointMetadata   = 6

	fieldFlowDim         = 1
	fieldFlowContextDim  = 2
	fieldFlowNumLayers   = 3
	fieldFlowHiddenSizes = 4
	fieldFlowClamp       = 5

	fieldClassifierModel      = 1
	fieldClassifierHiddenSize = 2
	fieldClassifierNumBlocks  = 3
	fieldClassifierThetaDim   = 4
	fieldClassifierXDim       = 5
	fieldClassifierThetaMean  = 6
	fieldClassifierThetaStd   = 7
	fieldClassifierXMean      = 8
	fieldClassifierXStd       = 9

	fieldWeightName  = 1
	fieldWeightShape = 2
	fieldWeightData  = 3

	fieldTrainingIteration = 1
	fieldTrainingEpoch     = 2
	fieldTrainingLR        = 3
	fieldTrainingBestLoss  = 4
	fieldTrainingSteps     = 5

	fieldOptimizerType  = 1
	fieldOptimizerLR    = 2
	fieldOptimizerStep  = 3
	fieldOptimizerState = 4

	fieldOptTensorName  = 1
	fieldOptTensorParam = 2
	fieldOptTensorShape = 3
	fieldOptTensorData  = 4
	fieldOptTensorType  = 5

	fieldMetaID          = 1
	fieldMetaRunID       = 2
	fieldMetaVersion     = 3
	fieldMetaFramework   = 4
	fieldMetaCreatedAt   = 5
	fieldMetaDescription = 6
	fieldMetaTag         = 7
)

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendStr(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendInts encodes an int slice as a packed varint field
func appendInts(b []byte, num protowire.Number, vals []int) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

// appendDoubles encodes a float64 slice as a packed fixed64 field
func appendDoubles(b []byte, num protowire.Number, vals []float64) []byte {
	if len(vals) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendCheckpoint(b []byte, c *Checkpoint) []byte {
	if c.Flow != nil {
		b = appendMessage(b, fieldCheckpointFlow, appendFlowArchitecture(nil, c.Flow))
	}
	if c.Classifier != nil {
		b = appendMessage(b, fieldCheckpointClassifier, appendClassifierArchitecture(nil, c.Classifier))
	}
	for i := range c.Weights {
		b = appendMessage(b, fieldCheckpointWeight, appendWeightTensor(nil, &c.Weights[i]))
	}
	b = appendMessage(b, fieldCheckpointTraining, appendTrainingState(nil, &c.TrainingState))
	if c.OptimizerState != nil {
		b = appendMessage(b, fieldCheckpointOptimizer, appendOptimizerState(nil, c.OptimizerState))
	}
	b = appendMessage(b, fieldCheckpointMetadata, appendMetadata(nil, &c.Metadata))
	return b
}

func appendFlowArchitecture(b []byte, f *FlowArchitecture) []byte {
	b = appendUint(b, fieldFlowDim, uint64(f.Dim))
	b = appendUint(b, fieldFlowContextDim, uint64(f.ContextDim))
	b = appendUint(b, fieldFlowNumLayers, uint64(f.NumLayers))
	b = appendInts(b, fieldFlowHiddenSizes, f.HiddenSizes)
	b = appendDouble(b, fieldFlowClamp, f.Clamp)
	return b
}

func appendClassifierArchitecture(b []byte, c *ClassifierArchitecture) []byte {
	b = appendStr(b, fieldClassifierModel, c.Model)
	b = appendUint(b, fieldClassifierHiddenSize, uint64(c.HiddenSize))
	b = appendUint(b, fieldClassifierNumBlocks, uint64(c.NumBlocks))
	b = appendUint(b, fieldClassifierThetaDim, uint64(c.ThetaDim))
	b = appendUint(b, fieldClassifierXDim, uint64(c.XDim))
	b = appendDoubles(b, fieldClassifierThetaMean, c.ThetaMean)
	b = appendDoubles(b, fieldClassifierThetaStd, c.ThetaStd)
	b = appendDoubles(b, fieldClassifierXMean, c.XMean)
	b = appendDoubles(b, fieldClassifierXStd, c.XStd)
	return b
}

func appendWeightTensor(b []byte, w *WeightTensor) []byte {
	b = appendStr(b, fieldWeightName, w.Name)
	b = appendInts(b, fieldWeightShape, w.Shape)
	b = appendDoubles(b, fieldWeightData, w.Data)
	return b
}

func appendTrainingState(b []byte, s *TrainingState) []byte {
	b = appendUint(b, fieldTrainingIteration, uint64(s.Iteration))
	b = appendUint(b, fieldTrainingEpoch, uint64(s.Epoch))
	b = appendDouble(b, fieldTrainingLR, s.LearningRate)
	b = appendDouble(b, fieldTrainingBestLoss, s.BestEvalLoss)
	b = appendUint(b, fieldTrainingSteps, uint64(s.TotalSteps))
	return b
}

func appendOptimizerState(b []byte, s *OptimizerState) []byte {
	b = appendStr(b, fieldOptimizerType, s.Type)
	b = appendDouble(b, fieldOptimizerLR, s.LearningRate)
	b = appendUint(b, fieldOptimizerStep, uint64(s.Step))
	for i := range s.StateData {
		b = appendMessage(b, fieldOptimizerState, appendOptimizerTensor(nil, &s.StateData[i]))
	}
	return b
}

func appendOptimizerTensor(b []byte, t *OptimizerTensor) []byte {
	b = appendStr(b, fieldOptTensorName, t.Name)
	b = appendUint(b, fieldOptTensorParam, uint64(t.Param))
	b = appendInts(b, fieldOptTensorShape, t.Shape)
	b = appendDoubles(b, fieldOptTensorData, t.Data)
	b = appendStr(b, fieldOptTensorType, t.StateType)
	return b
}

func appendMetadata(b []byte, m *CheckpointMetadata) []byte {
	b = appendStr(b, fieldMetaID, m.ID)
	b = appendStr(b, fieldMetaRunID, m.RunID)
	b = appendStr(b, fieldMetaVersion, m.Version)
	b = appendStr(b, fieldMetaFramework, m.Framework)
	b = appendUint(b, fieldMetaCreatedAt, uint64(m.CreatedAt.UnixNano()))
	b = appendStr(b, fieldMetaDescription, m.Description)
	for _, tag := range m.Tags {
		b = appendStr(b, fieldMetaTag, tag)
	}
	return b
}

// eachField walks one wire message, handing each field to visit. A negative
// used count means the field was not recognized and gets skipped.
func eachField(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		used, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if used < 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return protowire.ParseError(used)
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeUint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(b []byte) (float64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

func consumeStr(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func parsePackedInts(b []byte) ([]int, error) {
	var vals []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		vals = append(vals, int(v))
		b = b[n:]
	}
	return vals, nil
}

func parsePackedDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("packed double field has %d bytes", len(b))
	}
	vals := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		vals = append(vals, math.Float64frombits(v))
		b = b[n:]
	}
	return vals, nil
}

func parseCheckpoint(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		msg, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		switch num {
		case fieldCheckpointFlow:
			c.Flow = &FlowArchitecture{}
			err = parseFlowArchitecture(msg, c.Flow)
		case fieldCheckpointClassifier:
			c.Classifier = &ClassifierArchitecture{}
			err = parseClassifierArchitecture(msg, c.Classifier)
		case fieldCheckpointWeight:
			var w WeightTensor
			if err = parseWeightTensor(msg, &w); err == nil {
				c.Weights = append(c.Weights, w)
			}
		case fieldCheckpointTraining:
			err = parseTrainingState(msg, &c.TrainingState)
		case fieldCheckpointOptimizer:
			c.OptimizerState = &OptimizerState{}
			err = parseOptimizerState(msg, c.OptimizerState)
		case fieldCheckpointMetadata:
			err = parseMetadata(msg, &c.Metadata)
		default:
			return -1, nil
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func parseFlowArchitecture(b []byte, f *FlowArchitecture) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldFlowDim && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			f.Dim = int(v)
			return n, err
		case num == fieldFlowContextDim && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			f.ContextDim = int(v)
			return n, err
		case num == fieldFlowNumLayers && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			f.NumLayers = int(v)
			return n, err
		case num == fieldFlowHiddenSizes && typ == protowire.BytesType:
			msg, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			f.HiddenSizes, err = parsePackedInts(msg)
			return n, err
		case num == fieldFlowClamp && typ == protowire.Fixed64Type:
			v, n, err := consumeDouble(b)
			f.Clamp = v
			return n, err
		}
		return -1, nil
	})
}

func parseClassifierArchitecture(b []byte, c *ClassifierArchitecture) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldClassifierModel && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			c.Model = v
			return n, err
		case num == fieldClassifierHiddenSize && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			c.HiddenSize = int(v)
			return n, err
		case num == fieldClassifierNumBlocks && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			c.NumBlocks = int(v)
			return n, err
		case num == fieldClassifierThetaDim && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			c.ThetaDim = int(v)
			return n, err
		case num == fieldClassifierXDim && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			c.XDim = int(v)
			return n, err
		case num == fieldClassifierThetaMean && typ == protowire.BytesType:
			return consumeDoublesInto(b, &c.ThetaMean)
		case num == fieldClassifierThetaStd && typ == protowire.BytesType:
			return consumeDoublesInto(b, &c.ThetaStd)
		case num == fieldClassifierXMean && typ == protowire.BytesType:
			return consumeDoublesInto(b, &c.XMean)
		case num == fieldClassifierXStd && typ == protowire.BytesType:
			return consumeDoublesInto(b, &c.XStd)
		}
		return -1, nil
	})
}

func consumeDoublesInto(b []byte, dst *[]float64) (int, error) {
	msg, n, err := consumeBytes(b)
	if err != nil {
		return 0, err
	}
	*dst, err = parsePackedDoubles(msg)
	return n, err
}

func parseWeightTensor(b []byte, w *WeightTensor) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldWeightName && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			w.Name = v
			return n, err
		case num == fieldWeightShape && typ == protowire.BytesType:
			msg, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			w.Shape, err = parsePackedInts(msg)
			return n, err
		case num == fieldWeightData && typ == protowire.BytesType:
			return consumeDoublesInto(b, &w.Data)
		}
		return -1, nil
	})
}

func parseTrainingState(b []byte, s *TrainingState) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTrainingIteration && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			s.Iteration = int(v)
			return n, err
		case num == fieldTrainingEpoch && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			s.Epoch = int(v)
			return n, err
		case num == fieldTrainingLR && typ == protowire.Fixed64Type:
			v, n, err := consumeDouble(b)
			s.LearningRate = v
			return n, err
		case num == fieldTrainingBestLoss && typ == protowire.Fixed64Type:
			v, n, err := consumeDouble(b)
			s.BestEvalLoss = v
			return n, err
		case num == fieldTrainingSteps && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			s.TotalSteps = int(v)
			return n, err
		}
		return -1, nil
	})
}

func parseOptimizerState(b []byte, s *OptimizerState) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldOptimizerType && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			s.Type = v
			return n, err
		case num == fieldOptimizerLR && typ == protowire.Fixed64Type:
			v, n, err := consumeDouble(b)
			s.LearningRate = v
			return n, err
		case num == fieldOptimizerStep && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			s.Step = int64(v)
			return n, err
		case num == fieldOptimizerState && typ == protowire.BytesType:
			msg, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			var t OptimizerTensor
			if err := parseOptimizerTensor(msg, &t); err != nil {
				return 0, err
			}
			s.StateData = append(s.StateData, t)
			return n, nil
		}
		return -1, nil
	})
}

func parseOptimizerTensor(b []byte, t *OptimizerTensor) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldOptTensorName && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			t.Name = v
			return n, err
		case num == fieldOptTensorParam && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			t.Param = int(v)
			return n, err
		case num == fieldOptTensorShape && typ == protowire.BytesType:
			msg, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			t.Shape, err = parsePackedInts(msg)
			return n, err
		case num == fieldOptTensorData && typ == protowire.BytesType:
			return consumeDoublesInto(b, &t.Data)
		case num == fieldOptTensorType && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			t.StateType = v
			return n, err
		}
		return -1, nil
	})
}

func parseMetadata(b []byte, m *CheckpointMetadata) error {
	return eachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldMetaID && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.ID = v
			return n, err
		case num == fieldMetaRunID && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.RunID = v
			return n, err
		case num == fieldMetaVersion && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.Version = v
			return n, err
		case num == fieldMetaFramework && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.Framework = v
			return n, err
		case num == fieldMetaCreatedAt && typ == protowire.VarintType:
			v, n, err := consumeUint(b)
			m.CreatedAt = time.Unix(0, int64(v))
			return n, err
		case num == fieldMetaDescription && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.Description = v
			return n, err
		case num == fieldMetaTag && typ == protowire.BytesType:
			v, n, err := consumeStr(b)
			m.Tags = append(m.Tags, v)
			return n, err
		}
		return -1, nil
	})
}
