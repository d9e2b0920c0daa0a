package tensor

import (
	"fmt"
)

// BroadcastShapes determines if two shapes are broadcastable and returns the
// resulting shape, following NumPy-style rules: align trailing dimensions,
// sizes must match or one of them must be 1 or missing.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 && len(shape2) == 0 {
		return []int{}, nil
	}
	if len(shape1) == 0 {
		return shape2, nil
	}
	if len(shape2) == 0 {
		return shape1, nil
	}

	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	resultShape := make([]int, maxDims)

	for i := 0; i < maxDims; i++ {
		dim1Idx := len(shape1) - 1 - i
		dim2Idx := len(shape2) - 1 - i
		resultIdx := maxDims - 1 - i

		dim1 := 1
		dim2 := 1

		if dim1Idx >= 0 {
			dim1 = shape1[dim1Idx]
		}
		if dim2Idx >= 0 {
			dim2 = shape2[dim2Idx]
		}

		if dim1 == dim2 {
			resultShape[resultIdx] = dim1
		} else if dim1 == 1 {
			resultShape[resultIdx] = dim2
		} else if dim2 == 1 {
			resultShape[resultIdx] = dim1
		} else {
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable: dimension %d (%d vs %d)",
				shape1, shape2, i, dim1, dim2)
		}
	}

	return resultShape, nil
}

// AreBroadcastable checks if two shapes can be broadcast together.
func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// BroadcastTensor expands a tensor to a target shape using broadcasting rules.
// If no expansion is needed the tensor is returned unchanged, not cloned.
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t, nil
	}

	if _, err := BroadcastShapes(t.Shape, targetShape); err != nil {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v: %v",
			t.Shape, targetShape, err)
	}

	numElems := calculateNumElements(targetShape)
	result := &Tensor{
		Shape:    make([]int, len(targetShape)),
		Strides:  calculateStrides(targetShape),
		DType:    t.DType,
		NumElems: numElems,
	}
	copy(result.Shape, targetShape)

	switch t.DType {
	case Float64:
		result.Data = make([]float64, numElems)
	case Int32:
		result.Data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for broadcasting: %v", t.DType)
	}

	if err := broadcastData(t, result, targetShape); err != nil {
		return nil, fmt.Errorf("failed to broadcast data: %v", err)
	}

	return result, nil
}

func broadcastData(src, dst *Tensor, targetShape []int) error {
	numDims := len(targetShape)
	srcDims := len(src.Shape)
	totalElems := calculateNumElements(targetShape)

	// Maps each flat destination index back to the source element it
	// replicates, treating size-1 and missing source dimensions as frozen.
	srcIndexFor := func(dstIdx int) int {
		coords := make([]int, numDims)
		remaining := dstIdx
		for i := numDims - 1; i >= 0; i-- {
			coords[i] = remaining % targetShape[i]
			remaining /= targetShape[i]
		}

		srcIdx := 0
		srcStride := 1
		for i := numDims - 1; i >= 0; i-- {
			srcDimIdx := i - (numDims - srcDims)
			if srcDimIdx >= 0 && srcDimIdx < srcDims {
				srcDim := src.Shape[srcDimIdx]
				coord := coords[i]
				if srcDim == 1 {
					coord = 0
				}
				srcIdx += coord * srcStride
				srcStride *= srcDim
			}
		}
		return srcIdx
	}

	switch src.DType {
	case Float64:
		srcData := src.Data.([]float64)
		dstData := dst.Data.([]float64)
		for dstIdx := 0; dstIdx < totalElems; dstIdx++ {
			dstData[dstIdx] = srcData[srcIndexFor(dstIdx)]
		}
	case Int32:
		srcData := src.Data.([]int32)
		dstData := dst.Data.([]int32)
		for dstIdx := 0; dstIdx < totalElems; dstIdx++ {
			dstData[dstIdx] = srcData[srcIndexFor(dstIdx)]
		}
	default:
		return fmt.Errorf("unsupported dtype for broadcasting: %v", src.DType)
	}

	return nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

// BroadcastTensorsForOperation broadcasts two tensors to a common shape for
// element-wise operations.
func BroadcastTensorsForOperation(a, b *Tensor) (*Tensor, *Tensor, error) {
	broadcastShape, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, nil, fmt.Errorf("tensors cannot be broadcast together: %v", err)
	}

	aBroadcast, err := BroadcastTensor(a, broadcastShape)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to broadcast first tensor: %v", err)
	}

	bBroadcast, err := BroadcastTensor(b, broadcastShape)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to broadcast second tensor: %v", err)
	}

	return aBroadcast, bBroadcast, nil
}
