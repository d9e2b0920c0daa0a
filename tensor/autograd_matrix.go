package tensor

import (
	"fmt"
)

// MatMulOp implements the Operation interface for matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("matmul backward transpose B: %v", err)
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, fmt.Errorf("matmul backward for input A: %v", err)
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("matmul backward transpose A: %v", err)
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, fmt.Errorf("matmul backward for input B: %v", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// SumOp implements the Operation interface for reduction along one dimension.
type SumOp struct {
	inputs  []*Tensor
	dim     int
	keepDim bool
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]

	expanded := gradOut
	if !op.keepDim {
		keepShape := make([]int, len(in.Shape))
		copy(keepShape, in.Shape)
		keepShape[op.dim] = 1

		var err error
		expanded, err = Reshape(gradOut, keepShape)
		if err != nil {
			return nil, fmt.Errorf("sum backward reshape: %v", err)
		}
	}

	grad, err := BroadcastTensor(expanded, in.Shape)
	if err != nil {
		return nil, fmt.Errorf("sum backward broadcast: %v", err)
	}
	return []*Tensor{grad}, nil
}

// MeanOp implements the Operation interface for the full reduction to a
// single-element tensor.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	g := gradOut.Data.([]float64)[0] / float64(in.NumElems)
	return []*Tensor{mustFilled(in.Shape, g)}, nil
}

func mustFilled(shape []int, value float64) *Tensor {
	t, err := Full(shape, value, Float64)
	if err != nil {
		panic(fmt.Sprintf("failed to build gradient tensor: %v", err))
	}
	return t
}

// ReshapeOp implements the Operation interface for reshaping.
type ReshapeOp struct {
	inputs []*Tensor
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Reshape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("reshape backward: %v", err)
	}
	return []*Tensor{grad}, nil
}

// ConcatOp implements the Operation interface for joining 2D tensors along
// dim 0 or dim 1. Backward slices the gradient back into per-input pieces.
type ConcatOp struct {
	inputs []*Tensor
	dim    int
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grads := make([]*Tensor, len(op.inputs))
	gradData := gradOut.Data.([]float64)

	if op.dim == 0 {
		offset := 0
		for i, in := range op.inputs {
			piece, err := Zeros(in.Shape, Float64)
			if err != nil {
				return nil, fmt.Errorf("concat backward: %v", err)
			}
			pieceData := piece.Data.([]float64)
			copy(pieceData, gradData[offset:offset+len(pieceData)])
			offset += len(pieceData)
			grads[i] = piece
		}
		return grads, nil
	}

	rows := gradOut.Shape[0]
	width := gradOut.Shape[1]
	colOffset := 0
	for i, in := range op.inputs {
		cols := in.Shape[1]
		piece, err := Zeros(in.Shape, Float64)
		if err != nil {
			return nil, fmt.Errorf("concat backward: %v", err)
		}
		pieceData := piece.Data.([]float64)
		for r := 0; r < rows; r++ {
			copy(pieceData[r*cols:(r+1)*cols], gradData[r*width+colOffset:r*width+colOffset+cols])
		}
		colOffset += cols
		grads[i] = piece
	}
	return grads, nil
}

// SelectColumnsOp implements the Operation interface for column selection.
// Backward scatters the gradient back into the source columns, accumulating
// when a column was selected more than once.
type SelectColumnsOp struct {
	inputs []*Tensor
	cols   []int
}

func (op *SelectColumnsOp) Inputs() []*Tensor { return op.inputs }

func (op *SelectColumnsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	grad, err := Zeros(in.Shape, Float64)
	if err != nil {
		return nil, fmt.Errorf("select-columns backward: %v", err)
	}

	rows, width := in.Shape[0], in.Shape[1]
	gradData := grad.Data.([]float64)
	outData := gradOut.Data.([]float64)

	for r := 0; r < rows; r++ {
		for j, c := range op.cols {
			gradData[r*width+c] += outData[r*len(op.cols)+j]
		}
	}

	return []*Tensor{grad}, nil
}

// GatherRowsOp implements the Operation interface for row gathering. Backward
// scatters the gradient back into the source rows, accumulating duplicates.
type GatherRowsOp struct {
	inputs []*Tensor
	idx    []int
}

func (op *GatherRowsOp) Inputs() []*Tensor { return op.inputs }

func (op *GatherRowsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	grad, err := Zeros(in.Shape, Float64)
	if err != nil {
		return nil, fmt.Errorf("gather-rows backward: %v", err)
	}

	cols := in.Shape[1]
	gradData := grad.Data.([]float64)
	outData := gradOut.Data.([]float64)

	for j, i := range op.idx {
		for c := 0; c < cols; c++ {
			gradData[i*cols+c] += outData[j*cols+c]
		}
	}

	return []*Tensor{grad}, nil
}

// JoinColumnsOp implements the Operation interface for the column placement
// inverse of SelectColumns. Backward selects each part's columns back out of
// the gradient.
type JoinColumnsOp struct {
	inputs  []*Tensor
	colSets [][]int
}

func (op *JoinColumnsOp) Inputs() []*Tensor { return op.inputs }

func (op *JoinColumnsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grads := make([]*Tensor, len(op.inputs))
	for i := range op.inputs {
		g, err := SelectColumns(gradOut, op.colSets[i])
		if err != nil {
			return nil, fmt.Errorf("join-columns backward: %v", err)
		}
		grads[i] = g
	}
	return grads, nil
}

// MatMulAutograd performs matrix multiplication with automatic differentiation.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &MatMulOp{inputs: []*Tensor{a, b}}, anyRequiresGrad(a, b))
	return result, nil
}

// SumAutograd performs a single-dimension reduction with automatic differentiation.
func SumAutograd(a *Tensor, dim int, keepDim bool) (*Tensor, error) {
	result, err := Sum(a, dim, keepDim)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &SumOp{inputs: []*Tensor{a}, dim: dim, keepDim: keepDim}, a.requiresGrad)
	return result, nil
}

// MeanAutograd reduces all elements to their mean with automatic differentiation.
func MeanAutograd(a *Tensor) (*Tensor, error) {
	result, err := Mean(a)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &MeanOp{inputs: []*Tensor{a}}, a.requiresGrad)
	return result, nil
}

// ReshapeAutograd reshapes a tensor with automatic differentiation.
func ReshapeAutograd(a *Tensor, newShape []int) (*Tensor, error) {
	result, err := Reshape(a, newShape)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &ReshapeOp{inputs: []*Tensor{a}}, a.requiresGrad)
	return result, nil
}

// ConcatAutograd joins 2D tensors along dim 0 or 1 with automatic differentiation.
func ConcatAutograd(tensors []*Tensor, dim int) (*Tensor, error) {
	result, err := Concat(tensors, dim)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &ConcatOp{inputs: tensors, dim: dim}, anyRequiresGrad(tensors...))
	return result, nil
}

// SelectColumnsAutograd selects columns with automatic differentiation.
func SelectColumnsAutograd(a *Tensor, cols []int) (*Tensor, error) {
	result, err := SelectColumns(a, cols)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &SelectColumnsOp{inputs: []*Tensor{a}, cols: cols}, a.requiresGrad)
	return result, nil
}

// GatherRowsAutograd gathers rows with automatic differentiation.
func GatherRowsAutograd(a *Tensor, idx []int) (*Tensor, error) {
	result, err := GatherRows(a, idx)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &GatherRowsOp{inputs: []*Tensor{a}, idx: idx}, a.requiresGrad)
	return result, nil
}

// JoinColumnsAutograd places column blocks with automatic differentiation.
func JoinColumnsAutograd(width int, parts []*Tensor, colSets [][]int) (*Tensor, error) {
	result, err := JoinColumns(width, parts, colSets)
	if err != nil {
		return nil, err
	}
	attachCreator(result, &JoinColumnsOp{inputs: parts, colSets: colSets}, anyRequiresGrad(parts...))
	return result, nil
}
