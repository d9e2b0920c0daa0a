package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

func getIndex(indices []int, strides []int) int {
	index := 0
	for i, idx := range indices {
		index += idx * strides[i]
	}
	return index
}

func getIndicesFromLinear(linearIndex int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = linearIndex % shape[i]
		linearIndex /= shape[i]
	}
	return indices
}

// MatMul multiplies two 2D Float64 tensors. The heavy lifting is delegated
// to gonum's mat.Dense, which wraps the tensors' backing slices without
// copying.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, cols2}, Float64)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(rows1, cols1, t1.Data.([]float64))
	b := mat.NewDense(rows2, cols2, t2.Data.([]float64))
	c := mat.NewDense(rows1, cols2, result.Data.([]float64))
	c.Mul(a, b)

	return result, nil
}

func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) {
		return nil, fmt.Errorf("dim0 %d out of range for tensor with %d dimensions", dim0, len(t.Shape))
	}
	if dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("dim1 %d out of range for tensor with %d dimensions", dim1, len(t.Shape))
	}

	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[dim0], outputShape[dim1] = outputShape[dim1], outputShape[dim0]

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float64:
		data := t.Data.([]float64)
		resultData := result.Data.([]float64)

		for i := 0; i < t.NumElems; i++ {
			indices := getIndicesFromLinear(i, t.Shape)
			indices[dim0], indices[dim1] = indices[dim1], indices[dim0]
			resultData[getIndex(indices, result.Strides)] = data[i]
		}
	case Int32:
		data := t.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t.NumElems; i++ {
			indices := getIndicesFromLinear(i, t.Shape)
			indices[dim0], indices[dim1] = indices[dim1], indices[dim0]
			resultData[getIndex(indices, result.Strides)] = data[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	return result, nil
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	newNumElems := calculateNumElements(newShape)
	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, newShape, newNumElems)
	}

	result := &Tensor{
		Shape:    newShape,
		Strides:  calculateStrides(newShape),
		DType:    t.DType,
		NumElems: t.NumElems,
	}

	switch t.DType {
	case Float64:
		data := t.Data.([]float64)
		newData := make([]float64, len(data))
		copy(newData, data)
		result.Data = newData
	case Int32:
		data := t.Data.([]int32)
		newData := make([]int32, len(data))
		copy(newData, data)
		result.Data = newData
	default:
		return nil, fmt.Errorf("unsupported dtype for Reshape: %s", t.DType)
	}

	return result, nil
}

func Flatten(t *Tensor) (*Tensor, error) {
	return Reshape(t, []int{t.NumElems})
}

func Squeeze(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}

	if t.Shape[dim] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %d with size %d (must be 1)", dim, t.Shape[dim])
	}

	newShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			newShape = append(newShape, size)
		}
	}

	return Reshape(t, newShape)
}

func Unsqueeze(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for unsqueeze operation", dim)
	}

	newShape := make([]int, len(t.Shape)+1)
	copy(newShape[:dim], t.Shape[:dim])
	newShape[dim] = 1
	copy(newShape[dim+1:], t.Shape[dim:])

	return Reshape(t, newShape)
}

func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for Sum: %s", t.DType)
	}

	var outputShape []int
	if keepDim {
		outputShape = make([]int, len(t.Shape))
		copy(outputShape, t.Shape)
		outputShape[dim] = 1
	} else {
		outputShape = make([]int, 0, len(t.Shape)-1)
		for i, size := range t.Shape {
			if i != dim {
				outputShape = append(outputShape, size)
			}
		}
		if len(outputShape) == 0 {
			outputShape = []int{1}
		}
	}

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		indices := getIndicesFromLinear(i, t.Shape)

		var resultIndices []int
		if keepDim {
			resultIndices = make([]int, len(indices))
			copy(resultIndices, indices)
			resultIndices[dim] = 0
		} else {
			resultIndices = make([]int, 0, len(indices)-1)
			for j, idx := range indices {
				if j != dim {
					resultIndices = append(resultIndices, idx)
				}
			}
			if len(resultIndices) == 0 {
				resultIndices = []int{0}
			}
		}

		resultData[getIndex(resultIndices, result.Strides)] += data[i]
	}

	return result, nil
}

// Mean reduces all elements of a Float64 tensor to a single-element tensor.
func Mean(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for Mean: %s", t.DType)
	}
	if t.NumElems == 0 {
		return nil, fmt.Errorf("cannot take mean of empty tensor")
	}

	data := t.Data.([]float64)
	sum := 0.0
	for _, v := range data {
		sum += v
	}

	return NewTensor([]int{1}, Float64, []float64{sum / float64(t.NumElems)})
}

// Concat joins 2D tensors along dim 0 (stacking rows) or dim 1 (widening
// rows). All inputs must agree on the other dimension and on dtype.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}
	if dim != 0 && dim != 1 {
		return nil, fmt.Errorf("Concat supports dim 0 or 1, got %d", dim)
	}

	first := tensors[0]
	if len(first.Shape) != 2 {
		return nil, fmt.Errorf("Concat requires 2D tensors, got shape %v", first.Shape)
	}
	if first.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for Concat: %s", first.DType)
	}

	other := 1 - dim
	total := 0
	for i, t := range tensors {
		if len(t.Shape) != 2 {
			return nil, fmt.Errorf("Concat requires 2D tensors, got shape %v at index %d", t.Shape, i)
		}
		if t.DType != first.DType {
			return nil, fmt.Errorf("tensors must have same dtype: %s vs %s", first.DType, t.DType)
		}
		if t.Shape[other] != first.Shape[other] {
			return nil, fmt.Errorf("dimension %d mismatch in Concat: %d vs %d", other, first.Shape[other], t.Shape[other])
		}
		total += t.Shape[dim]
	}

	outputShape := make([]int, 2)
	outputShape[dim] = total
	outputShape[other] = first.Shape[other]

	result, err := Zeros(outputShape, Float64)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float64)

	if dim == 0 {
		offset := 0
		for _, t := range tensors {
			data := t.Data.([]float64)
			copy(resultData[offset:offset+len(data)], data)
			offset += len(data)
		}
	} else {
		rows := first.Shape[0]
		colOffset := 0
		for _, t := range tensors {
			data := t.Data.([]float64)
			cols := t.Shape[1]
			for r := 0; r < rows; r++ {
				copy(resultData[r*total+colOffset:r*total+colOffset+cols], data[r*cols:(r+1)*cols])
			}
			colOffset += cols
		}
	}

	return result, nil
}

// SelectColumns returns a [rows, len(cols)] tensor holding the requested
// columns of a 2D tensor, in the given order.
func SelectColumns(t *Tensor, cols []int) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("SelectColumns requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for SelectColumns: %s", t.DType)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("SelectColumns requires at least one column")
	}

	rows, width := t.Shape[0], t.Shape[1]
	for _, c := range cols {
		if c < 0 || c >= width {
			return nil, fmt.Errorf("column %d out of range for tensor with %d columns", c, width)
		}
	}

	result, err := Zeros([]int{rows, len(cols)}, Float64)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for r := 0; r < rows; r++ {
		for j, c := range cols {
			resultData[r*len(cols)+j] = data[r*width+c]
		}
	}

	return result, nil
}

// GatherRows returns a [len(idx), cols] tensor holding the requested rows of
// a 2D tensor, in the given order. Indices may repeat.
func GatherRows(t *Tensor, idx []int) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("GatherRows requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for GatherRows: %s", t.DType)
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("GatherRows requires at least one index")
	}

	rows, cols := t.Shape[0], t.Shape[1]
	for _, i := range idx {
		if i < 0 || i >= rows {
			return nil, fmt.Errorf("row %d out of range for tensor with %d rows", i, rows)
		}
	}

	result, err := Zeros([]int{len(idx), cols}, Float64)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for j, i := range idx {
		copy(resultData[j*cols:(j+1)*cols], data[i*cols:(i+1)*cols])
	}

	return result, nil
}

// JoinColumns is the inverse of SelectColumns: it places the columns of each
// part at the positions named by the matching entry of colSets, producing a
// [rows, width] tensor. The column sets must tile 0..width-1 exactly once.
func JoinColumns(width int, parts []*Tensor, colSets [][]int) (*Tensor, error) {
	if len(parts) == 0 || len(parts) != len(colSets) {
		return nil, fmt.Errorf("JoinColumns requires matching parts and column sets, got %d and %d", len(parts), len(colSets))
	}

	rows := parts[0].Shape[0]
	seen := make([]bool, width)
	for i, p := range parts {
		if len(p.Shape) != 2 {
			return nil, fmt.Errorf("JoinColumns requires 2D tensors, got shape %v at index %d", p.Shape, i)
		}
		if p.DType != Float64 {
			return nil, fmt.Errorf("unsupported dtype for JoinColumns: %s", p.DType)
		}
		if p.Shape[0] != rows {
			return nil, fmt.Errorf("row count mismatch in JoinColumns: %d vs %d", rows, p.Shape[0])
		}
		if p.Shape[1] != len(colSets[i]) {
			return nil, fmt.Errorf("part %d has %d columns but %d target positions", i, p.Shape[1], len(colSets[i]))
		}
		for _, c := range colSets[i] {
			if c < 0 || c >= width {
				return nil, fmt.Errorf("column %d out of range for width %d", c, width)
			}
			if seen[c] {
				return nil, fmt.Errorf("column %d assigned twice in JoinColumns", c)
			}
			seen[c] = true
		}
	}
	for c, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("column %d not covered in JoinColumns", c)
		}
	}

	result, err := Zeros([]int{rows, width}, Float64)
	if err != nil {
		return nil, err
	}
	resultData := result.Data.([]float64)

	for i, p := range parts {
		data := p.Data.([]float64)
		cols := p.Shape[1]
		for r := 0; r < rows; r++ {
			for j, c := range colSets[i] {
				resultData[r*width+c] = data[r*cols+j]
			}
		}
	}

	return result, nil
}

// RepeatRows tiles a [1, cols] tensor into [n, cols].
func RepeatRows(t *Tensor, n int) (*Tensor, error) {
	if len(t.Shape) != 2 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("RepeatRows requires a [1, cols] tensor, got shape %v", t.Shape)
	}
	if n <= 0 {
		return nil, fmt.Errorf("RepeatRows requires a positive count, got %d", n)
	}
	return BroadcastTensor(t, []int{n, t.Shape[1]})
}
