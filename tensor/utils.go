package tensor

import (
	"fmt"
	"strings"
)

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        make([]int, len(t.Shape)),
		Strides:      make([]int, len(t.Strides)),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)

	switch t.DType {
	case Float64:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]float64)
		cloneData := make([]float64, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		if t.Data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		data := t.Data.([]int32)
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

func (t *Tensor) GetFloat64Data() ([]float64, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float64", t.DType)
	}
	return t.Data.([]float64), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor as a float64. Int32
// tensors are converted.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item can only be called on tensors with exactly one element, got %d", t.NumElems)
	}

	switch t.DType {
	case Float64:
		return t.Data.([]float64)[0], nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

func (t *Tensor) At(indices ...int) (float64, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
	}

	if t.DType != Float64 {
		return 0, fmt.Errorf("unsupported dtype for At: %s", t.DType)
	}
	return t.Data.([]float64)[getIndex(indices, t.Strides)], nil
}

func (t *Tensor) SetAt(value float64, indices ...int) error {
	if len(indices) != len(t.Shape) {
		return fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}

	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return fmt.Errorf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
	}

	if t.DType != Float64 {
		return fmt.Errorf("unsupported dtype for SetAt: %s", t.DType)
	}
	t.Data.([]float64)[getIndex(indices, t.Strides)] = value
	return nil
}

// Row copies row i of a 2D Float64 tensor into a fresh slice.
func (t *Tensor) Row(i int) ([]float64, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Row requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float64 {
		return nil, fmt.Errorf("unsupported dtype for Row: %s", t.DType)
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, fmt.Errorf("row %d out of bounds for tensor with %d rows", i, t.Shape[0])
	}

	cols := t.Shape[1]
	row := make([]float64, cols)
	copy(row, t.Data.([]float64)[i*cols:(i+1)*cols])
	return row, nil
}

// SetRow overwrites row i of a 2D Float64 tensor.
func (t *Tensor) SetRow(i int, values []float64) error {
	if len(t.Shape) != 2 {
		return fmt.Errorf("SetRow requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float64 {
		return fmt.Errorf("unsupported dtype for SetRow: %s", t.DType)
	}
	if i < 0 || i >= t.Shape[0] {
		return fmt.Errorf("row %d out of bounds for tensor with %d rows", i, t.Shape[0])
	}
	if len(values) != t.Shape[1] {
		return fmt.Errorf("row length %d does not match tensor width %d", len(values), t.Shape[1])
	}

	copy(t.Data.([]float64)[i*t.Shape[1]:(i+1)*t.Shape[1]], values)
	return nil
}

func (t *Tensor) Size() []int {
	result := make([]int, len(t.Shape))
	copy(result, t.Shape)
	return result
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType {
		return false, nil
	}

	if !shapesEqual(t.Shape, other.Shape) {
		return false, nil
	}

	switch t.DType {
	case Float64:
		data1 := t.Data.([]float64)
		data2 := other.Data.([]float64)
		for i := 0; i < t.NumElems; i++ {
			if data1[i] != data2[i] {
				return false, nil
			}
		}
	case Int32:
		data1 := t.Data.([]int32)
		data2 := other.Data.([]int32)
		for i := 0; i < t.NumElems; i++ {
			if data1[i] != data2[i] {
				return false, nil
			}
		}
	default:
		return false, fmt.Errorf("unsupported dtype for Equal: %s", t.DType)
	}

	return true, nil
}

func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tensor(shape=%v, dtype=%s)\n", t.Shape, t.DType))

	if maxElements <= 0 {
		maxElements = 20
	}

	elementsToShow := t.NumElems
	if elementsToShow > maxElements {
		elementsToShow = maxElements
	}

	switch t.DType {
	case Float64:
		data := t.Data.([]float64)
		sb.WriteString("[")
		for i := 0; i < elementsToShow; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%.4f", data[i]))
		}
		if t.NumElems > maxElements {
			sb.WriteString(fmt.Sprintf(", ... (%d more elements)", t.NumElems-maxElements))
		}
		sb.WriteString("]")
	case Int32:
		data := t.Data.([]int32)
		sb.WriteString("[")
		for i := 0; i < elementsToShow; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%d", data[i]))
		}
		if t.NumElems > maxElements {
			sb.WriteString(fmt.Sprintf(", ... (%d more elements)", t.NumElems-maxElements))
		}
		sb.WriteString("]")
	}

	return sb.String()
}

// ZeroGrad clears accumulated gradients on every tensor in the list that
// carries one.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			switch t.DType {
			case Float64:
				data := t.grad.Data.([]float64)
				for i := range data {
					data[i] = 0
				}
			case Int32:
				data := t.grad.Data.([]int32)
				for i := range data {
					data[i] = 0
				}
			}
		}
	}
}

// SetData copies new values into the tensor's existing backing buffer so
// aliases created by Detach keep observing updates.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float64:
		src, ok := data.([]float64)
		if !ok {
			return fmt.Errorf("expected []float64 for Float64 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]float64), src)
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 for Int32 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]int32), src)
	default:
		return fmt.Errorf("unsupported dtype for SetData: %s", t.DType)
	}
	return nil
}

// FromScalar creates a single-element tensor from a float64 value.
func FromScalar(value float64, dtype DType) (*Tensor, error) {
	switch dtype {
	case Float64:
		return NewTensor([]int{1}, dtype, []float64{value})
	case Int32:
		return NewTensor([]int{1}, dtype, []int32{int32(value)})
	default:
		return nil, fmt.Errorf("unsupported dtype for FromScalar: %s", dtype)
	}
}
