package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(a.Shape, a.DType)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float64:
		data1 := a.Data.([]float64)
		data2 := b.Data.([]float64)
		resultData := result.Data.([]float64)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] + data2[i]
		}
	case Int32:
		data1 := a.Data.([]int32)
		data2 := b.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] + data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Add: %s", a.DType)
	}

	return result, nil
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(a.Shape, a.DType)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float64:
		data1 := a.Data.([]float64)
		data2 := b.Data.([]float64)
		resultData := result.Data.([]float64)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] - data2[i]
		}
	case Int32:
		data1 := a.Data.([]int32)
		data2 := b.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] - data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Sub: %s", a.DType)
	}

	return result, nil
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(a.Shape, a.DType)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float64:
		data1 := a.Data.([]float64)
		data2 := b.Data.([]float64)
		resultData := result.Data.([]float64)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] * data2[i]
		}
	case Int32:
		data1 := a.Data.([]int32)
		data2 := b.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < a.NumElems; i++ {
			resultData[i] = data1[i] * data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Mul: %s", a.DType)
	}

	return result, nil
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(a.Shape, a.DType)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float64:
		data1 := a.Data.([]float64)
		data2 := b.Data.([]float64)
		resultData := result.Data.([]float64)

		for i := 0; i < a.NumElems; i++ {
			if data2[i] == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
			resultData[i] = data1[i] / data2[i]
		}
	case Int32:
		data1 := a.Data.([]int32)
		data2 := b.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < a.NumElems; i++ {
			if data2[i] == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
			resultData[i] = data1[i] / data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Div: %s", a.DType)
	}

	return result, nil
}

// ScaleShift computes alpha*t + beta element-wise with scalar coefficients.
func ScaleShift(t *Tensor, alpha, beta float64) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("ScaleShift only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		resultData[i] = alpha*data[i] + beta
	}

	return result, nil
}

func Neg(t *Tensor) (*Tensor, error) {
	return ScaleShift(t, -1, 0)
}

func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("ReLU only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		if data[i] > 0 {
			resultData[i] = data[i]
		}
	}

	return result, nil
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Sigmoid only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		resultData[i] = 1.0 / (1.0 + math.Exp(-data[i]))
	}

	return result, nil
}

func Tanh(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Tanh only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		resultData[i] = math.Tanh(data[i])
	}

	return result, nil
}

func Exp(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Exp only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		resultData[i] = math.Exp(data[i])
	}

	return result, nil
}

func Log(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Log only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		if data[i] <= 0 {
			return nil, fmt.Errorf("log of non-positive value at index %d: %f", i, data[i])
		}
		resultData[i] = math.Log(data[i])
	}

	return result, nil
}

// Softplus computes log(1 + exp(x)) element-wise using the numerically
// stable form max(x, 0) + log1p(exp(-|x|)).
func Softplus(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Softplus only supports Float64 dtype")
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float64)
	resultData := result.Data.([]float64)

	for i := 0; i < t.NumElems; i++ {
		x := data[i]
		resultData[i] = math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
	}

	return result, nil
}

func Sqrt(t *Tensor) (*Tensor, error) {
	if t.DType != Float64 {
		return nil, fmt.Errorf("Sqrt only supports Float64 dtype")
	}

	data := t.Data.([]float64)
	result := make([]float64, len(data))

	for i, val := range data {
		result[i] = math.Sqrt(val)
	}

	return NewTensor(t.Shape, t.DType, result)
}
