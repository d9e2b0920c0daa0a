package tensor

import (
	"math"
	"reflect"
	"testing"
)

func TestMatMul(t *testing.T) {
	t.Run("2x3 times 3x2", func(t *testing.T) {
		a, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})
		b, _ := NewTensor([]int{3, 2}, Float64, []float64{7, 8, 9, 10, 11, 12})

		result, err := MatMul(a, b)
		if err != nil {
			t.Fatalf("MatMul failed: %v", err)
		}

		expected := []float64{58, 64, 139, 154}
		if !reflect.DeepEqual(result.Data.([]float64), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
	})

	t.Run("Incompatible dimensions", func(t *testing.T) {
		a, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})
		b, _ := NewTensor([]int{2, 2}, Float64, []float64{1, 2, 3, 4})

		_, err := MatMul(a, b)
		if err == nil {
			t.Error("Expected error for incompatible dimensions")
		}
	})

	t.Run("Requires 2D", func(t *testing.T) {
		a, _ := NewTensor([]int{6}, Float64, []float64{1, 2, 3, 4, 5, 6})
		b, _ := NewTensor([]int{3, 2}, Float64, []float64{7, 8, 9, 10, 11, 12})

		_, err := MatMul(a, b)
		if err == nil {
			t.Error("Expected error for 1D input")
		}
	})
}

func TestTranspose(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})

	result, err := Transpose(a, 0, 1)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}

	if !reflect.DeepEqual(result.Shape, []int{3, 2}) {
		t.Errorf("Shape = %v, expected [3 2]", result.Shape)
	}

	expected := []float64{1, 4, 2, 5, 3, 6}
	if !reflect.DeepEqual(result.Data.([]float64), expected) {
		t.Errorf("Result = %v, expected %v", result.Data, expected)
	}
}

func TestReshape(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})

	t.Run("Valid reshape", func(t *testing.T) {
		result, err := Reshape(a, []int{3, 2})
		if err != nil {
			t.Fatalf("Reshape failed: %v", err)
		}
		if !reflect.DeepEqual(result.Shape, []int{3, 2}) {
			t.Errorf("Shape = %v, expected [3 2]", result.Shape)
		}
	})

	t.Run("Size mismatch", func(t *testing.T) {
		_, err := Reshape(a, []int{4, 2})
		if err == nil {
			t.Error("Expected error for size mismatch")
		}
	})
}

func TestSum(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})

	t.Run("Sum over columns", func(t *testing.T) {
		result, err := Sum(a, 1, false)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		expected := []float64{6, 15}
		if !reflect.DeepEqual(result.Data.([]float64), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
		if !reflect.DeepEqual(result.Shape, []int{2}) {
			t.Errorf("Shape = %v, expected [2]", result.Shape)
		}
	})

	t.Run("Sum over rows keepDim", func(t *testing.T) {
		result, err := Sum(a, 0, true)
		if err != nil {
			t.Fatalf("Sum failed: %v", err)
		}
		expected := []float64{5, 7, 9}
		if !reflect.DeepEqual(result.Data.([]float64), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
		if !reflect.DeepEqual(result.Shape, []int{1, 3}) {
			t.Errorf("Shape = %v, expected [1 3]", result.Shape)
		}
	})
}

func TestMean(t *testing.T) {
	a, _ := NewTensor([]int{4}, Float64, []float64{1, 2, 3, 6})

	result, err := Mean(a)
	if err != nil {
		t.Fatalf("Mean failed: %v", err)
	}

	v, _ := result.Item()
	if v != 3 {
		t.Errorf("Mean = %v, expected 3", v)
	}
}

func TestConcat(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float64, []float64{1, 2, 3, 4})
	b, _ := NewTensor([]int{1, 2}, Float64, []float64{5, 6})
	c, _ := NewTensor([]int{2, 1}, Float64, []float64{7, 8})

	t.Run("Stack rows", func(t *testing.T) {
		result, err := Concat([]*Tensor{a, b}, 0)
		if err != nil {
			t.Fatalf("Concat failed: %v", err)
		}
		if !reflect.DeepEqual(result.Shape, []int{3, 2}) {
			t.Errorf("Shape = %v, expected [3 2]", result.Shape)
		}
		expected := []float64{1, 2, 3, 4, 5, 6}
		if !reflect.DeepEqual(result.Data.([]float64), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
	})

	t.Run("Widen rows", func(t *testing.T) {
		result, err := Concat([]*Tensor{a, c}, 1)
		if err != nil {
			t.Fatalf("Concat failed: %v", err)
		}
		if !reflect.DeepEqual(result.Shape, []int{2, 3}) {
			t.Errorf("Shape = %v, expected [2 3]", result.Shape)
		}
		expected := []float64{1, 2, 7, 3, 4, 8}
		if !reflect.DeepEqual(result.Data.([]float64), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
	})

	t.Run("Mismatched widths", func(t *testing.T) {
		_, err := Concat([]*Tensor{a, c}, 0)
		if err == nil {
			t.Error("Expected error for mismatched widths")
		}
	})
}

func TestSelectColumns(t *testing.T) {
	a, _ := NewTensor([]int{2, 4}, Float64, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	result, err := SelectColumns(a, []int{3, 0})
	if err != nil {
		t.Fatalf("SelectColumns failed: %v", err)
	}

	expected := []float64{4, 1, 8, 5}
	if !reflect.DeepEqual(result.Data.([]float64), expected) {
		t.Errorf("Result = %v, expected %v", result.Data, expected)
	}

	if _, err := SelectColumns(a, []int{4}); err == nil {
		t.Error("Expected error for out-of-range column")
	}
}

func TestGatherRows(t *testing.T) {
	a, _ := NewTensor([]int{3, 2}, Float64, []float64{1, 2, 3, 4, 5, 6})

	result, err := GatherRows(a, []int{2, 0, 2})
	if err != nil {
		t.Fatalf("GatherRows failed: %v", err)
	}

	expected := []float64{5, 6, 1, 2, 5, 6}
	if !reflect.DeepEqual(result.Data.([]float64), expected) {
		t.Errorf("Result = %v, expected %v", result.Data, expected)
	}
}

func TestJoinColumns(t *testing.T) {
	m, _ := NewTensor([]int{2, 4}, Float64, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	evens, _ := SelectColumns(m, []int{0, 2})
	odds, _ := SelectColumns(m, []int{1, 3})

	t.Run("Round trip with SelectColumns", func(t *testing.T) {
		back, err := JoinColumns(4, []*Tensor{evens, odds}, [][]int{{0, 2}, {1, 3}})
		if err != nil {
			t.Fatalf("JoinColumns failed: %v", err)
		}
		equal, _ := back.Equal(m)
		if !equal {
			t.Errorf("Round trip mismatch: got %v", back.Data)
		}
	})

	t.Run("Incomplete cover", func(t *testing.T) {
		_, err := JoinColumns(4, []*Tensor{evens}, [][]int{{0, 2}})
		if err == nil {
			t.Error("Expected error for uncovered columns")
		}
	})

	t.Run("Double assignment", func(t *testing.T) {
		_, err := JoinColumns(4, []*Tensor{evens, odds}, [][]int{{0, 2}, {0, 3}})
		if err == nil {
			t.Error("Expected error for doubly assigned column")
		}
	})
}

func TestRepeatRows(t *testing.T) {
	row, _ := NewTensor([]int{1, 3}, Float64, []float64{1.5, -2, 0})

	result, err := RepeatRows(row, 4)
	if err != nil {
		t.Fatalf("RepeatRows failed: %v", err)
	}

	if !reflect.DeepEqual(result.Shape, []int{4, 3}) {
		t.Errorf("Shape = %v, expected [4 3]", result.Shape)
	}
	for r := 0; r < 4; r++ {
		got, _ := result.Row(r)
		if math.Abs(got[0]-1.5) > 1e-15 || got[1] != -2 || got[2] != 0 {
			t.Errorf("Row %d = %v, expected [1.5 -2 0]", r, got)
		}
	}
}
