package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-sbi/tensor"
)

func TestLinearModule(t *testing.T) {
	t.Run("Linear layer forward pass", func(t *testing.T) {
		linear, err := NewLinear(3, 2, true)
		if err != nil {
			t.Fatalf("Failed to create Linear layer: %v", err)
		}

		input, err := tensor.NewTensor([]int{2, 3}, tensor.Float64,
			[]float64{1.0, 2.0, 3.0, 4.0, 5.0, 6.0})
		if err != nil {
			t.Fatalf("Failed to create input tensor: %v", err)
		}

		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Linear forward pass failed: %v", err)
		}

		expectedShape := []int{2, 2}
		for i, dim := range expectedShape {
			if output.Shape[i] != dim {
				t.Errorf("Expected output shape %v, got %v", expectedShape, output.Shape)
				break
			}
		}

		if linear.InputSize() != 3 || linear.OutputSize() != 2 {
			t.Errorf("Expected sizes (3, 2), got (%d, %d)", linear.InputSize(), linear.OutputSize())
		}
	})

	t.Run("Linear layer known weights", func(t *testing.T) {
		linear, _ := newLinearWithWeights(t, 2, 1, []float64{2.0, 3.0}, []float64{0.5})

		input, _ := tensor.NewTensor([]int{1, 2}, tensor.Float64, []float64{1.0, 1.0})
		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		// 1*2 + 1*3 + 0.5 = 5.5
		value, _ := output.Item()
		if math.Abs(value-5.5) > 1e-10 {
			t.Errorf("Expected output 5.5, got %v", value)
		}
	})

	t.Run("Parameters with and without bias", func(t *testing.T) {
		withBias, _ := NewLinear(4, 3, true)
		if len(withBias.Parameters()) != 2 {
			t.Errorf("Expected 2 parameters with bias, got %d", len(withBias.Parameters()))
		}

		withoutBias, _ := NewLinear(4, 3, false)
		if len(withoutBias.Parameters()) != 1 {
			t.Errorf("Expected 1 parameter without bias, got %d", len(withoutBias.Parameters()))
		}

		for _, p := range withBias.Parameters() {
			if !p.RequiresGrad() {
				t.Error("Expected parameters to require gradients")
			}
		}
	})

	t.Run("Input validation", func(t *testing.T) {
		linear, _ := NewLinear(3, 2, true)

		wrongWidth, _ := tensor.NewTensor([]int{2, 4}, tensor.Float64, []float64{1, 2, 3, 4, 5, 6, 7, 8})
		if _, err := linear.Forward(wrongWidth); err == nil {
			t.Error("Expected error for input width mismatch")
		}

		oneD, _ := tensor.FromVector([]float64{1, 2, 3})
		if _, err := linear.Forward(oneD); err == nil {
			t.Error("Expected error for 1D input")
		}
	})

	t.Run("Deterministic initialization", func(t *testing.T) {
		SetRandomSeed(5)
		first, _ := NewLinear(3, 3, false)
		firstData, _ := first.Parameters()[0].GetFloat64Data()

		SetRandomSeed(5)
		second, _ := NewLinear(3, 3, false)
		secondData, _ := second.Parameters()[0].GetFloat64Data()

		for i := range firstData {
			if firstData[i] != secondData[i] {
				t.Fatalf("Weight %d differs across same-seed initializations: %v vs %v",
					i, firstData[i], secondData[i])
			}
		}
	})

	t.Run("Gradient flow", func(t *testing.T) {
		linear, _ := NewLinear(2, 1, true)

		input, _ := tensor.NewTensor([]int{3, 2}, tensor.Float64, []float64{1, 2, 3, 4, 5, 6})
		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		loss, err := tensor.MeanAutograd(output)
		if err != nil {
			t.Fatalf("Mean failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		for i, p := range linear.Parameters() {
			if p.Grad() == nil {
				t.Errorf("Parameter %d has no gradient after backward", i)
			}
		}
	})
}

// newLinearWithWeights builds a Linear layer and overwrites its parameters
// with the given values.
func newLinearWithWeights(t *testing.T, in, out int, weights, bias []float64) (*Linear, []*tensor.Tensor) {
	t.Helper()

	linear, err := NewLinear(in, out, bias != nil)
	if err != nil {
		t.Fatalf("Failed to create Linear layer: %v", err)
	}

	params := linear.Parameters()
	if err := params[0].SetData(weights); err != nil {
		t.Fatalf("Failed to set weights: %v", err)
	}
	if bias != nil {
		if err := params[1].SetData(bias); err != nil {
			t.Fatalf("Failed to set bias: %v", err)
		}
	}
	return linear, params
}

func TestActivationModules(t *testing.T) {
	input, _ := tensor.NewTensor([]int{1, 4}, tensor.Float64, []float64{-2.0, -0.5, 0.5, 2.0})

	t.Run("ReLU", func(t *testing.T) {
		relu := NewReLU()
		output, err := relu.Forward(input)
		if err != nil {
			t.Fatalf("ReLU forward failed: %v", err)
		}

		data, _ := output.GetFloat64Data()
		expected := []float64{0, 0, 0.5, 2.0}
		for i, want := range expected {
			if data[i] != want {
				t.Errorf("ReLU output %d: expected %v, got %v", i, want, data[i])
			}
		}

		if len(relu.Parameters()) != 0 {
			t.Error("Expected ReLU to have no parameters")
		}
	})

	t.Run("Tanh", func(t *testing.T) {
		tanh := NewTanh()
		output, err := tanh.Forward(input)
		if err != nil {
			t.Fatalf("Tanh forward failed: %v", err)
		}

		data, _ := output.GetFloat64Data()
		inputData, _ := input.GetFloat64Data()
		for i, x := range inputData {
			want := math.Tanh(x)
			if math.Abs(data[i]-want) > 1e-10 {
				t.Errorf("Tanh output %d: expected %v, got %v", i, want, data[i])
			}
		}

		if len(tanh.Parameters()) != 0 {
			t.Error("Expected Tanh to have no parameters")
		}
	})
}

func TestSequentialModule(t *testing.T) {
	t.Run("Forward chains modules", func(t *testing.T) {
		l1, _ := NewLinear(3, 4, true)
		l2, _ := NewLinear(4, 2, true)
		seq := NewSequential(l1, NewTanh(), l2)

		input, _ := tensor.NewTensor([]int{5, 3}, tensor.Float64, make([]float64, 15))
		output, err := seq.Forward(input)
		if err != nil {
			t.Fatalf("Sequential forward failed: %v", err)
		}

		if output.Shape[0] != 5 || output.Shape[1] != 2 {
			t.Errorf("Expected output shape [5 2], got %v", output.Shape)
		}
	})

	t.Run("Parameters aggregate across modules", func(t *testing.T) {
		l1, _ := NewLinear(3, 4, true)
		l2, _ := NewLinear(4, 2, false)
		seq := NewSequential(l1, NewReLU(), l2)

		// 2 from the first layer, 1 from the second
		if len(seq.Parameters()) != 3 {
			t.Errorf("Expected 3 parameters, got %d", len(seq.Parameters()))
		}
	})

	t.Run("Train and Eval propagate", func(t *testing.T) {
		l1, _ := NewLinear(2, 2, true)
		seq := NewSequential(l1)

		seq.Eval()
		if seq.IsTraining() || l1.IsTraining() {
			t.Error("Expected all modules in eval mode")
		}

		seq.Train()
		if !seq.IsTraining() || !l1.IsTraining() {
			t.Error("Expected all modules in training mode")
		}
	})

	t.Run("Add appends modules", func(t *testing.T) {
		seq := NewSequential()
		l1, _ := NewLinear(2, 2, true)
		seq.Add(l1)
		seq.Add(NewTanh())

		input, _ := tensor.NewTensor([]int{1, 2}, tensor.Float64, []float64{1, 1})
		if _, err := seq.Forward(input); err != nil {
			t.Fatalf("Forward after Add failed: %v", err)
		}
	})
}

func TestResidualModule(t *testing.T) {
	t.Run("Identity inner preserves input", func(t *testing.T) {
		inner, _ := newLinearWithWeights(t, 2, 2, []float64{0, 0, 0, 0}, nil)
		res := NewResidual(inner)

		input, _ := tensor.NewTensor([]int{2, 2}, tensor.Float64, []float64{1, 2, 3, 4})
		output, err := res.Forward(input)
		if err != nil {
			t.Fatalf("Residual forward failed: %v", err)
		}

		data, _ := output.GetFloat64Data()
		expected := []float64{1, 2, 3, 4}
		for i, want := range expected {
			if data[i] != want {
				t.Errorf("Output %d: expected %v, got %v", i, want, data[i])
			}
		}
	})

	t.Run("Skip connection adds inner output", func(t *testing.T) {
		inner, _ := newLinearWithWeights(t, 1, 1, []float64{2.0}, nil)
		res := NewResidual(inner)

		input, _ := tensor.NewTensor([]int{1, 1}, tensor.Float64, []float64{3.0})
		output, err := res.Forward(input)
		if err != nil {
			t.Fatalf("Residual forward failed: %v", err)
		}

		// 3 + 3*2 = 9
		value, _ := output.Item()
		if math.Abs(value-9.0) > 1e-10 {
			t.Errorf("Expected output 9.0, got %v", value)
		}
	})

	t.Run("Parameters pass through", func(t *testing.T) {
		inner, _ := NewLinear(3, 3, true)
		res := NewResidual(inner)

		if len(res.Parameters()) != 2 {
			t.Errorf("Expected 2 parameters, got %d", len(res.Parameters()))
		}
	})
}

func TestMLPBuilder(t *testing.T) {
	t.Run("Hidden layers with activations", func(t *testing.T) {
		mlp, err := MLP(3, []int{8, 8}, 1, func() Module { return NewReLU() })
		if err != nil {
			t.Fatalf("MLP construction failed: %v", err)
		}

		// 3 Linear layers, each with weight and bias
		if len(mlp.Parameters()) != 6 {
			t.Errorf("Expected 6 parameters, got %d", len(mlp.Parameters()))
		}

		input, _ := tensor.NewTensor([]int{4, 3}, tensor.Float64, make([]float64, 12))
		output, err := mlp.Forward(input)
		if err != nil {
			t.Fatalf("MLP forward failed: %v", err)
		}
		if output.Shape[0] != 4 || output.Shape[1] != 1 {
			t.Errorf("Expected output shape [4 1], got %v", output.Shape)
		}
	})

	t.Run("No hidden layers", func(t *testing.T) {
		mlp, err := MLP(2, nil, 3, func() Module { return NewTanh() })
		if err != nil {
			t.Fatalf("MLP construction failed: %v", err)
		}

		if len(mlp.Parameters()) != 2 {
			t.Errorf("Expected 2 parameters, got %d", len(mlp.Parameters()))
		}

		input, _ := tensor.NewTensor([]int{1, 2}, tensor.Float64, []float64{1, 2})
		output, err := mlp.Forward(input)
		if err != nil {
			t.Fatalf("MLP forward failed: %v", err)
		}
		if output.Shape[1] != 3 {
			t.Errorf("Expected output width 3, got %d", output.Shape[1])
		}
	})
}
