package tensor

import (
	"math"
	"testing"
)

func scalarValue(t *testing.T, tensor *Tensor, err error) float64 {
	t.Helper()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	v, err := tensor.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	return v
}

// numericalGradient perturbs each element of x and re-evaluates f to estimate
// the gradient of the scalar output with central differences.
func numericalGradient(t *testing.T, f func() (*Tensor, error), x *Tensor, eps float64) []float64 {
	t.Helper()
	data := x.Data.([]float64)
	grads := make([]float64, len(data))
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plusT, plusErr := f()
		plus := scalarValue(t, plusT, plusErr)
		data[i] = orig - eps
		minusT, minusErr := f()
		minus := scalarValue(t, minusT, minusErr)
		data[i] = orig
		grads[i] = (plus - minus) / (2 * eps)
	}
	return grads
}

func checkGradients(t *testing.T, name string, x *Tensor, f func() (*Tensor, error), tol float64) {
	t.Helper()

	loss, err := f()
	if err != nil {
		t.Fatalf("%s forward failed: %v", name, err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("%s backward failed: %v", name, err)
	}
	if x.Grad() == nil {
		t.Fatalf("%s: no gradient accumulated", name)
	}

	analytic := x.Grad().Data.([]float64)
	numeric := numericalGradient(t, f, x, 1e-6)

	for i := range numeric {
		if math.Abs(analytic[i]-numeric[i]) > tol {
			t.Errorf("%s: grad[%d] = %v, expected %v", name, i, analytic[i], numeric[i])
		}
	}
}

func TestAddBackward(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float64, []float64{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, Float64, []float64{5, 6, 7, 8})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, err := MeanAutograd(sum)
	if err != nil {
		t.Fatalf("MeanAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for _, p := range []*Tensor{a, b} {
		grad := p.Grad().Data.([]float64)
		for i, g := range grad {
			if math.Abs(g-0.25) > 1e-12 {
				t.Errorf("grad[%d] = %v, expected 0.25", i, g)
			}
		}
	}
}

func TestBroadcastBiasBackward(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float64, []float64{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{1, 3}, Float64, []float64{0.1, 0.2, 0.3})
	bias.SetRequiresGrad(true)

	sum, err := AddAutograd(x, bias)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	total, err := SumAutograd(sum, 1, false)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	loss, err := SumAutograd(total, 0, false)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// Each bias column is used by both rows, so its gradient is 2.
	grad := bias.Grad().Data.([]float64)
	for i, g := range grad {
		if math.Abs(g-2) > 1e-12 {
			t.Errorf("bias grad[%d] = %v, expected 2", i, g)
		}
	}
}

func TestReusedTensorAccumulates(t *testing.T) {
	x, _ := NewTensor([]int{3}, Float64, []float64{1, 2, 3})
	x.SetRequiresGrad(true)

	// d(x*x)/dx = 2x per element, mean divides by 3.
	sq, err := MulAutograd(x, x)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	loss, err := MeanAutograd(sq)
	if err != nil {
		t.Fatalf("MeanAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := x.Grad().Data.([]float64)
	data := x.Data.([]float64)
	for i := range grad {
		expected := 2 * data[i] / 3
		if math.Abs(grad[i]-expected) > 1e-12 {
			t.Errorf("grad[%d] = %v, expected %v", i, grad[i], expected)
		}
	}
}

func TestGradAccumulationAndZero(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float64, []float64{1, 2})
	x.SetRequiresGrad(true)

	run := func() {
		loss, err := MeanAutograd(x)
		if err != nil {
			t.Fatalf("MeanAutograd failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}

	run()
	run()

	grad := x.Grad().Data.([]float64)
	for i, g := range grad {
		if math.Abs(g-1) > 1e-12 {
			t.Errorf("accumulated grad[%d] = %v, expected 1", i, g)
		}
	}

	ZeroGrad([]*Tensor{x})
	for i, g := range x.Grad().Data.([]float64) {
		if g != 0 {
			t.Errorf("zeroed grad[%d] = %v, expected 0", i, g)
		}
	}
}

func TestMatMulChainGradients(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float64, []float64{0.5, -1, 2, 1.5, 0.2, -0.7})
	w, _ := NewTensor([]int{3, 2}, Float64, []float64{0.1, -0.3, 0.8, 0.5, -0.2, 0.4})
	b, _ := NewTensor([]int{1, 2}, Float64, []float64{0.05, -0.1})
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	f := func() (*Tensor, error) {
		h, err := MatMulAutograd(x, w)
		if err != nil {
			return nil, err
		}
		h, err = AddAutograd(h, b)
		if err != nil {
			return nil, err
		}
		h, err = TanhAutograd(h)
		if err != nil {
			return nil, err
		}
		return MeanAutograd(h)
	}

	checkGradients(t, "weight", w, f, 1e-6)

	ZeroGrad([]*Tensor{w, b})
	checkGradients(t, "bias", b, f, 1e-6)
}

func TestUnaryOpGradients(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		apply  func(*Tensor) (*Tensor, error)
	}{
		{"Exp", []float64{-0.5, 0.3, 1.1}, ExpAutograd},
		{"Log", []float64{0.4, 1.0, 2.5}, LogAutograd},
		{"Sigmoid", []float64{-2, 0, 2}, SigmoidAutograd},
		{"Tanh", []float64{-1, 0.1, 0.9}, TanhAutograd},
		{"Softplus", []float64{-3, 0, 3}, SoftplusAutograd},
		{"ReLU", []float64{-1, 0.5, 2}, ReLUAutograd},
		{"ScaleShift", []float64{-1, 0, 1}, func(x *Tensor) (*Tensor, error) {
			return ScaleShiftAutograd(x, 2.5, -0.5)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, _ := NewTensor([]int{len(tc.values)}, Float64, tc.values)
			x.SetRequiresGrad(true)

			f := func() (*Tensor, error) {
				y, err := tc.apply(x)
				if err != nil {
					return nil, err
				}
				return MeanAutograd(y)
			}

			checkGradients(t, tc.name, x, f, 1e-5)
		})
	}
}

func TestDivGradients(t *testing.T) {
	a, _ := NewTensor([]int{3}, Float64, []float64{1, -2, 0.5})
	b, _ := NewTensor([]int{3}, Float64, []float64{2, 4, -1.5})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	f := func() (*Tensor, error) {
		q, err := DivAutograd(a, b)
		if err != nil {
			return nil, err
		}
		return MeanAutograd(q)
	}

	checkGradients(t, "numerator", a, f, 1e-6)
	ZeroGrad([]*Tensor{a, b})
	checkGradients(t, "denominator", b, f, 1e-6)
}

func TestColumnOpGradients(t *testing.T) {
	x, _ := NewTensor([]int{2, 4}, Float64, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8})
	x.SetRequiresGrad(true)

	t.Run("SelectColumns", func(t *testing.T) {
		f := func() (*Tensor, error) {
			sel, err := SelectColumnsAutograd(x, []int{1, 3})
			if err != nil {
				return nil, err
			}
			return MeanAutograd(sel)
		}
		checkGradients(t, "SelectColumns", x, f, 1e-7)

		// Unselected columns receive zero gradient.
		grad := x.Grad().Data.([]float64)
		if grad[0] != 0 || grad[2] != 0 {
			t.Errorf("unselected columns have nonzero gradient: %v", grad)
		}
	})

	ZeroGrad([]*Tensor{x})

	t.Run("JoinColumns", func(t *testing.T) {
		f := func() (*Tensor, error) {
			left, err := SelectColumnsAutograd(x, []int{0, 1})
			if err != nil {
				return nil, err
			}
			right, err := SelectColumnsAutograd(x, []int{2, 3})
			if err != nil {
				return nil, err
			}
			scaled, err := ScaleShiftAutograd(right, 3, 0)
			if err != nil {
				return nil, err
			}
			joined, err := JoinColumnsAutograd(4, []*Tensor{left, scaled}, [][]int{{2, 0}, {1, 3}})
			if err != nil {
				return nil, err
			}
			return MeanAutograd(joined)
		}
		checkGradients(t, "JoinColumns", x, f, 1e-7)
	})

	ZeroGrad([]*Tensor{x})

	t.Run("GatherRows", func(t *testing.T) {
		f := func() (*Tensor, error) {
			g, err := GatherRowsAutograd(x, []int{1, 0, 1})
			if err != nil {
				return nil, err
			}
			return MeanAutograd(g)
		}
		checkGradients(t, "GatherRows", x, f, 1e-7)
	})

	ZeroGrad([]*Tensor{x})

	t.Run("ConcatColumns", func(t *testing.T) {
		other, _ := NewTensor([]int{2, 1}, Float64, []float64{1, -1})
		f := func() (*Tensor, error) {
			joined, err := ConcatAutograd([]*Tensor{x, other}, 1)
			if err != nil {
				return nil, err
			}
			sq, err := MulAutograd(joined, joined)
			if err != nil {
				return nil, err
			}
			return MeanAutograd(sq)
		}
		checkGradients(t, "ConcatColumns", x, f, 1e-6)
	})
}

func TestNoGradInputsBuildNoGraph(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float64, []float64{1, 2})
	b, _ := NewTensor([]int{2}, Float64, []float64{3, 4})

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}

	if sum.RequiresGrad() {
		t.Error("Result should not require gradients")
	}
	if sum.Creator() != nil {
		t.Error("Result should not record a creator")
	}
	if err := sum.Backward(); err == nil {
		t.Error("Expected error calling Backward on a no-grad tensor")
	}
}

func TestDetachStopsGradient(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float64, []float64{1, 2})
	x.SetRequiresGrad(true)

	doubled, err := ScaleShiftAutograd(x, 2, 0)
	if err != nil {
		t.Fatalf("ScaleShiftAutograd failed: %v", err)
	}
	cut := doubled.Detach()

	y, err := MulAutograd(cut, cut)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	if y.RequiresGrad() {
		t.Error("Graph through a detached tensor should not require gradients")
	}
	if x.Grad() != nil {
		t.Error("No gradient should reach the original tensor")
	}
}
