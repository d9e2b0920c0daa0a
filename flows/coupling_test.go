package flows

import (
	"math"
	"testing"

	"github.com/tsawler/go-sbi/tensor"
	"github.com/tsawler/go-sbi/training"
)

func mustTensor(t *testing.T, rows [][]float64) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.FromRows(rows)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	return tt
}

func TestPermutation(t *testing.T) {
	t.Run("Invalid permutations", func(t *testing.T) {
		if _, err := NewPermutation(nil); err == nil {
			t.Error("Expected error for empty permutation")
		}
		if _, err := NewPermutation([]int{0, 2}); err == nil {
			t.Error("Expected error for out-of-range entry")
		}
		if _, err := NewPermutation([]int{1, 1}); err == nil {
			t.Error("Expected error for repeated entry")
		}
	})

	t.Run("Forward reorders columns", func(t *testing.T) {
		perm, err := NewPermutation([]int{2, 0, 1})
		if err != nil {
			t.Fatalf("Failed to create permutation: %v", err)
		}

		inputs := mustTensor(t, [][]float64{{1, 2, 3}})
		outputs, logAbsDet, err := perm.Forward(inputs, nil)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		expected := []float64{3, 1, 2}
		data := outputs.Data.([]float64)
		for i, want := range expected {
			if data[i] != want {
				t.Errorf("Column %d: expected %v, got %v", i, want, data[i])
			}
		}

		if v := logAbsDet.Data.([]float64)[0]; v != 0 {
			t.Errorf("Expected zero log-abs-det, got %v", v)
		}
	})

	t.Run("Inverse undoes forward", func(t *testing.T) {
		perm, err := NewPermutation([]int{2, 0, 1})
		if err != nil {
			t.Fatalf("Failed to create permutation: %v", err)
		}

		inputs := mustTensor(t, [][]float64{{1, 2, 3}, {4, 5, 6}})
		forward, _, err := perm.Forward(inputs, nil)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		back, _, err := perm.Inverse(forward, nil)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}

		inData := inputs.Data.([]float64)
		backData := back.Data.([]float64)
		for i := range inData {
			if backData[i] != inData[i] {
				t.Errorf("Element %d: expected %v, got %v", i, inData[i], backData[i])
			}
		}
	})

	t.Run("Reverse permutation", func(t *testing.T) {
		perm, err := NewReversePermutation(4)
		if err != nil {
			t.Fatalf("Failed to create permutation: %v", err)
		}

		inputs := mustTensor(t, [][]float64{{1, 2, 3, 4}})
		outputs, _, err := perm.Forward(inputs, nil)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		expected := []float64{4, 3, 2, 1}
		data := outputs.Data.([]float64)
		for i, want := range expected {
			if data[i] != want {
				t.Errorf("Column %d: expected %v, got %v", i, want, data[i])
			}
		}
	})
}

func TestNewAffineCoupling(t *testing.T) {
	t.Run("Invalid arguments", func(t *testing.T) {
		if _, err := NewAffineCoupling(0, 2, []int{0}, []int{8}, 0); err == nil {
			t.Error("Expected error for zero dimension")
		}
		if _, err := NewAffineCoupling(2, 0, []int{0}, []int{8}, 0); err == nil {
			t.Error("Expected error for zero context dimension")
		}
		if _, err := NewAffineCoupling(2, 2, nil, []int{8}, 0); err == nil {
			t.Error("Expected error for empty active set")
		}
		if _, err := NewAffineCoupling(2, 2, []int{3}, []int{8}, 0); err == nil {
			t.Error("Expected error for out-of-range active column")
		}
		if _, err := NewAffineCoupling(2, 2, []int{0, 0}, []int{8}, 0); err == nil {
			t.Error("Expected error for repeated active column")
		}
	})
}

func TestAffineCouplingRoundTrip(t *testing.T) {
	training.SetRandomSeed(42)
	coupling, err := NewAffineCoupling(3, 2, []int{0, 2}, []int{16}, 0)
	if err != nil {
		t.Fatalf("Failed to create coupling: %v", err)
	}

	inputs := mustTensor(t, [][]float64{{0.5, -1.2, 2.0}, {-0.3, 0.7, 1.1}})
	context := mustTensor(t, [][]float64{{1.0, -0.5}, {0.2, 0.9}})

	forward, logDetFwd, err := coupling.Forward(inputs, context)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	t.Run("Passive columns pass through", func(t *testing.T) {
		inData := inputs.Data.([]float64)
		fwdData := forward.Data.([]float64)
		for r := 0; r < 2; r++ {
			if fwdData[r*3+1] != inData[r*3+1] {
				t.Errorf("Row %d passive column changed: %v vs %v", r, inData[r*3+1], fwdData[r*3+1])
			}
		}
	})

	t.Run("Inverse recovers inputs", func(t *testing.T) {
		back, logDetInv, err := coupling.Inverse(forward, context)
		if err != nil {
			t.Fatalf("Inverse failed: %v", err)
		}

		inData := inputs.Data.([]float64)
		backData := back.Data.([]float64)
		for i := range inData {
			if math.Abs(backData[i]-inData[i]) > 1e-9 {
				t.Errorf("Element %d: expected %v, got %v", i, inData[i], backData[i])
			}
		}

		fwdDet := logDetFwd.Data.([]float64)
		invDet := logDetInv.Data.([]float64)
		for r := range fwdDet {
			if math.Abs(fwdDet[r]+invDet[r]) > 1e-9 {
				t.Errorf("Row %d: forward and inverse log-abs-dets do not cancel: %v and %v", r, fwdDet[r], invDet[r])
			}
		}
	})
}

func TestAffineCouplingSingleColumn(t *testing.T) {
	training.SetRandomSeed(7)
	coupling, err := NewAffineCoupling(1, 3, []int{0}, []int{8}, 0)
	if err != nil {
		t.Fatalf("Failed to create coupling: %v", err)
	}

	inputs := mustTensor(t, [][]float64{{0.4}, {-1.5}})
	context := mustTensor(t, [][]float64{{1, 2, 3}, {-1, 0, 1}})

	forward, _, err := coupling.Forward(inputs, context)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	back, _, err := coupling.Inverse(forward, context)
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}

	inData := inputs.Data.([]float64)
	backData := back.Data.([]float64)
	for i := range inData {
		if math.Abs(backData[i]-inData[i]) > 1e-9 {
			t.Errorf("Element %d: expected %v, got %v", i, inData[i], backData[i])
		}
	}
}

func TestAffineCouplingGradients(t *testing.T) {
	training.SetRandomSeed(11)
	coupling, err := NewAffineCoupling(2, 1, []int{0}, []int{8}, 0)
	if err != nil {
		t.Fatalf("Failed to create coupling: %v", err)
	}

	inputs := mustTensor(t, [][]float64{{0.5, -0.2}, {1.1, 0.3}})
	context := mustTensor(t, [][]float64{{0.7}, {-0.4}})

	_, logAbsDet, err := coupling.Forward(inputs, context)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	loss, err := tensor.MeanAutograd(logAbsDet)
	if err != nil {
		t.Fatalf("Mean failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for i, p := range coupling.Parameters() {
		if p.Grad() == nil {
			t.Errorf("Parameter %d received no gradient", i)
		}
	}
}

func TestAffineCouplingClone(t *testing.T) {
	training.SetRandomSeed(3)
	coupling, err := NewAffineCoupling(2, 1, []int{0}, []int{8}, 0)
	if err != nil {
		t.Fatalf("Failed to create coupling: %v", err)
	}

	cloned, err := coupling.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	inputs := mustTensor(t, [][]float64{{0.5, -0.2}})
	context := mustTensor(t, [][]float64{{0.7}})

	before, _, err := cloned.Forward(inputs, context)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Perturb the original's weights and confirm the clone is unaffected
	params := coupling.Parameters()
	data := params[0].Data.([]float64)
	shifted := make([]float64, len(data))
	for i, v := range data {
		shifted[i] = v + 0.5
	}
	if err := params[0].SetData(shifted); err != nil {
		t.Fatalf("Failed to perturb weights: %v", err)
	}

	after, _, err := cloned.Forward(inputs, context)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	beforeData := before.Data.([]float64)
	afterData := after.Data.([]float64)
	for i := range beforeData {
		if beforeData[i] != afterData[i] {
			t.Errorf("Clone output changed after original was modified: %v vs %v", beforeData[i], afterData[i])
		}
	}
}
