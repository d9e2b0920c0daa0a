package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-sbi/tensor"
)

func TestBCEWithLogitsLoss(t *testing.T) {
	t.Run("zero logits", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{0, 0})
		labels, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{1, 0})

		loss, err := BCEWithLogitsLoss(logits, labels)
		if err != nil {
			t.Fatalf("BCE forward failed: %v", err)
		}

		// softplus(0) = ln(2) for both labels
		value, _ := loss.Item()
		if math.Abs(value-math.Ln2) > 1e-10 {
			t.Errorf("Expected loss %.6f, got %.6f", math.Ln2, value)
		}
	})

	t.Run("known values", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{2.0, -1.0})
		labels, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{1.0, 0.0})

		loss, err := BCEWithLogitsLoss(logits, labels)
		if err != nil {
			t.Fatalf("BCE forward failed: %v", err)
		}

		// (softplus(2) - 2 + softplus(-1)) / 2
		expected := (math.Log(1+math.Exp(2.0)) - 2.0 + math.Log(1+math.Exp(-1.0))) / 2.0
		value, _ := loss.Item()
		if math.Abs(value-expected) > 1e-10 {
			t.Errorf("Expected loss %.6f, got %.6f", expected, value)
		}
	})

	t.Run("gradient is sigmoid minus label", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{2.0, -1.0})
		logits.SetRequiresGrad(true)
		labels, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{1.0, 0.0})

		loss, err := BCEWithLogitsLoss(logits, labels)
		if err != nil {
			t.Fatalf("BCE forward failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		sigmoid := func(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }
		expected := []float64{(sigmoid(2.0) - 1.0) / 2.0, (sigmoid(-1.0) - 0.0) / 2.0}

		gradData, err := logits.Grad().GetFloat64Data()
		if err != nil {
			t.Fatalf("Failed to read gradient: %v", err)
		}
		for i, want := range expected {
			if math.Abs(gradData[i]-want) > 1e-10 {
				t.Errorf("Gradient %d: expected %.6f, got %.6f", i, want, gradData[i])
			}
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 1}, tensor.Float64, []float64{0, 0})
		labels, _ := tensor.NewTensor([]int{3, 1}, tensor.Float64, []float64{1, 0, 1})

		_, err := BCEWithLogitsLoss(logits, labels)
		if err == nil {
			t.Error("Expected error for mismatched shapes")
		}
	})
}

func TestNegativeMeanLoss(t *testing.T) {
	logProbs, _ := tensor.NewTensor([]int{3, 1}, tensor.Float64, []float64{1.0, 2.0, 3.0})
	logProbs.SetRequiresGrad(true)

	loss, err := NegativeMeanLoss(logProbs)
	if err != nil {
		t.Fatalf("NegativeMeanLoss failed: %v", err)
	}

	value, _ := loss.Item()
	if math.Abs(value-(-2.0)) > 1e-10 {
		t.Errorf("Expected loss -2.0, got %v", value)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	gradData, _ := logProbs.Grad().GetFloat64Data()
	for i, g := range gradData {
		if math.Abs(g-(-1.0/3.0)) > 1e-10 {
			t.Errorf("Gradient %d: expected %.6f, got %.6f", i, -1.0/3.0, g)
		}
	}
}
